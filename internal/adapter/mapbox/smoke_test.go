//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/paleo-data-etl/internal/observability"
)

// Live lookups against Mapbox. Needs MAPBOX_TOKEN:
//
//	MAPBOX_TOKEN=... go test -tags=mapbox ./internal/adapter/mapbox/ -count=1

func liveClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Skip("MAPBOX_TOKEN not set")
	}
	return NewClient(token, 10*time.Second, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLive_ForwardSites(t *testing.T) {
	c := liveClient(t)
	sites := []struct {
		name, country string
		lat, lon      float64
	}{
		{"Lake Elsinore", "USA", 33.67, -117.33},
		{"Soreq Cave", "Israel", 31.76, 35.02},
	}
	for _, s := range sites {
		t.Run(s.name, func(t *testing.T) {
			r, err := c.ForwardGeocode(context.Background(), s.name, s.country)
			require.NoError(t, err)
			require.True(t, r.Found())
			assert.InDelta(t, s.lat, r.Lat, 0.5)
			assert.InDelta(t, s.lon, r.Lon, 0.5)
			assert.NotEmpty(t, r.Country)
		})
	}
}

func TestLive_ReverseSite(t *testing.T) {
	r, err := liveClient(t).ReverseGeocode(context.Background(), 33.67, -117.35)
	require.NoError(t, err)
	assert.NotEmpty(t, r.PlaceName)
	assert.Equal(t, "California", r.Region)
}

func TestLive_CacheServesRepeatSite(t *testing.T) {
	cached := NewCachedGeocoder(liveClient(t), 10, time.Hour, observability.NewMetricsForTesting())
	for range 3 {
		_, err := cached.ForwardGeocode(context.Background(), "Lake Elsinore", "USA")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, cached.Len())
}
