package mapbox

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/paleo-data-etl/internal/observability"
)

const (
	testToken         = "test-token"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func testClient(baseURL string, timeout time.Duration) *Client {
	c := NewClient(testToken, timeout, testMetrics(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.baseURL = baseURL
	return c
}

func serveFeatures(t *testing.T, check func(r *http.Request), features ...feature) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		assert.NoError(t, json.NewEncoder(w).Encode(response{Features: features}))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ForwardGeocode_Success(t *testing.T) {
	srv := serveFeatures(t, func(r *http.Request) {
		assert.Equal(t, "/Lake Elsinore, USA.json", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, forwardTypes, r.URL.Query().Get("types"))
		assert.Equal(t, testToken, r.URL.Query().Get("access_token"))
	}, feature{
		Center:    []float64{-117.35, 33.67},
		PlaceName: "Lake Elsinore, California, United States",
		Text:      "Lake Elsinore",
		Relevance: 0.95,
		PlaceType: []string{"place"},
		Context: []contextFeature{
			{ID: "region.9876", Text: "California"},
			{ID: "country.1234", Text: "United States"},
		},
	})

	result, err := testClient(srv.URL, 5*time.Second).ForwardGeocode(context.Background(), "Lake Elsinore", "USA")
	require.NoError(t, err)

	assert.InDelta(t, 33.67, result.Lat, 1e-9)
	assert.InDelta(t, -117.35, result.Lon, 1e-9)
	assert.Equal(t, "Lake Elsinore, California, United States", result.FormattedAddress)
	assert.Equal(t, "Lake Elsinore", result.PlaceName)
	assert.InDelta(t, 0.95, result.Confidence, 1e-9)
	assert.Equal(t, "California", result.Region)
	assert.Equal(t, "United States", result.Country)
	assert.Equal(t, "place", result.FeatureType)
}

func TestClient_ForwardGeocode_NoCountry(t *testing.T) {
	srv := serveFeatures(t, func(r *http.Request) {
		assert.Equal(t, "/Soreq Cave.json", r.URL.Path)
	})

	_, err := testClient(srv.URL, 5*time.Second).ForwardGeocode(context.Background(), "Soreq Cave", "")
	require.NoError(t, err)
}

func TestClient_ReverseGeocode_Success(t *testing.T) {
	srv := serveFeatures(t, func(r *http.Request) {
		assert.Equal(t, "/-117.350000,33.670000.json", r.URL.Path, "lon,lat order")
		assert.Empty(t, r.URL.Query().Get("types"))
	}, feature{
		Center:    []float64{-117.35, 33.67},
		PlaceName: "Lake Elsinore, Riverside County, California",
		Text:      "Lake Elsinore",
		Relevance: 0.98,
	})

	result, err := testClient(srv.URL, 5*time.Second).ReverseGeocode(context.Background(), 33.67, -117.35)
	require.NoError(t, err)

	assert.Equal(t, "Lake Elsinore, Riverside County, California", result.FormattedAddress)
	assert.Equal(t, "Lake Elsinore", result.PlaceName)
	assert.InDelta(t, 0.98, result.Confidence, 1e-9)
}

func TestClient_ForwardGeocode_NoResults(t *testing.T) {
	srv := serveFeatures(t, nil)

	result, err := testClient(srv.URL, 5*time.Second).ForwardGeocode(context.Background(), "NONEXISTENT", "XX")
	require.NoError(t, err)
	assert.Zero(t, result.Lat)
	assert.Empty(t, result.FormattedAddress)
}

func TestClient_ForwardGeocode_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Not Authorized"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 5*time.Second).ForwardGeocode(context.Background(), "Lake Elsinore", "USA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClient_ForwardGeocode_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features":`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 5*time.Second).ForwardGeocode(context.Background(), "Lake Elsinore", "USA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestClient_ForwardGeocode_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 50*time.Millisecond).ForwardGeocode(context.Background(), "Lake Elsinore", "USA")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken, "transport errors must not leak the token")
}

func TestFeatureResult_Context(t *testing.T) {
	tests := []struct {
		name        string
		f           feature
		wantRegion  string
		wantCountry string
	}{
		{
			name:        "poi with context",
			f:           feature{Text: "Soreq Cave", PlaceType: []string{"poi"}, Context: []contextFeature{{ID: "region.1", Text: "Jerusalem District"}, {ID: "country.2", Text: "Israel"}}},
			wantRegion:  "Jerusalem District",
			wantCountry: "Israel",
		},
		{
			name:        "region match",
			f:           feature{Text: "Yukon", PlaceType: []string{"region"}, Context: []contextFeature{{ID: "country.3", Text: "Canada"}}},
			wantRegion:  "Yukon",
			wantCountry: "Canada",
		},
		{
			name:        "country match",
			f:           feature{Text: "Greenland", PlaceType: []string{"country"}},
			wantCountry: "Greenland",
		},
		{
			name: "no context",
			f:    feature{Text: "Somewhere"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.f.result()
			assert.Equal(t, tt.wantRegion, r.Region)
			assert.Equal(t, tt.wantCountry, r.Country)
		})
	}
}
