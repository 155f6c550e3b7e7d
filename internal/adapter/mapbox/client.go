// Package mapbox is the site gazetteer: it places sites named by a template
// and names sites placed by one, using the Mapbox Geocoding API.
package mapbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
	"github.com/couchcryptid/paleo-data-etl/internal/observability"
)

const (
	defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

	// Sites are lakes, caves, glaciers and ocean cores as often as towns.
	forwardTypes = "place,locality,region,poi"

	// errorBodyLimit caps how much of a failed response ends up in the error.
	errorBodyLimit = 1024
)

// Client implements domain.Geocoder against the Mapbox places endpoint.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient returns a client whose requests give up after timeout.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: timeout},
		metrics: metrics,
		logger:  logger,
	}
}

// ForwardGeocode looks up a site by name, qualified with its country when the
// template gives one.
func (c *Client) ForwardGeocode(ctx context.Context, siteName, country string) (domain.GeocodingResult, error) {
	search := siteName
	if country != "" {
		search += ", " + country
	}
	return c.lookup(ctx, "forward", c.endpoint(search, url.Values{"types": {forwardTypes}}))
}

// ReverseGeocode names the feature nearest to a site position.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	// Mapbox takes "lon,lat".
	search := strconv.FormatFloat(lon, 'f', 6, 64) + "," + strconv.FormatFloat(lat, 'f', 6, 64)
	return c.lookup(ctx, "reverse", c.endpoint(search, nil))
}

func (c *Client) endpoint(search string, extra url.Values) string {
	q := url.Values{"access_token": {c.token}, "limit": {"1"}}
	for k, v := range extra {
		q[k] = v
	}
	return c.baseURL + "/" + url.PathEscape(search) + ".json?" + q.Encode()
}

// lookup runs one request and records its latency and outcome.
func (c *Client) lookup(ctx context.Context, kind, endpoint string) (domain.GeocodingResult, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		c.metrics.GeocodeAPIDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		c.metrics.GeocodeRequests.WithLabelValues(kind, outcome).Inc()
	}()

	body, err := c.fetch(ctx, endpoint)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("%s geocode: %w", kind, err)
	}
	if len(body.Features) == 0 {
		outcome = "empty"
		c.logger.Debug("gazetteer has no match", "kind", kind)
		return domain.GeocodingResult{}, nil
	}
	outcome = "success"
	return body.Features[0].result(), nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, redactToken(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &body, nil
}

// redactToken strips the request URL (and with it the access token) from
// transport errors before they reach the logs.
func redactToken(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s request: %w", uerr.Op, uerr.Err)
	}
	return err
}

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64        `json:"center"` // [lon, lat]
	PlaceName string           `json:"place_name"`
	Text      string           `json:"text"`
	Relevance float64          `json:"relevance"`
	PlaceType []string         `json:"place_type"`
	Context   []contextFeature `json:"context"`
}

// contextFeature is one level of the administrative hierarchy around a match;
// its ID is prefixed with the level, e.g. "region.9876".
type contextFeature struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (f feature) result() domain.GeocodingResult {
	r := domain.GeocodingResult{
		PlaceName:        f.Text,
		FormattedAddress: f.PlaceName,
		Confidence:       f.Relevance,
	}
	if len(f.Center) == 2 {
		r.Lon, r.Lat = f.Center[0], f.Center[1]
	}
	if len(f.PlaceType) > 0 {
		r.FeatureType = f.PlaceType[0]
	}
	for _, cf := range f.Context {
		level, _, _ := strings.Cut(cf.ID, ".")
		switch level {
		case "region":
			r.Region = cf.Text
		case "country":
			r.Country = cf.Text
		}
	}
	// A region or country match is its own context.
	switch r.FeatureType {
	case "region":
		if r.Region == "" {
			r.Region = f.Text
		}
	case "country":
		if r.Country == "" {
			r.Country = f.Text
		}
	}
	return r
}
