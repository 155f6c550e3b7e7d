package domain

import "context"

// GeocodingResult is one gazetteer match for a site.
type GeocodingResult struct {
	Lat, Lon float64

	// PlaceName is the short feature name ("Lake Elsinore"), FormattedAddress
	// the full hierarchy the provider renders for it.
	PlaceName        string
	FormattedAddress string

	// Region and Country come from the match's administrative context and are
	// empty when the provider omits them.
	Region  string
	Country string

	// FeatureType is the provider's classification of the match, e.g. "poi"
	// or "locality".
	FeatureType string
	Confidence  float64
}

// Found reports whether the lookup matched anything.
func (r GeocodingResult) Found() bool {
	return r.FormattedAddress != "" || r.Lat != 0 || r.Lon != 0
}

// Geocoder is a gazetteer used to locate sites that a template names but does
// not place, and to name sites that a template places but does not name.
type Geocoder interface {
	ForwardGeocode(ctx context.Context, siteName, country string) (GeocodingResult, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}
