package domain

import (
	"context"
	"log/slog"
)

// Geo property keys written by geocoding enrichment.
const (
	PropSiteName         = "siteName"
	PropCountry          = "country"
	PropRegion           = "region"
	PropPlaceName        = "placeName"
	PropFormattedAddress = "formattedAddress"
	PropGeoSource        = "geoSource" // "forward", "reverse", "failed"
	PropGeoConfidence    = "geoConfidence"
)

// EnrichSiteGeometry attempts to complete a document's site location with a
// geocoder. Sites without coordinates are forward geocoded from their site name
// and country; sites with coordinates but no place name are reverse geocoded
// at their mean position. If geocoder is nil or a lookup fails, the document
// keeps its parsed geometry (graceful degradation).
func EnrichSiteGeometry(ctx context.Context, doc *Document, geocoder Geocoder, logger *slog.Logger) {
	if geocoder == nil {
		return
	}

	name, _ := doc.Geo.Properties[PropSiteName].(string)
	country, _ := doc.Geo.Properties[PropCountry].(string)

	if doc.Geo.Geometry.IsEmpty() {
		if name == "" {
			return
		}
		result, err := geocoder.ForwardGeocode(ctx, name, country)
		if err != nil {
			logger.Warn("forward geocoding failed",
				"dataset", doc.DatasetName,
				"site", name,
				"country", country,
				"error", err,
			)
			setGeoProperty(doc, PropGeoSource, "failed")
			return
		}
		if result.Lat == 0 && result.Lon == 0 {
			return
		}
		doc.Geo.Geometry = pointGeometry(result.Lat, result.Lon, nil)
		setGeoProperty(doc, PropGeoSource, "forward")
		setGeoProperty(doc, PropGeoConfidence, result.Confidence)
		if result.FormattedAddress != "" {
			setGeoProperty(doc, PropFormattedAddress, result.FormattedAddress)
		}
		fillAdministrative(doc, result)
		return
	}

	if _, ok := doc.Geo.Properties[PropPlaceName]; ok {
		return
	}
	lat, lon, _, _ := doc.Geo.Geometry.Mean()
	result, err := geocoder.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"dataset", doc.DatasetName,
			"lat", lat,
			"lon", lon,
			"error", err,
		)
		setGeoProperty(doc, PropGeoSource, "failed")
		return
	}
	if result.FormattedAddress == "" {
		return
	}
	setGeoProperty(doc, PropPlaceName, result.PlaceName)
	setGeoProperty(doc, PropFormattedAddress, result.FormattedAddress)
	setGeoProperty(doc, PropGeoConfidence, result.Confidence)
	setGeoProperty(doc, PropGeoSource, "reverse")
	fillAdministrative(doc, result)
}

// fillAdministrative copies the match's region and country into properties
// the template left blank. Values from the template always win.
func fillAdministrative(doc *Document, result GeocodingResult) {
	if result.Region != "" {
		if _, ok := doc.Geo.Properties[PropRegion]; !ok {
			setGeoProperty(doc, PropRegion, result.Region)
		}
	}
	if result.Country != "" {
		if c, _ := doc.Geo.Properties[PropCountry].(string); c == "" {
			setGeoProperty(doc, PropCountry, result.Country)
		}
	}
}

func setGeoProperty(doc *Document, key string, value any) {
	if doc.Geo.Properties == nil {
		doc.Geo.Properties = make(map[string]any)
	}
	doc.Geo.Properties[key] = value
}
