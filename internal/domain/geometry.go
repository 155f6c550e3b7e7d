package domain

import (
	"fmt"
	"slices"

	json "github.com/goccy/go-json"
)

// GeometryType tags the Geometry variant.
type GeometryType string

const (
	GeometryEmpty      GeometryType = ""
	GeometryPoint      GeometryType = "Point"
	GeometryMultiPoint GeometryType = "MultiPoint"
)

// Coordinate is one WGS-84 position with an optional elevation in metres.
type Coordinate struct {
	Lat       float64
	Lon       float64
	Elevation *float64
}

// Geometry is either empty, a single Point, or a four-corner MultiPoint.
type Geometry struct {
	Type        GeometryType
	Coordinates []Coordinate
}

// IsEmpty reports whether no coordinates were recorded.
func (g Geometry) IsEmpty() bool {
	return g.Type == GeometryEmpty || len(g.Coordinates) == 0
}

// BuildGeometry turns latitude/longitude lists (one or two values each) into a
// geometry:
//   - two equal latitudes and two equal longitudes collapse to a Point
//   - two distinct pairs become a MultiPoint of the four corners, ordered
//     (lat0,lon0), (lat0,lon1), (lat1,lon0), (lat1,lon1)
//   - one of each is a Point
//   - none is an empty geometry
//
// Any other combination yields an empty geometry and an ErrAmbiguousGeometry
// warning. Elevations, when present, are averaged onto every coordinate.
func BuildGeometry(lat, lon, elev []float64) (Geometry, error) {
	lat = slices.Sorted(slices.Values(lat))
	lon = slices.Sorted(slices.Values(lon))
	elevation := meanPtr(elev)

	switch {
	case len(lat) == 0 && len(lon) == 0:
		return Geometry{}, nil
	case len(lat) == 1 && len(lon) == 1:
		return pointGeometry(lat[0], lon[0], elevation), nil
	case len(lat) == 2 && len(lon) == 2:
		if lat[0] == lat[1] && lon[0] == lon[1] {
			return pointGeometry(lat[0], lon[0], elevation), nil
		}
		g := Geometry{Type: GeometryMultiPoint}
		for _, la := range lat {
			for _, lo := range lon {
				g.Coordinates = append(g.Coordinates, Coordinate{Lat: la, Lon: lo, Elevation: copyPtr(elevation)})
			}
		}
		return g, nil
	default:
		return Geometry{}, NewWarning(ErrAmbiguousGeometry, 0,
			"got %d latitude and %d longitude values", len(lat), len(lon))
	}
}

func pointGeometry(lat, lon float64, elev *float64) Geometry {
	return Geometry{Type: GeometryPoint, Coordinates: []Coordinate{{Lat: lat, Lon: lon, Elevation: elev}}}
}

// Mean returns the average latitude, longitude and (if any coordinate has one)
// elevation. ok is false for an empty geometry.
func (g Geometry) Mean() (lat, lon float64, elev *float64, ok bool) {
	if g.IsEmpty() {
		return 0, 0, nil, false
	}
	var elevs []float64
	for _, c := range g.Coordinates {
		lat += c.Lat
		lon += c.Lon
		if c.Elevation != nil {
			elevs = append(elevs, *c.Elevation)
		}
	}
	n := float64(len(g.Coordinates))
	return lat / n, lon / n, meanPtr(elevs), true
}

// Bounds returns the latitude and longitude extremes.
func (g Geometry) Bounds() (minLat, maxLat, minLon, maxLon float64) {
	for i, c := range g.Coordinates {
		if i == 0 {
			minLat, maxLat, minLon, maxLon = c.Lat, c.Lat, c.Lon, c.Lon
			continue
		}
		minLat, maxLat = min(minLat, c.Lat), max(maxLat, c.Lat)
		minLon, maxLon = min(minLon, c.Lon), max(maxLon, c.Lon)
	}
	return minLat, maxLat, minLon, maxLon
}

func meanPtr(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	return &m
}

func copyPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// GeoJSON positions are [lon, lat(, elev)].
func (c Coordinate) position() []float64 {
	if c.Elevation != nil {
		return []float64{c.Lon, c.Lat, *c.Elevation}
	}
	return []float64{c.Lon, c.Lat}
}

func coordinateFromPosition(p []float64) (Coordinate, error) {
	if len(p) < 2 {
		return Coordinate{}, fmt.Errorf("position needs at least 2 elements, got %d", len(p))
	}
	c := Coordinate{Lon: p[0], Lat: p[1]}
	if len(p) > 2 {
		e := p[2]
		c.Elevation = &e
	}
	return c, nil
}

// MarshalJSON encodes the geometry as a GeoJSON geometry object.
func (g Geometry) MarshalJSON() ([]byte, error) {
	switch g.Type {
	case GeometryPoint:
		if len(g.Coordinates) != 1 {
			return nil, fmt.Errorf("point geometry with %d coordinates", len(g.Coordinates))
		}
		return json.Marshal(struct {
			Type        GeometryType `json:"type"`
			Coordinates []float64    `json:"coordinates"`
		}{g.Type, g.Coordinates[0].position()})
	case GeometryMultiPoint:
		positions := make([][]float64, len(g.Coordinates))
		for i, c := range g.Coordinates {
			positions[i] = c.position()
		}
		return json.Marshal(struct {
			Type        GeometryType `json:"type"`
			Coordinates [][]float64  `json:"coordinates"`
		}{g.Type, positions})
	default:
		return []byte("{}"), nil
	}
}

// UnmarshalJSON decodes a GeoJSON Point or MultiPoint.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        GeometryType    `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode geometry: %w", err)
	}
	*g = Geometry{}
	switch raw.Type {
	case GeometryPoint:
		var p []float64
		if err := json.Unmarshal(raw.Coordinates, &p); err != nil {
			return fmt.Errorf("decode point: %w", err)
		}
		c, err := coordinateFromPosition(p)
		if err != nil {
			return err
		}
		*g = Geometry{Type: GeometryPoint, Coordinates: []Coordinate{c}}
	case GeometryMultiPoint:
		var ps [][]float64
		if err := json.Unmarshal(raw.Coordinates, &ps); err != nil {
			return fmt.Errorf("decode multipoint: %w", err)
		}
		g.Type = GeometryMultiPoint
		for _, p := range ps {
			c, err := coordinateFromPosition(p)
			if err != nil {
				return err
			}
			g.Coordinates = append(g.Coordinates, c)
		}
	case GeometryEmpty:
	default:
		return fmt.Errorf("unsupported geometry type %q", raw.Type)
	}
	return nil
}
