package noaa_test

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
	"github.com/couchcryptid/paleo-data-etl/internal/noaa"
)

func parseString(t *testing.T, text string) (noaa.Result, *noaa.MemorySinks) {
	t.Helper()
	sinks := noaa.NewMemorySinks()
	res := noaa.NewParser(nil).Parse(strings.NewReader(text), "ds", sinks)
	require.NotNil(t, res.Document)
	return res, sinks
}

func warningsOf(res noaa.Result, target error) []domain.Warning {
	var out []domain.Warning
	for _, w := range res.Warnings {
		if errors.Is(w, target) {
			out = append(out, w)
		}
	}
	return out
}

func TestParse_Fixture(t *testing.T) {
	f, err := os.Open("testdata/elsinore.txt")
	require.NoError(t, err)
	defer f.Close()

	sinks := noaa.NewMemorySinks()
	res := noaa.NewParser(nil).Parse(f, "Elsinore.Kirby.2010", sinks)
	doc := res.Document

	require.Len(t, res.Warnings, 1, "%v", res.Warnings)
	assert.ErrorIs(t, res.Warnings[0], domain.ErrMalformedLine)
	assert.Equal(t, 1, res.Warnings[0].Line)
	assert.Equal(t, "Elsinore.Kirby.2010", res.Warnings[0].Dataset)

	t.Run("metadata", func(t *testing.T) {
		assert.Equal(t, "lake sediment", doc.ArchiveType)
		assert.Equal(t, "Grain size from core LEDC10,sampled every centimeter.", doc.Description)
		assert.Equal(t, &domain.Measurement{Value: 12.5, Units: "m"}, doc.CoreLength)
		assert.Equal(t, map[string]any{
			"date":           "2015-03-17",
			"studyName":      "Lake Elsinore Grain Size",
			"investigators":  "Kirby, M.E.; Lund, S.P.",
			"collectionName": "LEDC10",
			"earliestYear":   "3000",
		}, doc.Metadata)
	})

	t.Run("publication", func(t *testing.T) {
		require.Len(t, doc.Publications, 1)
		pub := doc.Publications[0]
		assert.Equal(t, []string{"Kirby, M.E.", "Lund, S.P.", "Poulsen, C.J."}, pub.Authors)
		assert.Equal(t, "10.1016/j.quascirev.2010.01.001", pub.DOI)
		assert.Equal(t, "Lake Elsinore recordsdrought over the last 3000 years.", pub.Abstract)
		assert.Equal(t, map[string]any{
			"year":    "2010",
			"title":   "Late Holocene lake level change",
			"journal": "Quaternary Science Reviews",
			"volume":  "29",
		}, pub.Fields)
	})

	t.Run("funding", func(t *testing.T) {
		assert.Equal(t, []domain.FundingEntry{{Agency: "NSF", Grant: "ATM-0214289"}}, doc.Funding)
	})

	t.Run("site", func(t *testing.T) {
		g := doc.Geo.Geometry
		require.Equal(t, domain.GeometryPoint, g.Type)
		assert.Equal(t, 33.67, g.Coordinates[0].Lat)
		assert.Equal(t, -117.35, g.Coordinates[0].Lon)
		require.NotNil(t, g.Coordinates[0].Elevation)
		assert.Equal(t, 380.0, *g.Coordinates[0].Elevation)
		assert.Equal(t, "Lake Elsinore", doc.Geo.Properties["siteName"])
		assert.Equal(t, "USA", doc.Geo.Properties["country"])
		assert.Equal(t, "m", doc.Geo.Properties["elevationUnits"])
	})

	t.Run("chronology", func(t *testing.T) {
		chron := doc.ChronologyTable()
		require.NotNil(t, chron)
		assert.Equal(t, "chron1measurement1", chron.TableName)
		assert.Equal(t, "Elsinore.Kirby.2010.chron1.measurementTable1.csv", chron.Filename)
		require.Len(t, chron.Columns, 3)
		assert.Equal(t, "labcode", chron.Columns[0].VariableName)
		assert.Equal(t, "depth", chron.Columns[1].VariableName)
		assert.Equal(t, "cm", chron.Columns[1].Units)
		assert.Equal(t, "yr BP", chron.Columns[2].Units)
		assert.Equal(t, []any{"AA1234", "AA1235"}, chron.Columns[0].Values)

		payload, ok := sinks.Payload(chron.Filename)
		require.True(t, ok)
		assert.Equal(t, "AA1234,10,120\nAA1235,55,1450\n", string(payload))
	})

	t.Run("data", func(t *testing.T) {
		tables := doc.DataTables()
		require.Len(t, tables, 1)
		tb := tables[0]
		assert.Equal(t, "paleo1measurement1", tb.TableName)
		assert.Equal(t, "Elsinore.Kirby.2010.paleoData1.measurementTable1.csv", tb.Filename)
		assert.Equal(t, "-999", tb.MissingValue)

		require.Len(t, tb.Columns, 2)
		depth := tb.Columns[0]
		assert.Equal(t, 1, depth.Number)
		assert.Equal(t, "core depth", depth.Description)
		assert.Equal(t, "lake sediment", depth.Archive)
		assert.Equal(t, "top", depth.Detail)
		assert.Equal(t, "N", depth.DataType)
		assert.Equal(t, "positive", depth.Direction)
		assert.Equal(t, []any{10.0, 20.0, 30.0}, depth.Values)
		assert.Equal(t, "SI", tb.Columns[1].Units)
		assert.Equal(t, []any{1.5, -999.0, -999.0}, tb.Columns[1].Values)

		payload, ok := sinks.Payload(tb.Filename)
		require.True(t, ok)
		assert.Equal(t, "10,1.5\n20,-999\n30,-999\n", string(payload))
	})

	require.NoError(t, doc.Validate())
}

func TestParse_VariableLineDecoding(t *testing.T) {
	res, _ := parseString(t, strings.Join([]string{
		"# Variables",
		"## depth, core depth, sediment, 0.1, cm, NA, marine sediment, top, XRF, N, positive",
		"# Data:",
		"depth",
		"1",
	}, "\n"))

	require.Len(t, res.Document.DataTables(), 1)
	col := res.Document.DataTables()[0].Columns[0]
	assert.Equal(t, domain.Column{
		Number:       1,
		VariableName: "depth",
		Description:  "core depth",
		Material:     "sediment",
		Error:        "0.1",
		Units:        "cm",
		Seasonality:  "NA",
		Archive:      "marine sediment",
		Detail:       "top",
		Method:       "XRF",
		DataType:     "N",
		Direction:    "positive",
		Values:       []any{1.0},
	}, col)
}

func TestParse_VariablesSkipBoilerplate(t *testing.T) {
	res, _ := parseString(t, strings.Join([]string{
		"# Variables",
		"## Data variables follow that are preceded by \"##\" in columns one and two.",
		"##",
		"## age, calendar age",
		"# a comment that is not a variable",
		"## d18O, oxygen isotope",
		"# Data:",
		"age d18O",
		"100 -3.1",
	}, "\n"))

	cols := res.Document.DataTables()[0].Columns
	require.Len(t, cols, 2)
	assert.Equal(t, "age", cols[0].VariableName)
	assert.Equal(t, 1, cols[0].Number)
	assert.Equal(t, "d18O", cols[1].VariableName)
	assert.Equal(t, 2, cols[1].Number)
}

func TestParse_MissingValueCapture(t *testing.T) {
	res, sinks := parseString(t, strings.Join([]string{
		"# Variables",
		"## depth, depth",
		"## temp, temperature",
		"# Data:",
		"missing value: -999",
		"depth temp",
		"1 -999",
		"2 15.5",
	}, "\n"))

	tb := res.Document.DataTables()[0]
	assert.Equal(t, "-999", tb.MissingValue)
	payload, _ := sinks.Payload(tb.Filename)
	assert.Equal(t, "1,-999\n2,15.5\n", string(payload))
	assert.NotContains(t, string(payload), "missing")
}

func TestParse_LineContinuation(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"appends verbatim", "# Description: Foo\n# bar", "Foobar"},
		{"uncommented continuation", "Description: Foo\nbar\nbaz", "Foobarbaz"},
		{"blank line ends continuation", "# Description: Foo\n#\n# bar", "Foo"},
		{"inside description section", "# Description_and_Notes\n# Description: Foo\n# bar", "Foobar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _ := parseString(t, tt.text)
			assert.Equal(t, tt.want, res.Document.Description)
		})
	}
}

func TestParse_LabelsEndContinuation(t *testing.T) {
	tests := []struct {
		name  string
		label string
	}{
		{"title", "# Title"},
		{"investigators", "# Investigators"},
		{"data collection", "# Data_Collection"},
		{"template version", "# Template Version 3.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _ := parseString(t, strings.Join([]string{
				"# Date: 2015-03-17",
				tt.label,
				"# Description: Foo",
				tt.label,
				"# bar",
			}, "\n"))

			assert.Equal(t, "2015-03-17", res.Document.Metadata["date"])
			assert.Equal(t, "Foo", res.Document.Description)
			assert.Len(t, warningsOf(res, domain.ErrMalformedLine), 1, "the orphan line after a label is malformed")
		})
	}
}

func TestParse_MetadataCannotShadowRecordKeys(t *testing.T) {
	tests := []struct {
		line string
		key  string
	}{
		{"# Dataset_Name: Template Title", "datasetName"},
		{"# Mode: coring", "mode"},
		{"# Table_Type: grain size", "tableType"},
		{"# Age: Holocene", "age"},
		{"# Year: 2010", "year"},
		{"# Depth: 12 m", "depth"},
		{"# Depth_Units: m", "depthUnits"},
		{"# Core_Length_Units: m", "coreLengthUnits"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			res, _ := parseString(t, tt.line+"\n# Study_Name: Lake")

			assert.NotContains(t, res.Document.Metadata, tt.key)
			assert.Equal(t, "Lake", res.Document.Metadata["studyName"])
			assert.Equal(t, "ds", res.Document.DatasetName)
			require.Len(t, warningsOf(res, domain.ErrMalformedLine), 1)
		})
	}
}

func TestParse_ContinuationOfMetadataField(t *testing.T) {
	res, _ := parseString(t, "# Study_Name: Lake\n#  Elsinore")
	assert.Equal(t, "LakeElsinore", res.Document.Metadata["studyName"])
}

func TestParse_FundingPairing(t *testing.T) {
	res, _ := parseString(t, strings.Join([]string{
		"# Funding_Agency",
		"#   Funding_Agency_Name: A1",
		"#   Grant: G1",
		"#   Funding_Agency_Name: A2",
	}, "\n"))

	assert.Equal(t, []domain.FundingEntry{{Agency: "A1", Grant: "G1"}}, res.Document.Funding)
	unmatched := warningsOf(res, domain.ErrUnmatchedFunding)
	require.Len(t, unmatched, 1)
	assert.Contains(t, unmatched[0].Detail, "A2")
}

func TestParse_FundingOrderIndependentOfInterleaving(t *testing.T) {
	res, _ := parseString(t, strings.Join([]string{
		"# Funding_Agency_Name: A1",
		"# Funding_Agency_Name: A2",
		"# Grant: G1",
		"# Grant: G2",
	}, "\n"))

	assert.Equal(t, []domain.FundingEntry{{Agency: "A1", Grant: "G1"}, {Agency: "A2", Grant: "G2"}}, res.Document.Funding)
	assert.Empty(t, warningsOf(res, domain.ErrUnmatchedFunding))
}

func TestParse_Geometry(t *testing.T) {
	tests := []struct {
		name     string
		site     []string
		wantType domain.GeometryType
		wantN    int
		warn     bool
	}{
		{
			name:     "distinct bounds",
			site:     []string{"Northernmost_Latitude: 20", "Southernmost_Latitude: 10", "Easternmost_Longitude: 40", "Westernmost_Longitude: 30"},
			wantType: domain.GeometryMultiPoint,
			wantN:    4,
		},
		{
			name:     "single pair",
			site:     []string{"Latitude: 10", "Longitude: 20"},
			wantType: domain.GeometryPoint,
			wantN:    1,
		},
		{
			name:     "no coordinates",
			site:     []string{"Site_Name: nowhere"},
			wantType: domain.GeometryEmpty,
		},
		{
			name:     "ambiguous",
			site:     []string{"Latitude: 10", "Easternmost_Longitude: 20", "Westernmost_Longitude: 30"},
			wantType: domain.GeometryEmpty,
			warn:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := "# Site_Information\n# " + strings.Join(tt.site, "\n# ")
			res, _ := parseString(t, text)
			g := res.Document.Geo.Geometry
			assert.Equal(t, tt.wantType, g.Type)
			assert.Len(t, g.Coordinates, tt.wantN)
			if tt.warn {
				assert.Len(t, warningsOf(res, domain.ErrAmbiguousGeometry), 1)
			} else {
				assert.Empty(t, warningsOf(res, domain.ErrAmbiguousGeometry))
			}
		})
	}
}

func TestParse_BadCoordinateIsMalformed(t *testing.T) {
	res, _ := parseString(t, "# Site_Information\n# Latitude: north\n# Longitude: 20")
	assert.Len(t, warningsOf(res, domain.ErrMalformedLine), 1)
	assert.Len(t, warningsOf(res, domain.ErrAmbiguousGeometry), 1)
}

func TestParse_Publications(t *testing.T) {
	res, _ := parseString(t, strings.Join([]string{
		"# Publication",
		"# Authors: Smith, J.; Doe, A.",
		"# DOI: 10.1000/first",
		"# DOI: 10.1000/second",
		"#------------------",
		"# Publication",
		"# Published_Title: Second paper",
		"# Abstract:",
		"# Part one",
		"# part two",
		"# Journal_Name: Nature",
	}, "\n"))

	pubs := res.Document.Publications
	require.Len(t, pubs, 2)
	assert.Equal(t, []string{"Smith, J.", "Doe, A."}, pubs[0].Authors)
	assert.Equal(t, "10.1000/first", pubs[0].DOI)
	assert.Equal(t, "Part onepart two", pubs[1].Abstract)
	assert.Equal(t, "Second paper", pubs[1].Fields["title"])
	assert.Equal(t, "Nature", pubs[1].Fields["journal"])

	malformed := warningsOf(res, domain.ErrMalformedLine)
	require.Len(t, malformed, 1)
	assert.Contains(t, malformed[0].Detail, "10.1000/second")
}

func TestParse_ChronologyWithoutRows(t *testing.T) {
	res, sinks := parseString(t, strings.Join([]string{
		"# Chronology:",
		"# labcode\tage",
		"#------------------",
	}, "\n"))

	assert.Empty(t, res.Document.ChronData)
	assert.Empty(t, sinks.Filenames())
	assert.Len(t, warningsOf(res, domain.ErrMissingSectionData), 1)
}

func TestParse_DataHeaderNotFound(t *testing.T) {
	res, sinks := parseString(t, strings.Join([]string{
		"# Variables",
		"## depth, depth",
		"# Data:",
		"age value",
		"1 2",
	}, "\n"))

	assert.Empty(t, res.Document.PaleoData)
	assert.Empty(t, sinks.Filenames())
	missing := warningsOf(res, domain.ErrMissingSectionData)
	require.Len(t, missing, 1)
	assert.Contains(t, missing[0].Detail, "header line not found")
}

func TestParse_DataWithoutVariables(t *testing.T) {
	res, _ := parseString(t, strings.Join([]string{
		"# Data:",
		"age(yr_BP) d18O",
		"100 -3.1 9",
		"200",
	}, "\n"))

	tb := res.Document.DataTables()[0]
	require.Len(t, tb.Columns, 2)
	assert.Equal(t, "age", tb.Columns[0].VariableName)
	assert.Equal(t, "yr_BP", tb.Columns[0].Units)
	assert.Equal(t, []any{100.0, 200.0}, tb.Columns[0].Values)
	assert.Equal(t, []any{-3.1, "nan"}, tb.Columns[1].Values)
	assert.Len(t, warningsOf(res, domain.ErrMalformedLine), 1)
}

func TestParse_VariablesWithoutData(t *testing.T) {
	res, _ := parseString(t, "# Variables\n## depth, depth")
	assert.Len(t, warningsOf(res, domain.ErrMissingSectionData), 1)
}

func TestParse_MultipleDataSections(t *testing.T) {
	res, _ := parseString(t, strings.Join([]string{
		"# Data:",
		"a b",
		"1 2",
		"#------------------",
		"# Data:",
		"c",
		"3",
	}, "\n"))

	tables := res.Document.DataTables()
	require.Len(t, tables, 2)
	assert.Equal(t, "paleo2measurement1", tables[1].TableName)
	assert.Equal(t, "ds.paleoData2.measurementTable1.csv", tables[1].Filename)
	require.NoError(t, res.Document.Validate())
}

type failingSinks struct{}

func (failingSinks) Create(string) (io.WriteCloser, error) {
	return nil, errors.New("disk full")
}

func TestParse_SinkFailureIsIOFailure(t *testing.T) {
	res := noaa.NewParser(nil).Parse(strings.NewReader("# Data:\na\n1\n2"), "ds", failingSinks{})
	assert.True(t, res.HasIOFailure())
	assert.Len(t, warningsOf(res, domain.ErrIOFailure), 1)
	assert.Empty(t, res.Document.PaleoData)
}

type closeCounter struct {
	closes map[string]int
}

type countingWriter struct {
	name string
	c    *closeCounter
}

func (w countingWriter) Write(p []byte) (int, error) { return len(p), nil }
func (w countingWriter) Close() error {
	w.c.closes[w.name]++
	return nil
}

func (c *closeCounter) Create(name string) (io.WriteCloser, error) {
	return countingWriter{name: name, c: c}, nil
}

func TestParse_SinksClosedExactlyOnce(t *testing.T) {
	counter := &closeCounter{closes: map[string]int{}}
	text := strings.Join([]string{
		"# Chronology:",
		"# id age",
		"# x 1",
		"#------------------",
		"# Data:",
		"a",
		"1",
	}, "\n")

	noaa.NewParser(nil).Parse(strings.NewReader(text), "ds", counter)
	assert.Equal(t, map[string]int{
		"ds.chron1.measurementTable1.csv":     1,
		"ds.paleoData1.measurementTable1.csv": 1,
	}, counter.closes)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestParse_ReadErrorIsIOFailure(t *testing.T) {
	res := noaa.NewParser(nil).Parse(errReader{}, "ds", nil)
	assert.True(t, res.HasIOFailure())
	assert.Equal(t, "ds", res.Document.DatasetName)
}

func TestParse_NilSinksKeepsValues(t *testing.T) {
	res := noaa.NewParser(nil).Parse(strings.NewReader("# Data:\nx\n1\n2"), "ds", nil)
	assert.Equal(t, []any{1.0, 2.0}, res.Document.DataTables()[0].Columns[0].Values)
}
