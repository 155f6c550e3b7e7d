package pipeline

import (
	"context"
	"io"
	"log/slog"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
	"github.com/couchcryptid/paleo-data-etl/internal/noaa"
	"github.com/couchcryptid/paleo-data-etl/internal/timeseries"
)

// Conversion is one converted template: the parse result plus the flat
// time-series records extracted from the document.
type Conversion struct {
	noaa.Result
	Records []timeseries.FlatRecord
}

// Converter parses a template, enriches the site location and extracts the
// time series. It is shared by the batch pipeline and the HTTP API.
type Converter struct {
	parser   *noaa.Parser
	geocoder domain.Geocoder
	logger   *slog.Logger
}

// NewConverter creates a Converter. Pass a nil geocoder to disable geocoding
// enrichment.
func NewConverter(parser *noaa.Parser, geocoder domain.Geocoder, logger *slog.Logger) *Converter {
	if parser == nil {
		parser = noaa.NewParser(nil)
	}
	return &Converter{
		parser:   parser,
		geocoder: geocoder,
		logger:   logger,
	}
}

// Convert runs the template in r through the parser. When reading the input
// or writing a table failed, the partial document is returned without
// enrichment or records.
func (c *Converter) Convert(ctx context.Context, r io.Reader, datasetName string, sinks noaa.SinkFactory) Conversion {
	res := c.parser.Parse(r, datasetName, sinks)
	if res.HasIOFailure() {
		return Conversion{Result: res}
	}
	domain.EnrichSiteGeometry(ctx, res.Document, c.geocoder, c.logger)
	return Conversion{Result: res, Records: timeseries.Extract(res.Document)}
}
