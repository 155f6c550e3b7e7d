package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
	"github.com/couchcryptid/paleo-data-etl/internal/noaa"
	"github.com/couchcryptid/paleo-data-etl/internal/observability"
	"github.com/couchcryptid/paleo-data-etl/internal/timeseries"
)

// Source lists and opens NOAA templates.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Open(path string) (io.ReadCloser, error)
	DatasetName(path string) string
}

// DatasetWriter persists converted datasets.
type DatasetWriter interface {
	Sinks(datasetName string) noaa.SinkFactory
	WriteDocument(doc *domain.Document) (string, error)
}

// Publisher ships the flat records of one dataset downstream.
type Publisher interface {
	Publish(ctx context.Context, records []timeseries.FlatRecord) error
}

// Quarantine keeps the warnings and failures of each file for later review.
type Quarantine interface {
	Record(file string, warnings []domain.Warning, failure error) error
}

// Option configures optional pipeline stages.
type Option func(*Pipeline)

// WithPublisher publishes every converted dataset's records.
func WithPublisher(pub Publisher) Option { return func(p *Pipeline) { p.publisher = pub } }

// WithQuarantine records warnings and failures per file.
func WithQuarantine(q Quarantine) Option { return func(p *Pipeline) { p.quarantine = q } }

// WithWorkers bounds how many files are converted at once. Values below 1 mean 1.
func WithWorkers(n int) Option { return func(p *Pipeline) { p.workers = max(n, 1) } }

// Pipeline converts a directory of NOAA templates, one parser per file, with
// no ordering between files.
type Pipeline struct {
	source     Source
	store      DatasetWriter
	converter  *Converter
	publisher  Publisher
	quarantine Quarantine
	logger     *slog.Logger
	metrics    *observability.Metrics
	workers    int
	ready      atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(src Source, store DatasetWriter, conv *Converter, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:    src,
		store:     store,
		converter: conv,
		logger:    logger,
		metrics:   metrics,
		workers:   1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once a batch has completed, or an error
// describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no batch has completed yet")
	}
	return nil
}

// Run converts every template the source lists. A failing file never stops
// the batch; it is reported in the returned Report. Run returns an error only
// when the source cannot be listed or ctx is cancelled, in which case files
// not yet started are reported as failed with the context error.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	files, err := p.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	p.logger.Info("pipeline started", "files", len(files), "workers", p.workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	report := &Report{StartedAt: domain.Now(), Files: make([]FileResult, len(files))}
	started := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, path := range files {
		if gctx.Err() != nil {
			break
		}
		started[i] = true
		g.Go(func() error {
			report.Files[i] = p.processFile(gctx, path)
			return nil
		})
	}
	_ = g.Wait() // workers report failures in their FileResult

	report.FinishedAt = domain.Now()
	if err := ctx.Err(); err != nil {
		for i, ok := range started {
			if !ok {
				report.Files[i] = FileResult{Path: files[i], Dataset: p.source.DatasetName(files[i]), Err: err}
			}
		}
		p.logger.Info("pipeline stopping", "reason", err)
		return report, err
	}

	p.ready.Store(true)
	report.Log(p.logger)
	return report, nil
}

// processFile converts one template and records its outcome.
func (p *Pipeline) processFile(ctx context.Context, path string) FileResult {
	start := time.Now()
	res := p.convertFile(ctx, path)
	res.Duration = time.Since(start)
	p.record(res)
	return res
}

func (p *Pipeline) convertFile(ctx context.Context, path string) FileResult {
	res := FileResult{Path: path, Dataset: p.source.DatasetName(path)}

	rc, err := p.source.Open(path)
	if err != nil {
		res.Err = ioFailure(res.Dataset, "open template: %v", err)
		return res
	}
	conv := p.converter.Convert(ctx, rc, res.Dataset, p.store.Sinks(res.Dataset))
	if err := rc.Close(); err != nil {
		p.logger.Warn("close template failed", "file", path, "error", err)
	}

	res.Warnings, res.Err = splitFailure(conv.Warnings)
	if res.Err != nil {
		return res
	}

	out, err := p.store.WriteDocument(conv.Document)
	if err != nil {
		res.Err = ioFailure(res.Dataset, "write document: %v", err)
		return res
	}
	res.Output = out
	res.Records = len(conv.Records)

	if p.publisher != nil && len(conv.Records) > 0 {
		if err := p.publisher.Publish(ctx, conv.Records); err != nil {
			res.Err = fmt.Errorf("publish time series: %w", err)
			return res
		}
		res.Published = len(conv.Records)
	}
	return res
}

// record updates metrics, logs the outcome and writes the quarantine entries.
func (p *Pipeline) record(res FileResult) {
	p.metrics.FilesProcessed.Inc()
	p.metrics.FileDuration.Observe(res.Duration.Seconds())
	p.metrics.RecordsExtracted.Add(float64(res.Records))
	p.metrics.RecordsPublished.Add(float64(res.Published))

	for _, w := range res.Warnings {
		p.metrics.ParseWarnings.WithLabelValues(w.Kind()).Inc()
		p.logger.Warn("parse warning",
			"file", res.Path,
			"dataset", w.Dataset,
			"kind", w.Kind(),
			"line", w.Line,
			"detail", w.Detail,
		)
	}
	if res.Err != nil {
		p.metrics.FilesFailed.Inc()
		p.logger.Error("conversion failed", "file", res.Path, "dataset", res.Dataset, "error", res.Err)
	} else {
		p.logger.Debug("converted", "file", res.Path, "output", res.Output, "records", res.Records)
	}

	if p.quarantine == nil {
		return
	}
	if err := p.quarantine.Record(res.Path, res.Warnings, res.Err); err != nil {
		p.logger.Error("quarantine write failed", "file", res.Path, "error", err)
	}
}

// splitFailure separates the first IO failure, which fails the file, from the
// recoverable warnings.
func splitFailure(warnings []domain.Warning) ([]domain.Warning, error) {
	var failure error
	kept := warnings[:0:0]
	for _, w := range warnings {
		if failure == nil && errors.Is(w, domain.ErrIOFailure) {
			failure = w
			continue
		}
		kept = append(kept, w)
	}
	return kept, failure
}

func ioFailure(dataset, format string, args ...any) domain.Warning {
	w := domain.NewWarning(domain.ErrIOFailure, 0, format, args...)
	w.Dataset = dataset
	return w
}
