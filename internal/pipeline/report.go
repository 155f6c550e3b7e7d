package pipeline

import (
	"log/slog"
	"time"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
)

// FileResult is the outcome of converting one template.
type FileResult struct {
	Path      string
	Dataset   string
	Output    string // path of the written document
	Warnings  []domain.Warning
	Records   int
	Published int
	Err       error
	Duration  time.Duration
}

// Failed reports whether the file produced no usable output.
func (r FileResult) Failed() bool { return r.Err != nil }

// Report summarizes one batch.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Files      []FileResult
}

// Failed returns the files that failed, in listing order.
func (r *Report) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Failed() {
			out = append(out, f)
		}
	}
	return out
}

// WarningCount is the number of recovered warnings across all files.
func (r *Report) WarningCount() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Warnings)
	}
	return n
}

// RecordCount is the number of flat records extracted across all files.
func (r *Report) RecordCount() int {
	n := 0
	for _, f := range r.Files {
		n += f.Records
	}
	return n
}

// Log writes the post-run summary.
func (r *Report) Log(logger *slog.Logger) {
	failed := r.Failed()
	logger.Info("pipeline finished",
		"files", len(r.Files),
		"failed", len(failed),
		"warnings", r.WarningCount(),
		"records", r.RecordCount(),
		"duration", r.FinishedAt.Sub(r.StartedAt),
	)
	for _, f := range failed {
		logger.Warn("file failed", "file", f.Path, "error", f.Err)
	}
}
