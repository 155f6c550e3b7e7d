package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
)

// QuarantineEntry is one line of the quarantine log.
type QuarantineEntry struct {
	Time    time.Time `json:"time"`
	File    string    `json:"file"`
	Dataset string    `json:"dataset,omitempty"`
	Kind    string    `json:"kind"`
	Line    int       `json:"line,omitempty"`
	Detail  string    `json:"detail"`
	Fatal   bool      `json:"fatal,omitempty"`
}

// Quarantine appends parse warnings and per-file failures to a JSON-lines
// file. Safe for concurrent use.
type Quarantine struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	path string
}

// OpenQuarantine opens (or creates) the log at path for appending.
func OpenQuarantine(path string) (*Quarantine, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create quarantine dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open quarantine log: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &Quarantine{f: f, enc: enc, path: path}, nil
}

// Path returns the log location.
func (q *Quarantine) Path() string { return q.path }

// Record writes one entry per warning, plus one fatal entry when failure is
// non-nil.
func (q *Quarantine) Record(file string, warnings []domain.Warning, failure error) error {
	if len(warnings) == 0 && failure == nil {
		return nil
	}
	now := domain.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, w := range warnings {
		e := QuarantineEntry{
			Time: now, File: file, Dataset: w.Dataset,
			Kind: w.Kind(), Line: w.Line, Detail: w.Detail,
		}
		if err := q.enc.Encode(e); err != nil {
			return fmt.Errorf("write quarantine entry: %w", err)
		}
	}
	if failure != nil {
		e := QuarantineEntry{Time: now, File: file, Kind: "other", Detail: failure.Error(), Fatal: true}
		var w domain.Warning
		if errors.As(failure, &w) {
			e.Kind, e.Dataset, e.Line, e.Detail = w.Kind(), w.Dataset, w.Line, w.Detail
		}
		if err := q.enc.Encode(e); err != nil {
			return fmt.Errorf("write quarantine entry: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the log file.
func (q *Quarantine) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.f.Close()
}
