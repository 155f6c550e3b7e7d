package noaa

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"sync"
)

// SinkFactory opens the destination of a table's CSV payload.
type SinkFactory interface {
	Create(filename string) (io.WriteCloser, error)
}

// MemorySinks keeps every payload in memory, keyed by filename.
type MemorySinks struct {
	mu    sync.Mutex
	files map[string]*bytes.Buffer
}

// NewMemorySinks returns an empty in-memory sink factory.
func NewMemorySinks() *MemorySinks {
	return &MemorySinks{files: make(map[string]*bytes.Buffer)}
}

func (m *MemorySinks) Create(filename string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[filename]; ok {
		return nil, fmt.Errorf("sink %s already exists", filename)
	}
	buf := &bytes.Buffer{}
	m.files[filename] = buf
	return nopCloser{buf}, nil
}

// Payload returns the bytes written for filename.
func (m *MemorySinks) Payload(filename string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.files[filename]
	if !ok {
		return nil, false
	}
	return bytes.Clone(buf.Bytes()), true
}

// Payloads returns a copy of every payload.
func (m *MemorySinks) Payloads() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.files))
	for name, buf := range m.files {
		out[name] = bytes.Clone(buf.Bytes())
	}
	return out
}

// Filenames returns the sorted names of all payloads.
func (m *MemorySinks) Filenames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// discardSinks is used when the caller only wants the in-memory document.
type discardSinks struct{}

func (discardSinks) Create(string) (io.WriteCloser, error) {
	return nopCloser{io.Discard}, nil
}

// tableSink writes CSV rows for one table. The underlying file is opened on the
// first row so a section without rows never creates one, and Close is safe to
// call more than once.
type tableSink struct {
	factory  SinkFactory
	filename string

	w      io.WriteCloser
	csv    *csv.Writer
	rows   int
	closed bool
}

func newTableSink(factory SinkFactory, filename string) *tableSink {
	return &tableSink{factory: factory, filename: filename}
}

func (s *tableSink) WriteRow(row []string) error {
	if s.closed {
		return fmt.Errorf("sink %s: write after close", s.filename)
	}
	if s.w == nil {
		w, err := s.factory.Create(s.filename)
		if err != nil {
			return fmt.Errorf("open sink %s: %w", s.filename, err)
		}
		s.w = w
		s.csv = csv.NewWriter(w)
	}
	if err := s.csv.Write(row); err != nil {
		return fmt.Errorf("write sink %s: %w", s.filename, err)
	}
	s.rows++
	return nil
}

func (s *tableSink) Rows() int { return s.rows }

func (s *tableSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.w == nil {
		return nil
	}
	s.csv.Flush()
	flushErr := s.csv.Error()
	closeErr := s.w.Close()
	if flushErr != nil {
		return fmt.Errorf("flush sink %s: %w", s.filename, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close sink %s: %w", s.filename, closeErr)
	}
	return nil
}
