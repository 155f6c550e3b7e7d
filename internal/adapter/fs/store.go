package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
	"github.com/couchcryptid/paleo-data-etl/internal/noaa"
)

// documentExt is the extension of the LiPD metadata file inside a dataset
// directory.
const documentExt = ".jsonld"

// Store reads and writes LiPD dataset directories under one root:
//
//	<root>/<datasetName>/<datasetName>.jsonld
//	<root>/<datasetName>/<datasetName>.paleoData1.measurementTable1.csv
//	...
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir. The directory is created on first write.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the directory the store writes to.
func (s *Store) Root() string { return s.root }

// DatasetDir returns the directory holding one dataset.
func (s *Store) DatasetDir(datasetName string) string {
	return filepath.Join(s.root, datasetName)
}

// Sinks returns a factory that writes table CSVs into the dataset directory.
// An invalid dataset name makes every Create fail, so nothing is written
// outside the store root.
func (s *Store) Sinks(datasetName string) noaa.SinkFactory {
	return &datasetSinks{name: datasetName, dir: s.DatasetDir(datasetName)}
}

// WriteDocument writes <datasetName>.jsonld and returns its path. The file is
// replaced atomically.
func (s *Store) WriteDocument(doc *domain.Document) (string, error) {
	if err := checkName(doc.DatasetName); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", doc.DatasetName, err)
	}
	dir := s.DatasetDir(doc.DatasetName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dataset dir: %w", err)
	}
	path := filepath.Join(dir, doc.DatasetName+documentExt)
	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// WriteTables writes every table that carries a filename from its in-memory
// values. Used when documents are rebuilt from records rather than parsed.
func (s *Store) WriteTables(doc *domain.Document) error {
	if err := checkName(doc.DatasetName); err != nil {
		return err
	}
	sinks := s.Sinks(doc.DatasetName)
	var errs []error
	doc.Tables(func(t *domain.Table) {
		if t.Filename == "" || t.RowCount() == 0 {
			return
		}
		w, err := sinks.Create(t.Filename)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if err := domain.WriteTableCSV(w, *t); err != nil {
			errs = append(errs, err)
		}
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t.Filename, err))
		}
	})
	return errors.Join(errs...)
}

// ReadDataset loads a dataset directory: the document plus the values of
// every table whose CSV is present.
func (s *Store) ReadDataset(datasetName string) (*domain.Document, error) {
	if err := checkName(datasetName); err != nil {
		return nil, err
	}
	dir := s.DatasetDir(datasetName)
	data, err := os.ReadFile(filepath.Join(dir, datasetName+documentExt))
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", datasetName, err)
	}
	doc := &domain.Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", datasetName, err)
	}

	var loadErr error
	doc.Tables(func(t *domain.Table) {
		if loadErr != nil || t.Filename == "" {
			return
		}
		f, err := os.Open(filepath.Join(dir, filepath.Base(t.Filename)))
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			loadErr = fmt.Errorf("open table %s: %w", t.Filename, err)
			return
		}
		defer f.Close()
		loadErr = domain.LoadTableValues(f, t)
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return doc, nil
}

// ListDatasets returns the names of the dataset directories under the root,
// sorted. A directory counts when it holds <name>/<name>.jsonld.
func (s *Store) ListDatasets() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.root, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), e.Name()+documentExt)); err == nil {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid dataset name %q", name)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// datasetSinks creates table CSV files inside one dataset directory.
type datasetSinks struct {
	name string
	dir  string
}

func (d *datasetSinks) Create(filename string) (io.WriteCloser, error) {
	if err := checkName(d.name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	f, err := os.Create(filepath.Join(d.dir, filepath.Base(filename)))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filename, err)
	}
	return f, nil
}
