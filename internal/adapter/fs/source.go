// Package fs reads NOAA templates from disk and writes LiPD dataset
// directories, quarantine logs and time-series exports.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// noaaExt is the extension of NOAA text templates.
const noaaExt = ".txt"

// Source lists and opens the NOAA templates in one directory.
// It implements pipeline.Source.
type Source struct {
	dir string
}

// NewSource creates a Source for dir. Subdirectories are not walked.
func NewSource(dir string) *Source {
	return &Source{dir: dir}
}

// List returns the template paths in lexical order.
func (s *Source) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	var paths []string
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), noaaExt) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, e.Name()))
	}
	slices.Sort(paths)
	return paths, nil
}

// Open opens one template for reading.
func (s *Source) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// DatasetName derives the dataset name from a template path: the base name
// without its extension ("data/Elsinore.Kirby.2010.txt" -> "Elsinore.Kirby.2010").
func DatasetName(path string) string {
	base := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(base), noaaExt) {
		base = base[:len(base)-len(noaaExt)]
	}
	return base
}

// DatasetName implements pipeline.Source.
func (s *Source) DatasetName(path string) string { return DatasetName(path) }
