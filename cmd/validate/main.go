// Command validate checks the conversion of a directory of NOAA templates end
// to end. Every template must parse without I/O failures and produce a
// structurally valid document with in-range site coordinates. The document must
// then survive a LiPD write/read cycle and a flatten/collapse cycle through the
// msgpack record format.
//
// Usage:
//
//	go run ./cmd/validate -input-dir ./templates [-field-tables tables.yaml]
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/couchcryptid/paleo-data-etl/internal/adapter/fs"
	"github.com/couchcryptid/paleo-data-etl/internal/domain"
	"github.com/couchcryptid/paleo-data-etl/internal/noaa"
	"github.com/couchcryptid/paleo-data-etl/internal/timeseries"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxReported caps the detailed errors printed per phase.
const maxReported = 20

type tally struct {
	files    int
	located  int
	records  int
	warnings map[string]int
}

func main() {
	inputDir := flag.String("input-dir", "", "directory containing NOAA .txt templates")
	fieldTables := flag.String("field-tables", "", "optional YAML override of the parser field tables")
	flag.Parse()

	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*inputDir, *fieldTables); code != 0 {
		os.Exit(code)
	}
}

func run(inputDir, fieldTablesPath string) int {
	tables := noaa.DefaultFieldTables()
	if fieldTablesPath != "" {
		var err error
		if tables, err = noaa.LoadFieldTables(fieldTablesPath); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load field tables: %v\n", err)
			return 1
		}
	}

	paths, err := filepath.Glob(filepath.Join(inputDir, "*.txt"))
	if err != nil || len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "FATAL: no templates in %s\n", inputDir)
		return 1
	}
	sort.Strings(paths)

	scratch, err := os.MkdirTemp("", "paleo-validate-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: scratch dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(scratch)

	fmt.Println("=== NOAA to LiPD Conversion Validation ===")
	fmt.Println()

	parsePhase := &phase{name: "Parse without I/O failures"}
	structPhase := &phase{name: "Document structure"}
	geoPhase := &phase{name: "Site geometry"}
	lipdPhase := &phase{name: "LiPD write/read round trip"}
	tsPhase := &phase{name: "Time series flatten/collapse round trip"}
	phases := []*phase{parsePhase, structPhase, geoPhase, lipdPhase, tsPhase}

	parser := noaa.NewParser(tables)
	store := fs.NewStore(scratch)
	t := tally{warnings: map[string]int{}}

	for _, path := range paths {
		dsn := fs.DatasetName(path)
		t.files++

		doc, ok := parseFile(parsePhase, parser, store, path, dsn, &t)
		if !ok {
			continue
		}
		if err := doc.Validate(); err != nil {
			structPhase.errorf("%s: %v", dsn, err)
		}
		if checkGeometry(geoPhase, doc) {
			t.located++
		}
		checkLiPDRoundTrip(lipdPhase, store, doc)
		t.records += checkTimeseriesRoundTrip(tsPhase, doc)
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Files: %d (%d with site geometry), records: %d, warnings: %s\n",
		t.files, t.located, t.records, formatWarnings(t.warnings))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxReported {
				fmt.Printf("  ... and %d more\n", len(p.errors)-maxReported)
				break
			}
			fmt.Printf("  %s\n", e)
		}
	}

	if !allPassed {
		return 1
	}
	return 0
}

func parseFile(p *phase, parser *noaa.Parser, store *fs.Store, path, dsn string, t *tally) (*domain.Document, bool) {
	f, err := os.Open(path)
	if err != nil {
		p.errorf("%s: %v", dsn, err)
		return nil, false
	}
	defer f.Close()

	res := parser.Parse(f, dsn, store.Sinks(dsn))
	for _, w := range res.Warnings {
		t.warnings[w.Kind()]++
	}
	if res.HasIOFailure() {
		for _, w := range res.Warnings {
			p.errorf("%s: %v", dsn, w)
		}
		return nil, false
	}
	return res.Document, true
}

// checkGeometry reports whether the document has a site geometry and flags
// coordinates outside the valid range.
func checkGeometry(p *phase, doc *domain.Document) bool {
	g := doc.Geo.Geometry
	if g.IsEmpty() {
		return false
	}
	minLat, maxLat, minLon, maxLon := g.Bounds()
	if minLat < -90 || maxLat > 90 || minLon < -180 || maxLon > 180 {
		p.errorf("%s: coordinates out of range (lat %g..%g, lon %g..%g)",
			doc.DatasetName, minLat, maxLat, minLon, maxLon)
	}
	return true
}

func checkLiPDRoundTrip(p *phase, store *fs.Store, doc *domain.Document) {
	if _, err := store.WriteDocument(doc); err != nil {
		p.errorf("%s: write: %v", doc.DatasetName, err)
		return
	}
	back, err := store.ReadDataset(doc.DatasetName)
	if err != nil {
		p.errorf("%s: read: %v", doc.DatasetName, err)
		return
	}
	if diff := cmp.Diff(doc, back, cmpopts.EquateEmpty()); diff != "" {
		p.errorf("%s: mismatch (-parsed +read):\n%s", doc.DatasetName, diff)
	}
}

func checkTimeseriesRoundTrip(p *phase, doc *domain.Document) int {
	records := timeseries.Extract(doc)

	var buf bytes.Buffer
	if err := fs.EncodeRecords(&buf, records, fs.FormatMsgpack); err != nil {
		p.errorf("%s: %v", doc.DatasetName, err)
		return len(records)
	}
	decoded, err := fs.DecodeRecords(&buf, fs.FormatMsgpack)
	if err != nil {
		p.errorf("%s: %v", doc.DatasetName, err)
		return len(records)
	}

	docs, warnings := timeseries.Collapse(decoded, nil)
	for _, w := range warnings {
		p.errorf("%s: %v", doc.DatasetName, w)
	}
	switch {
	case len(records) == 0:
		// A document without columns has nothing to fold back.
	case len(docs) != 1:
		p.errorf("%s: collapse produced %d documents", doc.DatasetName, len(docs))
	default:
		if diff := cmp.Diff(doc, docs[0], cmpopts.EquateEmpty()); diff != "" {
			p.errorf("%s: mismatch (-parsed +collapsed):\n%s", doc.DatasetName, diff)
		}
	}
	return len(records)
}

func formatWarnings(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}
