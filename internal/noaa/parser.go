package noaa

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
)

const (
	scanBufferSize = 64 * 1024
	maxLineSize    = 4 * 1024 * 1024
)

// Result is the outcome of parsing one template: the document, possibly
// partial, and every problem recovered along the way.
type Result struct {
	Document *domain.Document
	Warnings []domain.Warning
}

// HasIOFailure reports whether reading the input or writing a table failed.
func (r Result) HasIOFailure() bool {
	for _, w := range r.Warnings {
		if errors.Is(w, domain.ErrIOFailure) {
			return true
		}
	}
	return false
}

// Parser converts NOAA text templates into documents. A Parser holds no
// per-file state and is safe for concurrent use.
type Parser struct {
	tables *FieldTables
}

// NewParser returns a parser driven by the given field tables. Nil selects the
// embedded defaults.
func NewParser(tables *FieldTables) *Parser {
	if tables == nil {
		tables = DefaultFieldTables()
	}
	return &Parser{tables: tables}
}

// Parse reads one template. Table payloads are written through sinks as CSV;
// a nil factory discards them, column values are still kept on the document.
// Parse never fails: problems are reported as warnings on the result.
func (p *Parser) Parse(r io.Reader, datasetName string, sinks SinkFactory) Result {
	if sinks == nil {
		sinks = discardSinks{}
	}
	run := &run{
		tables:  p.tables,
		sinks:   sinks,
		doc:     &domain.Document{DatasetName: datasetName},
		section: &metadataState{k: kindMetadata},
	}
	defer run.releaseSinks()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scanBufferSize), maxLineSize)
	for scanner.Scan() {
		run.line++
		text := scanner.Text()
		if run.line == 1 {
			text = strings.TrimPrefix(text, "\ufeff")
		}
		run.step(text)
	}
	if err := scanner.Err(); err != nil {
		run.warn(domain.ErrIOFailure, "read input: %v", err)
	}
	run.finish()
	run.releaseSinks()

	for i := range run.warnings {
		run.warnings[i].Dataset = datasetName
	}
	return Result{Document: run.doc, Warnings: run.warnings}
}

// run is the accumulator threaded through the state machine for one file.
type run struct {
	tables *FieldTables
	sinks  SinkFactory
	doc    *domain.Document

	section section
	line    int

	warnings []domain.Warning

	// continuation appends a line to the most recently written field. Nil when
	// the previous line cannot be continued.
	continuation func(string)

	agencies []string
	grants   []string

	lat, lon, elev []float64

	variables   []domain.Column
	dataOpened  bool
	open        []*tableSink
	paleoTables int
	chronTables int
}

func (r *run) warn(err error, format string, args ...any) {
	r.warnings = append(r.warnings, domain.NewWarning(err, r.line, format, args...))
}

// step classifies one raw line and dispatches it.
func (r *run) step(raw string) {
	t := r.tables
	line := StripComment(raw)

	if t.IsEndMarker(line) {
		r.enter(kindMetadata)
		return
	}

	// Once a table has its header, uncommented lines are rows.
	if tab, ok := r.section.(tabular); ok && tab.opened() && !IsComment(raw) {
		r.section.handle(r, raw, line)
		return
	}

	if line != "" {
		key, value, hasColon := SplitKeyValue(line)
		if !hasColon {
			key = line
		}
		if value == "" {
			if kind, ok := t.header(NormalizeKey(key)); ok {
				r.enter(kind)
				return
			}
		}
	}
	r.section.handle(r, raw, line)
}

// enter closes the current section and opens a new one. Re-entering a section
// of the same kind that has not consumed anything keeps it, so that
// "Chronology_Information" followed by "Chronology:" opens a single table.
func (r *run) enter(kind sectionKind) {
	r.continuation = nil
	if r.section.kind() == kind && !r.section.started() {
		return
	}
	r.section.close(r)
	r.section = r.newSection(kind)
}

func (r *run) newSection(kind sectionKind) section {
	switch kind {
	case kindPublication:
		return &publicationState{}
	case kindSite:
		return &siteState{}
	case kindChronology:
		n := r.chronTables + 1
		return &chronologyState{tableState: r.newTableState(
			fmt.Sprintf("chron%dmeasurement1", n),
			fmt.Sprintf("%s.chron%d.measurementTable1.csv", r.doc.DatasetName, n),
		)}
	case kindVariables:
		return &variablesState{}
	case kindData:
		r.dataOpened = true
		n := r.paleoTables + 1
		return &dataState{tableState: r.newTableState(
			fmt.Sprintf("paleo%dmeasurement1", n),
			fmt.Sprintf("%s.paleoData%d.measurementTable1.csv", r.doc.DatasetName, n),
		)}
	case kindDescription:
		return &metadataState{k: kindDescription}
	case kindDone:
		return doneState{}
	default:
		return &metadataState{k: kindMetadata}
	}
}

func (r *run) newTableState(tableName, filename string) tableState {
	sink := newTableSink(r.sinks, filename)
	r.open = append(r.open, sink)
	return tableState{
		table: domain.Table{TableName: tableName, Filename: filename},
		sink:  sink,
	}
}

// releaseSinks closes every sink opened during the run. Sinks already closed
// by their section are left alone.
func (r *run) releaseSinks() {
	for _, s := range r.open {
		if err := s.Close(); err != nil {
			r.warn(domain.ErrIOFailure, "%v", err)
		}
	}
	r.open = nil
}

// finish closes the last section and resolves everything that needs the whole
// file: funding pairs and geometry.
func (r *run) finish() {
	r.section.close(r)
	r.section = doneState{}

	r.pairFunding()

	geom, err := domain.BuildGeometry(r.lat, r.lon, r.elev)
	if err != nil {
		var w domain.Warning
		if errors.As(err, &w) {
			w.Line = 0
			r.warnings = append(r.warnings, w)
		} else {
			r.warn(domain.ErrAmbiguousGeometry, "%v", err)
		}
	}
	r.doc.Geo.Geometry = geom

	if len(r.variables) > 0 && !r.dataOpened {
		r.line = 0
		r.warn(domain.ErrMissingSectionData, "%d variables declared but no data section found", len(r.variables))
	}
}

// pairFunding pairs the Nth agency with the Nth grant. Trailing unmatched
// entries are reported and not emitted.
func (r *run) pairFunding() {
	n := min(len(r.agencies), len(r.grants))
	for i := 0; i < n; i++ {
		r.doc.Funding = append(r.doc.Funding, domain.FundingEntry{Agency: r.agencies[i], Grant: r.grants[i]})
	}
	r.line = 0
	for _, a := range r.agencies[n:] {
		r.warn(domain.ErrUnmatchedFunding, "agency %q has no grant", a)
	}
	for _, g := range r.grants[n:] {
		r.warn(domain.ErrUnmatchedFunding, "grant %q has no agency", g)
	}
}

// assignCommon routes keys shared by every key/value section. It reports
// whether the key was consumed.
func (r *run) assignCommon(nk, value string) bool {
	t := r.tables
	switch {
	case in(t.FundingAgency, nk):
		r.agencies = append(r.agencies, value)
		i := len(r.agencies) - 1
		r.continuation = func(s string) { r.agencies[i] += s }
	case in(t.Grant, nk):
		r.grants = append(r.grants, value)
		i := len(r.grants) - 1
		r.continuation = func(s string) { r.grants[i] += s }
	default:
		return false
	}
	return true
}

// freeText handles a line without a key/value separator: an ignorable label,
// a continuation of the previous field, or a malformed line. Labels end any
// pending continuation.
func (r *run) freeText(line string) {
	if r.tables.ignored(NormalizeKey(line)) {
		r.continuation = nil
		return
	}
	if r.continuation != nil {
		r.continuation(line)
		return
	}
	r.warn(domain.ErrMalformedLine, "no key/value separator in %q", line)
}

func (r *run) setMetadata(key, value string) {
	if r.doc.Metadata == nil {
		r.doc.Metadata = make(map[string]any)
	}
	if isReservedKey(key) {
		r.warn(domain.ErrMalformedLine, "key %q collides with a document field", key)
		r.continuation = nil
		return
	}
	r.doc.Metadata[key] = value
	r.continuation = func(s string) {
		if cur, ok := r.doc.Metadata[key].(string); ok {
			r.doc.Metadata[key] = cur + s
		}
	}
}

func (r *run) setGeoProperty(key string, value any) {
	if r.doc.Geo.Properties == nil {
		r.doc.Geo.Properties = make(map[string]any)
	}
	r.doc.Geo.Properties[key] = value
}

// reservedKeys are the document fields and the unprefixed flat record keys a
// free metadata key must not shadow.
var reservedKeys = map[string]bool{
	"dataSetName": true, "archiveType": true, "description": true, "coreLength": true,
	"pub": true, "funding": true, "geo": true, "paleoData": true, "chronData": true,

	"datasetName": true, "mode": true, "tableType": true, "coreLengthUnits": true,
	"age": true, "ageUnits": true, "year": true, "yearUnits": true, "depth": true, "depthUnits": true,
}

func isReservedKey(key string) bool { return reservedKeys[key] }
