package noaa

import (
	"strconv"
	"strings"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
)

type sectionKind int

const (
	kindMetadata sectionKind = iota
	kindDescription
	kindPublication
	kindSite
	kindChronology
	kindVariables
	kindData
	kindDone
)

// sectionByName maps the section names used in the field tables to kinds.
var sectionByName = map[string]sectionKind{
	"description": kindDescription,
	"publication": kindPublication,
	"site":        kindSite,
	"chronology":  kindChronology,
	"variables":   kindVariables,
	"data":        kindData,
}

// section is one parser state. handle receives the raw line and the line with
// comment markers stripped; close runs exactly once when the state is left.
type section interface {
	kind() sectionKind
	started() bool
	handle(r *run, raw, line string)
	close(r *run)
}

// tabular is implemented by the sections that stream rows into a table.
type tabular interface {
	opened() bool
}

// --- Metadata / Description ---

// metadataState serves both the top of the file and the description section.
type metadataState struct {
	k sectionKind
}

func (s *metadataState) kind() sectionKind { return s.k }
func (s *metadataState) started() bool { return false }
func (s *metadataState) close(*run) {}

func (s *metadataState) handle(r *run, raw, line string) {
	if line == "" || IsCommentMarker(raw) {
		r.continuation = nil
		return
	}
	key, value, ok := SplitKeyValue(line)
	if !ok {
		r.freeText(line)
		return
	}
	r.continuation = nil
	if value == "" {
		return
	}

	t := r.tables
	nk := NormalizeKey(key)
	if r.assignCommon(nk, value) {
		return
	}
	doc := r.doc
	switch {
	case in(t.Archive, nk):
		doc.ArchiveType = value
		r.continuation = func(s string) { doc.ArchiveType += s }
	case in(t.Description, nk):
		doc.Description = value
		r.continuation = func(s string) { doc.Description += s }
	case in(t.CoreLength, nk):
		values, unit, ok := t.SplitValueUnit(value)
		if !ok {
			r.warn(domain.ErrMalformedLine, "core length %q is not a number", value)
			return
		}
		doc.CoreLength = &domain.Measurement{Value: values[0], Units: unit}
	default:
		r.setMetadata(CamelCase(key), value)
	}
}

// --- Publication ---

type publicationState struct {
	pub          domain.Publication
	abstractOpen bool
	doiSeen      bool
}

func (s *publicationState) kind() sectionKind { return kindPublication }
func (s *publicationState) started() bool { return !s.pub.IsZero() }

func (s *publicationState) isKey(t *FieldTables, nk string) bool {
	if in(t.Authors, nk) || in(t.Abstract, nk) || in(t.DOI, nk) {
		return true
	}
	_, ok := t.Publication[nk]
	return ok
}

func (s *publicationState) handle(r *run, raw, line string) {
	t := r.tables
	if line == "" || IsCommentMarker(raw) {
		s.abstractOpen = false
		r.continuation = nil
		return
	}
	key, value, ok := SplitKeyValue(line)
	nk := NormalizeKey(key)

	if s.abstractOpen {
		if !ok || !s.isKey(t, nk) {
			s.pub.Abstract += line
			return
		}
		s.abstractOpen = false
	}

	if !ok {
		r.freeText(line)
		return
	}
	r.continuation = nil

	switch {
	case in(t.Abstract, nk):
		s.abstractOpen = true
		s.pub.Abstract += value
		return
	case value == "":
		return
	case r.assignCommon(nk, value):
		return
	case in(t.Authors, nk):
		for _, a := range strings.Split(value, ";") {
			if a = strings.TrimSpace(a); a != "" {
				s.pub.Authors = append(s.pub.Authors, a)
			}
		}
	case in(t.DOI, nk):
		if s.doiSeen {
			r.warn(domain.ErrMalformedLine, "publication already has identifier %q, ignoring %q", s.pub.DOI, value)
			return
		}
		s.doiSeen = true
		s.pub.DOI = t.ExtractDOI(value)
	default:
		field := t.PublicationField(nk, key)
		if s.pub.Fields == nil {
			s.pub.Fields = make(map[string]any)
		}
		s.pub.Fields[field] = value
		fields := s.pub.Fields
		r.continuation = func(str string) {
			if cur, ok := fields[field].(string); ok {
				fields[field] = cur + str
			}
		}
	}
}

func (s *publicationState) close(r *run) {
	if !s.pub.IsZero() {
		r.doc.Publications = append(r.doc.Publications, s.pub)
	}
	s.pub = domain.Publication{}
}

// --- Site information ---

type siteState struct {
	seen bool
}

func (s *siteState) kind() sectionKind { return kindSite }
func (s *siteState) started() bool { return s.seen }
func (s *siteState) close(*run) {}

func (s *siteState) handle(r *run, raw, line string) {
	t := r.tables
	if line == "" || IsCommentMarker(raw) {
		r.continuation = nil
		return
	}
	key, value, ok := SplitKeyValue(line)
	if !ok {
		r.freeText(line)
		return
	}
	r.continuation = nil
	if value == "" {
		return
	}
	s.seen = true

	nk := NormalizeKey(key)
	if r.assignCommon(nk, value) {
		return
	}
	switch {
	case in(t.Latitude, nk):
		if v, ok := parseCoordinate(r, key, value); ok {
			r.lat = append(r.lat, v)
		}
	case in(t.Longitude, nk):
		if v, ok := parseCoordinate(r, key, value); ok {
			r.lon = append(r.lon, v)
		}
	case in(t.Elevation, nk):
		values, unit, ok := t.SplitValueUnit(value)
		if !ok {
			r.warn(domain.ErrMalformedLine, "elevation %q is not a number", value)
			return
		}
		if unit == "" {
			// Elevation_m: 380
			if _, suffix, found := strings.Cut(nk, "_"); found {
				unit = t.NormalizeUnit(suffix)
			}
		}
		r.elev = append(r.elev, values...)
		if unit != "" {
			r.setGeoProperty("elevationUnits", unit)
		}
	default:
		prop := CamelCase(key)
		r.setGeoProperty(prop, value)
		props := r.doc.Geo.Properties
		r.continuation = func(str string) {
			if cur, ok := props[prop].(string); ok {
				props[prop] = cur + str
			}
		}
	}
}

func parseCoordinate(r *run, key, value string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		r.warn(domain.ErrMalformedLine, "%s %q is not a number", key, value)
		return 0, false
	}
	return v, true
}

// --- Variables ---

type variablesState struct{}

func (s *variablesState) kind() sectionKind { return kindVariables }
func (s *variablesState) started() bool { return false }
func (s *variablesState) close(*run) {}

func (s *variablesState) handle(r *run, raw, _ string) {
	t := r.tables
	if !t.IsVariableLine(raw) {
		return
	}
	body := StripComment(raw)
	if body == "" || t.IsBoilerplate(body) {
		return
	}
	col := domain.ColumnFromSlots(len(r.variables)+1, splitVariable(body))
	if col.VariableName == "" {
		r.warn(domain.ErrMalformedLine, "variable line has no name: %q", body)
		return
	}
	r.variables = append(r.variables, col)
}

// splitVariable splits a variable definition into its positional slots. A tab
// separates the short name from the comma-separated attributes; without one
// every slot is comma-separated.
func splitVariable(body string) []string {
	var parts []string
	if name, rest, found := strings.Cut(body, "\t"); found {
		parts = append([]string{name}, strings.Split(rest, ",")...)
	} else {
		parts = strings.Split(body, ",")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// --- Chronology / Data tables ---

// tableState is the shared half of the chronology and data sections: the table
// being built and its lazily opened sink.
type tableState struct {
	table      domain.Table
	sink       *tableSink
	headerSeen bool
	failed     bool
	skipped    int
}

func (s *tableState) opened() bool { return s.headerSeen }

// addRow pads or truncates the tokens to the column count, writes them to the
// sink and appends the values to the columns.
func (s *tableState) addRow(r *run, tokens []string) {
	n := len(s.table.Columns)
	if len(tokens) > n {
		r.warn(domain.ErrMalformedLine, "row has %d values for %d columns, extra values dropped", len(tokens), n)
		tokens = tokens[:n]
	}
	if len(tokens) < n {
		marker := s.table.MissingValue
		if marker == "" {
			marker = "nan"
		}
		padded := make([]string, n)
		copy(padded, tokens)
		for i := len(tokens); i < n; i++ {
			padded[i] = marker
		}
		tokens = padded
	}
	if s.failed {
		return
	}
	if err := s.sink.WriteRow(tokens); err != nil {
		s.failed = true
		r.warn(domain.ErrIOFailure, "%v", err)
		return
	}
	for i, tok := range tokens {
		s.table.Columns[i].Values = append(s.table.Columns[i].Values, domain.ParseValue(tok))
	}
}

// finishTable closes the sink and reports whether the table has rows and can
// be attached to the document.
func (s *tableState) finishTable(r *run, label string) bool {
	if err := s.sink.Close(); err != nil {
		r.warn(domain.ErrIOFailure, "%v", err)
		return false
	}
	if s.failed {
		return false
	}
	if s.sink.Rows() == 0 {
		switch {
		case !s.headerSeen && s.skipped > 0:
			r.warn(domain.ErrMissingSectionData, "%s section: header line not found, %d lines skipped", label, s.skipped)
		case !s.headerSeen:
			r.warn(domain.ErrMissingSectionData, "%s section has no header line", label)
		default:
			r.warn(domain.ErrMissingSectionData, "%s section has no rows", label)
		}
		return false
	}
	return true
}

type chronologyState struct {
	tableState
}

func (s *chronologyState) kind() sectionKind { return kindChronology }
func (s *chronologyState) started() bool { return s.headerSeen }

func (s *chronologyState) handle(r *run, raw, line string) {
	if line == "" || IsCommentMarker(raw) {
		return
	}
	if !s.headerSeen {
		for i, tok := range r.tables.SplitHeader(line) {
			name, unit := r.tables.SplitNameUnit(tok)
			s.table.Columns = append(s.table.Columns, domain.Column{Number: i + 1, VariableName: name, Units: unit})
		}
		s.headerSeen = true
		return
	}
	s.addRow(r, strings.Fields(line))
}

func (s *chronologyState) close(r *run) {
	if !s.finishTable(r, "chronology") {
		return
	}
	r.chronTables++
	r.doc.ChronData = append(r.doc.ChronData, domain.Section{MeasurementTables: []domain.Table{s.table}})
}

type dataState struct {
	tableState
}

func (s *dataState) kind() sectionKind { return kindData }
func (s *dataState) started() bool { return s.headerSeen }

func (s *dataState) handle(r *run, raw, line string) {
	if line == "" {
		return
	}
	if key, value, ok := SplitKeyValue(line); ok && in(r.tables.MissingValue, NormalizeKey(key)) {
		s.table.MissingValue = value
		return
	}
	if IsComment(raw) {
		return
	}
	tokens := strings.Fields(line)
	if s.headerSeen {
		s.addRow(r, tokens)
		return
	}

	if len(r.variables) == 0 {
		for i, tok := range tokens {
			name, unit := r.tables.SplitNameUnit(tok)
			s.table.Columns = append(s.table.Columns, domain.Column{Number: i + 1, VariableName: name, Units: unit})
		}
		s.headerSeen = true
		return
	}
	if strings.EqualFold(tokens[0], r.variables[0].VariableName) {
		s.table.Columns = make([]domain.Column, len(r.variables))
		copy(s.table.Columns, r.variables)
		s.headerSeen = true
		return
	}
	s.skipped++
}

func (s *dataState) close(r *run) {
	if !s.finishTable(r, "data") {
		return
	}
	r.paleoTables++
	r.doc.PaleoData = append(r.doc.PaleoData, domain.Section{MeasurementTables: []domain.Table{s.table}})
}

// --- Done ---

type doneState struct{}

func (doneState) kind() sectionKind { return kindDone }
func (doneState) started() bool { return false }
func (doneState) handle(*run, string, string) {}
func (doneState) close(*run) {}
