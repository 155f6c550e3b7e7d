package timeseries

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/brunoga/deep"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
)

var (
	pubFieldRe     = regexp.MustCompile(`^pub(\d+)_(.+)$`)
	fundingFieldRe = regexp.MustCompile(`^funding(\d+)_(.+)$`)
)

// geoSummaryFields are derived from the geometry and never stored as properties.
var geoSummaryFields = map[string]bool{
	"type": true, "meanLat": true, "meanLon": true, "meanElev": true,
	"minLat": true, "maxLat": true, "minLon": true, "maxLon": true,
}

// rootSkip are unprefixed keys that do not belong to the document root.
var rootSkip = map[string]bool{
	KeyMode: true, KeyTableType: true,
	"age": true, "ageUnits": true, "year": true, "yearUnits": true, "depth": true, "depthUnits": true,
}

// Collapse folds flat records back into documents, one per dataset in order
// of first appearance. payloads maps table filenames to their raw CSV; when a
// table has a payload its values are loaded from it, replacing the values
// carried by the records.
//
// Records that cannot be placed (no dataset name, unknown mode, or a table
// name outside the naming grammar) are dropped and reported as
// ErrUnresolvedGroupingKey warnings.
func Collapse(records []FlatRecord, payloads map[string][]byte) ([]*domain.Document, []domain.Warning) {
	var (
		order    []string
		builders = make(map[string]*docBuilder)
		warnings []domain.Warning
	)

	drop := func(i int, dsn, format string, args ...any) {
		w := domain.NewWarning(domain.ErrUnresolvedGroupingKey, 0, "record %d: %s", i+1, fmt.Sprintf(format, args...))
		w.Dataset = dsn
		warnings = append(warnings, w)
	}

	for i, rec := range records {
		dsn := rec.DatasetName()
		if dsn == "" {
			drop(i, "", "missing %s", KeyDatasetName)
			continue
		}
		mode := rec.Mode()
		if !validMode(mode) {
			drop(i, dsn, "unknown mode %q", mode)
			continue
		}
		name, err := ParseTableName(rec.TableName())
		if err != nil {
			drop(i, dsn, "%v", err)
			continue
		}
		if name.Mode != mode || name.Type != rec.TableType() {
			drop(i, dsn, "table %s does not match mode %q and table type %q", name, mode, rec.TableType())
			continue
		}

		b, ok := builders[dsn]
		if !ok {
			b = newDocBuilder(rec)
			builders[dsn] = b
			order = append(order, dsn)
		}
		b.add(name, rec)
	}

	docs := make([]*domain.Document, 0, len(order))
	for _, dsn := range order {
		doc, ws := builders[dsn].build(payloads)
		docs = append(docs, doc)
		warnings = append(warnings, ws...)
	}
	return docs, warnings
}

type docBuilder struct {
	doc    *domain.Document
	tables map[TableName]*domain.Table
	// methods holds the method of each model, keyed by its first table name
	// with the type and table number cleared.
	methods map[TableName]map[string]any
}

func newDocBuilder(rec FlatRecord) *docBuilder {
	return &docBuilder{
		doc:     rebuildRoot(rec),
		tables:  make(map[TableName]*domain.Table),
		methods: make(map[TableName]map[string]any),
	}
}

func (b *docBuilder) add(name TableName, rec FlatRecord) {
	p := name.Mode + "_"
	t, ok := b.tables[name]
	if !ok {
		t = &domain.Table{
			TableName:    name.String(),
			Filename:     rec.String(p + "filename"),
			MissingValue: rec.String(p + "missingValue"),
		}
		b.tables[name] = t
	}
	if name.Model > 0 {
		mk := modelKey(name)
		if _, ok := b.methods[mk]; !ok {
			b.methods[mk] = stripPrefix(rec, prefixMethod)
		}
	}
	t.Columns = append(t.Columns, rebuildColumn(rec, p))
}

func modelKey(n TableName) TableName {
	return TableName{Mode: n.Mode, Section: n.Section, Model: n.Model}
}

// build nests the collected tables by number. Gaps left by filtered records
// are closed up.
func (b *docBuilder) build(payloads map[string][]byte) (*domain.Document, []domain.Warning) {
	var warnings []domain.Warning

	names := make([]TableName, 0, len(b.tables))
	for n := range b.tables {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return lessTableName(names[i], names[j]) })

	type sectionAcc struct {
		section *domain.Section
		models  map[int]*domain.Model
	}
	sections := map[string]map[int]*sectionAcc{ModePaleo: {}, ModeChron: {}}
	var sectionOrder []struct {
		mode string
		num  int
	}

	for _, n := range names {
		t := b.tables[n]
		sort.SliceStable(t.Columns, func(i, j int) bool { return t.Columns[i].Number < t.Columns[j].Number })
		if data, ok := payloads[t.Filename]; ok && t.Filename != "" {
			if err := domain.LoadTableValues(bytes.NewReader(data), t); err != nil {
				w := domain.NewWarning(domain.ErrIOFailure, 0, "%v", err)
				w.Dataset = b.doc.DatasetName
				warnings = append(warnings, w)
			}
		}

		acc, ok := sections[n.Mode][n.Section]
		if !ok {
			acc = &sectionAcc{section: &domain.Section{}, models: make(map[int]*domain.Model)}
			sections[n.Mode][n.Section] = acc
			sectionOrder = append(sectionOrder, struct {
				mode string
				num  int
			}{n.Mode, n.Section})
		}
		if n.Type == TableMeasurement {
			acc.section.MeasurementTables = append(acc.section.MeasurementTables, *t)
			continue
		}
		m, ok := acc.models[n.Model]
		if !ok {
			m = &domain.Model{Method: b.methods[modelKey(n)]}
			acc.models[n.Model] = m
		}
		switch n.Type {
		case TableSummary:
			m.SummaryTables = append(m.SummaryTables, *t)
		case TableEnsemble:
			m.EnsembleTables = append(m.EnsembleTables, *t)
		case TableDistribution:
			m.DistributionTables = append(m.DistributionTables, *t)
		}
	}

	for _, so := range sectionOrder {
		acc := sections[so.mode][so.num]
		modelNums := make([]int, 0, len(acc.models))
		for k := range acc.models {
			modelNums = append(modelNums, k)
		}
		slices.Sort(modelNums)
		for _, k := range modelNums {
			acc.section.Models = append(acc.section.Models, *acc.models[k])
		}
		if so.mode == ModePaleo {
			b.doc.PaleoData = append(b.doc.PaleoData, *acc.section)
		} else {
			b.doc.ChronData = append(b.doc.ChronData, *acc.section)
		}
	}
	return b.doc, warnings
}

var tableTypeOrder = map[string]int{TableMeasurement: 0, TableSummary: 1, TableEnsemble: 2, TableDistribution: 3}

func lessTableName(a, b TableName) bool {
	if a.Mode != b.Mode {
		return a.Mode == ModePaleo
	}
	if a.Section != b.Section {
		return a.Section < b.Section
	}
	if a.Model != b.Model {
		return a.Model < b.Model
	}
	if a.Type != b.Type {
		return tableTypeOrder[a.Type] < tableTypeOrder[b.Type]
	}
	return a.Table < b.Table
}

// rebuildRoot is the inverse of rootRecord.
func rebuildRoot(rec FlatRecord) *domain.Document {
	doc := &domain.Document{DatasetName: rec.DatasetName()}
	pubs := make(map[int]*domain.Publication)
	funding := make(map[int]*domain.FundingEntry)
	geo := make(map[string]any)

	for k, v := range rec {
		switch {
		case k == KeyDatasetName || rootSkip[k]:
		case k == "archiveType":
			doc.ArchiveType = rec.String(k)
		case k == "description":
			doc.Description = rec.String(k)
		case k == "coreLength":
			if f, ok := toFloat(v); ok {
				if doc.CoreLength == nil {
					doc.CoreLength = &domain.Measurement{}
				}
				doc.CoreLength.Value = f
			}
		case k == "coreLengthUnits":
			if doc.CoreLength == nil {
				doc.CoreLength = &domain.Measurement{}
			}
			doc.CoreLength.Units = rec.String(k)
		case strings.HasPrefix(k, prefixGeo):
			geo[strings.TrimPrefix(k, prefixGeo)] = v
		case hasColumnPrefix(k):
		default:
			if m := pubFieldRe.FindStringSubmatch(k); m != nil {
				n, _ := strconv.Atoi(m[1])
				setPublicationField(pubEntry(pubs, n), m[2], v)
				continue
			}
			if m := fundingFieldRe.FindStringSubmatch(k); m != nil {
				n, _ := strconv.Atoi(m[1])
				f, ok := funding[n]
				if !ok {
					f = &domain.FundingEntry{}
					funding[n] = f
				}
				switch m[2] {
				case "agency":
					f.Agency = domain.FormatValue(v)
				case "grant":
					f.Grant = domain.FormatValue(v)
				}
				continue
			}
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]any)
			}
			doc.Metadata[k] = deep.MustCopy(v)
		}
	}

	for _, n := range sortedInts(pubs) {
		doc.Publications = append(doc.Publications, *pubs[n])
	}
	for _, n := range sortedInts(funding) {
		doc.Funding = append(doc.Funding, *funding[n])
	}
	doc.Geo = rebuildGeo(geo)
	return doc
}

func hasColumnPrefix(k string) bool {
	for _, p := range []string{ModePaleo + "_", ModeChron + "_", prefixMethod, prefixInterpretation, prefixCalibration, legacyInterpretation} {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	return false
}

func pubEntry(pubs map[int]*domain.Publication, n int) *domain.Publication {
	p, ok := pubs[n]
	if !ok {
		p = &domain.Publication{}
		pubs[n] = p
	}
	return p
}

func setPublicationField(p *domain.Publication, field string, v any) {
	switch field {
	case "author":
		for _, a := range strings.Split(domain.FormatValue(v), ";") {
			if a = strings.TrimSpace(a); a != "" {
				p.Authors = append(p.Authors, a)
			}
		}
	case "DOI":
		p.DOI = domain.FormatValue(v)
	case "abstract":
		p.Abstract = domain.FormatValue(v)
	default:
		if p.Fields == nil {
			p.Fields = make(map[string]any)
		}
		p.Fields[field] = deep.MustCopy(v)
	}
}

func rebuildGeo(fields map[string]any) domain.Geo {
	var geo domain.Geo
	for k, v := range fields {
		if geoSummaryFields[k] {
			continue
		}
		if geo.Properties == nil {
			geo.Properties = make(map[string]any)
		}
		geo.Properties[k] = deep.MustCopy(v)
	}

	var elev []float64
	if e, ok := toFloat(fields["meanElev"]); ok {
		elev = []float64{e}
	}
	num := func(k string) (float64, bool) { return toFloat(fields[k]) }

	if domain.GeometryType(domain.FormatValue(fields["type"])) == domain.GeometryMultiPoint {
		minLat, ok1 := num("minLat")
		maxLat, ok2 := num("maxLat")
		minLon, ok3 := num("minLon")
		maxLon, ok4 := num("maxLon")
		if ok1 && ok2 && ok3 && ok4 {
			geo.Geometry, _ = domain.BuildGeometry([]float64{minLat, maxLat}, []float64{minLon, maxLon}, elev)
			return geo
		}
	}
	lat, ok1 := num("meanLat")
	lon, ok2 := num("meanLon")
	if ok1 && ok2 {
		geo.Geometry, _ = domain.BuildGeometry([]float64{lat}, []float64{lon}, elev)
	}
	return geo
}

// rebuildColumn is the inverse of addColumn.
func rebuildColumn(rec FlatRecord, p string) domain.Column {
	var c domain.Column
	for k, v := range rec {
		switch {
		case strings.HasPrefix(k, p):
			field := strings.TrimPrefix(k, p)
			switch field {
			case "tableName", "filename", "missingValue":
			case "number":
				if n, ok := toFloat(v); ok {
					c.Number = int(n)
				}
			case "values":
				c.Values = toValues(v)
			default:
				if s, ok := v.(string); ok && c.SetSlot(field, s) {
					continue
				}
				if c.Extra == nil {
					c.Extra = make(map[string]any)
				}
				c.Extra[field] = deep.MustCopy(v)
			}
		case strings.HasPrefix(k, prefixInterpretation):
			c.ClimateInterpretation = setNested(c.ClimateInterpretation, strings.TrimPrefix(k, prefixInterpretation), v)
		case strings.HasPrefix(k, legacyInterpretation):
			c.ClimateInterpretation = setNested(c.ClimateInterpretation, strings.TrimPrefix(k, legacyInterpretation), v)
		case strings.HasPrefix(k, prefixCalibration):
			c.Calibration = setNested(c.Calibration, strings.TrimPrefix(k, prefixCalibration), v)
		}
	}
	return c
}

func setNested(m map[string]any, k string, v any) map[string]any {
	if m == nil {
		m = make(map[string]any)
	}
	m[k] = deep.MustCopy(v)
	return m
}

func stripPrefix(rec FlatRecord, prefix string) map[string]any {
	var out map[string]any
	for k, v := range rec {
		if strings.HasPrefix(k, prefix) {
			if out == nil {
				out = make(map[string]any)
			}
			out[strings.TrimPrefix(k, prefix)] = deep.MustCopy(v)
		}
	}
	return out
}

// toValues accepts the value list in any of the shapes a decoder may produce.
func toValues(v any) []any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	case []float64:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = domain.ParseValue(e)
		}
		return out
	}
	return nil
}

// normalizeValue maps decoded integers back to float64 so values compare
// equal to freshly parsed ones.
func normalizeValue(v any) any {
	if f, ok := toFloat(v); ok {
		if _, isString := v.(string); !isString {
			return f
		}
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func sortedInts[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
