package timeseries

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/brunoga/deep"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
)

// axisAliases maps the shared x-axis keys to the variable names they pick up.
var axisAliases = []struct {
	key     string
	pattern *regexp.Regexp
}{
	{"age", regexp.MustCompile(`(?i)^age`)},
	{"year", regexp.MustCompile(`(?i)^year`)},
	{"depth", regexp.MustCompile(`(?i)^depth`)},
}

// tableRef is one table together with where it sits in the document.
type tableRef struct {
	name   TableName
	table  *domain.Table
	method map[string]any
}

// Extract flattens a document into one record per column, tables in document
// order (paleo before chron, measurement tables before model tables). Every
// record owns its data: nothing aliases the document.
func Extract(doc *domain.Document) []FlatRecord {
	root := rootRecord(doc)

	var out []FlatRecord
	for _, ref := range tableRefs(doc) {
		tableRoot := deep.MustCopy(root)
		for k, v := range ref.method {
			tableRoot[prefixMethod+k] = deep.MustCopy(v)
		}
		addAxisAliases(tableRoot, ref.table)

		for _, col := range ref.table.Columns {
			rec := deep.MustCopy(tableRoot)
			addColumn(rec, ref, col)
			out = append(out, rec)
		}
	}
	return out
}

// rootRecord flattens the dataset-level fields shared by every record.
func rootRecord(doc *domain.Document) FlatRecord {
	rec := make(FlatRecord, len(doc.Metadata)+8)
	for k, v := range doc.Metadata {
		rec[k] = v
	}
	rec[KeyDatasetName] = doc.DatasetName
	if doc.ArchiveType != "" {
		rec["archiveType"] = doc.ArchiveType
	}
	if doc.Description != "" {
		rec["description"] = doc.Description
	}
	if doc.CoreLength != nil {
		rec["coreLength"] = doc.CoreLength.Value
		if doc.CoreLength.Units != "" {
			rec["coreLengthUnits"] = doc.CoreLength.Units
		}
	}
	for i, f := range doc.Funding {
		n := i + 1
		rec[fmt.Sprintf("funding%d_agency", n)] = f.Agency
		rec[fmt.Sprintf("funding%d_grant", n)] = f.Grant
	}

	flattenGeo(rec, doc.Geo)

	for i, p := range doc.Publications {
		prefix := fmt.Sprintf("pub%d_", i+1)
		for k, v := range p.Fields {
			rec[prefix+k] = v
		}
		if len(p.Authors) > 0 {
			rec[prefix+"author"] = strings.Join(p.Authors, ";")
		}
		if p.DOI != "" {
			rec[prefix+"DOI"] = p.DOI
		}
		if p.Abstract != "" {
			rec[prefix+"abstract"] = p.Abstract
		}
	}
	return rec
}

func flattenGeo(rec FlatRecord, geo domain.Geo) {
	g := geo.Geometry
	if lat, lon, _, ok := g.Mean(); ok {
		rec[prefixGeo+"type"] = string(g.Type)
		rec[prefixGeo+"meanLat"] = lat
		rec[prefixGeo+"meanLon"] = lon
		if e := g.Coordinates[0].Elevation; e != nil {
			rec[prefixGeo+"meanElev"] = *e
		}
		if g.Type == domain.GeometryMultiPoint {
			minLat, maxLat, minLon, maxLon := g.Bounds()
			rec[prefixGeo+"minLat"] = minLat
			rec[prefixGeo+"maxLat"] = maxLat
			rec[prefixGeo+"minLon"] = minLon
			rec[prefixGeo+"maxLon"] = maxLon
		}
	}
	for k, v := range geo.Properties {
		rec[prefixGeo+k] = v
	}
}

// tableRefs lists every table with its parsed or synthesized name.
func tableRefs(doc *domain.Document) []tableRef {
	var refs []tableRef
	walk := func(mode string, sections []domain.Section) {
		for si := range sections {
			s := &sections[si]
			for ti := range s.MeasurementTables {
				name := TableName{Mode: mode, Section: si + 1, Type: TableMeasurement, Table: ti + 1}
				refs = append(refs, tableRef{name: name, table: &s.MeasurementTables[ti]})
			}
			for mi := range s.Models {
				m := &s.Models[mi]
				kinds := []struct {
					typ    string
					tables []domain.Table
				}{
					{TableSummary, m.SummaryTables},
					{TableEnsemble, m.EnsembleTables},
					{TableDistribution, m.DistributionTables},
				}
				for _, k := range kinds {
					for ti := range k.tables {
						name := TableName{Mode: mode, Section: si + 1, Model: mi + 1, Type: k.typ, Table: ti + 1}
						refs = append(refs, tableRef{name: name, table: &k.tables[ti], method: m.Method})
					}
				}
			}
		}
	}
	walk(ModePaleo, doc.PaleoData)
	walk(ModeChron, doc.ChronData)
	return refs
}

// addAxisAliases copies the first age-, year- and depth-like column of the
// table to the unprefixed alias keys.
func addAxisAliases(rec FlatRecord, t *domain.Table) {
	for _, alias := range axisAliases {
		for _, c := range t.Columns {
			if !alias.pattern.MatchString(c.VariableName) {
				continue
			}
			rec[alias.key] = deep.MustCopy(c.Values)
			if c.Units != "" {
				rec[alias.key+"Units"] = c.Units
			}
			break
		}
	}
}

func addColumn(rec FlatRecord, ref tableRef, c domain.Column) {
	mode := ref.name.Mode
	p := mode + "_"

	rec[KeyMode] = mode
	rec[KeyTableType] = ref.name.Type

	tableName := ref.table.TableName
	if tableName == "" {
		tableName = ref.name.String()
	}
	rec[p+"tableName"] = tableName
	if ref.table.Filename != "" {
		rec[p+"filename"] = ref.table.Filename
	}
	if ref.table.MissingValue != "" {
		rec[p+"missingValue"] = ref.table.MissingValue
	}

	rec[p+"number"] = c.Number
	for _, slot := range domain.ColumnSlots {
		if v, _ := c.Slot(slot); v != "" {
			rec[p+slot] = v
		}
	}
	for k, v := range c.Extra {
		rec[p+k] = deep.MustCopy(v)
	}
	for k, v := range c.ClimateInterpretation {
		rec[prefixInterpretation+k] = deep.MustCopy(v)
	}
	for k, v := range c.Calibration {
		rec[prefixCalibration+k] = deep.MustCopy(v)
	}
	if c.Values != nil {
		rec[p+"values"] = deep.MustCopy(c.Values)
	}
}
