package domain

import (
	"fmt"
)

// Document is one dataset: scalar metadata, publications, funding, site
// geometry and the paleo/chron sections that own its tables.
type Document struct {
	DatasetName string
	ArchiveType string
	Description string
	CoreLength  *Measurement

	// Metadata holds the free scalar fields of the template, keyed by their
	// camel-cased names (e.g. "studyName", "collectionName").
	Metadata map[string]any

	Publications []Publication
	Funding      []FundingEntry
	Geo          Geo

	PaleoData []Section
	ChronData []Section
}

// Measurement is a numeric value with its unit, e.g. a core length of 120 cm.
type Measurement struct {
	Value float64 `json:"value"`
	Units string  `json:"units,omitempty"`
}

// Publication is one bibliographic entry. Fields holds everything except the
// author list, the abstract and the DOI.
type Publication struct {
	Fields   map[string]any
	Authors  []string
	Abstract string
	DOI      string
}

// IsZero reports whether nothing was recorded for the publication.
func (p Publication) IsZero() bool {
	return len(p.Fields) == 0 && len(p.Authors) == 0 && p.Abstract == "" && p.DOI == ""
}

// FundingEntry pairs an agency with a grant.
type FundingEntry struct {
	Agency string `json:"agency,omitempty"`
	Grant  string `json:"grant,omitempty"`
}

// Geo is the site location: geometry plus free properties (siteName, country, ...).
type Geo struct {
	Geometry   Geometry
	Properties map[string]any
}

// Section is one paleoData or chronData slot.
type Section struct {
	MeasurementTables []Table
	Models            []Model
}

// Model groups the model-derived tables of a section with the method that produced them.
type Model struct {
	Method             map[string]any
	SummaryTables      []Table
	EnsembleTables     []Table
	DistributionTables []Table
}

// ChronologyTable returns the first chronology measurement table, or nil.
func (d *Document) ChronologyTable() *Table {
	for i := range d.ChronData {
		if len(d.ChronData[i].MeasurementTables) > 0 {
			return &d.ChronData[i].MeasurementTables[0]
		}
	}
	return nil
}

// DataTables returns every paleo measurement table in section order.
func (d *Document) DataTables() []Table {
	var out []Table
	for _, s := range d.PaleoData {
		out = append(out, s.MeasurementTables...)
	}
	return out
}

// Tables calls fn for every table the document owns, measurement tables first,
// then model tables, paleo sections before chron sections.
func (d *Document) Tables(fn func(t *Table)) {
	walk := func(sections []Section) {
		for i := range sections {
			s := &sections[i]
			for j := range s.MeasurementTables {
				fn(&s.MeasurementTables[j])
			}
			for j := range s.Models {
				m := &s.Models[j]
				for k := range m.SummaryTables {
					fn(&m.SummaryTables[k])
				}
				for k := range m.EnsembleTables {
					fn(&m.EnsembleTables[k])
				}
				for k := range m.DistributionTables {
					fn(&m.DistributionTables[k])
				}
			}
		}
	}
	walk(d.PaleoData)
	walk(d.ChronData)
}

// Validate checks the structural invariants: table filenames are unique within
// the document and every table's column numbers run 1..N without gaps.
func (d *Document) Validate() error {
	seen := make(map[string]bool)
	var err error
	d.Tables(func(t *Table) {
		if err != nil {
			return
		}
		if t.Filename != "" {
			if seen[t.Filename] {
				err = fmt.Errorf("duplicate table filename %q", t.Filename)
				return
			}
			seen[t.Filename] = true
		}
		for i, c := range t.Columns {
			if c.Number != i+1 {
				err = fmt.Errorf("table %q: column %d has number %d", t.TableName, i+1, c.Number)
				return
			}
		}
	})
	return err
}
