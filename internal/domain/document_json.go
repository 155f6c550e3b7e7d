package domain

import (
	"fmt"
	"slices"

	json "github.com/goccy/go-json"
	"github.com/iancoleman/orderedmap"
)

// Top-level document keys. Anything else in a document is a free scalar field.
const (
	keyDataSetName = "dataSetName"
	keyArchiveType = "archiveType"
	keyDescription = "description"
	keyCoreLength  = "coreLength"
	keyPub         = "pub"
	keyFunding     = "funding"
	keyGeo         = "geo"
	keyPaleoData   = "paleoData"
	keyChronData   = "chronData"
)

var reservedDocumentKeys = []string{
	keyDataSetName, keyArchiveType, keyDescription, keyCoreLength,
	keyPub, keyFunding, keyGeo, keyPaleoData, keyChronData,
}

// MarshalJSON encodes the document with a stable key order: scalar fields,
// free metadata (sorted), then pub, funding, geo, paleoData, chronData.
func (d Document) MarshalJSON() ([]byte, error) {
	o := orderedmap.New()
	o.SetEscapeHTML(false)
	if d.DatasetName != "" {
		o.Set(keyDataSetName, d.DatasetName)
	}
	if d.ArchiveType != "" {
		o.Set(keyArchiveType, d.ArchiveType)
	}
	if d.Description != "" {
		o.Set(keyDescription, d.Description)
	}
	if d.CoreLength != nil {
		o.Set(keyCoreLength, d.CoreLength)
	}
	for _, k := range sortedKeys(d.Metadata) {
		o.Set(k, d.Metadata[k])
	}
	if len(d.Publications) > 0 {
		pubs := make([]*orderedmap.OrderedMap, len(d.Publications))
		for i, p := range d.Publications {
			pubs[i] = p.ordered()
		}
		o.Set(keyPub, pubs)
	}
	if len(d.Funding) > 0 {
		o.Set(keyFunding, d.Funding)
	}
	if !d.Geo.Geometry.IsEmpty() || len(d.Geo.Properties) > 0 {
		o.Set(keyGeo, d.Geo.ordered())
	}
	if len(d.PaleoData) > 0 {
		o.Set(keyPaleoData, sectionsJSON(d.PaleoData))
	}
	if len(d.ChronData) > 0 {
		o.Set(keyChronData, sectionsJSON(d.ChronData))
	}
	return json.Marshal(o)
}

// UnmarshalJSON decodes a document produced by MarshalJSON (or any LiPD-style
// document using the same keys). Column values are not part of the JSON.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	*d = Document{}

	decode := func(key string, v any) error {
		msg, ok := raw[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(msg, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	}

	if err := decode(keyDataSetName, &d.DatasetName); err != nil {
		return err
	}
	if err := decode(keyArchiveType, &d.ArchiveType); err != nil {
		return err
	}
	if err := decode(keyDescription, &d.Description); err != nil {
		return err
	}
	if err := decode(keyCoreLength, &d.CoreLength); err != nil {
		return err
	}
	if err := decode(keyFunding, &d.Funding); err != nil {
		return err
	}

	var pubs []map[string]json.RawMessage
	if err := decode(keyPub, &pubs); err != nil {
		return err
	}
	for _, p := range pubs {
		pub, err := publicationFromJSON(p)
		if err != nil {
			return err
		}
		d.Publications = append(d.Publications, pub)
	}

	var geo struct {
		Geometry   Geometry       `json:"geometry"`
		Properties map[string]any `json:"properties"`
	}
	if err := decode(keyGeo, &geo); err != nil {
		return err
	}
	d.Geo = Geo{Geometry: geo.Geometry, Properties: geo.Properties}

	var paleo, chron []sectionJSON
	if err := decode(keyPaleoData, &paleo); err != nil {
		return err
	}
	if err := decode(keyChronData, &chron); err != nil {
		return err
	}
	d.PaleoData = sectionsFromJSON(paleo)
	d.ChronData = sectionsFromJSON(chron)

	for k, msg := range raw {
		if slices.Contains(reservedDocumentKeys, k) {
			continue
		}
		var v any
		if err := json.Unmarshal(msg, &v); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		if d.Metadata == nil {
			d.Metadata = make(map[string]any)
		}
		d.Metadata[k] = v
	}
	return nil
}

// --- publications ---

type authorJSON struct {
	Name string `json:"name"`
}

type identifierJSON struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (p Publication) ordered() *orderedmap.OrderedMap {
	o := orderedmap.New()
	o.SetEscapeHTML(false)
	for _, k := range sortedKeys(p.Fields) {
		o.Set(k, p.Fields[k])
	}
	if len(p.Authors) > 0 {
		authors := make([]authorJSON, len(p.Authors))
		for i, a := range p.Authors {
			authors[i] = authorJSON{Name: a}
		}
		o.Set("author", authors)
	}
	if p.Abstract != "" {
		o.Set("abstract", p.Abstract)
	}
	if p.DOI != "" {
		o.Set("identifier", []identifierJSON{{Type: "doi", ID: p.DOI}})
	}
	return o
}

func publicationFromJSON(raw map[string]json.RawMessage) (Publication, error) {
	var p Publication
	for k, msg := range raw {
		switch k {
		case "author":
			var authors []authorJSON
			if err := json.Unmarshal(msg, &authors); err != nil {
				return p, fmt.Errorf("decode pub author: %w", err)
			}
			for _, a := range authors {
				p.Authors = append(p.Authors, a.Name)
			}
		case "abstract":
			if err := json.Unmarshal(msg, &p.Abstract); err != nil {
				return p, fmt.Errorf("decode pub abstract: %w", err)
			}
		case "identifier":
			var ids []identifierJSON
			if err := json.Unmarshal(msg, &ids); err != nil {
				return p, fmt.Errorf("decode pub identifier: %w", err)
			}
			for _, id := range ids {
				if id.Type == "doi" || id.Type == "DOI" {
					p.DOI = id.ID
					break
				}
			}
		default:
			var v any
			if err := json.Unmarshal(msg, &v); err != nil {
				return p, fmt.Errorf("decode pub %s: %w", k, err)
			}
			if p.Fields == nil {
				p.Fields = make(map[string]any)
			}
			p.Fields[k] = v
		}
	}
	return p, nil
}

// --- geo ---

func (g Geo) ordered() *orderedmap.OrderedMap {
	o := orderedmap.New()
	o.SetEscapeHTML(false)
	o.Set("type", "Feature")
	o.Set("geometry", g.Geometry)
	if len(g.Properties) > 0 {
		o.Set("properties", g.Properties)
	}
	return o
}

// --- sections and tables ---

type sectionJSON struct {
	MeasurementTable []tableJSON `json:"measurementTable,omitempty"`
	Model            []modelJSON `json:"model,omitempty"`
}

type modelJSON struct {
	Method            map[string]any `json:"method,omitempty"`
	SummaryTable      []tableJSON    `json:"summaryTable,omitempty"`
	EnsembleTable     []tableJSON    `json:"ensembleTable,omitempty"`
	DistributionTable []tableJSON    `json:"distributionTable,omitempty"`
}

type tableJSON struct {
	TableName    string                       `json:"tableName,omitempty"`
	Filename     string                       `json:"filename,omitempty"`
	MissingValue string                       `json:"missingValue,omitempty"`
	Columns      []map[string]json.RawMessage `json:"columns,omitempty"`
}

func sectionsJSON(sections []Section) []sectionJSON {
	out := make([]sectionJSON, len(sections))
	for i, s := range sections {
		out[i].MeasurementTable = tablesJSON(s.MeasurementTables)
		for _, m := range s.Models {
			out[i].Model = append(out[i].Model, modelJSON{
				Method:            m.Method,
				SummaryTable:      tablesJSON(m.SummaryTables),
				EnsembleTable:     tablesJSON(m.EnsembleTables),
				DistributionTable: tablesJSON(m.DistributionTables),
			})
		}
	}
	return out
}

func tablesJSON(tables []Table) []tableJSON {
	if len(tables) == 0 {
		return nil
	}
	out := make([]tableJSON, len(tables))
	for i, t := range tables {
		out[i] = tableJSON{TableName: t.TableName, Filename: t.Filename, MissingValue: t.MissingValue}
		for _, c := range t.Columns {
			out[i].Columns = append(out[i].Columns, c.rawFields())
		}
	}
	return out
}

func sectionsFromJSON(in []sectionJSON) []Section {
	if len(in) == 0 {
		return nil
	}
	out := make([]Section, len(in))
	for i, s := range in {
		out[i].MeasurementTables = tablesFromJSON(s.MeasurementTable)
		for _, m := range s.Model {
			out[i].Models = append(out[i].Models, Model{
				Method:             m.Method,
				SummaryTables:      tablesFromJSON(m.SummaryTable),
				EnsembleTables:     tablesFromJSON(m.EnsembleTable),
				DistributionTables: tablesFromJSON(m.DistributionTable),
			})
		}
	}
	return out
}

func tablesFromJSON(in []tableJSON) []Table {
	if len(in) == 0 {
		return nil
	}
	out := make([]Table, len(in))
	for i, t := range in {
		out[i] = Table{TableName: t.TableName, Filename: t.Filename, MissingValue: t.MissingValue}
		for _, raw := range t.Columns {
			out[i].Columns = append(out[i].Columns, columnFromRaw(raw))
		}
	}
	return out
}

// rawFields encodes a column as a flat JSON object: number, the positional
// slots, interpretation/calibration maps and extras.
func (c Column) rawFields() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	put := func(k string, v any) {
		b, err := json.Marshal(v)
		if err == nil {
			out[k] = b
		}
	}
	put("number", c.Number)
	for _, name := range ColumnSlots {
		if v, _ := c.Slot(name); v != "" {
			put(name, v)
		}
	}
	if len(c.ClimateInterpretation) > 0 {
		put("climateInterpretation", c.ClimateInterpretation)
	}
	if len(c.Calibration) > 0 {
		put("calibration", c.Calibration)
	}
	for k, v := range c.Extra {
		put(k, v)
	}
	return out
}

func columnFromRaw(raw map[string]json.RawMessage) Column {
	var c Column
	for k, msg := range raw {
		switch k {
		case "number":
			var n float64
			if json.Unmarshal(msg, &n) == nil {
				c.Number = int(n)
			}
		case "climateInterpretation":
			_ = json.Unmarshal(msg, &c.ClimateInterpretation)
		case "calibration":
			_ = json.Unmarshal(msg, &c.Calibration)
		default:
			var s string
			if json.Unmarshal(msg, &s) == nil && c.SetSlot(k, s) {
				continue
			}
			var v any
			if json.Unmarshal(msg, &v) == nil {
				if c.Extra == nil {
					c.Extra = make(map[string]any)
				}
				c.Extra[k] = v
			}
		}
	}
	return c
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
