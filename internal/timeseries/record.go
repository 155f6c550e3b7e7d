// Package timeseries reshapes documents into flat per-column records and folds
// such records back into documents.
//
// Field naming:
//
//	geo_<field>                     site geometry summary and properties
//	pub<N>_<field>                  publication N (1-based); pub<N>_author is ";"-joined
//	funding<N>_<field>              funding entry N
//	method_<field>                  model method, for summary/ensemble/distribution tables
//	climateInterpretation_<field>   column interpretation
//	calibration_<field>             column calibration
//	<mode>_<field>                  table and column fields, mode is paleoData or chronData
//	age, year, depth (+<name>Units) shared x-axis aliases for every record of a table
package timeseries

import (
	"sort"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
)

// Grouping keys carried by every record.
const (
	KeyDatasetName = "datasetName"
	KeyMode        = "mode"
	KeyTableType   = "tableType"
)

// Modes.
const (
	ModePaleo = "paleoData"
	ModeChron = "chronData"
)

// Table types.
const (
	TableMeasurement  = "measurement"
	TableSummary      = "summary"
	TableEnsemble     = "ensemble"
	TableDistribution = "distribution"
)

// Field prefixes.
const (
	prefixGeo            = "geo_"
	prefixMethod         = "method_"
	prefixInterpretation = "climateInterpretation_"
	prefixCalibration    = "calibration_"

	// legacyInterpretation is accepted on input only.
	legacyInterpretation = "interpretation_"
)

// FlatRecord is one column of a document with its full context: dataset
// metadata, the owning table and the column itself.
type FlatRecord map[string]any

// Get returns the value of a field.
func (r FlatRecord) Get(field string) (any, bool) {
	v, ok := r[field]
	return v, ok
}

// String returns a field rendered as text, or "" when absent.
func (r FlatRecord) String(field string) string {
	v, ok := r[field]
	if !ok {
		return ""
	}
	return domain.FormatValue(v)
}

func (r FlatRecord) DatasetName() string { return r.String(KeyDatasetName) }
func (r FlatRecord) Mode() string        { return r.String(KeyMode) }
func (r FlatRecord) TableType() string   { return r.String(KeyTableType) }

// TableName returns the <mode>_tableName field.
func (r FlatRecord) TableName() string { return r.String(r.Mode() + "_tableName") }

// VariableName returns the <mode>_variableName field.
func (r FlatRecord) VariableName() string { return r.String(r.Mode() + "_variableName") }

// Fields returns the record's field names in sorted order.
func (r FlatRecord) Fields() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validMode(m string) bool { return m == ModePaleo || m == ModeChron }
