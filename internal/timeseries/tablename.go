package timeseries

import (
	"fmt"
	"regexp"
	"strconv"
)

// tableNameRe is the table-naming grammar: paleo1measurement1,
// chron1model2ensemble1, ...
var tableNameRe = regexp.MustCompile(`^(paleo|chron)(\d+)(?:model(\d+))?(measurement|summary|ensemble|distribution)(\d+)$`)

// TableName is a parsed table name. Model is zero for measurement tables.
type TableName struct {
	Mode    string
	Section int
	Model   int
	Type    string
	Table   int
}

// ParseTableName decodes a table name. Measurement tables must not name a
// model; model tables must.
func ParseTableName(s string) (TableName, error) {
	m := tableNameRe.FindStringSubmatch(s)
	if m == nil {
		return TableName{}, fmt.Errorf("table name %q does not match the naming grammar", s)
	}
	n := TableName{Mode: ModePaleo, Type: m[4]}
	if m[1] == "chron" {
		n.Mode = ModeChron
	}
	n.Section, _ = strconv.Atoi(m[2])
	n.Table, _ = strconv.Atoi(m[5])
	if m[3] != "" {
		n.Model, _ = strconv.Atoi(m[3])
	}

	switch {
	case n.Section < 1 || n.Table < 1 || (m[3] != "" && n.Model < 1):
		return TableName{}, fmt.Errorf("table name %q: numbers start at 1", s)
	case n.Type == TableMeasurement && n.Model != 0:
		return TableName{}, fmt.Errorf("table name %q: measurement tables do not belong to a model", s)
	case n.Type != TableMeasurement && n.Model == 0:
		return TableName{}, fmt.Errorf("table name %q: %s tables belong to a model", s, n.Type)
	}
	return n, nil
}

func (n TableName) String() string {
	mode := "paleo"
	if n.Mode == ModeChron {
		mode = "chron"
	}
	if n.Model > 0 {
		return fmt.Sprintf("%s%dmodel%d%s%d", mode, n.Section, n.Model, n.Type, n.Table)
	}
	return fmt.Sprintf("%s%d%s%d", mode, n.Section, n.Type, n.Table)
}
