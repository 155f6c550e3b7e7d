package domain

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

// numericRe accepts plain decimal and exponent notation. "nan" and "inf" stay
// strings so missing-value markers survive a round trip.
var numericRe = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?$`)

// ColumnSlots is the positional schema of a data-table variable line. Slot 0 is
// the variable name; the remaining slots follow the template's comma-separated
// attribute order.
var ColumnSlots = []string{
	"variableName",
	"description",
	"material",
	"error",
	"units",
	"seasonality",
	"archive",
	"detail",
	"method",
	"dataType",
	"direction",
}

// Table is one measurement, summary, ensemble or distribution table.
type Table struct {
	Filename     string
	TableName    string
	MissingValue string
	Columns      []Column
}

// Column describes one variable of a table. The string fields follow
// ColumnSlots; an empty field means the slot was absent.
type Column struct {
	Number       int
	VariableName string
	Description  string
	Material     string
	Error        string
	Units        string
	Seasonality  string
	Archive      string
	Detail       string
	Method       string
	DataType     string
	Direction    string

	ClimateInterpretation map[string]any
	Calibration           map[string]any

	// Extra holds any other column-level key carried by a document.
	Extra map[string]any

	// Values are float64 or string, one per data row.
	Values []any
}

func (c *Column) slot(name string) *string {
	switch name {
	case "variableName":
		return &c.VariableName
	case "description":
		return &c.Description
	case "material":
		return &c.Material
	case "error":
		return &c.Error
	case "units":
		return &c.Units
	case "seasonality":
		return &c.Seasonality
	case "archive":
		return &c.Archive
	case "detail":
		return &c.Detail
	case "method":
		return &c.Method
	case "dataType":
		return &c.DataType
	case "direction":
		return &c.Direction
	}
	return nil
}

// SetSlot assigns a named positional field. It returns false when name is not
// part of ColumnSlots.
func (c *Column) SetSlot(name, value string) bool {
	p := c.slot(name)
	if p == nil {
		return false
	}
	*p = value
	return true
}

// Slot returns a named positional field.
func (c *Column) Slot(name string) (string, bool) {
	p := c.slot(name)
	if p == nil {
		return "", false
	}
	return *p, true
}

// ColumnFromSlots assigns values to ColumnSlots by position. Values beyond the
// schema are dropped; missing trailing slots stay empty.
func ColumnFromSlots(number int, values []string) Column {
	c := Column{Number: number}
	for i, v := range values {
		if i >= len(ColumnSlots) {
			break
		}
		c.SetSlot(ColumnSlots[i], v)
	}
	return c
}

// RowCount returns the length of the longest column.
func (t *Table) RowCount() int {
	n := 0
	for _, c := range t.Columns {
		if len(c.Values) > n {
			n = len(c.Values)
		}
	}
	return n
}

// ParseValue coerces a CSV cell: numeric strings become float64, anything else
// stays a string.
func ParseValue(s string) any {
	if numericRe.MatchString(s) {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return s
}

// FormatValue renders a column value for a CSV cell.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}

// WriteTableCSV writes the table values row by row, without a header, columns
// ordered by number.
func WriteTableCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	rows := t.RowCount()
	record := make([]string, len(t.Columns))
	for i := 0; i < rows; i++ {
		for j, c := range t.Columns {
			record[j] = ""
			if i < len(c.Values) {
				record[j] = FormatValue(c.Values[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write table %s: %w", t.TableName, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadTableValues reads a header-less CSV payload and assigns each CSV column
// to the table column with the matching number.
func LoadTableValues(r io.Reader, t *Table) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return fmt.Errorf("load table %s: %w", t.TableName, err)
	}
	for i := range t.Columns {
		c := &t.Columns[i]
		idx := c.Number - 1
		if idx < 0 {
			continue
		}
		values := make([]any, 0, len(rows))
		for _, row := range rows {
			if idx < len(row) {
				values = append(values, ParseValue(row[idx]))
			} else {
				values = append(values, "")
			}
		}
		c.Values = values
	}
	return nil
}
