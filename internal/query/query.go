// Package query filters flat time-series records with expressions of the
// form "<field> <op> <value>", e.g. "archiveType is lake sediment" or
// "geo_meanLat > 30".
package query

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
	"github.com/couchcryptid/paleo-data-etl/internal/timeseries"
)

// ErrSyntax is returned for expressions that do not follow the grammar.
var ErrSyntax = errors.New("invalid filter expression")

// Op is a comparison operator.
type Op int

const (
	OpEqual Op = iota
	OpIn
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
)

// operators lists every spelling, multi-word spellings first so "greater than"
// is not read as a field value.
var operators = []struct {
	text string
	op   Op
}{
	{"greater than", OpGreater},
	{"less than", OpLess},
	{"equals", OpEqual},
	{"equal", OpEqual},
	{"is", OpEqual},
	{"in", OpIn},
	{"<=", OpLessEqual},
	{">=", OpGreaterEqual},
	{"==", OpEqual},
	{"=", OpEqual},
	{">", OpGreater},
	{"<", OpLess},
}

var opNames = map[Op]string{
	OpEqual: "==", OpIn: "in", OpGreater: ">", OpGreaterEqual: ">=", OpLess: "<", OpLessEqual: "<=",
}

func (o Op) String() string { return opNames[o] }

// Expr is one parsed filter expression.
type Expr struct {
	Field string
	Op    Op
	Value string
}

func (e Expr) String() string { return fmt.Sprintf("%s %s %s", e.Field, e.Op, e.Value) }

// Parse reads "<field> <op> <value>". Word operators are matched case
// insensitively; the value may be quoted.
func Parse(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	field, rest, ok := cutField(s)
	if !ok {
		return Expr{}, fmt.Errorf("%w: %q: expected <field> <op> <value>", ErrSyntax, s)
	}
	for _, o := range operators {
		value, found := cutOperator(rest, o.text)
		if !found {
			continue
		}
		value = unquote(strings.TrimSpace(value))
		if value == "" {
			return Expr{}, fmt.Errorf("%w: %q: missing value", ErrSyntax, s)
		}
		return Expr{Field: field, Op: o.op, Value: value}, nil
	}
	return Expr{}, fmt.Errorf("%w: %q: unknown operator", ErrSyntax, s)
}

// MustParse is Parse for expressions known to be valid.
func MustParse(s string) Expr {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

// cutField splits off the field name. Symbolic operators may follow the
// field without a space ("age>100").
func cutField(s string) (field, rest string, ok bool) {
	i := strings.IndexAny(s, " \t<>=")
	if i <= 0 {
		return "", "", false
	}
	return s[:i], strings.TrimLeft(s[i:], " \t"), true
}

func cutOperator(rest, op string) (string, bool) {
	if len(rest) < len(op) || !strings.EqualFold(rest[:len(op)], op) {
		return "", false
	}
	value := rest[len(op):]
	isWord := op[0] >= 'a' && op[0] <= 'z'
	if isWord && value != "" && value[0] != ' ' && value[0] != '\t' {
		return "", false
	}
	return value, true
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Match reports whether the record satisfies the expression. Records without
// the field never match.
func (e Expr) Match(r timeseries.FlatRecord) bool {
	v, ok := r.Get(e.Field)
	if !ok {
		return false
	}
	switch e.Op {
	case OpEqual:
		return equal(v, e.Value)
	case OpIn:
		return contains(v, e.Value)
	}

	got, ok1 := number(v)
	want, ok2 := number(e.Value)
	if !ok1 || !ok2 {
		return false
	}
	switch e.Op {
	case OpGreater:
		return got > want
	case OpGreaterEqual:
		return got >= want
	case OpLess:
		return got < want
	case OpLessEqual:
		return got <= want
	}
	return false
}

func equal(v any, want string) bool {
	if a, ok := number(v); ok {
		if b, ok := number(want); ok {
			return a == b
		}
	}
	return strings.EqualFold(domain.FormatValue(v), want)
}

// contains matches a list element or a case-insensitive substring.
func contains(v any, want string) bool {
	if list, ok := v.([]any); ok {
		for _, e := range list {
			if equal(e, want) {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(domain.FormatValue(v)), strings.ToLower(want))
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Filter returns the records matching every expression, in input order.
func Filter(records []timeseries.FlatRecord, exprs ...Expr) []timeseries.FlatRecord {
	var out []timeseries.FlatRecord
	for _, r := range records {
		if matchAll(r, exprs) {
			out = append(out, r)
		}
	}
	return out
}

func matchAll(r timeseries.FlatRecord, exprs []Expr) bool {
	for _, e := range exprs {
		if !e.Match(r) {
			return false
		}
	}
	return true
}

// ParseAll parses several expressions, reporting the first error.
func ParseAll(exprs []string) ([]Expr, error) {
	out := make([]Expr, 0, len(exprs))
	for _, s := range exprs {
		if strings.TrimSpace(s) == "" {
			continue
		}
		e, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
