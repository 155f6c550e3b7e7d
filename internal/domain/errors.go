package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedLine marks a line that could not be split or decoded where a
	// key/value or numeric field was expected. The line is skipped.
	ErrMalformedLine = errors.New("malformed line")

	// ErrMissingSectionData marks a chronology or data section that produced no
	// rows. The corresponding table is omitted.
	ErrMissingSectionData = errors.New("missing section data")

	// ErrAmbiguousGeometry marks a coordinate count outside the 0/1/2 per axis rule.
	ErrAmbiguousGeometry = errors.New("ambiguous geometry")

	// ErrUnmatchedFunding marks a funding agency without a grant or vice versa.
	ErrUnmatchedFunding = errors.New("unmatched funding entry")

	// ErrUnresolvedGroupingKey marks a flat record whose table name does not
	// follow the table-name grammar. The record is dropped during collapse.
	ErrUnresolvedGroupingKey = errors.New("unresolved grouping key")

	// ErrIOFailure marks a source file that could not be read or a destination
	// that could not be written. Fatal for that file only.
	ErrIOFailure = errors.New("io failure")
)

// Warning is a recovered, per-line or per-record problem. It wraps one of the
// sentinel errors above.
type Warning struct {
	Err     error  `json:"-"`
	Dataset string `json:"dataset,omitempty"`
	Line    int    `json:"line,omitempty"`
	Detail  string `json:"detail"`
}

// NewWarning builds a Warning from a sentinel and a formatted detail message.
func NewWarning(err error, line int, format string, args ...any) Warning {
	return Warning{Err: err, Line: line, Detail: fmt.Sprintf(format, args...)}
}

func (w Warning) Error() string {
	prefix := w.Err.Error()
	if w.Dataset != "" {
		prefix = w.Dataset + ": " + prefix
	}
	if w.Line > 0 {
		return fmt.Sprintf("%s (line %d): %s", prefix, w.Line, w.Detail)
	}
	return prefix + ": " + w.Detail
}

func (w Warning) Unwrap() error { return w.Err }

// Kind returns a short label for the wrapped sentinel, suitable for metric labels.
func (w Warning) Kind() string {
	switch {
	case errors.Is(w.Err, ErrMalformedLine):
		return "malformed_line"
	case errors.Is(w.Err, ErrMissingSectionData):
		return "missing_section_data"
	case errors.Is(w.Err, ErrAmbiguousGeometry):
		return "ambiguous_geometry"
	case errors.Is(w.Err, ErrUnmatchedFunding):
		return "unmatched_funding"
	case errors.Is(w.Err, ErrUnresolvedGroupingKey):
		return "unresolved_grouping_key"
	case errors.Is(w.Err, ErrIOFailure):
		return "io_failure"
	default:
		return "other"
	}
}
