package noaa

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
)

// keySeparatorRe matches the runs of spaces, underscores and dashes that
// separate words in template keys.
var keySeparatorRe = regexp.MustCompile(`[\s_\-]+`)

// valueUnitRe matches a leading number followed by an optional unit.
var valueUnitRe = regexp.MustCompile(`^([-+]?\d+(?:\.\d+)?|[-+]?\.\d+)\s*(.*)$`)

// rangeSepRe matches the separators of "100 m - 200 m" and "100 to 200 m".
var rangeSepRe = regexp.MustCompile(`\s+-\s+|\s+to\s+`)

// StripComment removes leading comment markers and surrounding whitespace.
func StripComment(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "#")
	return strings.TrimSpace(s)
}

// IsCommentMarker reports whether the line holds nothing but comment markers.
func IsCommentMarker(line string) bool {
	s := strings.TrimSpace(line)
	return s != "" && strings.Trim(s, "#") == ""
}

// IsComment reports whether the line starts with a comment marker.
func IsComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

// SplitKeyValue splits "Key: Value" on the first colon. ok is false when the
// line has no colon.
func SplitKeyValue(line string) (key, value string, ok bool) {
	k, v, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(k), strings.TrimSpace(v), true
}

// NormalizeKey lower-cases a key and collapses separators to single underscores.
func NormalizeKey(key string) string {
	k := keySeparatorRe.ReplaceAllString(strings.TrimSpace(key), "_")
	return strings.Trim(strings.ToLower(k), "_")
}

// CamelCase converts "Funding_Agency_Name" or "site name" to "fundingAgencyName"
// and "siteName".
func CamelCase(key string) string {
	words := keySeparatorRe.Split(strings.TrimSpace(key), -1)
	lower := cases.Lower(language.Und)
	title := cases.Title(language.Und)

	var b strings.Builder
	for _, w := range words {
		if w == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString(lower.String(w))
			continue
		}
		b.WriteString(title.String(w))
	}
	return b.String()
}

// CoerceNumber returns a float64 for numeric text and the trimmed text otherwise.
func CoerceNumber(s string) any {
	return domain.ParseValue(strings.TrimSpace(s))
}

// SplitValueUnit decodes "1200 m", "-5.5m" or a range such as "100 m - 200 m"
// into its numbers and a normalized unit. The unit of the last part wins, so
// "100 to 200 ft" yields [100 200] "ft".
func (t *FieldTables) SplitValueUnit(s string) (values []float64, unit string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", false
	}
	for _, part := range rangeSepRe.Split(s, -1) {
		m := valueUnitRe.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			return nil, "", false
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, "", false
		}
		values = append(values, v)
		if u := strings.TrimSpace(m[2]); u != "" {
			unit = t.NormalizeUnit(u)
		}
	}
	return values, unit, true
}
