package noaa

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed fieldtables.yaml
var defaultTablesYAML []byte

// FieldTables is the data half of the parser: section vocabulary, key synonyms,
// unit synonyms and the patterns used to classify lines. New synonyms are added
// to the YAML file without touching parsing control flow.
type FieldTables struct {
	Headers map[string]string `yaml:"headers"`
	Ignore  []string          `yaml:"ignore"`

	Archive     []string `yaml:"archive"`
	Description []string `yaml:"description"`
	CoreLength  []string `yaml:"core_length"`

	FundingAgency []string `yaml:"funding_agency"`
	Grant         []string `yaml:"grant"`

	Latitude  []string `yaml:"latitude"`
	Longitude []string `yaml:"longitude"`
	Elevation []string `yaml:"elevation"`

	MissingValue []string `yaml:"missing_value"`

	Authors     []string          `yaml:"authors"`
	Abstract    []string          `yaml:"abstract"`
	DOI         []string          `yaml:"doi"`
	Publication map[string]string `yaml:"publication"`

	Units               map[string]string `yaml:"units"`
	VariableBoilerplate []string          `yaml:"variable_boilerplate"`

	Patterns struct {
		EndMarker   string `yaml:"end_marker"`
		DOI         string `yaml:"doi"`
		Variable    string `yaml:"variable"`
		HeaderSplit string `yaml:"header_split"`
		NameUnit    string `yaml:"name_unit"`
	} `yaml:"patterns"`

	endMarkerRe   *regexp.Regexp
	doiRe         *regexp.Regexp
	variableRe    *regexp.Regexp
	headerSplitRe *regexp.Regexp
	nameUnitRe    *regexp.Regexp

	ignore map[string]bool
}

var defaultTables = sync.OnceValues(func() (*FieldTables, error) {
	return ParseFieldTables(defaultTablesYAML)
})

// DefaultFieldTables returns the tables embedded in the binary.
func DefaultFieldTables() *FieldTables {
	t, err := defaultTables()
	if err != nil {
		panic(fmt.Sprintf("embedded field tables: %v", err))
	}
	return t
}

// LoadFieldTables reads a YAML tables file. An empty path returns the defaults.
func LoadFieldTables(path string) (*FieldTables, error) {
	if path == "" {
		return DefaultFieldTables(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field tables: %w", err)
	}
	return ParseFieldTables(data)
}

// ParseFieldTables decodes and compiles a YAML tables document.
func ParseFieldTables(data []byte) (*FieldTables, error) {
	var t FieldTables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode field tables: %w", err)
	}

	compile := func(name, expr string) (*regexp.Regexp, error) {
		if expr == "" {
			return nil, fmt.Errorf("field tables: pattern %s is required", name)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("field tables: pattern %s: %w", name, err)
		}
		return re, nil
	}

	var err error
	if t.endMarkerRe, err = compile("end_marker", t.Patterns.EndMarker); err != nil {
		return nil, err
	}
	if t.doiRe, err = compile("doi", t.Patterns.DOI); err != nil {
		return nil, err
	}
	if t.variableRe, err = compile("variable", t.Patterns.Variable); err != nil {
		return nil, err
	}
	if t.headerSplitRe, err = compile("header_split", t.Patterns.HeaderSplit); err != nil {
		return nil, err
	}
	if t.nameUnitRe, err = compile("name_unit", t.Patterns.NameUnit); err != nil {
		return nil, err
	}

	t.ignore = make(map[string]bool, len(t.Ignore))
	for _, k := range t.Ignore {
		t.ignore[NormalizeKey(k)] = true
	}
	if len(t.Headers) == 0 {
		return nil, fmt.Errorf("field tables: headers are required")
	}
	for k, v := range t.Headers {
		if _, ok := sectionByName[v]; !ok {
			return nil, fmt.Errorf("field tables: header %q maps to unknown section %q", k, v)
		}
	}
	return &t, nil
}

// header returns the section a normalized key opens.
func (t *FieldTables) header(key string) (sectionKind, bool) {
	name, ok := t.Headers[key]
	if !ok {
		return 0, false
	}
	kind, ok := sectionByName[name]
	return kind, ok
}

// ignored reports whether a value-less line is a template label. Labels match
// on a word boundary so "template_version_3.0" is covered by "template_version".
func (t *FieldTables) ignored(key string) bool {
	if t.ignore[key] {
		return true
	}
	for label := range t.ignore {
		if strings.HasPrefix(key, label) && !isWordByte(key[len(label)]) {
			return true
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// IsEndMarker reports whether the line closes a section.
func (t *FieldTables) IsEndMarker(line string) bool { return t.endMarkerRe.MatchString(line) }

// IsVariableLine reports whether the raw line is a "##" variable definition.
func (t *FieldTables) IsVariableLine(raw string) bool { return t.variableRe.MatchString(raw) }

// ExtractDOI pulls a bare DOI out of a value such as "https://doi.org/10.1029/x".
// The trimmed value is returned unchanged when no DOI is found.
func (t *FieldTables) ExtractDOI(value string) string {
	if m := t.doiRe.FindString(value); m != "" {
		return m
	}
	return strings.TrimSpace(value)
}

// SplitHeader splits a chronology header line on tabs or pipes, falling back to
// whitespace when neither delimiter is present.
func (t *FieldTables) SplitHeader(line string) []string {
	var out []string
	for _, f := range t.headerSplitRe.Split(strings.TrimSpace(line), -1) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) <= 1 {
		return strings.Fields(line)
	}
	return out
}

// SplitNameUnit decomposes "age (yr BP)" into ("age", "yr BP").
func (t *FieldTables) SplitNameUnit(token string) (name, unit string) {
	if m := t.nameUnitRe.FindStringSubmatch(token); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return strings.TrimSpace(token), ""
}

// NormalizeUnit maps a unit synonym to its canonical spelling.
func (t *FieldTables) NormalizeUnit(unit string) string {
	if u, ok := t.Units[NormalizeKey(unit)]; ok {
		return u
	}
	return strings.TrimSpace(unit)
}

// PublicationField maps a normalized publication key to its document field name.
func (t *FieldTables) PublicationField(key, original string) string {
	if f, ok := t.Publication[key]; ok {
		return f
	}
	return CamelCase(original)
}

// IsBoilerplate reports whether a variable line is template boilerplate.
func (t *FieldTables) IsBoilerplate(body string) bool {
	lower := strings.ToLower(body)
	for _, p := range t.VariableBoilerplate {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func in(list []string, key string) bool {
	for _, k := range list {
		if k == key {
			return true
		}
	}
	return false
}
