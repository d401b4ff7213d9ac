package acs

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Field roles a NamePattern may assign.
const (
	FieldTract  = "tract"
	FieldCounty = "county"
	FieldState  = "state"
)

// NamePattern decomposes a composite region name such as
// "Census Tract 63.81, Franklin County, Ohio" into structured fields.
// The layout is specific to one geography level and one response vintage,
// so it loads from the variables file rather than living in code.
type NamePattern struct {
	Separator   string   `yaml:"separator"`
	Order       []string `yaml:"order"`
	TractPrefix string   `yaml:"tract_prefix"`
}

// DefaultTractPattern matches ACS 5-year tract names as returned through
// vintage 2019. Later vintages switched the separator to "; ".
func DefaultTractPattern() NamePattern {
	return NamePattern{
		Separator:   ", ",
		Order:       []string{FieldTract, FieldCounty, FieldState},
		TractPrefix: "Census Tract ",
	}
}

// NameFields is a decomposed region name.
type NameFields struct {
	Tract  string
	County string
	State  string
}

// Parse splits a composite name by the pattern. The second return is false
// when the name does not have the expected number of fields.
func (p NamePattern) Parse(name string) (NameFields, bool) {
	parts := strings.Split(name, p.Separator)
	if len(parts) != len(p.Order) {
		return NameFields{}, false
	}

	var f NameFields
	for i, role := range p.Order {
		val := strings.TrimSpace(parts[i])
		switch role {
		case FieldTract:
			f.Tract = strings.TrimPrefix(val, p.TractPrefix)
		case FieldCounty:
			f.County = strings.TrimSuffix(val, " County")
		case FieldState:
			f.State = val
		}
	}
	return f, true
}

func (p NamePattern) validate() error {
	if p.Separator == "" {
		return eris.New("name pattern has no separator")
	}
	if len(p.Order) == 0 {
		return eris.New("name pattern has no field order")
	}
	seen := make(map[string]bool, len(p.Order))
	for _, role := range p.Order {
		switch role {
		case FieldTract, FieldCounty, FieldState:
		default:
			return eris.Errorf("name pattern has unknown field %q", role)
		}
		if seen[role] {
			return eris.Errorf("name pattern repeats field %q", role)
		}
		seen[role] = true
	}
	return nil
}
