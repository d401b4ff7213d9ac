package acs

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Variable maps a Census variable code to the short column name it carries
// in the wide table and the export.
type Variable struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// Catalog is the requested variable set plus the pattern for decomposing
// composite region names.
type Catalog struct {
	Variables   []Variable  `yaml:"variables"`
	NamePattern NamePattern `yaml:"name_pattern"`
}

// DefaultCatalog covers the variables the standard run maps.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Variables: []Variable{
			{Code: "B01003_001", Name: "total_pop"},
			{Code: "B19013_001", Name: "med_hh_income"},
			{Code: "B17001_002", Name: "pov_below"},
		},
		NamePattern: DefaultTractPattern(),
	}
}

// LoadCatalog reads a variable catalog from a YAML file. A missing file is
// not an error; the defaults apply.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			zap.L().Debug("variables file not found, using defaults", zap.String("path", path))
			return DefaultCatalog(), nil
		}
		return nil, eris.Wrapf(err, "acs: read variables file %s", path)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrapf(err, "acs: parse variables file %s", path)
	}

	if len(cat.Variables) == 0 {
		cat.Variables = DefaultCatalog().Variables
	}
	if cat.NamePattern.Separator == "" && len(cat.NamePattern.Order) == 0 {
		cat.NamePattern = DefaultTractPattern()
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}

	return &cat, nil
}

// Validate rejects catalogs the reshaper cannot use: every variable needs a
// code and a short name, and both codes and short names must be unique.
func (c *Catalog) Validate() error {
	var problems []string

	codes := make(map[string]bool, len(c.Variables))
	names := make(map[string]bool, len(c.Variables))
	for i, v := range c.Variables {
		if v.Code == "" {
			problems = append(problems, fmt.Sprintf("variable %d has no code", i))
		}
		if v.Name == "" {
			problems = append(problems, fmt.Sprintf("variable %d (%s) has no short name", i, v.Code))
		}
		if v.Code != "" && codes[v.Code] {
			problems = append(problems, fmt.Sprintf("duplicate code %s", v.Code))
		}
		if v.Name != "" && names[v.Name] {
			problems = append(problems, fmt.Sprintf("duplicate short name %s", v.Name))
		}
		codes[v.Code] = true
		names[v.Name] = true
	}

	if err := c.NamePattern.validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return eris.New("acs: invalid variable catalog: " + strings.Join(problems, "; "))
	}
	return nil
}
