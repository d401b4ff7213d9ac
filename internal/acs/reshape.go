package acs

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// WideRow is one region with an (estimate, moe) pair per requested variable,
// keyed by the variable's short name. Tract, County, and State come from the
// composite name when the configured pattern matches; otherwise they stay
// empty and Name keeps the raw value.
type WideRow struct {
	GeoID     string
	Name      string
	Tract     string
	County    string
	State     string
	Estimates map[string]*float64
	MOEs      map[string]*float64
}

// Reshape pivots per-variable long rows into one wide row per region, in
// first-seen order. Every cataloged variable must appear in the long table;
// a missing code means the variable mapping does not match the source and
// fails the reshape.
func Reshape(rows []LongRow, cat *Catalog) ([]WideRow, error) {
	if err := cat.Validate(); err != nil {
		return nil, err
	}

	nameByCode := make(map[string]string, len(cat.Variables))
	for _, v := range cat.Variables {
		nameByCode[v.Code] = v.Name
	}

	present := make(map[string]bool)
	for _, r := range rows {
		present[r.Code] = true
	}
	for _, v := range cat.Variables {
		if !present[v.Code] {
			return nil, eris.Errorf("acs: variable %s (%s) absent from response", v.Code, v.Name)
		}
	}

	index := make(map[string]int)
	var wide []WideRow
	badNames := 0

	for _, r := range rows {
		short, ok := nameByCode[r.Code]
		if !ok {
			continue
		}

		i, exists := index[r.GeoID]
		if !exists {
			w := WideRow{
				GeoID:     r.GeoID,
				Name:      r.Name,
				Estimates: make(map[string]*float64, len(cat.Variables)),
				MOEs:      make(map[string]*float64, len(cat.Variables)),
			}
			if f, ok := cat.NamePattern.Parse(r.Name); ok {
				w.Tract, w.County, w.State = f.Tract, f.County, f.State
			} else {
				badNames++
			}

			i = len(wide)
			index[r.GeoID] = i
			wide = append(wide, w)
		}

		wide[i].Estimates[short] = r.Estimate
		wide[i].MOEs[short] = r.MOE
	}

	if badNames > 0 {
		zap.L().Warn("region names did not match the configured pattern",
			zap.Int("count", badNames),
			zap.String("separator", cat.NamePattern.Separator),
		)
	}

	return wide, nil
}
