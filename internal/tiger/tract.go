package tiger

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// Tract is one census tract with the TIGER attributes the pipeline uses.
type Tract struct {
	GeoID    string
	StateFP  string
	CountyFP string
	TractCE  string
	Name     string // NAMELSAD, e.g. "Census Tract 63.81"
	ALand    int64
	AWater   int64
	Geom     *geom.MultiPolygon // SRID 4326
}

// ParseTracts reads a TRACT shapefile into tracts. Records with missing
// GEOIDs or nil/malformed geometry are skipped and counted.
func ParseTracts(shpPath string) ([]Tract, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	attr := func(col string) string {
		idx, ok := fieldIdx[col]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	var tracts []Tract
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}

		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		t := Tract{
			GeoID:    attr("geoid"),
			StateFP:  attr("statefp"),
			CountyFP: attr("countyfp"),
			TractCE:  attr("tractce"),
			Name:     attr("namelsad"),
			ALand:    parseArea(attr("aland")),
			AWater:   parseArea(attr("awater")),
			Geom:     mp,
		}
		if t.GeoID == "" {
			skipped++
			continue
		}

		tracts = append(tracts, t)
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	if len(tracts) == 0 {
		return nil, eris.Errorf("tiger: no tract records in %s", shpPath)
	}

	return tracts, nil
}

// FilterCounty keeps tracts whose COUNTYFP matches the 3-digit county code.
func FilterCounty(tracts []Tract, countyFIPS string) []Tract {
	var out []Tract
	for _, t := range tracts {
		if t.CountyFP == countyFIPS {
			out = append(out, t)
		}
	}
	return out
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon
// with SRID 4326. Shapefile rings are clockwise for outer boundaries and
// counter-clockwise for holes; holes attach to the preceding outer ring.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	var cur *geom.Polygon

	closeCurrent := func() {
		if cur == nil {
			return
		}
		if err := mp.Push(cur); err != nil {
			zap.L().Debug("tiger: skipping malformed polygon part", zap.Error(err))
		}
		cur = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		// A closed ring needs at least 4 points.
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(flat) <= 0 || cur == nil {
			closeCurrent()
			cur = geom.NewPolygon(geom.XY)
		}
		if err := cur.Push(ring); err != nil {
			zap.L().Debug("tiger: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}
	closeCurrent()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is the shoelace sum over a flat XY ring; negative means
// clockwise, the shapefile convention for outer rings.
func signedArea(flat []float64) float64 {
	n := len(flat) / 2
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum / 2
}

func parseArea(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
