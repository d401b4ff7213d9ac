// Package review checks incident coordinates for plausibility against the
// mapped area. Review findings are advisory: rows are flagged, never dropped.
package review

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civic-data-lab/tractmap/internal/encounters"
	"github.com/civic-data-lab/tractmap/internal/tiger"
)

// Bounds is a geographic box in degrees.
type Bounds struct {
	West  float64
	South float64
	East  float64
	North float64
}

// Expand grows the box by margin degrees on every side.
func (b Bounds) Expand(margin float64) Bounds {
	return Bounds{
		West:  b.West - margin,
		South: b.South - margin,
		East:  b.East + margin,
		North: b.North + margin,
	}
}

// Contains reports whether the coordinate lies inside the box, edges
// included.
func (b Bounds) Contains(lon, lat float64) bool {
	return lon >= b.West && lon <= b.East && lat >= b.South && lat <= b.North
}

// distanceOutside is the largest per-axis exceedance in degrees, 0 inside.
func (b Bounds) distanceOutside(lon, lat float64) float64 {
	d := 0.0
	for _, v := range []float64{b.West - lon, lon - b.East, b.South - lat, lat - b.North} {
		if v > d {
			d = v
		}
	}
	return d
}

// CountyBounds returns the bounding box of the tract set.
func CountyBounds(tracts []tiger.Tract) (Bounds, error) {
	if len(tracts) == 0 {
		return Bounds{}, eris.New("review: no tracts to bound")
	}

	first := tracts[0].Geom.Bounds()
	box := Bounds{West: first.Min(0), South: first.Min(1), East: first.Max(0), North: first.Max(1)}
	for _, t := range tracts[1:] {
		b := t.Geom.Bounds()
		if b.Min(0) < box.West {
			box.West = b.Min(0)
		}
		if b.Min(1) < box.South {
			box.South = b.Min(1)
		}
		if b.Max(0) > box.East {
			box.East = b.Max(0)
		}
		if b.Max(1) > box.North {
			box.North = b.Max(1)
		}
	}
	return box, nil
}

// Policy decides which coordinates count as implausible. The margin widens
// the tract-derived box; the source data carries no stated accuracy bound,
// so the margin is configuration rather than a verified constant. An
// explicit BBox overrides the derived box and is used as given, unexpanded.
type Policy struct {
	MarginDeg float64
	BBox      *Bounds
}

// Violation flags one incident whose valid coordinates fall outside the
// plausibility box.
type Violation struct {
	ID          string
	Latitude    float64
	Longitude   float64
	DistanceDeg float64
}

// Check flags incidents outside the plausibility box. Incidents without
// coordinates are not violations; the loader reports those separately.
func (p Policy) Check(incidents []encounters.Incident, base Bounds) []Violation {
	box := base.Expand(p.MarginDeg)
	if p.BBox != nil {
		box = *p.BBox
	}

	log := zap.L().With(zap.String("component", "review"))

	var violations []Violation
	for _, in := range incidents {
		if !in.HasCoordinates() {
			continue
		}
		lon, lat := *in.Longitude, *in.Latitude
		if box.Contains(lon, lat) {
			continue
		}

		v := Violation{
			ID:          in.ID,
			Latitude:    lat,
			Longitude:   lon,
			DistanceDeg: box.distanceOutside(lon, lat),
		}
		violations = append(violations, v)
		log.Warn("incident coordinates outside plausibility bounds",
			zap.String("id", in.ID),
			zap.Float64("latitude", lat),
			zap.Float64("longitude", lon),
			zap.Float64("distance_deg", v.DistanceDeg),
		)
	}

	if len(violations) == 0 {
		log.Info("coordinate review clean", zap.Int("incidents", len(incidents)))
	}
	return violations
}
