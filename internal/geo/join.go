package geo

import (
	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"
)

// Point is one join input: a keyed point geometry.
type Point struct {
	Key  string
	Geom *geom.Point
}

// Region is one keyed polygon the join tests points against.
type Region struct {
	Key  string
	Geom *geom.MultiPolygon
}

// Match pairs a point with the region strictly containing it. Matched is
// false when no region contains the point; the point still gets a Match so
// the join stays left-outer.
type Match struct {
	PointKey  string
	RegionKey string
	Matched   bool
}

// preparedRegion caches the containment geometry and the bounding box used
// to prefilter candidates.
type preparedRegion struct {
	key    string
	bounds *geom.Bounds
	geom   sf.Geometry
}

// Join tests every point against the regions and returns one Match per
// point, in input order. Containment is strict interior containment: a point
// exactly on a shared boundary matches neither side. Every geometry must
// declare the same SRID; mixing systems or leaving the SRID unset is an
// error, not a silent miss. When several regions contain a point (possible
// only with overlapping inputs) the first containing region in slice order
// wins.
func Join(points []Point, regions []Region) ([]Match, error) {
	if err := checkSharedSRID(points, regions); err != nil {
		return nil, err
	}

	prepared := make([]preparedRegion, 0, len(regions))
	for _, r := range regions {
		g, err := toSimpleFeatures(r.Geom)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: prepare region %s", r.Key)
		}
		prepared = append(prepared, preparedRegion{
			key:    r.Key,
			bounds: r.Geom.Bounds(),
			geom:   g,
		})
	}

	matches := make([]Match, 0, len(points))
	matched := 0

	for _, p := range points {
		pt, err := toSimpleFeatures(p.Geom)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: prepare point %s", p.Key)
		}
		coord := geom.Coord{p.Geom.X(), p.Geom.Y()}

		m := Match{PointKey: p.Key}
		for _, reg := range prepared {
			if !reg.bounds.OverlapsPoint(geom.XY, coord) {
				continue
			}
			ok, err := sf.Contains(reg.geom, pt)
			if err != nil {
				return nil, eris.Wrapf(err, "geo: containment test, point %s region %s", p.Key, reg.key)
			}
			if ok {
				m.RegionKey = reg.key
				m.Matched = true
				matched++
				break
			}
		}
		matches = append(matches, m)
	}

	zap.L().Info("spatial join complete",
		zap.Int("points", len(points)),
		zap.Int("regions", len(regions)),
		zap.Int("matched", matched),
		zap.Int("unmatched", len(points)-matched),
	)

	return matches, nil
}

// checkSharedSRID enforces that every join input declares the same CRS.
func checkSharedSRID(points []Point, regions []Region) error {
	want := 0

	for _, p := range points {
		if p.Geom == nil {
			return eris.Errorf("geo: point %s has no geometry", p.Key)
		}
		srid := p.Geom.SRID()
		if srid == 0 {
			return eris.Errorf("geo: point %s has no declared CRS (SRID 0)", p.Key)
		}
		if want == 0 {
			want = srid
		} else if srid != want {
			return eris.Errorf("geo: CRS mismatch: point %s has SRID %d, expected %d", p.Key, srid, want)
		}
	}

	for _, r := range regions {
		if r.Geom == nil {
			return eris.Errorf("geo: region %s has no geometry", r.Key)
		}
		srid := r.Geom.SRID()
		if srid == 0 {
			return eris.Errorf("geo: region %s has no declared CRS (SRID 0)", r.Key)
		}
		if want == 0 {
			want = srid
		} else if srid != want {
			return eris.Errorf("geo: CRS mismatch: region %s has SRID %d, expected %d", r.Key, srid, want)
		}
	}

	return nil
}

// toSimpleFeatures bridges a go-geom geometry into the containment library
// through WKB.
func toSimpleFeatures(g geom.T) (sf.Geometry, error) {
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "geo: encode WKB")
	}
	out, err := sf.UnmarshalWKB(data)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "geo: decode WKB")
	}
	return out, nil
}
