// Package geo provides coordinate reprojection and the point-in-polygon join.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Supported coordinate reference systems, identified by EPSG SRID.
const (
	SRIDGeographic  = 4326 // WGS84 longitude/latitude in degrees
	SRIDWebMercator = 3857 // spherical Mercator, meters
	SRIDAlbersCONUS = 5070 // NAD83 CONUS Albers equal-area, meters
)

// Ellipsoid constants. Web Mercator is defined on a sphere of the WGS84
// semi-major radius; EPSG:5070 uses the GRS80 ellipsoid.
const (
	semiMajor  = 6378137.0
	flattening = 1.0 / 298.257222101
)

var (
	ecc2 = flattening * (2 - flattening)
	ecc  = math.Sqrt(ecc2)
)

// EPSG:5070 projection parameters (degrees).
const (
	albersParallel1 = 29.5
	albersParallel2 = 45.5
	albersLatOrigin = 23.0
	albersLonOrigin = -96.0
)

// albers holds the precomputed Albers constants n, C, and rho0
// (Snyder, Map Projections: A Working Manual, eqs. 14-14..14-15a).
var albers = newAlbersCONUS()

type albersConstants struct {
	n    float64
	c    float64
	rho0 float64
}

func newAlbersCONUS() albersConstants {
	phi1 := radians(albersParallel1)
	phi2 := radians(albersParallel2)
	phi0 := radians(albersLatOrigin)

	m1 := albersM(phi1)
	m2 := albersM(phi2)
	q1 := albersQ(phi1)
	q2 := albersQ(phi2)
	q0 := albersQ(phi0)

	n := (m1*m1 - m2*m2) / (q2 - q1)
	c := m1*m1 + n*q1
	rho0 := semiMajor * math.Sqrt(c-n*q0) / n

	return albersConstants{n: n, c: c, rho0: rho0}
}

// albersM is Snyder eq. 14-15: cos(phi) / sqrt(1 - e^2 sin^2 phi).
func albersM(phi float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-ecc2*s*s)
}

// albersQ is Snyder eq. 3-12, the authalic latitude auxiliary.
func albersQ(phi float64) float64 {
	s := math.Sin(phi)
	return (1 - ecc2) * (s/(1-ecc2*s*s) - (1/(2*ecc))*math.Log((1-ecc*s)/(1+ecc*s)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// SupportedSRID reports whether the SRID names a CRS this package can
// transform.
func SupportedSRID(srid int) bool {
	switch srid {
	case SRIDGeographic, SRIDWebMercator, SRIDAlbersCONUS:
		return true
	}
	return false
}

// transform maps one planar or geographic coordinate pair to another CRS.
type transform func(x, y float64) (float64, float64)

func identity(x, y float64) (float64, float64) { return x, y }

func webMercatorForward(lon, lat float64) (float64, float64) {
	x := semiMajor * radians(lon)
	y := semiMajor * math.Log(math.Tan(math.Pi/4+radians(lat)/2))
	return x, y
}

func webMercatorInverse(x, y float64) (float64, float64) {
	lon := degrees(x / semiMajor)
	lat := degrees(2*math.Atan(math.Exp(y/semiMajor)) - math.Pi/2)
	return lon, lat
}

// albersForward is Snyder eqs. 14-1..14-4 for the ellipsoidal Albers case.
func albersForward(lon, lat float64) (float64, float64) {
	q := albersQ(radians(lat))
	rho := semiMajor * math.Sqrt(albers.c-albers.n*q) / albers.n
	theta := albers.n * (radians(lon) - radians(albersLonOrigin))

	x := rho * math.Sin(theta)
	y := albers.rho0 - rho*math.Cos(theta)
	return x, y
}

// albersInverse recovers lon/lat by Snyder eqs. 14-10..14-11 and the
// fixed-point iteration of eq. 3-16 for the latitude.
func albersInverse(x, y float64) (float64, float64) {
	rho := math.Hypot(x, albers.rho0-y)
	theta := math.Atan2(x, albers.rho0-y)

	q := (albers.c - rho*rho*albers.n*albers.n/(semiMajor*semiMajor)) / albers.n

	// Spherical first guess, clamped against rounding at the poles.
	sinGuess := q / 2
	if sinGuess > 1 {
		sinGuess = 1
	} else if sinGuess < -1 {
		sinGuess = -1
	}
	phi := math.Asin(sinGuess)

	for i := 0; i < 16; i++ {
		s := math.Sin(phi)
		den := 1 - ecc2*s*s
		next := phi + den*den/(2*math.Cos(phi))*
			(q/(1-ecc2)-s/den+(1/(2*ecc))*math.Log((1-ecc*s)/(1+ecc*s)))
		if math.Abs(next-phi) < 1e-13 {
			phi = next
			break
		}
		phi = next
	}

	lon := degrees(radians(albersLonOrigin) + theta/albers.n)
	lat := degrees(phi)
	return lon, lat
}

// toGeographic returns the transform from srid into EPSG:4326.
func toGeographic(srid int) transform {
	switch srid {
	case SRIDWebMercator:
		return webMercatorInverse
	case SRIDAlbersCONUS:
		return albersInverse
	default:
		return identity
	}
}

// fromGeographic returns the transform from EPSG:4326 into srid.
func fromGeographic(srid int) transform {
	switch srid {
	case SRIDWebMercator:
		return webMercatorForward
	case SRIDAlbersCONUS:
		return albersForward
	default:
		return identity
	}
}

// transformBetween routes any supported pair through EPSG:4326.
func transformBetween(src, dst int) transform {
	if src == dst {
		return identity
	}
	toGeo := toGeographic(src)
	fromGeo := fromGeographic(dst)
	return func(x, y float64) (float64, float64) {
		lon, lat := toGeo(x, y)
		return fromGeo(lon, lat)
	}
}

// Reproject returns a copy of g with its coordinates expressed in the target
// CRS. The source CRS is taken from the geometry's SRID; a geometry without a
// declared SRID cannot be reprojected. Reprojecting into the geometry's own
// CRS returns an unchanged copy.
func Reproject(g geom.T, targetSRID int) (geom.T, error) {
	if g == nil {
		return nil, eris.New("geo: nil geometry")
	}

	src := g.SRID()
	if src == 0 {
		return nil, eris.New("geo: geometry has no declared CRS (SRID 0)")
	}
	if !SupportedSRID(src) {
		return nil, eris.Errorf("geo: unsupported source SRID %d", src)
	}
	if !SupportedSRID(targetSRID) {
		return nil, eris.Errorf("geo: unsupported target SRID %d", targetSRID)
	}

	tf := transformBetween(src, targetSRID)
	layout := g.Layout()
	flat := transformFlat(g.FlatCoords(), layout.Stride(), tf)

	switch t := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(layout, flat).SetSRID(targetSRID), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(layout, flat).SetSRID(targetSRID), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(layout, flat).SetSRID(targetSRID), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(layout, flat, copyInts(t.Ends())).SetSRID(targetSRID), nil
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(layout, flat, copyIntSlices(t.Endss())).SetSRID(targetSRID), nil
	default:
		return nil, eris.Errorf("geo: unsupported geometry type %T", g)
	}
}

// ReprojectPoint is Reproject specialized to points.
func ReprojectPoint(p *geom.Point, targetSRID int) (*geom.Point, error) {
	g, err := Reproject(p, targetSRID)
	if err != nil {
		return nil, err
	}
	return g.(*geom.Point), nil
}

// ReprojectMultiPolygon is Reproject specialized to multipolygons.
func ReprojectMultiPolygon(mp *geom.MultiPolygon, targetSRID int) (*geom.MultiPolygon, error) {
	g, err := Reproject(mp, targetSRID)
	if err != nil {
		return nil, err
	}
	return g.(*geom.MultiPolygon), nil
}

// transformFlat applies tf to the X/Y of every coordinate, carrying any
// additional dimensions through untouched.
func transformFlat(flat []float64, stride int, tf transform) []float64 {
	out := make([]float64, len(flat))
	copy(out, flat)
	for i := 0; i+1 < len(out); i += stride {
		out[i], out[i+1] = tf(out[i], out[i+1])
	}
	return out
}

func copyInts(v []int) []int {
	out := make([]int, len(v))
	copy(out, v)
	return out
}

func copyIntSlices(v [][]int) [][]int {
	out := make([][]int, len(v))
	for i := range v {
		out[i] = copyInts(v[i])
	}
	return out
}
