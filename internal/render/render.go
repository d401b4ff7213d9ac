package render

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	tmgeo "github.com/civic-data-lab/tractmap/internal/geo"
)

// TractShape is one region of the choropleth: a planar multipolygon plus the
// value it is shaded by. A nil value renders in the no-data fill.
type TractShape struct {
	GeoID string
	Value *float64
	Geom  *geom.MultiPolygon
}

// PointMark is one overlay point, in the same planar CRS as the tracts.
type PointMark struct {
	ID   string
	Geom *geom.Point
}

// Spec describes the map to draw.
type Spec struct {
	Variable string
	Classes  int
	Palette  string
	WidthIn  float64
	HeightIn float64
	Formats  []string // svg, png
	Title    string   // empty derives one from the variable
}

// Render draws the choropleth with the point overlay and writes one file per
// requested format into outDir, returning the written paths. Inputs must be
// in a planar CRS: geographic coordinates would shear the map and are
// rejected rather than drawn.
func Render(tracts []TractShape, points []PointMark, spec Spec, outDir string) ([]string, error) {
	if len(tracts) == 0 {
		return nil, eris.New("render: no tract shapes")
	}
	if len(spec.Formats) == 0 {
		return nil, eris.New("render: no output formats")
	}
	if err := checkPlanar(tracts, points); err != nil {
		return nil, err
	}

	classColors, err := Colors(spec.Palette, spec.Classes)
	if err != nil {
		return nil, err
	}

	var values []float64
	for _, t := range tracts {
		if t.Value != nil {
			values = append(values, *t.Value)
		}
	}
	if len(values) == 0 {
		return nil, eris.Errorf("render: variable %s has no values to map", spec.Variable)
	}

	breaks, err := QuantileBreaks(values, spec.Classes)
	if err != nil {
		return nil, err
	}

	p := plot.New()
	title := spec.Title
	if title == "" {
		title = fmt.Sprintf("%s by census tract", spec.Variable)
	}
	p.Title.Text = title
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.HideAxes()

	noData := 0
	for _, t := range tracts {
		class := Classify(t.Value, breaks)
		fill := color.Color(noDataColor)
		if class == NoDataClass {
			noData++
		} else {
			fill = classColors[class]
		}

		polys, err := shapePolygons(t.Geom)
		if err != nil {
			return nil, eris.Wrapf(err, "render: tract %s", t.GeoID)
		}
		for _, poly := range polys {
			poly.Color = fill
			poly.LineStyle.Color = outlineColor
			poly.LineStyle.Width = vg.Points(0.5)
			p.Add(poly)
		}
	}

	if len(points) > 0 {
		xys := make(plotter.XYs, len(points))
		for i, m := range points {
			xys[i].X = m.Geom.X()
			xys[i].Y = m.Geom.Y()
		}
		scatter, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, eris.Wrap(err, "render: point overlay")
		}
		scatter.GlyphStyle.Color = pointColor
		scatter.GlyphStyle.Radius = vg.Points(2.5)
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(scatter)
		p.Legend.Add("incidents", scatter)
	}

	if err := addLegend(p, breaks, classColors, noData > 0); err != nil {
		return nil, err
	}

	zap.L().Info("rendering choropleth",
		zap.String("variable", spec.Variable),
		zap.Int("tracts", len(tracts)),
		zap.Int("no_data", noData),
		zap.Int("points", len(points)),
		zap.Int("classes", spec.Classes),
		zap.Strings("formats", spec.Formats),
	)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "render: create output dir")
	}

	paths := make([]string, 0, len(spec.Formats))
	for _, format := range spec.Formats {
		path := filepath.Join(outDir, fmt.Sprintf("map_%s.%s", spec.Variable, format))
		w := vg.Length(spec.WidthIn) * vg.Inch
		h := vg.Length(spec.HeightIn) * vg.Inch
		if err := p.Save(w, h, path); err != nil {
			return nil, eris.Wrapf(err, "render: save %s", path)
		}
		paths = append(paths, path)
	}

	return paths, nil
}

// checkPlanar rejects geometries the plotter cannot draw faithfully.
func checkPlanar(tracts []TractShape, points []PointMark) error {
	check := func(kind, key string, srid int) error {
		switch srid {
		case 0:
			return eris.Errorf("render: %s %s has no declared CRS (SRID 0)", kind, key)
		case tmgeo.SRIDGeographic:
			return eris.Errorf("render: %s %s is in geographic coordinates; reproject to a planar CRS first", kind, key)
		}
		return nil
	}

	for _, t := range tracts {
		if t.Geom == nil {
			return eris.Errorf("render: tract %s has no geometry", t.GeoID)
		}
		if err := check("tract", t.GeoID, t.Geom.SRID()); err != nil {
			return err
		}
	}
	for _, m := range points {
		if m.Geom == nil {
			return eris.Errorf("render: point %s has no geometry", m.ID)
		}
		if err := check("point", m.ID, m.Geom.SRID()); err != nil {
			return err
		}
	}
	return nil
}

// shapePolygons converts each member polygon, holes included, into a plotter
// polygon. The plotter fills rings even-odd, so holes stay unfilled.
func shapePolygons(mp *geom.MultiPolygon) ([]*plotter.Polygon, error) {
	out := make([]*plotter.Polygon, 0, mp.NumPolygons())
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		rings := make([]plotter.XYer, 0, poly.NumLinearRings())
		for j := 0; j < poly.NumLinearRings(); j++ {
			ring := poly.LinearRing(j)
			flat := ring.FlatCoords()
			stride := ring.Stride()
			xys := make(plotter.XYs, 0, len(flat)/stride)
			for k := 0; k+1 < len(flat); k += stride {
				xys = append(xys, plotter.XY{X: flat[k], Y: flat[k+1]})
			}
			rings = append(rings, xys)
		}
		pp, err := plotter.NewPolygon(rings...)
		if err != nil {
			return nil, err
		}
		out = append(out, pp)
	}
	return out, nil
}

// addLegend adds one swatch per class, darkest first so the legend reads
// top-down from high to low.
func addLegend(p *plot.Plot, breaks []float64, classColors []color.Color, hasNoData bool) error {
	labels := classLabels(breaks)
	for i := len(classColors) - 1; i >= 0; i-- {
		swatch, err := legendSwatch(classColors[i])
		if err != nil {
			return err
		}
		p.Legend.Add(labels[i], swatch)
	}
	if hasNoData {
		swatch, err := legendSwatch(noDataColor)
		if err != nil {
			return err
		}
		p.Legend.Add("no data", swatch)
	}
	p.Legend.Top = true
	return nil
}

// legendSwatch builds a polygon used only as a legend thumbnail.
func legendSwatch(c color.Color) (*plotter.Polygon, error) {
	poly, err := plotter.NewPolygon(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}})
	if err != nil {
		return nil, eris.Wrap(err, "render: legend swatch")
	}
	poly.Color = c
	return poly, nil
}

// classLabels renders the class intervals. The classifier is
// upper-inclusive, so the first class is "<= b0" and the last "> b(k-2)".
func classLabels(breaks []float64) []string {
	printer := message.NewPrinter(language.English)
	format := func(v float64) string {
		switch {
		case v >= 1000 || v <= -1000:
			return printer.Sprintf("%.0f", v)
		case v >= 10 || v <= -10:
			return printer.Sprintf("%.1f", v)
		default:
			return printer.Sprintf("%.2f", v)
		}
	}

	labels := make([]string, len(breaks)+1)
	labels[0] = "<= " + format(breaks[0])
	for i := 1; i < len(breaks); i++ {
		labels[i] = format(breaks[i-1]) + " - " + format(breaks[i])
	}
	labels[len(breaks)] = "> " + format(breaks[len(breaks)-1])
	return labels
}
