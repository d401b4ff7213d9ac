package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"

	"github.com/civic-data-lab/tractmap/internal/acs"
	"github.com/civic-data-lab/tractmap/internal/export"
	"github.com/civic-data-lab/tractmap/internal/geo"
	"github.com/civic-data-lab/tractmap/internal/render"
	"github.com/civic-data-lab/tractmap/internal/tiger"
)

var (
	renderCSV      string
	renderVariable string
	renderOutDir   string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Re-render the map from an exported enriched CSV",
	Long: `Draws the choropleth from a previously exported enriched CSV and the cached
tract shapefile, without refetching the sheet or the Census API.

The CSV carries attribute values only for tracts that contained incidents;
tracts without any incidents render in the no-data fill.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if renderVariable != "" {
			cfg.Render.Variable = renderVariable
		}
		if renderOutDir != "" {
			cfg.Output.Dir = renderOutDir
		}
		if err := cfg.Validate("render"); err != nil {
			return err
		}

		csvPath := renderCSV
		if csvPath == "" {
			csvPath = filepath.Join(cfg.Output.Dir, cfg.Output.CSV)
		}

		cat, err := acs.LoadCatalog(cfg.Census.VariablesFile)
		if err != nil {
			return err
		}
		if !catalogHas(cat, cfg.Render.Variable) {
			return eris.Errorf("render variable %q is not in the variable catalog", cfg.Render.Variable)
		}

		rows, err := export.ReadIncidentsCSV(csvPath, cat.Variables)
		if err != nil {
			return err
		}

		tracts, err := loadCountyTracts(ctx)
		if err != nil {
			return err
		}

		shapes, points, err := layersFromRows(tracts, rows, cfg.Render.Variable)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return eris.Wrapf(err, "create output dir %s", cfg.Output.Dir)
		}

		paths, err := render.Render(shapes, points, render.Spec{
			Variable: cfg.Render.Variable,
			Classes:  cfg.Render.Classes,
			Palette:  cfg.Render.Palette,
			WidthIn:  cfg.Render.WidthIn,
			HeightIn: cfg.Render.HeightIn,
			Formats:  cfg.Render.Formats,
			Title:    cfg.Render.Title,
		}, cfg.Output.Dir)
		if err != nil {
			return err
		}

		for _, p := range paths {
			fmt.Printf("wrote %s\n", p)
		}
		return nil
	},
}

// layersFromRows rebuilds the planar render layers from exported rows. The
// first row matched to a tract supplies that tract's value; points come
// from every matched row with coordinates.
func layersFromRows(tracts []tiger.Tract, rows []export.Row, variable string) ([]render.TractShape, []render.PointMark, error) {
	values := make(map[string]*float64)
	for _, r := range rows {
		if r.TractGeoID == "" || r.Region == nil {
			continue
		}
		if v := r.Region.Estimates[variable]; v != nil && values[r.TractGeoID] == nil {
			values[r.TractGeoID] = v
		}
	}

	shapes := make([]render.TractShape, 0, len(tracts))
	for _, t := range tracts {
		g, err := geo.ReprojectMultiPolygon(t.Geom, geo.SRIDAlbersCONUS)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "reproject tract %s", t.GeoID)
		}
		shapes = append(shapes, render.TractShape{GeoID: t.GeoID, Value: values[t.GeoID], Geom: g})
	}

	var points []render.PointMark
	for _, r := range rows {
		if r.TractGeoID == "" || !r.Incident.HasCoordinates() {
			continue
		}
		p := geom.NewPointFlat(geom.XY, []float64{*r.Incident.Longitude, *r.Incident.Latitude}).SetSRID(geo.SRIDGeographic)
		pp, err := geo.ReprojectPoint(p, geo.SRIDAlbersCONUS)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "reproject incident %s", r.Incident.ID)
		}
		points = append(points, render.PointMark{ID: r.Incident.ID, Geom: pp})
	}

	return shapes, points, nil
}

func catalogHas(cat *acs.Catalog, name string) bool {
	for _, v := range cat.Variables {
		if v.Name == name {
			return true
		}
	}
	return false
}

func init() {
	renderCmd.Flags().StringVar(&renderCSV, "csv", "", "enriched CSV to render from (default <output.dir>/<output.csv>)")
	renderCmd.Flags().StringVar(&renderVariable, "variable", "", "variable to shade by (overrides render.variable)")
	renderCmd.Flags().StringVar(&renderOutDir, "out-dir", "", "output directory (overrides output.dir)")
	rootCmd.AddCommand(renderCmd)
}
