// Package pipeline wires the full run: the incident sheet, ACS attributes,
// TIGER tract geometry, the spatial join, the exports, the coordinate
// review, and the map.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/civic-data-lab/tractmap/internal/acs"
	"github.com/civic-data-lab/tractmap/internal/config"
	"github.com/civic-data-lab/tractmap/internal/encounters"
	"github.com/civic-data-lab/tractmap/internal/export"
	"github.com/civic-data-lab/tractmap/internal/fetcher"
	"github.com/civic-data-lab/tractmap/internal/geo"
	"github.com/civic-data-lab/tractmap/internal/render"
	"github.com/civic-data-lab/tractmap/internal/review"
	"github.com/civic-data-lab/tractmap/internal/tiger"
	"github.com/civic-data-lab/tractmap/pkg/gsheet"
)

// Runner executes one run end to end. The enriched CSV is persisted before
// any rendering is attempted, so a plotting failure never costs the data.
type Runner struct {
	cfg       *config.Config
	fetch     fetcher.Fetcher
	ftp       *fetcher.FTPFetcher
	sheet     *gsheet.Client
	acs       *acs.Client
	stateFIPS string

	// SkipRender stops after the exports and the coordinate review.
	SkipRender bool
}

// Result points at what the run produced.
type Result struct {
	Manifest *export.Manifest
	OutDir   string
}

// NewRunner wires a Runner from configuration.
func NewRunner(cfg *config.Config) (*Runner, error) {
	stateFIPS, ok := tiger.StateFIPS(cfg.Census.State)
	if !ok {
		return nil, eris.Errorf("pipeline: unknown state abbreviation %q", cfg.Census.State)
	}

	timeout := time.Duration(cfg.HTTP.TimeoutSecs) * time.Second
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      timeout,
		MaxRetries:   cfg.HTTP.MaxRetries,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})

	var sheetOpts []gsheet.Option
	if cfg.Sheet.BaseURL != "" {
		sheetOpts = append(sheetOpts, gsheet.WithBaseURL(cfg.Sheet.BaseURL))
	}

	return &Runner{
		cfg:   cfg,
		fetch: httpFetcher,
		ftp:   fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout}),
		sheet: gsheet.NewClient(cfg.Sheet.DocID, httpFetcher, sheetOpts...),
		acs: acs.NewClient(httpFetcher, acs.Options{
			BaseURL:    cfg.Census.BaseURL,
			Dataset:    cfg.Census.Dataset,
			Year:       cfg.Census.Year,
			APIKey:     cfg.Census.APIKey,
			StateFIPS:  stateFIPS,
			CountyFIPS: cfg.Census.CountyFIPS,
		}),
		stateFIPS: stateFIPS,
	}, nil
}

// Run executes every stage in order. A render failure is recorded in the
// manifest and then returned; earlier failures abort before any artifact
// claims to exist.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"))

	// The catalog decides the fetch set, the export columns, and whether
	// the render variable even exists. Resolve it before any network work.
	cat, err := acs.LoadCatalog(r.cfg.Census.VariablesFile)
	if err != nil {
		return nil, err
	}
	if !r.SkipRender && !hasVariable(cat, r.cfg.Render.Variable) {
		return nil, eris.Errorf("pipeline: render variable %q is not in the variable catalog", r.cfg.Render.Variable)
	}

	manifest := export.NewManifest()
	manifest.Params = export.Params{
		SheetDocID: r.cfg.Sheet.DocID,
		State:      r.cfg.Census.State,
		CountyFIPS: r.cfg.Census.CountyFIPS,
		Year:       r.cfg.Census.Year,
		Dataset:    r.cfg.Census.Dataset,
		Variables:  variableNames(cat),
	}
	if !r.SkipRender {
		manifest.Params.RenderVariable = r.cfg.Render.Variable
	}

	outDir := r.cfg.Output.Dir
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create output dir %s", outDir)
	}

	log.Info("run started",
		zap.String("run_id", manifest.RunID),
		zap.String("state", r.cfg.Census.State),
		zap.String("county_fips", r.cfg.Census.CountyFIPS),
		zap.Int("year", r.cfg.Census.Year),
	)

	// Incidents.
	incidents, coords, err := encounters.Load(ctx, r.sheet, encounters.LoadOptions{
		Tab:      r.cfg.Sheet.Tab,
		SkipRows: r.cfg.Sheet.SkipRows,
		State:    r.cfg.Sheet.State,
		County:   r.cfg.Sheet.CountyName,
	})
	if err != nil {
		return nil, err
	}
	manifest.Counts.Incidents = len(incidents)
	manifest.Coordinates = export.Coordinates{
		WithCoords:  coords.WithCoords,
		Missing:     coords.MissingCoords,
		MissingIDs:  coords.MissingIDs,
		FilteredOut: coords.FilteredOut,
	}

	// ACS attributes, one variable at a time, then pivoted wide.
	long, err := r.acs.FetchVariables(ctx, cat.Variables)
	if err != nil {
		return nil, err
	}
	wide, err := acs.Reshape(long, cat)
	if err != nil {
		return nil, err
	}

	// Tract geometry for the whole state, filtered to the county.
	shpPath, err := tiger.Fetch(ctx, r.fetch, r.ftp, tiger.FetchOptions{
		Year:        r.cfg.Tiger.Year,
		StateFIPS:   r.stateFIPS,
		CacheDir:    r.cfg.Tiger.CacheDir,
		BaseURL:     r.cfg.Tiger.BaseURL,
		FTPFallback: r.cfg.Tiger.FTPFallback,
		FTPBaseURL:  r.cfg.Tiger.FTPBaseURL,
	})
	if err != nil {
		return nil, err
	}
	tracts, err := tiger.ParseTracts(shpPath)
	if err != nil {
		return nil, err
	}
	tracts = tiger.FilterCounty(tracts, r.cfg.Census.CountyFIPS)
	if len(tracts) == 0 {
		return nil, eris.Errorf("pipeline: no tracts for county %s in state %s",
			r.cfg.Census.CountyFIPS, r.stateFIPS)
	}
	manifest.Counts.Tracts = len(tracts)

	attrs, withAttrs := mergeAttributes(tracts, wide)
	manifest.Counts.TractsWithAttrs = withAttrs
	if withAttrs == 0 {
		log.Warn("no ACS row matched any tract GEOID; every tract will render as no-data")
	}

	// Spatial join over the coordinate-bearing incidents.
	matches, err := joinIncidents(incidents, tracts)
	if err != nil {
		return nil, err
	}
	manifest.Counts.JoinInput = len(matches)
	for _, m := range matches {
		if m.Matched {
			manifest.Counts.Matched++
		} else {
			manifest.Counts.Unmatched++
		}
	}

	rows := buildRows(incidents, matches, tracts, attrs)

	// Exports. The CSV is the primary artifact and must land before the
	// renderer gets a chance to fail.
	csvPath := filepath.Join(outDir, r.cfg.Output.CSV)
	if err := export.WriteIncidentsCSV(csvPath, rows, cat.Variables); err != nil {
		return nil, err
	}
	manifest.Artifacts = append(manifest.Artifacts, csvPath)

	if r.cfg.Output.GeoJSON {
		paths, err := writeGeoJSON(outDir, rows, tracts, attrs, cat.Variables)
		if err != nil {
			return nil, err
		}
		manifest.Artifacts = append(manifest.Artifacts, paths...)
	}

	// Coordinate review. Advisory: violations land in the manifest and the
	// log, and never drop a row.
	if r.cfg.Review.Enabled {
		violations, err := r.reviewCoordinates(incidents, tracts)
		if err != nil {
			return nil, err
		}
		for _, v := range violations {
			manifest.Review = append(manifest.Review, export.ReviewEntry{
				ID:          v.ID,
				Latitude:    v.Latitude,
				Longitude:   v.Longitude,
				DistanceDeg: v.DistanceDeg,
			})
		}
	}

	manifestPath := filepath.Join(outDir, r.cfg.Output.Manifest)

	if !r.SkipRender {
		mapPaths, renderErr := r.renderMap(tracts, attrs, incidents, matches, outDir)
		if renderErr != nil {
			manifest.RenderError = renderErr.Error()
			if werr := export.WriteManifest(manifestPath, manifest); werr != nil {
				log.Warn("manifest write failed after render failure", zap.Error(werr))
			}
			return nil, eris.Wrap(renderErr, "pipeline: render map")
		}
		manifest.Artifacts = append(manifest.Artifacts, mapPaths...)
	}

	if err := export.WriteManifest(manifestPath, manifest); err != nil {
		return nil, err
	}

	log.Info("run complete",
		zap.String("run_id", manifest.RunID),
		zap.Int("incidents", manifest.Counts.Incidents),
		zap.Int("tracts", manifest.Counts.Tracts),
		zap.Int("matched", manifest.Counts.Matched),
		zap.Int("unmatched", manifest.Counts.Unmatched),
		zap.Int("artifacts", len(manifest.Artifacts)),
		zap.Duration("elapsed", time.Since(manifest.StartedAt)),
	)

	return &Result{Manifest: manifest, OutDir: outDir}, nil
}

func hasVariable(cat *acs.Catalog, name string) bool {
	for _, v := range cat.Variables {
		if v.Name == name {
			return true
		}
	}
	return false
}

func variableNames(cat *acs.Catalog) []string {
	names := make([]string, 0, len(cat.Variables))
	for _, v := range cat.Variables {
		names = append(names, v.Name)
	}
	return names
}

// mergeAttributes indexes the wide rows by GEOID and counts how many tracts
// found an attribute row. Tracts without one keep rendering; their cells
// stay empty.
func mergeAttributes(tracts []tiger.Tract, wide []acs.WideRow) (map[string]*acs.WideRow, int) {
	byGeoID := make(map[string]*acs.WideRow, len(wide))
	for i := range wide {
		byGeoID[wide[i].GeoID] = &wide[i]
	}

	attrs := make(map[string]*acs.WideRow, len(tracts))
	matched := 0
	for _, t := range tracts {
		if row, ok := byGeoID[t.GeoID]; ok {
			attrs[t.GeoID] = row
			matched++
		}
	}
	return attrs, matched
}

// joinIncidents runs the strict point-in-tract join over the incidents that
// carry coordinates. The returned matches parallel that subsequence in
// order, keyed by incident ID.
func joinIncidents(incidents []encounters.Incident, tracts []tiger.Tract) ([]geo.Match, error) {
	points := make([]geo.Point, 0, len(incidents))
	for _, in := range incidents {
		if !in.HasCoordinates() {
			continue
		}
		p := geom.NewPointFlat(geom.XY, []float64{*in.Longitude, *in.Latitude}).SetSRID(geo.SRIDGeographic)
		points = append(points, geo.Point{Key: in.ID, Geom: p})
	}

	regions := make([]geo.Region, 0, len(tracts))
	for _, t := range tracts {
		regions = append(regions, geo.Region{Key: t.GeoID, Geom: t.Geom})
	}

	return geo.Join(points, regions)
}

// buildRows pairs every incident with its join result, in sheet order.
// Matches cover only the coordinate-bearing incidents, in the same order
// the join saw them.
func buildRows(incidents []encounters.Incident, matches []geo.Match, tracts []tiger.Tract, attrs map[string]*acs.WideRow) []export.Row {
	nameByGeoID := make(map[string]string, len(tracts))
	for _, t := range tracts {
		nameByGeoID[t.GeoID] = t.Name
	}

	rows := make([]export.Row, 0, len(incidents))
	next := 0
	for _, in := range incidents {
		row := export.Row{Incident: in}
		if in.HasCoordinates() {
			m := matches[next]
			next++
			if m.Matched {
				row.TractGeoID = m.RegionKey
				row.TractName = nameByGeoID[m.RegionKey]
				row.Region = attrs[m.RegionKey]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func writeGeoJSON(outDir string, rows []export.Row, tracts []tiger.Tract, attrs map[string]*acs.WideRow, vars []acs.Variable) ([]string, error) {
	pointsPath := filepath.Join(outDir, "incidents.geojson")
	if err := export.WriteIncidentsGeoJSON(pointsPath, rows, vars); err != nil {
		return nil, err
	}

	features := make([]export.TractFeature, 0, len(tracts))
	for _, t := range tracts {
		features = append(features, export.TractFeature{
			GeoID: t.GeoID,
			Name:  t.Name,
			Geom:  t.Geom,
			Attrs: attrs[t.GeoID],
		})
	}
	tractsPath := filepath.Join(outDir, "tracts.geojson")
	if err := export.WriteTractsGeoJSON(tractsPath, features, vars); err != nil {
		return nil, err
	}

	return []string{pointsPath, tractsPath}, nil
}

func (r *Runner) reviewCoordinates(incidents []encounters.Incident, tracts []tiger.Tract) ([]review.Violation, error) {
	base, err := review.CountyBounds(tracts)
	if err != nil {
		return nil, err
	}

	policy := review.Policy{MarginDeg: r.cfg.Review.MarginDeg}
	if len(r.cfg.Review.BBox) == 4 {
		policy.BBox = &review.Bounds{
			West:  r.cfg.Review.BBox[0],
			South: r.cfg.Review.BBox[1],
			East:  r.cfg.Review.BBox[2],
			North: r.cfg.Review.BBox[3],
		}
	}
	return policy.Check(incidents, base), nil
}

// renderMap reprojects the tracts and the matched incident points to the
// CONUS Albers CRS and draws the choropleth. Only matched points go on the
// map; an unmatched point lies outside every tract and would stretch the
// frame away from the county.
func (r *Runner) renderMap(tracts []tiger.Tract, attrs map[string]*acs.WideRow, incidents []encounters.Incident, matches []geo.Match, outDir string) ([]string, error) {
	shapes := make([]render.TractShape, 0, len(tracts))
	for _, t := range tracts {
		g, err := geo.ReprojectMultiPolygon(t.Geom, geo.SRIDAlbersCONUS)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: reproject tract %s", t.GeoID)
		}
		shape := render.TractShape{GeoID: t.GeoID, Geom: g}
		if row := attrs[t.GeoID]; row != nil {
			shape.Value = row.Estimates[r.cfg.Render.Variable]
		}
		shapes = append(shapes, shape)
	}

	matchedIDs := make(map[string]bool, len(matches))
	for _, m := range matches {
		if m.Matched {
			matchedIDs[m.PointKey] = true
		}
	}

	points := make([]render.PointMark, 0, len(matchedIDs))
	for _, in := range incidents {
		if !in.HasCoordinates() || !matchedIDs[in.ID] {
			continue
		}
		p := geom.NewPointFlat(geom.XY, []float64{*in.Longitude, *in.Latitude}).SetSRID(geo.SRIDGeographic)
		pp, err := geo.ReprojectPoint(p, geo.SRIDAlbersCONUS)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: reproject incident %s", in.ID)
		}
		points = append(points, render.PointMark{ID: in.ID, Geom: pp})
	}

	return render.Render(shapes, points, render.Spec{
		Variable: r.cfg.Render.Variable,
		Classes:  r.cfg.Render.Classes,
		Palette:  r.cfg.Render.Palette,
		WidthIn:  r.cfg.Render.WidthIn,
		HeightIn: r.cfg.Render.HeightIn,
		Formats:  r.cfg.Render.Formats,
		Title:    r.cfg.Render.Title,
	}, outDir)
}
