package export

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/civic-data-lab/tractmap/internal/acs"
)

// TractFeature is one tract for the polygon layer: geometry plus whatever
// attributes merged onto it. Attrs may be nil.
type TractFeature struct {
	GeoID string
	Name  string
	Geom  *geom.MultiPolygon
	Attrs *acs.WideRow
}

// WriteIncidentsGeoJSON writes rows with coordinates as a point
// FeatureCollection in geographic coordinates. Rows without coordinates
// cannot carry a geometry; they stay visible in the CSV only.
func WriteIncidentsGeoJSON(path string, rows []Row, vars []acs.Variable) error {
	fc := &geojson.FeatureCollection{}
	skipped := 0

	for _, r := range rows {
		if !r.Incident.HasCoordinates() {
			skipped++
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID: r.Incident.ID,
			Geometry: geom.NewPointFlat(geom.XY,
				[]float64{*r.Incident.Longitude, *r.Incident.Latitude}).SetSRID(4326),
			Properties: incidentProperties(r, vars),
		})
	}

	if skipped > 0 {
		zap.L().Debug("incidents without coordinates left out of GeoJSON",
			zap.Int("count", skipped),
		)
	}
	return writeJSON(path, fc, len(fc.Features))
}

// WriteTractsGeoJSON writes the tract polygons with their merged attributes.
func WriteTractsGeoJSON(path string, tracts []TractFeature, vars []acs.Variable) error {
	fc := &geojson.FeatureCollection{}
	for _, t := range tracts {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         t.GeoID,
			Geometry:   t.Geom,
			Properties: tractProperties(t, vars),
		})
	}
	return writeJSON(path, fc, len(fc.Features))
}

func incidentProperties(r Row, vars []acs.Variable) map[string]interface{} {
	in := r.Incident
	props := map[string]interface{}{
		"id":          in.ID,
		"name":        in.Name,
		"age":         in.Age,
		"gender":      in.Gender,
		"race":        in.Race,
		"date":        formatDate(in.Date),
		"address":     in.Address,
		"city":        in.City,
		"county":      in.County,
		"state":       in.State,
		"zip":         in.Zip,
		"agency":      in.Agency,
		"cause":       in.Cause,
		"description": in.Description,
		"article_url": in.ArticleURL,
		"tract_geoid": r.TractGeoID,
		"tract_name":  r.TractName,
	}
	for _, v := range vars {
		var est, moe *float64
		if r.Region != nil {
			est = r.Region.Estimates[v.Name]
			moe = r.Region.MOEs[v.Name]
		}
		props[v.Name+"_est"] = est
		props[v.Name+"_moe"] = moe
	}
	return props
}

func tractProperties(t TractFeature, vars []acs.Variable) map[string]interface{} {
	props := map[string]interface{}{
		"geoid": t.GeoID,
		"name":  t.Name,
	}
	for _, v := range vars {
		var est, moe *float64
		if t.Attrs != nil {
			est = t.Attrs.Estimates[v.Name]
			moe = t.Attrs.MOEs[v.Name]
		}
		props[v.Name+"_est"] = est
		props[v.Name+"_moe"] = moe
	}
	return props
}

func writeJSON(path string, fc *geojson.FeatureCollection, features int) error {
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "export: encode %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}

	zap.L().Info("wrote GeoJSON",
		zap.String("path", path),
		zap.Int("features", features),
	)
	return nil
}
