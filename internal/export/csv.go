// Package export writes the run artifacts: the enriched incident CSV, the
// optional GeoJSON layers, and the run manifest.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civic-data-lab/tractmap/internal/acs"
	"github.com/civic-data-lab/tractmap/internal/encounters"
)

// Row is one enriched incident: the incident itself plus the join result.
// TractGeoID is empty when the point matched no tract. Region carries the
// tract's ACS attributes and is nil when the incident is unmatched or the
// matched tract has no attribute row.
type Row struct {
	Incident   encounters.Incident
	TractGeoID string
	TractName  string
	Region     *acs.WideRow
}

const dateLayout = "2006-01-02"

// incidentColumns is the fixed leading column order of the export.
var incidentColumns = []string{
	"id", "name", "age", "gender", "race", "date",
	"address", "city", "county", "state", "zip",
	"agency", "cause", "description", "article_url",
	"latitude", "longitude",
}

// Columns returns the full export header for the given variable set:
// incident fields, then an estimate/margin pair per variable, then the
// tract keys.
func Columns(vars []acs.Variable) []string {
	cols := make([]string, 0, len(incidentColumns)+2*len(vars)+2)
	cols = append(cols, incidentColumns...)
	for _, v := range vars {
		cols = append(cols, v.Name+"_est", v.Name+"_moe")
	}
	return append(cols, "tract_geoid", "tract_name")
}

// WriteIncidentsCSV writes every row, matched or not, in input order.
// Missing coordinates and missing attributes stay as empty cells rather
// than dropping the row.
func WriteIncidentsCSV(path string, rows []Row, vars []acs.Variable) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(Columns(vars)); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, r := range rows {
		if err := w.Write(csvRecord(r, vars)); err != nil {
			return eris.Wrapf(err, "export: write row %s", r.Incident.ID)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "export: flush %s", path)
	}

	zap.L().Info("wrote enriched CSV",
		zap.String("path", path),
		zap.Int("rows", len(rows)),
		zap.Int("variables", len(vars)),
	)
	return nil
}

func csvRecord(r Row, vars []acs.Variable) []string {
	in := r.Incident
	rec := make([]string, 0, len(incidentColumns)+2*len(vars)+2)
	rec = append(rec,
		in.ID, in.Name, in.Age, in.Gender, in.Race, formatDate(in.Date),
		in.Address, in.City, in.County, in.State, in.Zip,
		in.Agency, in.Cause, in.Description, in.ArticleURL,
		formatFloat(in.Latitude), formatFloat(in.Longitude),
	)
	for _, v := range vars {
		var est, moe *float64
		if r.Region != nil {
			est = r.Region.Estimates[v.Name]
			moe = r.Region.MOEs[v.Name]
		}
		rec = append(rec, formatFloat(est), formatFloat(moe))
	}
	return append(rec, r.TractGeoID, r.TractName)
}

// ReadIncidentsCSV loads a previously written export so the render and
// review commands can work from the artifact instead of refetching sources.
func ReadIncidentsCSV(path string, vars []acs.Variable) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "export: read header of %s", path)
	}
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[col] = i
	}
	for _, col := range []string{"id", "latitude", "longitude", "tract_geoid"} {
		if _, ok := idx[col]; !ok {
			return nil, eris.Errorf("export: %s is not an incident export: missing column %q", path, col)
		}
	}

	get := func(record []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var rows []Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "export: read %s", path)
		}

		in := encounters.Incident{
			ID:          get(record, "id"),
			Name:        get(record, "name"),
			Age:         get(record, "age"),
			Gender:      get(record, "gender"),
			Race:        get(record, "race"),
			Address:     get(record, "address"),
			City:        get(record, "city"),
			County:      get(record, "county"),
			State:       get(record, "state"),
			Zip:         get(record, "zip"),
			Agency:      get(record, "agency"),
			Cause:       get(record, "cause"),
			Description: get(record, "description"),
			ArticleURL:  get(record, "article_url"),
		}
		if d, err := time.Parse(dateLayout, get(record, "date")); err == nil {
			in.Date = d
		}
		in.Latitude = parseFloat(get(record, "latitude"))
		in.Longitude = parseFloat(get(record, "longitude"))

		row := Row{
			Incident:   in,
			TractGeoID: get(record, "tract_geoid"),
			TractName:  get(record, "tract_name"),
		}
		if row.TractGeoID != "" {
			region := &acs.WideRow{
				GeoID:     row.TractGeoID,
				Name:      row.TractName,
				Estimates: make(map[string]*float64, len(vars)),
				MOEs:      make(map[string]*float64, len(vars)),
			}
			for _, v := range vars {
				region.Estimates[v.Name] = parseFloat(get(record, v.Name+"_est"))
				region.MOEs[v.Name] = parseFloat(get(record, v.Name+"_moe"))
			}
			row.Region = region
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
