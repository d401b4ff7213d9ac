package pipeline

import (
	"archive/zip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/civic-data-lab/tractmap/internal/acs"
	"github.com/civic-data-lab/tractmap/internal/config"
	"github.com/civic-data-lab/tractmap/internal/export"
)

// sheetHeader uses the short column aliases the parser accepts.
var sheetHeader = []string{
	"Unique ID", "Name", "Age", "Gender", "Race", "Date of injury",
	"Address", "City", "County", "State", "Zip", "Latitude", "Longitude",
	"Agency or agencies involved", "Cause of death", "Brief description",
	"URL of news article",
}

// Fixture geography: two Franklin County (39049) tracts, 0.1 degree squares
// sharing the edge x=-83.0, plus one tract in another county that the
// county filter must drop.
//
// Incident 11298 falls inside tract ...000100, 11299 inside ...000200,
// 11300 carries Cleveland coordinates far outside the county (joins to
// nothing, flags in review), 11301 has no coordinates, and 99999 is out of
// state and filtered at load.
var sheetRows = [][]string{
	sheetHeader,
	{"11298", "John Doe", "34", "Male", "European-American/White", "6/2/2019",
		"123 Main St", "Columbus", "Franklin", "OH", "43215", "39.95", "-83.05",
		"Columbus Division of Police", "Gunshot", "description one", "https://example.com/1"},
	{"11299", "Jane Roe", "27", "Female", "African-American/Black", "7/4/2019",
		"", "Columbus", "Franklin County", "OH", "", "39.95", "-82.95",
		"", "Gunshot", "", ""},
	{"11300", "Sam Poe", "", "Male", "", "8/9/2019",
		"", "Columbus", "Franklin", "OH", "", "41.50", "-81.70",
		"", "Vehicle", "", ""},
	{"11301", "Ann Noe", "52", "Female", "", "9/1/2019",
		"", "Columbus", "Franklin", "OH", "", "", "",
		"", "Gunshot", "", ""},
	{"99999", "Out OfState", "40", "Male", "", "1/1/2019",
		"", "Detroit", "Wayne", "MI", "", "42.33", "-83.04",
		"", "Gunshot", "", ""},
}

// acsTables is the canned Census response per variable code. The second
// tract's income margin is empty to exercise a missing MOE end to end.
var acsTables = map[string][][]string{
	"B01003_001": {
		{"NAME", "B01003_001E", "B01003_001M", "state", "county", "tract"},
		{"Census Tract 1, Franklin County, Ohio", "4000", "150", "39", "049", "000100"},
		{"Census Tract 2, Franklin County, Ohio", "3200", "120", "39", "049", "000200"},
	},
	"B19013_001": {
		{"NAME", "B19013_001E", "B19013_001M", "state", "county", "tract"},
		{"Census Tract 1, Franklin County, Ohio", "52000", "2100", "39", "049", "000100"},
		{"Census Tract 2, Franklin County, Ohio", "61000", "", "39", "049", "000200"},
	},
}

var testVariables = []acs.Variable{
	{Code: "B01003_001", Name: "total_pop"},
	{Code: "B19013_001", Name: "med_hh_income"},
}

func buildWorkbook(t *testing.T) []byte {
	t.Helper()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Form Responses")
	require.NoError(t, err)
	for _, rowData := range sheetRows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}

	path := filepath.Join(t.TempDir(), "workbook.xlsx")
	require.NoError(t, f.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func buildTractZIP(t *testing.T) []byte {
	t.Helper()

	dir := t.TempDir()
	shpPath := filepath.Join(dir, "tl_2019_39_tract.shp")
	w, err := shp.Create(shpPath, shp.POLYGON)
	require.NoError(t, err)

	w.SetFields([]shp.Field{
		shp.StringField("STATEFP", 2),
		shp.StringField("COUNTYFP", 3),
		shp.StringField("TRACTCE", 6),
		shp.StringField("GEOID", 11),
		shp.StringField("NAMELSAD", 100),
		shp.StringField("ALAND", 14),
		shp.StringField("AWATER", 14),
	})

	tracts := []struct {
		geoID, countyFP, tractCE, name string
		minX, minY                     float64
	}{
		{"39049000100", "049", "000100", "Census Tract 1", -83.10, 39.90},
		{"39049000200", "049", "000200", "Census Tract 2", -83.00, 39.90},
		{"39041000100", "041", "000100", "Census Tract 9", -83.10, 40.30},
	}
	for n, tr := range tracts {
		// Clockwise outer ring, per the shapefile convention.
		ring := []shp.Point{
			{X: tr.minX, Y: tr.minY},
			{X: tr.minX, Y: tr.minY + 0.1},
			{X: tr.minX + 0.1, Y: tr.minY + 0.1},
			{X: tr.minX + 0.1, Y: tr.minY},
			{X: tr.minX, Y: tr.minY},
		}
		w.Write(&shp.Polygon{
			NumParts:  1,
			NumPoints: int32(len(ring)),
			Parts:     []int32{0},
			Points:    ring,
		})
		w.WriteAttribute(n, 0, "39")
		w.WriteAttribute(n, 1, tr.countyFP)
		w.WriteAttribute(n, 2, tr.tractCE)
		w.WriteAttribute(n, 3, tr.geoID)
		w.WriteAttribute(n, 4, tr.name)
		w.WriteAttribute(n, 5, "1000000")
		w.WriteAttribute(n, 6, "0")
	}
	w.Close()

	// Zip whatever sidecars go-shp wrote alongside the .shp.
	files := map[string][]byte{}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		data, readErr := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, readErr)
		files[e.Name()] = data
	}

	zipPath := filepath.Join(dir, "tract.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	for name, data := range files {
		fw, createErr := zw.Create(name)
		require.NoError(t, createErr)
		_, writeErr := fw.Write(data)
		require.NoError(t, writeErr)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	data, err := os.ReadFile(zipPath)
	require.NoError(t, err)
	return data
}

// testBackend serves the sheet export, the ACS API, and the TIGER mirror
// from one httptest server.
type testBackend struct {
	srv      *httptest.Server
	acsCodes []string
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	workbook := buildWorkbook(t)
	tractZIP := buildTractZIP(t)

	b := &testBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/sheet/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(workbook)
	})
	mux.HandleFunc("/acs/", func(w http.ResponseWriter, r *http.Request) {
		get := strings.Split(r.URL.Query().Get("get"), ",")
		if len(get) < 2 {
			http.Error(w, "missing get parameter", http.StatusBadRequest)
			return
		}
		code := strings.TrimSuffix(get[1], "E")
		table, ok := acsTables[code]
		if !ok {
			http.Error(w, "unknown variable "+code, http.StatusNotFound)
			return
		}
		b.acsCodes = append(b.acsCodes, code)
		_ = json.NewEncoder(w).Encode(table)
	})
	mux.HandleFunc("/tiger/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(tractZIP)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func testConfig(t *testing.T, srvURL string) *config.Config {
	t.Helper()

	tmp := t.TempDir()
	varsPath := filepath.Join(tmp, "variables.yaml")
	catalog := "variables:\n" +
		"  - code: B01003_001\n    name: total_pop\n" +
		"  - code: B19013_001\n    name: med_hh_income\n"
	require.NoError(t, os.WriteFile(varsPath, []byte(catalog), 0o644))

	return &config.Config{
		Sheet: config.SheetConfig{
			BaseURL:    srvURL + "/sheet",
			DocID:      "doc123",
			Tab:        "Form Responses",
			State:      "OH",
			CountyName: "Franklin",
		},
		Census: config.CensusConfig{
			BaseURL:       srvURL + "/acs",
			APIKey:        "test-key",
			Year:          2019,
			Dataset:       "acs/acs5",
			State:         "OH",
			CountyFIPS:    "049",
			VariablesFile: varsPath,
		},
		Tiger: config.TigerConfig{
			Year:     2019,
			CacheDir: filepath.Join(tmp, "tiger-cache"),
			BaseURL:  srvURL + "/tiger",
		},
		HTTP: config.HTTPConfig{TimeoutSecs: 5, MaxRetries: 1, UserAgent: "test-agent"},
		Render: config.RenderConfig{
			Variable: "med_hh_income",
			Classes:  2,
			Palette:  "blues",
			WidthIn:  4,
			HeightIn: 3,
			Formats:  []string{"svg"},
		},
		Review: config.ReviewConfig{Enabled: true, MarginDeg: 0.5},
		Output: config.OutputConfig{
			Dir:      filepath.Join(tmp, "out"),
			CSV:      "incidents_enriched.csv",
			GeoJSON:  true,
			Manifest: "run.json",
		},
	}
}

func TestRun_EndToEnd(t *testing.T) {
	backend := newTestBackend(t)
	cfg := testConfig(t, backend.srv.URL)

	runner, err := NewRunner(cfg)
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, cfg.Output.Dir, res.OutDir)

	// Both cataloged variables were fetched, in catalog order.
	assert.Equal(t, []string{"B01003_001", "B19013_001"}, backend.acsCodes)

	m := res.Manifest
	assert.Equal(t, 4, m.Counts.Incidents)
	assert.Equal(t, 2, m.Counts.Tracts)
	assert.Equal(t, 2, m.Counts.TractsWithAttrs)
	assert.Equal(t, 3, m.Counts.JoinInput)
	assert.Equal(t, 2, m.Counts.Matched)
	assert.Equal(t, 1, m.Counts.Unmatched)
	assert.Equal(t, 3, m.Coordinates.WithCoords)
	assert.Equal(t, 1, m.Coordinates.Missing)
	assert.Equal(t, []string{"11301"}, m.Coordinates.MissingIDs)
	assert.Equal(t, 1, m.Coordinates.FilteredOut)
	assert.Equal(t, []string{"total_pop", "med_hh_income"}, m.Params.Variables)
	assert.Equal(t, "med_hh_income", m.Params.RenderVariable)

	// Cleveland coordinates are a review finding, not a dropped row.
	require.Len(t, m.Review, 1)
	assert.Equal(t, "11300", m.Review[0].ID)
	assert.InDelta(t, 1.0, m.Review[0].DistanceDeg, 1e-9)

	// Enriched CSV: every incident, matched or not, in sheet order.
	csvPath := filepath.Join(res.OutDir, "incidents_enriched.csv")
	rows, err := export.ReadIncidentsCSV(csvPath, testVariables)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	first := rows[0]
	assert.Equal(t, "11298", first.Incident.ID)
	assert.Equal(t, "39049000100", first.TractGeoID)
	assert.Equal(t, "Census Tract 1", first.TractName)
	require.NotNil(t, first.Region)
	require.NotNil(t, first.Region.Estimates["total_pop"])
	assert.Equal(t, 4000.0, *first.Region.Estimates["total_pop"])
	require.NotNil(t, first.Region.Estimates["med_hh_income"])
	assert.Equal(t, 52000.0, *first.Region.Estimates["med_hh_income"])

	second := rows[1]
	assert.Equal(t, "39049000200", second.TractGeoID)
	require.NotNil(t, second.Region)
	assert.Equal(t, 61000.0, *second.Region.Estimates["med_hh_income"])
	assert.Nil(t, second.Region.MOEs["med_hh_income"])

	// Unmatched and coordinate-free incidents keep their rows, empty-celled.
	assert.Equal(t, "11300", rows[2].Incident.ID)
	assert.Empty(t, rows[2].TractGeoID)
	assert.Nil(t, rows[2].Region)
	assert.Equal(t, "11301", rows[3].Incident.ID)
	assert.Nil(t, rows[3].Incident.Latitude)

	// GeoJSON layers: points only for coordinate-bearing incidents.
	var points struct {
		Features []json.RawMessage `json:"features"`
	}
	data, err := os.ReadFile(filepath.Join(res.OutDir, "incidents.geojson"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &points))
	assert.Len(t, points.Features, 3)

	var tractsFC struct {
		Features []json.RawMessage `json:"features"`
	}
	data, err = os.ReadFile(filepath.Join(res.OutDir, "tracts.geojson"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &tractsFC))
	assert.Len(t, tractsFC.Features, 2)

	// Map and manifest landed.
	mapPath := filepath.Join(res.OutDir, "map_med_hh_income.svg")
	info, err := os.Stat(mapPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	var onDisk export.Manifest
	data, err = os.ReadFile(filepath.Join(res.OutDir, "run.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, m.RunID, onDisk.RunID)
	assert.Equal(t, m.Counts, onDisk.Counts)
	assert.Empty(t, onDisk.RenderError)
	assert.Contains(t, onDisk.Artifacts, csvPath)
	assert.Contains(t, onDisk.Artifacts, mapPath)
	assert.False(t, onDisk.FinishedAt.IsZero())
}

func TestRun_RenderFailureKeepsExports(t *testing.T) {
	backend := newTestBackend(t)
	cfg := testConfig(t, backend.srv.URL)
	cfg.Render.Palette = "inferno"

	runner, err := NewRunner(cfg)
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown palette")

	// The CSV survived the render failure, and the manifest records it.
	assert.FileExists(t, filepath.Join(cfg.Output.Dir, "incidents_enriched.csv"))

	var m export.Manifest
	data, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "run.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m.RenderError, "unknown palette")
	assert.Equal(t, 2, m.Counts.Matched)

	assert.NoFileExists(t, filepath.Join(cfg.Output.Dir, "map_med_hh_income.svg"))
}

func TestRun_SkipRender(t *testing.T) {
	backend := newTestBackend(t)
	cfg := testConfig(t, backend.srv.URL)
	cfg.Output.GeoJSON = false

	runner, err := NewRunner(cfg)
	require.NoError(t, err)
	runner.SkipRender = true

	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(cfg.Output.Dir, "incidents_enriched.csv")}, res.Manifest.Artifacts)
	assert.Empty(t, res.Manifest.Params.RenderVariable)
	assert.NoFileExists(t, filepath.Join(cfg.Output.Dir, "map_med_hh_income.svg"))
}

func TestRun_RenderVariableNotInCatalog(t *testing.T) {
	backend := newTestBackend(t)
	cfg := testConfig(t, backend.srv.URL)
	cfg.Render.Variable = "median_age"

	runner, err := NewRunner(cfg)
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the variable catalog")

	// Failed before any fetch.
	assert.Empty(t, backend.acsCodes)
}

func TestNewRunner_UnknownState(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.Census.State = "ZZ"

	_, err := NewRunner(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown state abbreviation")
}
