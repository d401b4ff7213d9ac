package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManifest(t *testing.T) {
	m := NewManifest()

	_, err := uuid.Parse(m.RunID)
	assert.NoError(t, err, "run ID should be a UUID")
	assert.False(t, m.StartedAt.IsZero())
	assert.True(t, m.FinishedAt.IsZero())
}

func TestWriteManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")

	m := NewManifest()
	m.Params = Params{
		State:      "OH",
		CountyFIPS: "049",
		Year:       2019,
		Dataset:    "acs/acs5",
		Variables:  []string{"total_pop", "med_hh_income"},
	}
	m.Counts = Counts{Incidents: 12, Tracts: 280, Matched: 9, Unmatched: 3}
	m.Coordinates = Coordinates{WithCoords: 12}
	m.Review = []ReviewEntry{{ID: "i9", Latitude: 0, Longitude: 0, DistanceDeg: 38.2}}
	m.Artifacts = []string{"out/incidents_enriched.csv"}

	require.NoError(t, WriteManifest(path, m))
	assert.False(t, m.FinishedAt.IsZero(), "write stamps the finish time")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, m.RunID, got["run_id"])

	counts := got["counts"].(map[string]interface{})
	assert.EqualValues(t, 280, counts["tracts"])

	review := got["review_violations"].([]interface{})
	require.Len(t, review, 1)
	assert.Equal(t, "i9", review[0].(map[string]interface{})["id"])
}

func TestWriteManifest_NoViolationsOmitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, WriteManifest(path, NewManifest()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "review_violations")
	assert.NotContains(t, string(data), "render_error")
}
