package export

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Manifest records what one run did: its parameters, stage counts, review
// findings, and where the artifacts landed. It is written even when the run
// fails partway so the failure point stays visible.
type Manifest struct {
	RunID       string        `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Params      Params        `json:"params"`
	Counts      Counts        `json:"counts"`
	Coordinates Coordinates   `json:"coordinates"`
	Review      []ReviewEntry `json:"review_violations,omitempty"`
	Artifacts   []string      `json:"artifacts"`
	RenderError string        `json:"render_error,omitempty"`
}

// Params are the inputs that determined the run's output.
type Params struct {
	SheetDocID     string   `json:"sheet_doc_id"`
	State          string   `json:"state"`
	CountyFIPS     string   `json:"county_fips"`
	Year           int      `json:"year"`
	Dataset        string   `json:"dataset"`
	Variables      []string `json:"variables"`
	RenderVariable string   `json:"render_variable,omitempty"`
}

// Counts are the per-stage row counts.
type Counts struct {
	Incidents       int `json:"incidents"`
	Tracts          int `json:"tracts"`
	TractsWithAttrs int `json:"tracts_with_attributes"`
	JoinInput       int `json:"join_input"`
	Matched         int `json:"matched"`
	Unmatched       int `json:"unmatched"`
}

// Coordinates summarizes coordinate coverage of the incident set.
type Coordinates struct {
	WithCoords  int      `json:"with_coordinates"`
	Missing     int      `json:"missing_coordinates"`
	MissingIDs  []string `json:"missing_ids,omitempty"`
	FilteredOut int      `json:"filtered_out"`
}

// ReviewEntry is one plausibility violation: a coordinate pair outside the
// expected area. Violations are advisory; the row stays in the export.
type ReviewEntry struct {
	ID          string  `json:"id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DistanceDeg float64 `json:"distance_deg"`
}

// NewManifest starts a manifest with a fresh run ID.
func NewManifest() *Manifest {
	return &Manifest{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
}

// WriteManifest finalizes and writes the manifest. FinishedAt is stamped
// here if the caller has not set it.
func WriteManifest(path string, m *Manifest) error {
	if m.FinishedAt.IsZero() {
		m.FinishedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return eris.Wrap(err, "export: encode manifest")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "export: write manifest %s", path)
	}

	zap.L().Info("wrote run manifest",
		zap.String("path", path),
		zap.String("run_id", m.RunID),
	)
	return nil
}
