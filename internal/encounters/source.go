package encounters

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civic-data-lab/tractmap/internal/fetcher"
	"github.com/civic-data-lab/tractmap/pkg/gsheet"
)

// LoadOptions selects the tab and target area of the incident sheet.
type LoadOptions struct {
	Tab      string
	SkipRows int
	State    string // 2-letter abbreviation; empty = no filter
	County   string // county name without "County" suffix; empty = no filter
}

// Load downloads the incident workbook, parses the configured tab, cleans
// rows, applies the area filter, and reports coordinate coverage.
func Load(ctx context.Context, client *gsheet.Client, opts LoadOptions) ([]Incident, *CoordinateReport, error) {
	log := zap.L().With(zap.String("component", "encounters"))

	dir, err := os.MkdirTemp("", "tractmap-sheet-")
	if err != nil {
		return nil, nil, eris.Wrap(err, "encounters: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	path, err := client.DownloadXLSX(ctx, dir)
	if err != nil {
		return nil, nil, eris.Wrap(err, "encounters: fetch workbook")
	}

	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{
		SheetName: opts.Tab,
		SkipRows:  opts.SkipRows,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "encounters: read workbook")
	}

	incidents, err := ParseRows(rows)
	if err != nil {
		return nil, nil, err
	}

	incidents, filteredOut := Filter(incidents, opts.State, opts.County)
	rep := Report(incidents, filteredOut, opts.State, opts.County)

	log.Info("loaded incidents",
		zap.Int("total", rep.Total),
		zap.Int("with_coordinates", rep.WithCoords),
		zap.Int("missing_coordinates", rep.MissingCoords),
		zap.Int("filtered_out", rep.FilteredOut),
	)
	if rep.MissingCoords > 0 {
		log.Warn("incidents without usable coordinates are excluded from the spatial join",
			zap.Int("count", rep.MissingCoords),
			zap.Strings("ids", rep.MissingIDs),
		)
	}

	return incidents, rep, nil
}
