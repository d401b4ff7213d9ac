package encounters

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Column aliases across sheet revisions. The sheet's headers have been
// renamed several times; each field lists every spelling seen, matched
// after normalization.
var (
	colID      = []string{"Unique ID", "Unique identifier"}
	colName    = []string{"Subject's name", "Name"}
	colAge     = []string{"Subject's age", "Age"}
	colGender  = []string{"Subject's gender", "Gender"}
	colRace    = []string{"Subject's race with imputations", "Subject's race", "Race"}
	colDate    = []string{"Date of injury resulting in death (month/day/year)", "Date of injury"}
	colAddress = []string{"Location of injury (address)", "Address"}
	colCity    = []string{"Location of death (city)", "City"}
	colCounty  = []string{"Location of death (county)", "County"}
	colState   = []string{"Location of death (state)", "State"}
	colZip     = []string{"Location of death (zip code)", "Zip"}
	colLat     = []string{"Latitude", "Location of death (latitude)"}
	colLon     = []string{"Longitude", "Location of death (longitude)"}
	colAgency  = []string{"Agency(ies) involved in death", "Agency or agencies involved"}
	colCause   = []string{"Highest level of force", "Cause of death"}
	colDesc    = []string{"A brief description of the circumstances surrounding the death", "Brief description"}
	colURL     = []string{"Link to news article or photo of official document", "URL of news article"}
)

// dateLayouts are the date formats seen in the sheet.
var dateLayouts = []string{
	"1/2/2006",
	"01/02/2006",
	"2006-01-02",
	"January 2, 2006",
}

// ParseRows converts raw sheet rows (header first) into cleaned incidents.
func ParseRows(rows [][]string) ([]Incident, error) {
	if len(rows) == 0 {
		return nil, eris.New("encounters: empty sheet")
	}

	colIdx := mapColumnsNormalized(rows[0])
	if _, ok := lookup(colIdx, colID); !ok {
		return nil, eris.Errorf("encounters: no identifier column among %d headers", len(rows[0]))
	}

	incidents := make([]Incident, 0, len(rows)-1)
	for _, record := range rows[1:] {
		if isBlank(record) {
			continue
		}

		in := Incident{
			ID:          firstNonEmpty(record, colIdx, colID...),
			Name:        firstNonEmpty(record, colIdx, colName...),
			Age:         firstNonEmpty(record, colIdx, colAge...),
			Gender:      firstNonEmpty(record, colIdx, colGender...),
			Race:        firstNonEmpty(record, colIdx, colRace...),
			Address:     firstNonEmpty(record, colIdx, colAddress...),
			City:        firstNonEmpty(record, colIdx, colCity...),
			County:      firstNonEmpty(record, colIdx, colCounty...),
			State:       firstNonEmpty(record, colIdx, colState...),
			Zip:         firstNonEmpty(record, colIdx, colZip...),
			Agency:      firstNonEmpty(record, colIdx, colAgency...),
			Cause:       firstNonEmpty(record, colIdx, colCause...),
			Description: firstNonEmpty(record, colIdx, colDesc...),
			ArticleURL:  firstNonEmpty(record, colIdx, colURL...),
		}

		if raw := firstNonEmpty(record, colIdx, colDate...); raw != "" {
			if d, ok := parseDate(raw); ok {
				in.Date = d
			}
		}

		lat := parseCoord(firstNonEmpty(record, colIdx, colLat...), 90)
		lon := parseCoord(firstNonEmpty(record, colIdx, colLon...), 180)
		// A position needs both halves; half a coordinate is no coordinate.
		if lat != nil && lon != nil {
			in.Latitude = lat
			in.Longitude = lon
		}

		incidents = append(incidents, in)
	}

	return incidents, nil
}

// Filter restricts incidents to the given state abbreviation and county name.
// Empty filter values match everything.
func Filter(incidents []Incident, state, county string) ([]Incident, int) {
	if state == "" && county == "" {
		return incidents, 0
	}

	county = strings.TrimSuffix(strings.TrimSpace(county), " County")
	kept := make([]Incident, 0, len(incidents))
	for _, in := range incidents {
		if state != "" && !strings.EqualFold(strings.TrimSpace(in.State), state) {
			continue
		}
		if county != "" {
			c := strings.TrimSuffix(strings.TrimSpace(in.County), " County")
			if !strings.EqualFold(c, county) {
				continue
			}
		}
		kept = append(kept, in)
	}

	dropped := len(incidents) - len(kept)
	if dropped > 0 {
		zap.L().Debug("encounters: filtered incidents outside target area",
			zap.String("state", state),
			zap.String("county", county),
			zap.Int("dropped", dropped),
		)
	}
	return kept, dropped
}

// Report tallies coordinate coverage for a loaded incident set.
func Report(incidents []Incident, filteredOut int, state, county string) *CoordinateReport {
	rep := &CoordinateReport{
		Total:          len(incidents),
		FilteredOut:    filteredOut,
		FilteredState:  state,
		FilteredCounty: county,
	}
	for _, in := range incidents {
		if in.HasCoordinates() {
			rep.WithCoords++
			continue
		}
		rep.MissingCoords++
		rep.MissingIDs = append(rep.MissingIDs, in.ID)
	}
	return rep
}

// parseCoord parses a coordinate cell; nil when empty, non-numeric,
// non-finite, or outside [-bound, bound].
func parseCoord(s string, bound float64) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	if v < -bound || v > bound {
		return nil
	}
	return &v
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// normalizeCol strips parentheses and lowercases for cross-revision column matching.
func normalizeCol(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "(", "")
	s = strings.ReplaceAll(s, ")", "")
	return s
}

// mapColumnsNormalized builds a normalized column name → index map.
func mapColumnsNormalized(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[normalizeCol(col)] = i
	}
	return m
}

// getColN gets a column value by normalized name.
func getColN(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[normalizeCol(name)]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}

// firstNonEmpty returns the first non-empty value from the named columns.
func firstNonEmpty(record []string, colIdx map[string]int, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(getColN(record, colIdx, name)); v != "" {
			return v
		}
	}
	return ""
}

// lookup reports whether any alias of a column is present in the header map.
func lookup(colIdx map[string]int, names []string) (int, bool) {
	for _, name := range names {
		if idx, ok := colIdx[normalizeCol(name)]; ok {
			return idx, true
		}
	}
	return 0, false
}
