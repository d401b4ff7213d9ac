// Package encounters loads and cleans the fatal police-encounter incident sheet.
package encounters

import "time"

// Incident is one cleaned row of the incident sheet. Latitude and Longitude
// are nil unless both coordinate cells parse as valid numbers in range.
type Incident struct {
	ID          string
	Name        string
	Age         string
	Gender      string
	Race        string
	Date        time.Time
	Address     string
	City        string
	County      string
	State       string
	Zip         string
	Agency      string
	Cause       string
	Description string
	ArticleURL  string
	Latitude    *float64
	Longitude   *float64
}

// HasCoordinates reports whether the incident carries a usable position.
func (in Incident) HasCoordinates() bool {
	return in.Latitude != nil && in.Longitude != nil
}

// CoordinateReport summarizes coordinate coverage of a loaded incident set.
// Incidents without coordinates are excluded from the spatial join but stay
// in the table and the export; the report is how they remain visible.
type CoordinateReport struct {
	Total          int
	WithCoords     int
	MissingCoords  int
	MissingIDs     []string
	FilteredOut    int
	FilteredState  string
	FilteredCounty string
}
