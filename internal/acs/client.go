// Package acs fetches tract-level American Community Survey estimates and
// reshapes the per-variable responses into one wide row per tract.
package acs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civic-data-lab/tractmap/internal/fetcher"
)

// Annotation sentinels (-666666666 and kin) mark suppressed or inapplicable
// estimates. No real ACS value approaches them.
const sentinelCeiling = -111111111

// LongRow is one (region, variable) observation from the API.
type LongRow struct {
	GeoID    string
	Name     string
	Code     string
	Estimate *float64
	MOE      *float64
}

// Options pins the client to one dataset vintage and one county.
type Options struct {
	BaseURL    string // default https://api.census.gov/data
	Dataset    string // default acs/acs5
	Year       int
	APIKey     string
	StateFIPS  string // 2-digit
	CountyFIPS string // 3-digit
}

// Client fetches ACS estimates one variable code at a time.
type Client struct {
	f    fetcher.Fetcher
	opts Options
}

// NewClient creates an ACS client backed by the given fetcher.
func NewClient(f fetcher.Fetcher, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.census.gov/data"
	}
	if opts.Dataset == "" {
		opts.Dataset = "acs/acs5"
	}
	return &Client{f: f, opts: opts}
}

// FetchVariables fetches every cataloged variable sequentially. Any fetch or
// decode failure aborts the run.
func (c *Client) FetchVariables(ctx context.Context, vars []Variable) ([]LongRow, error) {
	log := zap.L().With(zap.String("component", "acs"))

	var all []LongRow
	for _, v := range vars {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		log.Info("fetching ACS variable",
			zap.String("code", v.Code),
			zap.String("name", v.Name),
		)

		rows, err := c.FetchVariable(ctx, v.Code)
		if err != nil {
			return nil, err
		}

		log.Debug("fetched ACS variable", zap.String("code", v.Code), zap.Int("tracts", len(rows)))
		all = append(all, rows...)
	}

	return all, nil
}

// FetchVariable downloads the estimate and margin columns for one variable
// code across every tract in the configured county.
func (c *Client) FetchVariable(ctx context.Context, code string) ([]LongRow, error) {
	u := c.variableURL(code)

	body, err := c.f.Download(ctx, u)
	if err != nil {
		return nil, eris.Wrapf(err, "acs: fetch variable %s", code)
	}
	defer body.Close() //nolint:errcheck

	table, err := fetcher.DecodeJSONObject[[][]string](body)
	if err != nil {
		return nil, eris.Wrapf(err, "acs: decode variable %s", code)
	}

	return parseTable(*table, code)
}

func (c *Client) variableURL(code string) string {
	u := fmt.Sprintf("%s/%d/%s?get=NAME,%sE,%sM&for=tract:*&in=state:%s%%20county:%s",
		c.opts.BaseURL, c.opts.Year, c.opts.Dataset, code, code, c.opts.StateFIPS, c.opts.CountyFIPS)
	if c.opts.APIKey != "" {
		u += "&key=" + c.opts.APIKey
	}
	return u
}

// parseTable converts the Census array-of-arrays response
// ([[header], [row1], ...]) into long rows. The region identifier is the
// state+county+tract FIPS concatenation.
func parseTable(raw [][]string, code string) ([]LongRow, error) {
	if len(raw) < 2 {
		return nil, eris.Errorf("acs: variable %s returned no data rows", code)
	}

	header := raw[0]
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[col] = i
	}

	for _, required := range []string{"NAME", code + "E", code + "M", "state", "county", "tract"} {
		if _, ok := colIdx[required]; !ok {
			return nil, eris.Errorf("acs: variable %s response missing column %s", code, required)
		}
	}

	rows := make([]LongRow, 0, len(raw)-1)
	for _, record := range raw[1:] {
		rows = append(rows, LongRow{
			GeoID: getCol(record, colIdx, "state") +
				getCol(record, colIdx, "county") +
				getCol(record, colIdx, "tract"),
			Name:     getCol(record, colIdx, "NAME"),
			Code:     code,
			Estimate: parseValue(getCol(record, colIdx, code+"E")),
			MOE:      parseValue(getCol(record, colIdx, code+"M")),
		})
	}

	return rows, nil
}

// parseValue converts one numeric cell. Empty cells (JSON null), annotation
// strings, and sentinel values decode to nil.
func parseValue(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if v <= sentinelCeiling {
		return nil
	}
	return &v
}

// getCol gets a value from a record by column name.
func getCol(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}
