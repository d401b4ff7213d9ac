package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/civic-data-lab/tractmap/internal/fetcher"
	"github.com/civic-data-lab/tractmap/internal/tiger"
)

// loadCountyTracts parses the configured county's tracts out of the TIGER
// cache, downloading the state shapefile only when the cache is empty or
// stale.
func loadCountyTracts(ctx context.Context) ([]tiger.Tract, error) {
	stateFIPS, ok := tiger.StateFIPS(cfg.Census.State)
	if !ok {
		return nil, eris.Errorf("unknown state abbreviation %q", cfg.Census.State)
	}

	timeout := time.Duration(cfg.HTTP.TimeoutSecs) * time.Second
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      timeout,
		MaxRetries:   cfg.HTTP.MaxRetries,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})
	ftp := fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout})

	shpPath, err := tiger.Fetch(ctx, f, ftp, tiger.FetchOptions{
		Year:        cfg.Tiger.Year,
		StateFIPS:   stateFIPS,
		CacheDir:    cfg.Tiger.CacheDir,
		BaseURL:     cfg.Tiger.BaseURL,
		FTPFallback: cfg.Tiger.FTPFallback,
		FTPBaseURL:  cfg.Tiger.FTPBaseURL,
	})
	if err != nil {
		return nil, err
	}

	tracts, err := tiger.ParseTracts(shpPath)
	if err != nil {
		return nil, err
	}
	tracts = tiger.FilterCounty(tracts, cfg.Census.CountyFIPS)
	if len(tracts) == 0 {
		return nil, eris.Errorf("no tracts for county %s in state %s", cfg.Census.CountyFIPS, stateFIPS)
	}
	return tracts, nil
}
