package tiger

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civic-data-lab/tractmap/internal/fetcher"
)

// FetchOptions controls the tract shapefile download.
type FetchOptions struct {
	Year        int
	StateFIPS   string
	CacheDir    string
	BaseURL     string // HTTPS mirror; empty = DefaultBaseURL
	FTPFallback bool
	FTPBaseURL  string // FTP mirror; empty = DefaultFTPBaseURL
}

// Fetch downloads and extracts the TRACT shapefile for one state. The ZIP is
// cached under CacheDir with an .etag sidecar; a cached copy whose ETag still
// matches the server's is reused without downloading. Returns the extracted
// .shp path.
func Fetch(ctx context.Context, f fetcher.Fetcher, ftp *fetcher.FTPFetcher, opts FetchOptions) (string, error) {
	log := zap.L().With(
		zap.String("component", "tiger"),
		zap.Int("year", opts.Year),
		zap.String("state_fips", opts.StateFIPS),
	)

	if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create cache dir")
	}

	url := DownloadURL(opts.BaseURL, opts.Year, opts.StateFIPS)
	zipPath := filepath.Join(opts.CacheDir, path.Base(url))
	etagPath := zipPath + ".etag"

	if err := refreshZIP(ctx, f, ftp, url, zipPath, etagPath, opts, log); err != nil {
		return "", err
	}

	extractDir := strings.TrimSuffix(zipPath, ".zip")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create extract dir")
	}
	if _, err := fetcher.ExtractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "tiger: extract ZIP")
	}

	return findFileByExt(extractDir, ".shp")
}

// refreshZIP brings the cached ZIP up to date. A cached copy is kept when
// the server reports its ETag unchanged, and also when revalidation itself
// fails.
func refreshZIP(ctx context.Context, f fetcher.Fetcher, ftp *fetcher.FTPFetcher, url, zipPath, etagPath string, opts FetchOptions, log *zap.Logger) error {
	cached := false
	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		cached = true
	}

	etag := ""
	if cached {
		if data, err := os.ReadFile(etagPath); err == nil {
			etag = strings.TrimSpace(string(data))
		}
	}

	body, newETag, changed, err := f.DownloadIfChanged(ctx, url, etag)
	if err != nil {
		if cached {
			log.Warn("revalidation failed, using cached zip", zap.Error(err))
			return nil
		}
		if opts.FTPFallback && ftp != nil {
			log.Warn("https download failed, trying FTP mirror", zap.Error(err))
			return fetchFTP(ctx, ftp, opts, zipPath, etagPath, log)
		}
		return eris.Wrap(err, "tiger: download shapefile")
	}

	if !changed {
		log.Debug("cached zip still current", zap.String("path", zipPath))
		return nil
	}
	defer body.Close() //nolint:errcheck

	log.Info("downloading TIGER tract shapefile", zap.String("url", url))

	out, err := os.Create(zipPath)
	if err != nil {
		return eris.Wrap(err, "tiger: create zip file")
	}
	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		return eris.Wrap(err, "tiger: write zip file")
	}
	if err := out.Close(); err != nil {
		return eris.Wrap(err, "tiger: close zip file")
	}

	if newETag != "" {
		if err := os.WriteFile(etagPath, []byte(newETag), 0o644); err != nil {
			log.Warn("could not save etag sidecar", zap.Error(err))
		}
	} else {
		_ = os.Remove(etagPath)
	}

	return nil
}

// fetchFTP downloads the ZIP from the FTP mirror. FTP carries no validators,
// so any existing etag sidecar is dropped.
func fetchFTP(ctx context.Context, ftp *fetcher.FTPFetcher, opts FetchOptions, zipPath, etagPath string, log *zap.Logger) error {
	url := FTPURL(opts.FTPBaseURL, opts.Year, opts.StateFIPS)
	log.Info("downloading TIGER tract shapefile over FTP", zap.String("url", url))

	n, err := ftp.DownloadToFile(ctx, url, zipPath)
	if err != nil {
		return eris.Wrap(err, "tiger: ftp download")
	}
	if n == 0 {
		return eris.New("tiger: ftp download produced an empty file")
	}

	_ = os.Remove(etagPath)
	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "tiger: read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("tiger: no %s file found in %s", ext, dir)
}
