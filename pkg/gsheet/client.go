// Package gsheet downloads public Google Sheets workbooks through the XLSX export endpoint.
package gsheet

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://docs.google.com/spreadsheets/d"

// Downloader fetches a URL to a local file. Satisfied by the repo's HTTP fetcher.
type Downloader interface {
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Client fetches workbook exports for a single spreadsheet document.
// Public read access only; no authentication.
type Client struct {
	baseURL string
	docID   string
	dl      Downloader
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the export endpoint base URL (primarily for tests).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// NewClient creates a client for the given document ID.
func NewClient(docID string, dl Downloader, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		docID:   docID,
		dl:      dl,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExportURL returns the XLSX export URL for the document.
func (c *Client) ExportURL() string {
	return fmt.Sprintf("%s/%s/export?format=xlsx", c.baseURL, url.PathEscape(c.docID))
}

// DownloadXLSX downloads the workbook export into destDir and returns the local path.
func (c *Client) DownloadXLSX(ctx context.Context, destDir string) (string, error) {
	if c.docID == "" {
		return "", eris.New("gsheet: empty document ID")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "gsheet: create dest dir")
	}

	path := filepath.Join(destDir, c.docID+".xlsx")
	n, err := c.dl.DownloadToFile(ctx, c.ExportURL(), path)
	if err != nil {
		return "", eris.Wrapf(err, "gsheet: download workbook %s", c.docID)
	}
	if n == 0 {
		return "", eris.Errorf("gsheet: empty workbook export for %s", c.docID)
	}

	zap.L().Debug("gsheet: downloaded workbook",
		zap.String("doc_id", c.docID),
		zap.Int64("bytes", n),
	)

	return path, nil
}
