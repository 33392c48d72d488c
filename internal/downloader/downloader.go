package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go-sd-gallery/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
	ErrTooLarge    = errors.New("response body exceeds size limit")
)

// Downloader fetches remote images so they can be ingested like local files.
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

// NewDownloader creates a new Downloader instance. maxBytes <= 0 means unlimited.
func NewDownloader(client *http.Client, maxBytes int64) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 5 * time.Minute,
		}
	}
	return &Downloader{client: client, maxBytes: maxBytes}
}

// Fetch downloads rawURL into memory and returns the body and its content type.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: creating download request for %s: %w", ErrHttpRequest, rawURL, err)
	}

	log.Debugf("Downloading %s", rawURL)
	startTime := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: performing request for %s: %w", ErrHttpRequest, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %s for %s", ErrHttpStatus, resp.Status, rawURL)
	}

	var body io.Reader = resp.Body
	if d.maxBytes > 0 {
		body = io.LimitReader(resp.Body, d.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading body of %s: %w", ErrHttpRequest, rawURL, err)
	}
	if d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return nil, "", fmt.Errorf("%w: %s", ErrTooLarge, rawURL)
	}

	log.Debugf("Downloaded %s (%d bytes) in %v", rawURL, len(data), time.Since(startTime).Round(time.Millisecond))
	return data, resp.Header.Get("Content-Type"), nil
}

// IsURL reports whether s looks like an http(s) URL rather than a local path.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// NameFromURL picks a file name for a URL: the Content-Disposition filename
// when given, else the last path segment, else "download".
func NameFromURL(rawURL, contentDisposition string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return "download"
}

// URLInput returns a batch entry that downloads rawURL when its worker opens it.
func (d *Downloader) URLInput(ctx context.Context, rawURL string) models.FileInput {
	return models.FileInput{
		Name: NameFromURL(rawURL, ""),
		Open: func() (io.ReadCloser, error) {
			data, _, err := d.Fetch(ctx, rawURL)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
