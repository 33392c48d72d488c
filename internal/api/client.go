package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go-sd-gallery/internal/catalog"
	"go-sd-gallery/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrRateLimited  = errors.New("API rate limit exceeded")
	ErrUnauthorized = errors.New("API request unauthorized")
	ErrNotFound     = errors.New("API resource not found")
	ErrServerError  = errors.New("API server error")
	ErrBadRequest   = errors.New("API rejected the request")
	ErrUploadFailed = errors.New("every file of the batch failed")
)

// Client talks to a remote gallery server.
type Client struct {
	BaseURL    string
	HttpClient *http.Client
}

// NewClient creates a client for the server at baseURL. A nil httpClient
// gets one with the configured timeout.
func NewClient(baseURL string, httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		timeout := time.Duration(cfg.ApiClientTimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HttpClient: httpClient,
	}
}

func (c *Client) endpoint(path string) string {
	return c.BaseURL + path
}

// statusError maps a non-success status to one of the sentinel errors.
func statusError(resp *http.Response, body []byte) error {
	var apiErr errorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrServerError, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrBadRequest, resp.StatusCode, msg)
	}
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp, body, nil
}

// Upload posts files as one multipart batch. The response is returned for
// 200, 207 and all-failed 500 answers; ErrUploadFailed marks the latter.
func (c *Client) Upload(ctx context.Context, files []models.FileInput) (UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		if err := writePart(mw, f); err != nil {
			return UploadResponse{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return UploadResponse{}, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/upload"), &buf)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	log.Debugf("Uploading %d files to %s", len(files), req.URL)
	resp, body, err := c.do(req)
	if err != nil {
		return UploadResponse{}, err
	}

	var out UploadResponse
	switch resp.StatusCode {
	case http.StatusOK, http.StatusMultiStatus:
		if err := json.Unmarshal(body, &out); err != nil {
			return out, fmt.Errorf("decoding upload response: %w", err)
		}
		return out, nil
	case http.StatusInternalServerError:
		if json.Unmarshal(body, &out) == nil && len(out.Failed) > 0 {
			return out, ErrUploadFailed
		}
	}
	return out, statusError(resp, body)
}

func writePart(mw *multipart.Writer, f models.FileInput) error {
	if f.Open == nil {
		return fmt.Errorf("file %s has no content", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, UploadFieldName, escapeQuotes(f.Name)))
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating form part for %s: %w", f.Name, err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("writing %s: %w", f.Name, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// FetchListing downloads the server's listing of image keys.
func (c *Client) FetchListing(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/listing"), nil)
	if err != nil {
		return nil, fmt.Errorf("creating listing request: %w", err)
	}
	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, body)
	}
	return catalog.ParseListing(body)
}

// Get downloads one image; it lets a Client act as a gallery source.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/images/"+url.PathEscape(key)), nil)
	if err != nil {
		return nil, fmt.Errorf("creating image request: %w", err)
	}
	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, body)
	}
	return body, nil
}
