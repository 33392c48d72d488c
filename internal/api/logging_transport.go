package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper and appends a dump of every
// request and response to a log file. Bodies are dumped only for JSON, so
// image uploads and downloads are logged as headers.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	mu        sync.Mutex
	writer    *bufio.Writer
}

// NewLoggingTransport opens logFilePath for appending and wraps transport
// (http.DefaultTransport when nil).
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}, nil
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json")
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	reqDump, err := httputil.DumpRequestOut(req, isJSON(req.Header.Get("Content-Type")))
	if err != nil {
		log.WithError(err).Error("Failed to dump API request for logging")
		reqDump = []byte(req.Method + " " + req.URL.String())
	}

	resp, rtErr := t.Transport.RoundTrip(req)
	duration := time.Since(startTime)

	var entry strings.Builder
	fmt.Fprintf(&entry, "--- Request (%s) ---\n%s\n", startTime.Format(time.RFC3339), reqDump)
	if rtErr != nil {
		fmt.Fprintf(&entry, "--- Response Error (Duration: %v) ---\n%s\n", duration, rtErr)
	} else {
		entry.WriteString(dumpResponse(resp, duration))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.WriteString(entry.String() + "\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
	}
	t.writer.Flush()

	return resp, rtErr
}

// dumpResponse renders headers, and the body for JSON responses. A body
// that is read for logging is put back so the caller still sees it.
func dumpResponse(resp *http.Response, duration time.Duration) string {
	contentType := resp.Header.Get("Content-Type")
	header := fmt.Sprintf("--- Response (Duration: %v, Type: %s) ---\n", duration, contentType)

	headDump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		log.WithError(err).Error("Failed to dump API response headers for logging")
		headDump = []byte("Status: " + resp.Status + "\n")
	}
	if !isJSON(contentType) {
		return header + string(headDump) + "(Body not logged)\n"
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	if err != nil {
		log.WithError(err).Error("Failed to read API response body for logging")
		return header + string(headDump) + "(Body read failed)\n"
	}
	return header + string(headDump) + string(bodyBytes) + "\n"
}

// Close flushes and closes the log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}
