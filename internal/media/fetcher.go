// Package media downloads media files referenced by content items.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultMaxBytes caps a single download.
const DefaultMaxBytes = 50 << 20

// File is a downloaded media file held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Fetcher downloads a media URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*File, error)
}

// HTTPFetcher fetches media over HTTP with a size cap.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher. Zero values pick sane defaults.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch downloads rawURL fully into memory.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: unexpected status %s", rawURL, resp.Status)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("download %s: %d bytes exceeds limit of %d", rawURL, resp.ContentLength, f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("download %s: body exceeds limit of %d bytes", rawURL, f.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	return &File{
		Name:        fileName(rawURL, contentType),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// fileName derives an upload name from the URL path, falling back to the
// content type's extension.
func fileName(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." && path.Ext(base) != "" {
			return base
		}
	}
	ext := ".bin"
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return "media" + ext
}
