package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Common errors.
var (
	ErrRangeNotSatisfiable = errors.New("http: requested range not satisfiable")
	ErrNotFound            = errors.New("http: resource not found")
	ErrForbidden           = errors.New("http: access forbidden")
	ErrUnauthorized        = errors.New("http: unauthorized")
	ErrServerError         = errors.New("http: server error")
	ErrUnexpectedStatus    = errors.New("http: unexpected status")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 4
	MaxIdleConnsPerHost int

	// ResponseHeaderTimeout bounds the wait for response headers.
	// Body transfer time is bounded by the request context instead.
	// Default: 60s
	ResponseHeaderTimeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost:   4,
		ResponseHeaderTimeout: 60 * time.Second,
		UserAgent:             "mioski/1.0",
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	StatusCode    int
	Size          int64 // -1 when the server did not declare a length
	ETag          string
	WeakETag      bool
	AcceptsRanges bool
	ContentType   string
	LastModified  time.Time
}

// Response is an open GET response. The caller must close Body.
type Response struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentLength int64 // -1 when unknown
	ETag          string
	WeakETag      bool
	ContentType   string
	LastModified  string // raw Last-Modified header

	// Start is the offset of the first body byte within the resource.
	Start int64
	// Total is the full resource size, or -1 when unknown.
	Total int64
}

// Client is an HTTP client for whole-file media downloads.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = DefaultOptions().MaxIdleConnsPerHost
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		DisableCompression:    true, // byte counts must match Content-Length
	}

	return &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// NewClientWith wraps an existing *http.Client, e.g. httptest.Server.Client().
func NewClientWith(c *http.Client, opts Options) *Client {
	return &Client{client: c, opts: opts}
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, url string) (*FileInfo, error) {
	req, err := c.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, err
	}

	etag, weak := parseETag(resp.Header.Get("ETag"))
	info := &FileInfo{
		StatusCode:    resp.StatusCode,
		Size:          resp.ContentLength,
		ETag:          etag,
		WeakETag:      weak,
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:   resp.Header.Get("Content-Type"),
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}

	return info, nil
}

// Get requests url starting at offset. With offset > 0 it sends an open-ended
// Range header, plus If-Range when ifRange is non-empty so the server falls
// back to the whole body if the resource changed. ifRange is sent as given;
// build it with IfRange.
//
// Only 200 and 206 are returned as responses; any other status closes the
// body and returns an error.
func (c *Client) Get(ctx context.Context, url string, offset int64, ifRange string) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		if ifRange != "" {
			req.Header.Set("If-Range", ifRange)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	etag, weak := parseETag(resp.Header.Get("ETag"))
	out := &Response{
		Body:          resp.Body,
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		ETag:          etag,
		WeakETag:      weak,
		ContentType:   resp.Header.Get("Content-Type"),
		LastModified:  resp.Header.Get("Last-Modified"),
		Total:         -1,
	}

	switch resp.StatusCode {
	case http.StatusOK:
		out.Total = resp.ContentLength
		return out, nil

	case http.StatusPartialContent:
		start, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("partial response: %w", err)
		}
		out.Start = start
		out.Total = total
		return out, nil

	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, ErrRangeNotSatisfiable

	default:
		resp.Body.Close()
		if err := checkStatusCode(resp.StatusCode); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	return req, nil
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return fmt.Errorf("%w: %d", ErrServerError, code)
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
}

// parseETag removes the weak prefix and quotes from an ETag value.
func parseETag(etag string) (tag string, weak bool) {
	etag = strings.TrimSpace(etag)
	if strings.HasPrefix(etag, "W/") {
		weak = true
		etag = etag[2:]
	}
	return strings.Trim(etag, `"`), weak
}

// IfRange returns the If-Range value for a resumed request. If-Range only
// accepts strong validators, so a weak ETag falls back to lastModified, and
// to "" (no If-Range) when that is empty too.
func IfRange(etag string, weak bool, lastModified string) string {
	if etag != "" && !weak {
		return `"` + etag + `"`
	}
	return lastModified
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
