// Package upstream is the edge worker's view of "the network": an HTTP
// client bound to the application server.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anonchat/edgeworker/internal/pkg/metrics"
)

const defaultTimeout = 15 * time.Second

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client forwards requests to the application server.
type Client struct {
	base       *url.URL
	httpClient *http.Client
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		base: base,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			// Redirects are the page's business, not ours.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// NetworkError means no HTTP response was obtained at all. It is the only
// error kind that sends the worker into its offline paths.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "upstream unreachable: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is (or wraps) a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// Request describes one upstream call. Path includes the query string.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Do performs req. Any transport failure is returned as *NetworkError; an
// HTTP error status is a successful fetch.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	target, err := c.resolve(req.Path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vv := range req.Header {
		for _, v := range vv {
			httpReq.Header.Add(k, v)
		}
	}
	removeHopHeaders(httpReq.Header)
	httpReq.Host = c.base.Host

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("network_error").Inc()
		return nil, &NetworkError{Err: err}
	}

	outcome := "ok"
	if resp.StatusCode >= 400 {
		outcome = "http_error"
	}
	metrics.UpstreamRequests.WithLabelValues(outcome).Inc()

	removeHopHeaders(resp.Header)
	return resp, nil
}

// Get fetches path with GET.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// Forward replays an incoming request upstream with an already buffered body.
func (c *Client) Forward(r *http.Request, body []byte) (*http.Response, error) {
	header := r.Header.Clone()
	if ip := clientIP(r.RemoteAddr); ip != "" {
		header.Add("X-Forwarded-For", ip)
	}
	return c.Do(r.Context(), Request{
		Method: r.Method,
		Path:   r.URL.RequestURI(),
		Header: header,
		Body:   body,
	})
}

func (c *Client) resolve(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("upstream path %q must be absolute", path)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse upstream path: %w", err)
	}
	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + ref.Path
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func clientIP(remoteAddr string) string {
	if i := strings.LastIndexByte(remoteAddr, ':'); i > 0 {
		return strings.Trim(remoteAddr[:i], "[]")
	}
	return remoteAddr
}
