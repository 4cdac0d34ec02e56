// Package client talks to compute-client daemons: the persistent websocket
// transport used by the registry and the request/response HTTP calls used
// when that transport is unavailable.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"grimm.is/foldwatch/internal/brand"
	"grimm.is/foldwatch/internal/document"
)

// maxResponseBytes caps how much of a daemon response body is read.
const maxResponseBytes = 8 << 20

// StatusError is returned for a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("daemon error (status %d): %s", e.Code, e.Body)
}

// HTTPClient issues JSON requests against one daemon's HTTP API.
type HTTPClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *HTTPClient) {
		c.userAgent = ua
	}
}

// NewHTTPClient creates a new HTTPClient for the given base URL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    baseURL,
		userAgent:  brand.UserAgent(brand.Version),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DaemonBaseURL returns the HTTP base URL of a daemon endpoint.
func DaemonBaseURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// BaseURL returns the URL requests are made against.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// doRequest performs an HTTP request and decodes the JSON response into a
// document. An empty 2xx body decodes to null.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body any) (document.Value, error) {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return document.Value{}, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return document.Value{}, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return document.Value{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return document.Value{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return document.Value{}, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return document.Null(), nil
	}
	v, err := document.Decode(respBody)
	if err != nil {
		return document.Value{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return v, nil
}

// Get fetches path and decodes the JSON body.
func (c *HTTPClient) Get(ctx context.Context, path string) (document.Value, error) {
	return c.doRequest(ctx, http.MethodGet, path, nil)
}

// Post sends body as JSON to path and decodes the JSON reply.
func (c *HTTPClient) Post(ctx context.Context, path string, body any) (document.Value, error) {
	return c.doRequest(ctx, http.MethodPost, path, body)
}
