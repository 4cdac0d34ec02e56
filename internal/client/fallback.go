package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"grimm.is/foldwatch/internal/document"
	"grimm.is/foldwatch/internal/logging"
	"grimm.is/foldwatch/internal/metrics"
)

// DefaultAttemptTimeout bounds each fallback request.
const DefaultAttemptTimeout = 5 * time.Second

// candidateTemplates are the historical HTTP path conventions of the daemon
// API, tried in order.
var candidateTemplates = []string{"/api/%s", "/%s", "/api/v1/%s"}

// Candidates returns the request paths tried for a logical endpoint name.
func Candidates(endpoint string) []string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	out := make([]string, len(candidateTemplates))
	for i, tmpl := range candidateTemplates {
		out[i] = fmt.Sprintf(tmpl, endpoint)
	}
	return out
}

// Attempt records one failed candidate.
type Attempt struct {
	Path string
	Err  error
}

// AllFailedError is returned when every candidate path failed.
type AllFailedError struct {
	Endpoint string
	Attempts []Attempt
}

func (e *AllFailedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Path + ": " + a.Err.Error()
	}
	return fmt.Sprintf("all fallback candidates failed for %q (%s)", e.Endpoint, strings.Join(parts, "; "))
}

// Unwrap exposes each attempt's error to errors.Is/As.
func (e *AllFailedError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// ErrUnexpectedShape marks a 2xx response whose body is not what the caller
// asked for.
var ErrUnexpectedShape = errors.New("unexpected response shape")

// Response is a successful fallback answer.
type Response struct {
	Value  document.Value
	Path   string // candidate path that answered
	Cached bool
}

// Fallback runs request/response calls against a daemon's HTTP API,
// walking the candidate path conventions until one answers.
type Fallback struct {
	attemptTimeout time.Duration
	cacheTTL       time.Duration
	httpClient     *http.Client
	cache          *ttlcache.Cache[string, Response]
	metrics        *metrics.Registry
	logger         *logging.Logger
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

// WithAttemptTimeout sets the per-candidate timeout.
func WithAttemptTimeout(d time.Duration) FallbackOption {
	return func(f *Fallback) {
		if d > 0 {
			f.attemptTimeout = d
		}
	}
}

// WithCacheTTL enables caching of successful reads for ttl. Zero disables.
func WithCacheTTL(ttl time.Duration) FallbackOption {
	return func(f *Fallback) {
		f.cacheTTL = ttl
	}
}

// WithFallbackHTTPClient replaces the http.Client used for every attempt.
func WithFallbackHTTPClient(hc *http.Client) FallbackOption {
	return func(f *Fallback) {
		f.httpClient = hc
	}
}

// WithFallbackMetrics sets the metrics registry.
func WithFallbackMetrics(m *metrics.Registry) FallbackOption {
	return func(f *Fallback) {
		f.metrics = m
	}
}

// WithFallbackLogger sets the logger.
func WithFallbackLogger(l *logging.Logger) FallbackOption {
	return func(f *Fallback) {
		f.logger = l
	}
}

// NewFallback creates a Fallback. Call Close to stop the cache janitor.
func NewFallback(opts ...FallbackOption) *Fallback {
	f := &Fallback{
		attemptTimeout: DefaultAttemptTimeout,
		httpClient:     &http.Client{},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.metrics = metrics.OrGlobal(f.metrics)
	f.logger = logging.OrDefault(f.logger, "fallback")

	if f.cacheTTL > 0 {
		c := ttlcache.New[string, Response](
			ttlcache.WithTTL[string, Response](f.cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, Response](),
		)
		go c.Start()
		f.cache = c
	}
	return f
}

// Close stops the cache expiration loop.
func (f *Fallback) Close() {
	if f.cache != nil {
		f.cache.Stop()
	}
}

func cacheKey(host string, port int, endpoint string) string {
	return host + ":" + strconv.Itoa(port) + "/" + endpoint
}

// Invalidate drops any cached reads for a daemon endpoint.
func (f *Fallback) Invalidate(host string, port int) {
	if f.cache == nil {
		return
	}
	prefix := host + ":" + strconv.Itoa(port) + "/"
	for _, k := range f.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			f.cache.Delete(k)
		}
	}
}

// Get reads a logical endpoint. accept validates the decoded body; a
// response it rejects counts as a failed candidate. Successful reads are
// served from cache while fresh.
func (f *Fallback) Get(ctx context.Context, host string, port int, endpoint string, accept func(document.Value) bool) (Response, error) {
	key := cacheKey(host, port, endpoint)
	if f.cache != nil {
		if item := f.cache.Get(key); item != nil {
			f.metrics.FallbackCacheHit.Inc()
			resp := item.Value()
			resp.Cached = true
			return resp, nil
		}
	}

	resp, err := f.walk(ctx, host, port, endpoint, func(ctx context.Context, c *HTTPClient, path string) (document.Value, error) {
		v, err := c.Get(ctx, path)
		if err != nil {
			return v, err
		}
		if accept != nil && !accept(v) {
			return v, fmt.Errorf("%w: %s", ErrUnexpectedShape, v.Kind())
		}
		return v, nil
	})
	if err != nil {
		return Response{}, err
	}
	if f.cache != nil {
		f.cache.Set(key, resp, ttlcache.DefaultTTL)
	}
	return resp, nil
}

// Post writes body to a logical endpoint. Writes are never cached, and a
// successful write invalidates cached reads of the same daemon.
func (f *Fallback) Post(ctx context.Context, host string, port int, endpoint string, body any) (Response, error) {
	resp, err := f.walk(ctx, host, port, endpoint, func(ctx context.Context, c *HTTPClient, path string) (document.Value, error) {
		return c.Post(ctx, path, body)
	})
	if err != nil {
		return Response{}, err
	}
	f.Invalidate(host, port)
	return resp, nil
}

type attemptFunc func(ctx context.Context, c *HTTPClient, path string) (document.Value, error)

func (f *Fallback) walk(ctx context.Context, host string, port int, endpoint string, do attemptFunc) (Response, error) {
	c := NewHTTPClient(DaemonBaseURL(host, port), WithHTTPClient(f.httpClient))
	failed := &AllFailedError{Endpoint: endpoint}

	for i, path := range Candidates(endpoint) {
		label := candidateTemplates[i]
		if err := ctx.Err(); err != nil {
			failed.Attempts = append(failed.Attempts, Attempt{Path: path, Err: err})
			f.metrics.FallbackAttempts.WithLabelValues(label, "skipped").Inc()
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
		v, err := do(attemptCtx, c, path)
		cancel()

		if err != nil {
			f.logger.Debug("fallback candidate failed", "url", c.BaseURL()+path, "error", err)
			f.metrics.FallbackAttempts.WithLabelValues(label, "error").Inc()
			failed.Attempts = append(failed.Attempts, Attempt{Path: path, Err: err})
			continue
		}

		f.metrics.FallbackAttempts.WithLabelValues(label, "ok").Inc()
		return Response{Value: v, Path: path}, nil
	}
	return Response{}, failed
}
