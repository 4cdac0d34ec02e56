package api

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grimm.is/foldwatch/internal/dispatch"
	"grimm.is/foldwatch/internal/router"
)

// getClientIP extracts the client IP from the request
// Respects X-Forwarded-For and X-Real-IP headers for proxy situations
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		ip = strings.TrimSpace(ip)
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// callerContext tags the request context with the client address so write
// operations are audited against it.
func callerContext(r *http.Request) context.Context {
	return dispatch.WithCaller(r.Context(), "api "+getClientIP(r))
}

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteError sends a JSON error response
func WriteError(w http.ResponseWriter, code int, message string, details ...string) {
	resp := ErrorResponse{Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	WriteJSON(w, code, resp)
}

// WriteJSON sends a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteResult sends a dispatch result with the status code of its outcome.
func WriteResult(w http.ResponseWriter, res dispatch.Result) {
	WriteJSON(w, StatusCode(res), res)
}

// StatusCode maps a result onto an HTTP status code.
func StatusCode(res dispatch.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Failure {
	case router.KindNotFound:
		return http.StatusNotFound
	case router.KindDisabled:
		return http.StatusConflict
	case router.KindTimeout, router.KindNoStateAvailable:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// accessLogWriter wraps http.ResponseWriter to capture the status code
type accessLogWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *accessLogWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *accessLogWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Hijack lets the websocket upgrader take over logged connections.
func (rw *accessLogWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// accessLog logs every request at debug level.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		rw := &accessLogWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"client", getClientIP(r),
			"status", rw.status,
			"bytes", rw.size,
			"duration", s.clock.Since(start).Round(time.Microsecond),
		)
	})
}

// limitWrites rejects requests from clients that exhausted their write
// budget.
func (s *Server) limitWrites(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if !s.limiter.Allow(ip) {
			retry := s.limiter.RetryAfter(ip)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			s.logger.Warn("write rate limit exceeded", "client", ip, "path", r.URL.Path)
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}
