package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/netpulse/internal/version"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	headerRequestID = "X-Request-ID"
	headerVersion   = "X-Netpulse-Version"
)

// httpMetrics records request counts and latency per route.
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newHTTPMetrics registers the HTTP collectors with reg. A nil reg yields
// unregistered collectors that still accept observations.
func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netpulse",
			Name:      "http_requests_total",
			Help:      "HTTP requests served on the operational listener.",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "netpulse",
			Name:      "http_request_duration_seconds",
			Help:      "Time to serve an HTTP request on the operational listener.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}, []string{"method", "path"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

func (m *httpMetrics) observe(r *http.Request, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
}

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain wraps handler so that mw[0] runs first.
func Chain(handler http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

type pathSet map[string]struct{}

func newPathSet(paths []string) pathSet {
	set := make(pathSet, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

func (s pathSet) has(path string) bool {
	_, ok := s[path]
	return ok
}

type requestIDKey struct{}

// RequestID returns the request ID stored by RequestIDMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware reuses an incoming X-Request-ID or assigns a new one,
// and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = generateID()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// LoggingMiddleware writes an access log line and records request metrics.
// Requests for quiet paths are measured but not logged.
func LoggingMiddleware(logger *zap.Logger, metrics *httpMetrics, quietPaths []string) Middleware {
	if metrics == nil {
		metrics = newHTTPMetrics(nil)
	}
	quiet := newPathSet(quietPaths)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			metrics.observe(r, rec.status, elapsed)
			if quiet.has(r.URL.Path) {
				return
			}
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int64("bytes", rec.written),
				zap.Duration("duration", elapsed),
				zap.String("client", clientIP(r)),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

// securityHeaders are set on every response. The listener serves JSON and
// metrics only, so nothing may be framed or loaded as a subresource.
var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
}

// SecurityHeadersMiddleware sets securityHeaders.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for k, v := range securityHeaders {
			h.Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// VersionHeaderMiddleware advertises the running build.
func VersionHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerVersion, version.Short())
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware turns a handler panic into a 500 problem response.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestID(r.Context())),
				)
				InternalError(w, "an unexpected error occurred", r.URL.Path)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware applies a token bucket per client address. Exempt
// paths (probes, scrapes) bypass it.
func RateLimitMiddleware(rps float64, burst int, exemptPaths []string) Middleware {
	limiter := newClientLimiter(rate.Limit(rps), burst)
	exempt := newPathSet(exemptPaths)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !exempt.has(r.URL.Path) && !limiter.allow(clientIP(r), time.Now()) {
				RateLimited(w, "rate limit exceeded", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const (
	limiterIdleTTL   = 10 * time.Minute
	limiterSweepSize = 10000
)

// clientLimiter keeps one rate.Limiter per client. Idle clients are swept
// once the table reaches limiterSweepSize.
type clientLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	return &clientLimiter{
		limit:   limit,
		burst:   burst,
		clients: make(map[string]*clientBucket),
	}
}

func (c *clientLimiter) allow(client string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.clients[client]
	if !ok {
		if len(c.clients) >= limiterSweepSize {
			c.sweep(now)
		}
		b = &clientBucket{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// sweep must be called with c.mu held.
func (c *clientLimiter) sweep(now time.Time) {
	for client, b := range c.clients {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(c.clients, client)
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop, then the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseRecorder captures the status code and body size.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// generateID returns a random 32-character hex request ID.
func generateID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}
