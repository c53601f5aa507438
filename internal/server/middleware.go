package server

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/brandintel/internal/apperr"
	"github.com/sells-group/brandintel/internal/model"
)

type correlationKey struct{}

// CorrelationID returns the request's correlation ID, or "" outside a
// request context.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// correlationID honors an inbound X-Request-ID and mints one otherwise.
// The ID is echoed in the response header so callers can join logs.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), correlationKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				zap.L().Error("server: panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("correlation_id", CorrelationID(r.Context())),
					zap.Stack("stack"))
				s.writeError(w, r, apperr.New(apperr.CodeInternal, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLog emits one structured line per request and buffers a row for
// the api_metrics relation.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		route := routePattern(r)

		s.metrics.RecordHTTPRequest(r.Method, route, status, elapsed)
		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
			zap.String("correlation_id", CorrelationID(r.Context())),
		)
		s.apiLog.record(model.APIMetric{
			Timestamp:     start.UTC(),
			Method:        r.Method,
			Route:         route,
			Status:        status,
			DurationMS:    elapsed.Milliseconds(),
			CorrelationID: CorrelationID(r.Context()),
			ClientIP:      clientIP(r),
		})
	})
}

// routePattern prefers the chi pattern ("/v1/kernel") over the raw path so
// metric labels stay low-cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

type rateLimiter struct {
	perMinute int
	buckets   sync.Map // client key -> *rate.Limiter
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{perMinute: perMinute}
}

// allow admits up to perMinute requests in a burst, refilled at perMinute
// per minute, independently per client key.
func (rl *rateLimiter) allow(key string) bool {
	v, _ := rl.buckets.LoadOrStore(key, rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60.0), rl.perMinute))
	return v.(*rate.Limiter).Allow()
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := clientIP(r) + "|" + r.Header.Get(headerAPIKey)
		if !s.limiter.allow(key) {
			zap.L().Warn("server: rate limit exceeded",
				zap.String("client_ip", clientIP(r)),
				zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "60")
			s.writeError(w, r, apperr.RateLimited())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authExempt(path string) bool {
	return path == "/metrics" || path == "/health" || strings.HasPrefix(path, "/health/")
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get(headerAPIKey)
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Server.APIKey)) != 1 {
			s.writeError(w, r, apperr.Unauthorized())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// timeout bounds the whole request. Downstream work fails with a context
// error and the envelope writer maps that to REQUEST_TIMEOUT.
func (s *Server) timeout(next http.Handler) http.Handler {
	d := time.Duration(s.cfg.Request.Timeout) * time.Millisecond
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP trusts the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
