package httptransport

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"sharp-job-service/internal/cache"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(sw, r)

		log.WithFields(log.Fields{
			"component":   "http",
			"req_id":      middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.status,
			"bytes":       sw.bytes,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request")
	})
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// RateLimit allows perMinute requests per client IP in fixed one-minute
// windows. If the counter store is down, requests pass.
func RateLimit(counter cache.Counter, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if counter == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			count, err := counter.IncrWithExpiry(r.Context(), cache.RateLimitKey(clientIP(r), now), time.Minute)
			if err != nil {
				log.WithFields(log.Fields{
					"component": "http",
					"req_id":    middleware.GetReqID(r.Context()),
					"error":     err.Error(),
				}).Warn("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(perMinute) - count
			if remaining < 0 {
				remaining = 0
			}
			reset := (now.Unix()/60 + 1) * 60
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

			if count > int64(perMinute) {
				w.Header().Set("Retry-After", "60")
				writeErr(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded, try again in a minute")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is RemoteAddr without the port. RealIP has already applied
// X-Forwarded-For / X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
