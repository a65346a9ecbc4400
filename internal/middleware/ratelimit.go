package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"
)

// RateLimit limits each client IP to requestsPerMinute over a sliding window.
// /health stays exempt so load balancers are never throttled.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	limiter := httprate.NewRateLimiter(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			log.Warn().
				Str("request_id", GetRequestID(r.Context())).
				Str("remote_addr", maskIP(r.RemoteAddr)).
				Msg("Rate limit exceeded")
			writeErrorResponse(w, http.StatusTooManyRequests, "Too many requests")
		}),
	)

	return func(next http.Handler) http.Handler {
		limited := limiter.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}
