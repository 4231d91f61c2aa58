package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// GlobalRateLimit returns a coarse router-wide per-IP ceiling. The policy
// limiters enforce the per-route-group quotas; this guards the whole surface
// against outright floods.
func GlobalRateLimit(requestsPerMinute int) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(rejectBody))
		}),
	)
}
