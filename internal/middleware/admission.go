package middleware

import (
	"log/slog"
	"net/http"

	"github.com/medigate/backend/internal/anomaly"
	"github.com/medigate/backend/internal/ratelimit"
	pkghttp "github.com/medigate/backend/pkg/http"
)

// rejectBody is the fixed plaintext body returned on policy rejection.
const rejectBody = "Too many requests. Please try again later.\n"

// PolicyLimit applies an admission-control policy partitioned by client
// address. Requests the policy queues are held here; rejected requests get a
// plain 429 without reaching the handler.
func PolicyLimit(limiter ratelimit.Limiter, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientAddr := pkghttp.ExtractClientIP(r, ipConfig)

			if !limiter.Allow(r.Context(), clientAddr) {
				logger.Warn("request rejected by rate limit policy",
					slog.String("client_addr", clientAddr),
					slog.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(rejectBody))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// FlagGate short-circuits requests from flagged client addresses before
// handler dispatch. The check is unconditional: a flagged address is rejected
// regardless of rate-limit quota state.
func FlagGate(flags *anomaly.FlagStore, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientAddr := pkghttp.ExtractClientIP(r, ipConfig)

			if entry, ok := flags.Get(clientAddr); ok {
				logger.Warn("request rejected: client address flagged",
					slog.String("client_addr", clientAddr),
					slog.String("reason", entry.Reason))
				pkghttp.WriteForbidden(w, "Your IP address has been blocked due to suspicious activity.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
