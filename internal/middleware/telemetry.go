package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/medigate/backend/internal/models"
	"github.com/medigate/backend/internal/monitor"
	pkghttp "github.com/medigate/backend/pkg/http"
)

// Telemetry records every completed request into the rolling per-client
// history, which triggers anomaly evaluation on the completion path. It sits
// outermost so that admission rejections (429/403) are observed too.
func Telemetry(recorder *monitor.Recorder, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			recorder.Record(models.RequestRecord{
				Timestamp:    start.UTC(),
				Path:         r.URL.Path,
				Method:       r.Method,
				ClientAddr:   pkghttp.ExtractClientIP(r, ipConfig),
				Status:       wrapped.Status(),
				Latency:      time.Since(start),
				UserAgent:    r.Header.Get("User-Agent"),
				ResponseSize: int64(wrapped.BytesWritten()),
			})
		})
	}
}
