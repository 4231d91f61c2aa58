package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/medigate/backend/internal/anomaly"
	pkghttp "github.com/medigate/backend/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowFunc func(ctx context.Context, key string) bool

func (f allowFunc) Allow(ctx context.Context, key string) bool { return f(ctx, key) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func TestPolicyLimit_PassesAdmittedRequests(t *testing.T) {
	limiter := allowFunc(func(ctx context.Context, key string) bool { return true })
	handler := PolicyLimit(limiter, &pkghttp.IPConfig{}, testLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPolicyLimit_RejectsWithFixedPlaintextBody(t *testing.T) {
	limiter := allowFunc(func(ctx context.Context, key string) bool { return false })
	handler := PolicyLimit(limiter, &pkghttp.IPConfig{}, testLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "Too many requests. Please try again later.\n", string(body))
}

func TestPolicyLimit_KeysByClientAddress(t *testing.T) {
	var gotKey string
	limiter := allowFunc(func(ctx context.Context, key string) bool {
		gotKey = key
		return true
	})
	handler := PolicyLimit(limiter, &pkghttp.IPConfig{}, testLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.RemoteAddr = "10.1.2.3:51000"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "10.1.2.3", gotKey)
}

func TestFlagGate_BlocksFlaggedAddress(t *testing.T) {
	flags := anomaly.NewFlagStore()
	flags.Flag("10.1.2.3", "brute_force")
	handler := FlagGate(flags, &pkghttp.IPConfig{}, testLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.RemoteAddr = "10.1.2.3:51000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "blocked due to suspicious activity")
}

func TestFlagGate_PassesCleanAddress(t *testing.T) {
	flags := anomaly.NewFlagStore()
	handler := FlagGate(flags, &pkghttp.IPConfig{}, testLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.RemoteAddr = "10.1.2.4:51000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
