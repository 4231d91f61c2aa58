package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/medigate/backend/internal/anomaly"
	"github.com/medigate/backend/internal/auth"
	"github.com/medigate/backend/internal/config"
	"github.com/medigate/backend/internal/database"
	"github.com/medigate/backend/internal/handlers"
	middlewareCustom "github.com/medigate/backend/internal/middleware"
	"github.com/medigate/backend/internal/monitor"
	"github.com/medigate/backend/internal/routes"
	"github.com/medigate/backend/internal/services"
	pkghttp "github.com/medigate/backend/pkg/http"
	pkglogger "github.com/medigate/backend/pkg/logger"
)

// SentEmail represents a captured email message
type SentEmail struct {
	To   string
	Code string
}

// MockEmailService captures MFA codes for test assertions
type MockEmailService struct {
	SentEmails []SentEmail
	mu         sync.Mutex
}

// SendMFACode records the code instead of delivering it
func (m *MockEmailService) SendMFACode(ctx context.Context, email, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SentEmails = append(m.SentEmails, SentEmail{To: email, Code: code})
	return nil
}

// GetLastEmail returns the most recent email sent
func (m *MockEmailService) GetLastEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.SentEmails) == 0 {
		return nil
	}
	return &m.SentEmails[len(m.SentEmails)-1]
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *MockEmailService
	Config       *config.Config

	// Dependency references for inspection in tests
	FlagStore *anomaly.FlagStore
	Recorder  *monitor.Recorder
	logger    *slog.Logger
}

// NewTestServer initializes a complete HTTP server with real database + mocked email
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:   "test-secret-32-characters-long-for-testing",
			TokenExpiry: 7 * 24 * time.Hour,
		},
		Security: config.SecurityConfig{
			BruteForceThreshold:     20,
			BruteForceWindow:        1 * time.Minute,
			LockoutThreshold:        10,
			LockoutWindow:           10 * time.Minute,
			MFACodeExpiry:           5 * time.Minute,
			MFAResendCooldown:       1 * time.Minute,
			FlagRetention:           24 * time.Hour,
			SweepInterval:           1 * time.Hour,
			GlobalRequestsPerMinute: 10_000,
		},
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
		},
	}

	userRepo, loginAttemptRepo, flaggedIPRepo, mfaChallengeRepo := InitializeRepositories(db)

	mockEmail := &MockEmailService{
		SentEmails: []SentEmail{},
	}

	flagStore := anomaly.NewFlagStore()
	detector := anomaly.NewDetector(flagStore, logger)
	recorder := monitor.NewRecorder(monitor.DefaultHistoryLimit, monitor.DefaultGlobalLimit, detector)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	authMiddleware := auth.NewMiddleware(tokenManager, logger)
	auditLogger := pkglogger.NewAuditLogger(logger)

	authService := services.NewAuthService(
		userRepo,
		loginAttemptRepo,
		mfaChallengeRepo,
		flaggedIPRepo,
		flagStore,
		mockEmail,
		tokenManager,
		cfg.Security,
		logger,
		auditLogger,
	)
	adminService := services.NewAdminService(loginAttemptRepo, flaggedIPRepo, flagStore, logger, auditLogger)

	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService)
	monitoringHandler := handlers.NewMonitoringHandler(recorder)

	limiters := routes.NewLimiters()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.Telemetry(recorder, ipConfig))
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, adminHandler, monitoringHandler, authMiddleware, flagStore, limiters, ipConfig, logger)

	server := httptest.NewServer(r)

	return &TestServer{
		Server:       server,
		DB:           db,
		EmailService: mockEmail,
		Config:       cfg,
		FlagStore:    flagStore,
		Recorder:     recorder,
		logger:       logger,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (integration tests)")
	if headers != nil {
		for key, value := range headers {
			req.Header.Set(key, value)
		}
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with a bearer token
func (ts *TestServer) RequestWithAuth(method, path, token string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetErrorMessage extracts error message from error response
func GetErrorMessage(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if msg, ok := errResp["message"].(string); ok {
		return msg, nil
	}
	return "", nil
}
