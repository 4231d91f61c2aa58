package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/medigate/backend/internal/models"
	pkghttp "github.com/medigate/backend/pkg/http"
)

type contextKey string

const UserContextKey contextKey = "user"

// Middleware validates bearer tokens and injects the caller's claims into
// the request context
type Middleware struct {
	tokenManager *TokenManager
	logger       *slog.Logger
}

func NewMiddleware(tokenManager *TokenManager, logger *slog.Logger) *Middleware {
	return &Middleware{
		tokenManager: tokenManager,
		logger:       logger,
	}
}

// Authenticate rejects requests without a valid Authorization bearer token
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			pkghttp.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			pkghttp.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.tokenManager.ValidateToken(parts[1])
		if err != nil {
			m.logger.Debug("token validation failed", "error", err)
			pkghttp.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole restricts a route group to callers carrying the given role.
// It must run after Authenticate.
func (m *Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok {
				pkghttp.WriteUnauthorized(w, "authentication required")
				return
			}
			if claims.Role != role {
				m.logger.Warn("role check failed",
					"user_id", claims.UserID,
					"role", claims.Role,
					"required", role,
				)
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext retrieves the authenticated caller's claims
func GetUserFromContext(ctx context.Context) (*models.TokenClaims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*models.TokenClaims)
	return claims, ok
}
