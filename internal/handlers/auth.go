package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/medigate/backend/internal/auth"
	"github.com/medigate/backend/internal/models"
	"github.com/medigate/backend/internal/services"
	pkghttp "github.com/medigate/backend/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password, ipAddress string) (*services.LoginResponse, error)
	VerifyMFA(ctx context.Context, userID, code, ipAddress string) (*services.AuthResponse, error)
	ResendMFA(ctx context.Context, userID string) error
	Signup(ctx context.Context, name, email, password, role string) (*services.AuthResponse, error)
	GetUser(ctx context.Context, userID string) (*services.UserResponse, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// VerifyMFARequest represents the request body for MFA verification
type VerifyMFARequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
	Code   string `json:"code" validate:"required,len=6,numeric"`
}

// ResendMFARequest represents the request body for requesting a fresh code
type ResendMFARequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
}

// SignupRequest represents the request body for account creation
type SignupRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=patient doctor"`
}

// Login handles the first step of authentication. A correct password does
// not produce a token; it produces an emailed verification code.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	loginResp, err := h.service.Login(r.Context(), req.Email, req.Password, ipAddress)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrIPBlocked):
			pkghttp.WriteForbidden(w, "Your IP address has been blocked due to suspicious activity.")
		case errors.Is(err, models.ErrAccountLocked):
			// Lockout is an authentication failure, not an admission
			// rejection; it surfaces as 401 like any other refused login
			pkghttp.WriteUnauthorized(w, "Account temporarily locked due to too many failed attempts. Please try again later.")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid Credentials")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(loginResp)
}

// VerifyMFA exchanges a pending challenge code for a bearer token
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.VerifyMFA(r.Context(), req.UserID, req.Code, pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		case errors.Is(err, models.ErrMFACodeInvalid):
			pkghttp.WriteUnauthorized(w, "Invalid or expired verification code")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(authResp)
}

// ResendMFA requests a fresh verification code. The response is identical
// whether or not a code was sent, so the endpoint cannot be used to probe
// for accounts or pending logins.
func (h *AuthHandler) ResendMFA(w http.ResponseWriter, r *http.Request) {
	var req ResendMFARequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_ = h.service.ResendMFA(r.Context(), req.UserID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "If a login is pending for this account, a new verification code has been sent.",
	})
}

// Signup handles account creation
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.Signup(r.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteError(w, http.StatusConflict, "conflict", "An account with this email already exists")
		case errors.Is(err, models.ErrInternalServer):
			pkghttp.WriteInternalError(w, "Internal server error")
		default:
			pkghttp.WriteBadRequest(w, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(authResp)
}

// Me returns the authenticated caller's profile
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.service.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(user)
}
