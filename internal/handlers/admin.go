package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/medigate/backend/internal/models"
	pkghttp "github.com/medigate/backend/pkg/http"
)

// AdminServiceInterface defines the operator-facing security operations
type AdminServiceInterface interface {
	ListLoginAttempts(ctx context.Context, limit, offset int) ([]*models.LoginAttempt, error)
	FlagIP(ctx context.Context, ipAddress, reason string) error
	UnflagIP(ctx context.Context, ipAddress string) error
	ListFlaggedIPs(ctx context.Context) ([]*models.FlaggedIP, error)
}

// AdminHandler handles security-review HTTP requests
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// FlagIPRequest represents the request body for manually flagging an address
type FlagIPRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
	Reason    string `json:"reason" validate:"max=200"`
}

// UnflagIPRequest represents the request body for removing a flag
type UnflagIPRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
}

// ListLoginAttempts returns the raw login-attempt ledger
func (h *AdminHandler) ListLoginAttempts(w http.ResponseWriter, r *http.Request) {
	limit := parseQueryInt(r, "limit", 100)
	offset := parseQueryInt(r, "offset", 0)

	attempts, err := h.service.ListLoginAttempts(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"login_attempts": attempts,
		"count":          len(attempts),
	})
}

// FlagIP manually blocks an address
func (h *AdminHandler) FlagIP(w http.ResponseWriter, r *http.Request) {
	var req FlagIPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.FlagIP(r.Context(), req.IPAddress, req.Reason); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "IP address flagged",
	})
}

// UnflagIP removes a block, whether it came from detection or an operator
func (h *AdminHandler) UnflagIP(w http.ResponseWriter, r *http.Request) {
	var req UnflagIPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.UnflagIP(r.Context(), req.IPAddress); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "IP address is not flagged")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "IP address unflagged",
	})
}

// ListFlaggedIPs returns every currently flagged address
func (h *AdminHandler) ListFlaggedIPs(w http.ResponseWriter, r *http.Request) {
	flagged, err := h.service.ListFlaggedIPs(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"flagged_ips": flagged,
		"count":       len(flagged),
	})
}

func parseQueryInt(r *http.Request, key string, defaultVal int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultVal
	}
	return parsed
}
