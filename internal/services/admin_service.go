package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/medigate/backend/internal/anomaly"
	"github.com/medigate/backend/internal/models"
	pkglogger "github.com/medigate/backend/pkg/logger"
)

// AdminLoginAttemptRepository is the subset of ledger methods the admin
// surface needs
type AdminLoginAttemptRepository interface {
	ListAll(ctx context.Context, limit, offset int) ([]*models.LoginAttempt, error)
}

// AdminFlaggedIPRepository covers the persistent flag tier for admin
// review and overrides
type AdminFlaggedIPRepository interface {
	Flag(ctx context.Context, flagged *models.FlaggedIP) error
	Unflag(ctx context.Context, ipAddress string) error
	List(ctx context.Context) ([]*models.FlaggedIP, error)
}

// AdminService exposes the security ledger and flag overrides to operators
type AdminService struct {
	attempts    AdminLoginAttemptRepository
	flaggedIPs  AdminFlaggedIPRepository
	flags       *anomaly.FlagStore
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAdminService creates a new AdminService
func NewAdminService(
	attempts AdminLoginAttemptRepository,
	flaggedIPs AdminFlaggedIPRepository,
	flags *anomaly.FlagStore,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AdminService {
	return &AdminService{
		attempts:    attempts,
		flaggedIPs:  flaggedIPs,
		flags:       flags,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// ListLoginAttempts returns the raw ledger, most recent first
func (s *AdminService) ListLoginAttempts(ctx context.Context, limit, offset int) ([]*models.LoginAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	attempts, err := s.attempts.ListAll(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list login attempts", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return attempts, nil
}

// FlagIP manually flags an address in both tiers so the block takes effect
// immediately and survives a restart
func (s *AdminService) FlagIP(ctx context.Context, ipAddress, reason string) error {
	if reason == "" {
		reason = "manual"
	}

	flagged := &models.FlaggedIP{
		IPAddress: ipAddress,
		Reason:    reason,
		FlaggedAt: time.Now().UTC(),
	}
	if err := s.flaggedIPs.Flag(ctx, flagged); err != nil {
		s.logger.Error("failed to flag ip", slog.String("ip_address", ipAddress), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.flags.Flag(ipAddress, reason)
	s.auditLogger.LogSecurityAction("ip_flagged_manual", ipAddress, reason)
	return nil
}

// UnflagIP removes an address from both flag tiers
func (s *AdminService) UnflagIP(ctx context.Context, ipAddress string) error {
	err := s.flaggedIPs.Unflag(ctx, ipAddress)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to unflag ip", slog.String("ip_address", ipAddress), slog.Any("error", err))
		return models.ErrInternalServer
	}

	hadLiveFlag := s.flags.IsFlagged(ipAddress)
	s.flags.Unflag(ipAddress)

	if errors.Is(err, models.ErrNotFound) && !hadLiveFlag {
		return models.ErrNotFound
	}

	s.auditLogger.LogSecurityAction("ip_unflagged", ipAddress, "manual override")
	return nil
}

// ListFlaggedIPs merges the persistent rows with any in-memory entries that
// have not been written through (anomaly flags live only in memory)
func (s *AdminService) ListFlaggedIPs(ctx context.Context) ([]*models.FlaggedIP, error) {
	persisted, err := s.flaggedIPs.List(ctx)
	if err != nil {
		s.logger.Error("failed to list flagged ips", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	seen := make(map[string]bool, len(persisted))
	for _, f := range persisted {
		seen[f.IPAddress] = true
	}

	for _, entry := range s.flags.List() {
		if seen[entry.IPAddress] {
			continue
		}
		f := entry
		persisted = append(persisted, &f)
	}

	return persisted, nil
}
