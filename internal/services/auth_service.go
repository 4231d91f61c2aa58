package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/medigate/backend/internal/anomaly"
	"github.com/medigate/backend/internal/auth"
	"github.com/medigate/backend/internal/config"
	"github.com/medigate/backend/internal/models"
	pkgauth "github.com/medigate/backend/pkg/auth"
	pkglogger "github.com/medigate/backend/pkg/logger"
)

// UserRepository defines the user persistence operations the auth flow needs
type UserRepository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// LoginAttemptRepository defines the ledger operations backing brute-force
// flagging and account lockout
type LoginAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	GetFailedAttemptCount(ctx context.Context, email string, since time.Time) (int, error)
	GetFailedAttemptCountByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
	DeleteFailedByEmail(ctx context.Context, email string) error
}

// MFAChallengeRepository defines persistence for pending login challenges
type MFAChallengeRepository interface {
	Create(ctx context.Context, challenge *models.MFAChallenge) error
	GetLatestByUser(ctx context.Context, userID string) (*models.MFAChallenge, error)
	GetActiveByUserAndCode(ctx context.Context, userID, code string, now time.Time) (*models.MFAChallenge, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// FlaggedIPRepository defines the persistent flag tier written by
// brute-force detection and swept by the background cleanup job
type FlaggedIPRepository interface {
	Flag(ctx context.Context, flagged *models.FlaggedIP) error
	IsFlagged(ctx context.Context, ipAddress string) (bool, error)
}

// LoginResponse is returned from a successful credential check. The session
// is not established until the emailed code is verified.
type LoginResponse struct {
	Message     string `json:"message"`
	RequiresMFA bool   `json:"requires_mfa"`
	UserID      string `json:"user_id"`
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Role              string `json:"role"`
	IsProfileComplete bool   `json:"is_profile_complete"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

// AuthResponse represents a completed authentication
type AuthResponse struct {
	Token string        `json:"token"`
	User  *UserResponse `json:"user"`
}

// AuthService handles the login flow: credential checks, the login-attempt
// ledger, brute-force IP flagging, account lockout, and MFA challenges
type AuthService struct {
	users       UserRepository
	attempts    LoginAttemptRepository
	challenges  MFAChallengeRepository
	flaggedIPs  FlaggedIPRepository
	flags       *anomaly.FlagStore
	email       EmailService
	tm          *auth.TokenManager
	security    config.SecurityConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	attempts LoginAttemptRepository,
	challenges MFAChallengeRepository,
	flaggedIPs FlaggedIPRepository,
	flags *anomaly.FlagStore,
	email EmailService,
	tm *auth.TokenManager,
	security config.SecurityConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:       users,
		attempts:    attempts,
		challenges:  challenges,
		flaggedIPs:  flaggedIPs,
		flags:       flags,
		email:       email,
		tm:          tm,
		security:    security,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// Login verifies credentials and, when they check out, issues an emailed
// verification code. No token is returned here; the caller must complete
// MFA verification to obtain one.
func (s *AuthService) Login(ctx context.Context, email, password, ipAddress string) (*LoginResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		s.logger.Warn("login attempt with empty email")
		return nil, models.ErrUnauthorized
	}

	blocked, err := s.IsIPFlagged(ctx, ipAddress)
	if err != nil {
		s.logger.Error("failed to check IP reputation", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if blocked {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_blocked",
			IPAddress:     ipAddress,
			FailureReason: "ip_flagged",
			Success:       false,
		})
		return nil, models.ErrIPBlocked
	}

	locked, err := s.IsAccountLocked(ctx, email)
	if err != nil {
		s.logger.Error("failed to check account lockout", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if locked {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_blocked",
			IPAddress:     ipAddress,
			FailureReason: "account_locked",
			Success:       false,
		})
		return nil, models.ErrAccountLocked
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Record the failure against both email and IP before returning
			// the generic credential error
			if logErr := s.LogAttempt(ctx, email, ipAddress, false); logErr != nil {
				s.logger.Error("failed to record login attempt", slog.Any("error", logErr))
			}
			s.logger.Info("login failed: invalid credentials")
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		if logErr := s.LogAttempt(ctx, email, ipAddress, false); logErr != nil {
			s.logger.Error("failed to record login attempt", slog.Any("error", logErr))
		}
		s.logger.Info("login failed: invalid credentials")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     ipAddress,
			FailureReason: "invalid_credentials",
			Success:       false,
		})
		return nil, models.ErrUnauthorized
	}

	if err := s.issueChallenge(ctx, user); err != nil {
		s.logger.Error("failed to issue MFA challenge", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("credentials verified, MFA challenge issued", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_password_ok",
		UserID:    user.ID,
		IPAddress: ipAddress,
		Success:   true,
	})

	return &LoginResponse{
		Message:     "A verification code has been sent to your email.",
		RequiresMFA: true,
		UserID:      user.ID,
	}, nil
}

// VerifyMFA checks a submitted code against the user's pending challenge.
// On success the challenge is consumed, the login is recorded as successful,
// the failed-attempt history for the account is cleared, and a bearer token
// is issued.
func (s *AuthService) VerifyMFA(ctx context.Context, userID, code, ipAddress string) (*AuthResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user for MFA verification", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	challenge, err := s.challenges.GetActiveByUserAndCode(ctx, userID, code, s.now())
	if err != nil {
		s.logger.Error("failed to look up MFA challenge", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if challenge == nil {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "mfa_failed",
			UserID:        userID,
			FailureReason: "invalid_or_expired_code",
			Success:       false,
		})
		return nil, models.ErrMFACodeInvalid
	}

	// Single use: consume every pending challenge so the code cannot be
	// replayed
	if err := s.challenges.DeleteByUser(ctx, userID); err != nil {
		s.logger.Error("failed to consume MFA challenge", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// The login is only complete once the code checks out; this is where the
	// success row lands in the ledger
	if err := s.LogAttempt(ctx, user.Email, ipAddress, true); err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
	}

	// The owner has proven their identity; a failure streak caused by a
	// forgotten password should not linger toward lockout
	if err := s.ClearFailedAttempts(ctx, user.Email); err != nil {
		s.logger.Error("failed to clear failed attempts", slog.String("user_id", userID), slog.Any("error", err))
	}

	token, err := s.tm.GenerateToken(user)
	if err != nil {
		s.logger.Error("failed to generate token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: ipAddress,
		Success:   true,
	})

	return &AuthResponse{
		Token: token,
		User:  userModelToResponse(user),
	}, nil
}

// ResendMFA issues a fresh challenge for the user unless one was sent within
// the cooldown window. It never reports whether the user exists or whether a
// code was actually sent; callers return the same response either way.
func (s *AuthService) ResendMFA(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.logger.Error("failed to get user for MFA resend", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	latest, err := s.challenges.GetLatestByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to look up latest MFA challenge", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if latest != nil {
		if s.now().Before(latest.SentAt.Add(s.security.MFAResendCooldown)) {
			s.logger.Debug("MFA resend suppressed by cooldown", slog.String("user_id", userID))
			return nil
		}
		// Supersede the stale challenge; only the freshly issued code may
		// complete the login
		if err := s.challenges.DeleteByUser(ctx, userID); err != nil {
			s.logger.Error("failed to delete stale MFA challenge", slog.String("user_id", userID), slog.Any("error", err))
			return models.ErrInternalServer
		}
	}

	if err := s.issueChallenge(ctx, user); err != nil {
		s.logger.Error("failed to reissue MFA challenge", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}

// Signup creates a new account and returns a token immediately; a fresh
// account has no security history to verify against.
func (s *AuthService) Signup(ctx context.Context, name, email, password, role string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if role != models.RolePatient && role != models.RoleDoctor {
		return nil, fmt.Errorf("role must be %q or %q", models.RolePatient, models.RoleDoctor)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("signup failed: user already exists")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check if user exists", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hashedPassword,
		Role:         role,
	}

	createdUser, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	token, err := s.tm.GenerateToken(createdUser)
	if err != nil {
		s.logger.Error("failed to generate token", slog.String("user_id", createdUser.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", createdUser.ID))

	return &AuthResponse{
		Token: token,
		User:  userModelToResponse(createdUser),
	}, nil
}

// GetUser returns a user's profile
func (s *AuthService) GetUser(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return userModelToResponse(user), nil
}

// LogAttempt records an attempt in the ledger and, when a failure pushes the
// source IP past the brute-force threshold, flags the address in both the
// persistent table and the in-memory store so the block takes effect on the
// very next request.
func (s *AuthService) LogAttempt(ctx context.Context, email, ipAddress string, success bool) error {
	attempt := &models.LoginAttempt{
		Email:       email,
		IPAddress:   ipAddress,
		AttemptTime: s.now(),
		Success:     success,
	}
	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	if success {
		return nil
	}

	since := s.now().Add(-s.security.BruteForceWindow)
	count, err := s.attempts.GetFailedAttemptCountByIP(ctx, ipAddress, since)
	if err != nil {
		return fmt.Errorf("failed to count attempts by ip: %w", err)
	}

	if count >= s.security.BruteForceThreshold {
		reason := fmt.Sprintf("Brute-force suspected: %d failed attempts in %s.", count, s.security.BruteForceWindow)
		flagged := &models.FlaggedIP{
			IPAddress: ipAddress,
			Reason:    reason,
			FlaggedAt: s.now().UTC(),
		}
		if err := s.flaggedIPs.Flag(ctx, flagged); err != nil {
			return fmt.Errorf("failed to flag ip: %w", err)
		}
		if s.flags.Flag(ipAddress, reason) {
			s.auditLogger.LogSecurityAction("ip_flagged", ipAddress, reason)
		}
	}

	return nil
}

// IsIPFlagged reports whether an address currently exceeds the brute-force
// threshold. The check is computed live from the ledger, so it clears on its
// own once the trailing window moves past the failure burst.
func (s *AuthService) IsIPFlagged(ctx context.Context, ipAddress string) (bool, error) {
	since := s.now().Add(-s.security.BruteForceWindow)
	count, err := s.attempts.GetFailedAttemptCountByIP(ctx, ipAddress, since)
	if err != nil {
		return false, err
	}
	return count >= s.security.BruteForceThreshold, nil
}

// IsAccountLocked reports whether an email has accumulated too many failures
// within the lockout window
func (s *AuthService) IsAccountLocked(ctx context.Context, email string) (bool, error) {
	since := s.now().Add(-s.security.LockoutWindow)
	count, err := s.attempts.GetFailedAttemptCount(ctx, email, since)
	if err != nil {
		return false, err
	}
	return count >= s.security.LockoutThreshold, nil
}

// ClearFailedAttempts erases the failure history for an email. Only the MFA
// verification path calls this; a bare password match is not proof enough.
func (s *AuthService) ClearFailedAttempts(ctx context.Context, email string) error {
	return s.attempts.DeleteFailedByEmail(ctx, email)
}

func (s *AuthService) issueChallenge(ctx context.Context, user *models.User) error {
	code, err := generateMFACode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	now := s.now()
	challenge := &models.MFAChallenge{
		UserID:    user.ID,
		Code:      code,
		SentAt:    now,
		ExpiresAt: now.Add(s.security.MFACodeExpiry),
	}
	if err := s.challenges.Create(ctx, challenge); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}

	return s.email.SendMFACode(ctx, user.Email, code, challenge.ExpiresAt)
}

// generateMFACode produces a uniformly random 6-digit code
func generateMFACode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:                user.ID,
		Name:              user.Name,
		Email:             user.Email,
		Role:              user.Role,
		IsProfileComplete: user.IsProfileComplete,
		CreatedAt:         user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         user.UpdatedAt.Format(time.RFC3339),
	}
}
