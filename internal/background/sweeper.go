package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/medigate/backend/internal/ratelimit"
	"github.com/medigate/backend/internal/repositories"
)

// Sweeper periodically retires stale security state: flagged-IP rows past
// their retention, expired MFA challenges, old ledger rows, and idle
// per-client rate limiter entries.
type Sweeper struct {
	flaggedIPs    *repositories.FlaggedIPRepository
	challenges    *repositories.MFAChallengeRepository
	attempts      *repositories.LoginAttemptRepository
	limiters      []ratelimit.Pruner
	flagRetention time.Duration
	interval      time.Duration
	logger        *slog.Logger
	stopCh        chan struct{}
}

// NewSweeper creates a new sweeper
func NewSweeper(
	flaggedIPs *repositories.FlaggedIPRepository,
	challenges *repositories.MFAChallengeRepository,
	attempts *repositories.LoginAttemptRepository,
	limiters []ratelimit.Pruner,
	flagRetention time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		flaggedIPs:    flaggedIPs,
		challenges:    challenges,
		attempts:      attempts,
		limiters:      limiters,
		flagRetention: flagRetention,
		interval:      interval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on startup
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopCh:
			s.logger.Info("sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("sweeper context cancelled")
			return
		}
	}
}

func (s *Sweeper) runSweep(ctx context.Context) {
	s.logger.Info("starting security state sweep")

	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now()

	flagsDeleted, err := s.flaggedIPs.DeleteOlderThan(sweepCtx, now.Add(-s.flagRetention))
	if err != nil {
		s.logger.Error("failed to sweep flagged ips", slog.Any("error", err))
	} else if flagsDeleted > 0 {
		s.logger.Info("flagged ip retention sweep completed", slog.Int64("rows_deleted", flagsDeleted))
	}

	challengesDeleted, err := s.challenges.DeleteExpired(sweepCtx, now)
	if err != nil {
		s.logger.Error("failed to sweep expired MFA challenges", slog.Any("error", err))
	} else if challengesDeleted > 0 {
		s.logger.Info("expired MFA challenge sweep completed", slog.Int64("rows_deleted", challengesDeleted))
	}

	// Ledger rows only influence decisions inside the brute-force and
	// lockout windows; anything older than the flag retention is inert
	attemptsDeleted, err := s.attempts.DeleteOlderThan(sweepCtx, now.Add(-s.flagRetention))
	if err != nil {
		s.logger.Error("failed to sweep login attempts", slog.Any("error", err))
	} else if attemptsDeleted > 0 {
		s.logger.Info("login attempt sweep completed", slog.Int64("rows_deleted", attemptsDeleted))
	}

	for _, limiter := range s.limiters {
		limiter.PruneIdle(now.Add(-s.interval))
	}
}

// Stop signals the sweeper to stop
func (s *Sweeper) Stop() {
	close(s.stopCh)
}
