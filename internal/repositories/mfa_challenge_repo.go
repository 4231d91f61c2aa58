package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/medigate/backend/internal/database"
	"github.com/medigate/backend/internal/models"
)

// MFAChallengeRepository handles database operations for pending MFA challenges
type MFAChallengeRepository struct {
	db *database.DB
}

// NewMFAChallengeRepository creates a new MFAChallengeRepository
func NewMFAChallengeRepository(db *database.DB) *MFAChallengeRepository {
	return &MFAChallengeRepository{db: db}
}

// Create stores a freshly issued challenge for a user
func (r *MFAChallengeRepository) Create(ctx context.Context, challenge *models.MFAChallenge) error {
	challenge.ID = uuid.New().String()

	query := `
		INSERT INTO mfa_challenges (id, user_id, code, sent_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		challenge.ID,
		challenge.UserID,
		challenge.Code,
		challenge.SentAt,
		challenge.ExpiresAt,
	)

	return err
}

// GetLatestByUser returns the most recently issued challenge for a user,
// or nil if the user has none pending
func (r *MFAChallengeRepository) GetLatestByUser(ctx context.Context, userID string) (*models.MFAChallenge, error) {
	query := `
		SELECT id, user_id, code, sent_at, expires_at
		FROM mfa_challenges
		WHERE user_id = $1
		ORDER BY sent_at DESC
		LIMIT 1
	`

	var challenge models.MFAChallenge
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&challenge.ID, &challenge.UserID, &challenge.Code, &challenge.SentAt, &challenge.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &challenge, nil
}

// GetActiveByUserAndCode returns an unexpired challenge matching the submitted
// code, or nil when no such challenge exists
func (r *MFAChallengeRepository) GetActiveByUserAndCode(ctx context.Context, userID, code string, now time.Time) (*models.MFAChallenge, error) {
	query := `
		SELECT id, user_id, code, sent_at, expires_at
		FROM mfa_challenges
		WHERE user_id = $1 AND code = $2 AND expires_at > $3
		ORDER BY sent_at DESC
		LIMIT 1
	`

	var challenge models.MFAChallenge
	err := r.db.Pool.QueryRow(ctx, query, userID, code, now).Scan(
		&challenge.ID, &challenge.UserID, &challenge.Code, &challenge.SentAt, &challenge.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &challenge, nil
}

// DeleteByUser removes every pending challenge for a user. Called after a
// successful verification so a code cannot be replayed.
func (r *MFAChallengeRepository) DeleteByUser(ctx context.Context, userID string) error {
	query := `DELETE FROM mfa_challenges WHERE user_id = $1`
	_, err := r.db.Pool.Exec(ctx, query, userID)
	return err
}

// DeleteExpired removes challenges whose expiry has passed
func (r *MFAChallengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM mfa_challenges WHERE expires_at <= $1`

	result, err := r.db.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
