package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/medigate/backend/internal/database"
	"github.com/medigate/backend/internal/models"
)

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt records a login attempt in the database
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (email, ip_address, attempt_time, success)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.Email,
		attempt.IPAddress,
		attempt.AttemptTime,
		attempt.Success,
	)

	return err
}

// GetFailedAttemptCount returns the number of failed attempts for an email within a time window
func (r *LoginAttemptRepository) GetFailedAttemptCount(ctx context.Context, email string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE email = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, email, since).Scan(&count)
	return count, err
}

// GetFailedAttemptCountByIP returns the number of failed attempts from an IP within a time window
func (r *LoginAttemptRepository) GetFailedAttemptCountByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	return count, err
}

// DeleteFailedByEmail removes the failed attempt history for an email.
// Called once the account owner proves their identity through MFA.
func (r *LoginAttemptRepository) DeleteFailedByEmail(ctx context.Context, email string) error {
	query := `DELETE FROM login_attempts WHERE email = $1 AND success = false`
	_, err := r.db.Pool.Exec(ctx, query, email)
	return err
}

// ListAll returns every recorded login attempt, most recent first
func (r *LoginAttemptRepository) ListAll(ctx context.Context, limit, offset int) ([]*models.LoginAttempt, error) {
	query := `
		SELECT id, email, ip_address, attempt_time, success
		FROM login_attempts ORDER BY attempt_time DESC LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query login attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]*models.LoginAttempt, 0)
	for rows.Next() {
		var attempt models.LoginAttempt
		if err := rows.Scan(&attempt.ID, &attempt.Email, &attempt.IPAddress, &attempt.AttemptTime, &attempt.Success); err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, &attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return attempts, nil
}

// DeleteOlderThan removes login attempts recorded before the cutoff
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM login_attempts WHERE attempt_time < $1`
	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
