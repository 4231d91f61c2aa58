package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/medigate/backend/internal/database"
	"github.com/medigate/backend/internal/models"
)

// FlaggedIPRepository handles database operations for flagged IP addresses
type FlaggedIPRepository struct {
	db *database.DB
}

// NewFlaggedIPRepository creates a new FlaggedIPRepository
func NewFlaggedIPRepository(db *database.DB) *FlaggedIPRepository {
	return &FlaggedIPRepository{db: db}
}

// Flag records an IP address as flagged. If the address is already flagged
// the existing row is kept untouched and the call is a no-op.
func (r *FlaggedIPRepository) Flag(ctx context.Context, flagged *models.FlaggedIP) error {
	query := `
		INSERT INTO flagged_ips (ip_address, reason, flagged_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (ip_address) DO NOTHING
	`

	_, err := r.db.Pool.Exec(ctx, query, flagged.IPAddress, flagged.Reason, flagged.FlaggedAt)
	return err
}

// IsFlagged reports whether the given IP address currently has a flag row
func (r *FlaggedIPRepository) IsFlagged(ctx context.Context, ipAddress string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM flagged_ips WHERE ip_address = $1)`

	var flagged bool
	err := r.db.Pool.QueryRow(ctx, query, ipAddress).Scan(&flagged)
	return flagged, err
}

// Unflag removes the flag row for an IP address
func (r *FlaggedIPRepository) Unflag(ctx context.Context, ipAddress string) error {
	query := `DELETE FROM flagged_ips WHERE ip_address = $1`

	result, err := r.db.Pool.Exec(ctx, query, ipAddress)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// List returns all flagged IP addresses, most recently flagged first
func (r *FlaggedIPRepository) List(ctx context.Context) ([]*models.FlaggedIP, error) {
	query := `
		SELECT id, ip_address, reason, flagged_at
		FROM flagged_ips ORDER BY flagged_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged ips: %w", err)
	}
	defer rows.Close()

	flagged := make([]*models.FlaggedIP, 0)
	for rows.Next() {
		var f models.FlaggedIP
		if err := rows.Scan(&f.ID, &f.IPAddress, &f.Reason, &f.FlaggedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flagged ip: %w", err)
		}
		flagged = append(flagged, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return flagged, nil
}

// DeleteOlderThan removes flag rows created before the cutoff
func (r *FlaggedIPRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM flagged_ips WHERE flagged_at < $1`

	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
