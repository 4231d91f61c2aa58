package models

import "time"

// LoginAttempt is one row of the append-only authentication ledger.
// Rows are never mutated; failed rows for an email are bulk-deleted only
// after a fully completed (post-MFA) login.
type LoginAttempt struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	IPAddress   string    `json:"ip_address" db:"ip_address"`
	AttemptTime time.Time `json:"attempt_time" db:"attempt_time"`
	Success     bool      `json:"success" db:"success"`
}
