package models

import "time"

// MFAChallenge is a short-lived one-time code gating token issuance after
// primary credential verification. Single-use: deleted on successful verify.
type MFAChallenge struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Code      string    `db:"code"` // 6 ASCII digits
	SentAt    time.Time `db:"sent_at"`
	ExpiresAt time.Time `db:"expires_at"` // SentAt + 5 minutes
}
