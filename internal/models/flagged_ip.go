package models

import "time"

// FlaggedIP marks a client address as suspicious. While an entry is active
// a second flag attempt does not overwrite it (first-write-wins); after the
// sweeper removes it, re-flagging creates a fresh entry.
type FlaggedIP struct {
	ID        string    `json:"id,omitempty" db:"id"`
	IPAddress string    `json:"ip_address" db:"ip_address"`
	Reason    string    `json:"reason" db:"reason"`
	FlaggedAt time.Time `json:"flagged_at" db:"flagged_at"`
}
