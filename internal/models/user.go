package models

import (
	"time"
)

type User struct {
	ID                string
	Name              string
	Email             string
	PasswordHash      string
	Role              string // "patient", "doctor", "admin"
	IsProfileComplete bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
