package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret!")
	require.NoError(t, err)
	assert.NotEqual(t, "Sup3rSecret!", hash)

	assert.NoError(t, ComparePassword(hash, "Sup3rSecret!"))
	assert.Error(t, ComparePassword(hash, "wrong-password"))
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Sup3rSecret", false},
		{"too short", "Ab1", true},
		{"no uppercase", "nouppercase123", true},
		{"no lowercase", "NOLOWERCASE123", true},
		{"no digits", "NoDigitsHere", true},
		{"common password", "Password123!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
				assert.EqualError(t, err, "invalid password")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
