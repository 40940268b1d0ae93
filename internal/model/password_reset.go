package model

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PasswordReset is an outstanding reset token. Only the SHA-256 hash of the
// token is stored; the token itself exists only in the emailed link.
type PasswordReset struct {
	TokenHash string    `json:"-" gorm:"type:char(64);primaryKey"`
	Email     string    `json:"email" gorm:"type:varchar(255);index;not null"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"index;not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsExpired checks if the token is past its expiry at now
func (p *PasswordReset) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// RevokedToken is a session token id that must no longer be accepted
type RevokedToken struct {
	JTI       string    `gorm:"type:varchar(64);primaryKey"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

// GenerateResetToken returns a random hex token and its storage hash
func GenerateResetToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(b)
	return token, HashResetToken(token), nil
}

// HashResetToken derives the storage key for a reset token
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
