package session

import (
	"crypto/subtle"
	"time"

	"holedeck/internal/utils"
)

// Registration is a relay's record of a reserved tunnel key. Only hashes of
// the key and token are stored.
type Registration struct {
	KeyHash   string    `json:"key_hash"`
	TokenHash string    `json:"token_hash"`
	Secure    bool      `json:"secure"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRegistration reserves key for duration.
func NewRegistration(key, token string, secure bool, duration time.Duration) *Registration {
	now := time.Now()
	return &Registration{
		KeyHash:   utils.HashSHA256(key),
		TokenHash: utils.HashSHA256(token),
		Secure:    secure,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}
}

func (r *Registration) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

func (r *Registration) VerifyToken(token string) bool {
	providedHash := utils.HashSHA256(token)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(r.TokenHash)) == 1
}
