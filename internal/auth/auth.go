package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// User is the authenticated caller as seen by the services.
type User struct {
	ID       string
	Account  string
	Username string
	Role     string // "admin" or "user"
}

// IsAdmin returns true if the user has the platform admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == "admin"
}

// SessionLookup is the interface for resolving session tokens to users.
type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (*User, error)
}

// HashToken returns the hex-encoded SHA-256 hash of a plaintext token.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
