package user

import (
	"context"

	"github.com/alecgard/huddle/internal/auth"
)

// SessionStore is the subset of Store needed to resolve sessions.
type SessionStore interface {
	GetSessionUser(ctx context.Context, token string) (*User, error)
}

// AuthAdapter adapts a SessionStore to the auth.SessionLookup interface.
type AuthAdapter struct {
	store SessionStore
}

// NewAuthAdapter creates a new AuthAdapter wrapping the given user store.
func NewAuthAdapter(store SessionStore) *AuthAdapter {
	return &AuthAdapter{store: store}
}

// LookupSession looks up a session token and returns the associated auth.User.
func (a *AuthAdapter) LookupSession(ctx context.Context, token string) (*auth.User, error) {
	u, err := a.store.GetSessionUser(ctx, token)
	if err != nil {
		return nil, err
	}
	return &auth.User{
		ID:       u.ID,
		Account:  u.Account,
		Username: u.Username,
		Role:     u.Role,
	}, nil
}
