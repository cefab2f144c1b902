package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/alecgard/huddle/internal/auth"
	"github.com/alecgard/huddle/internal/user"
)

// Accounts is the identity and profile surface. *user.Service implements it.
type Accounts interface {
	Register(ctx context.Context, in user.RegisterInput) (*user.User, error)
	Login(ctx context.Context, account, password string) (string, *user.User, error)
	Logout(ctx context.Context, token string) error
	Get(ctx context.Context, id string) (*user.User, error)
	UpdateProfile(ctx context.Context, caller *auth.User, id string, in user.UpdateUserInput) (*user.User, error)
	UpdateTags(ctx context.Context, caller *auth.User, id string, set []string) (*user.User, error)
	SearchByTags(ctx context.Context, want []string, pageSize, pageNum int) ([]user.Public, error)
	HotTags(ctx context.Context, callerID string) (*user.HotTags, error)
}

// authHandler groups authentication HTTP handlers.
type authHandler struct {
	accounts Accounts
}

func newAuthHandler(accounts Accounts) *authHandler {
	return &authHandler{accounts: accounts}
}

// Register handles POST /api/v1/auth/register.
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req user.RegisterInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	u, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	auditLog(r, "register", "user", u.ID, "account", u.Account)
	writeJSON(w, http.StatusCreated, u.Public())
}

// Login handles POST /api/v1/auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account  string `json:"account"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if req.Account == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_argument", "account and password are required")
		return
	}

	token, u, err := h.accounts.Login(r.Context(), req.Account, req.Password)
	if errors.Is(err, user.ErrBadCredentials) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid account or password")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  u.Public(),
	})
}

// Me handles GET /api/v1/auth/me. The caller sees their full profile.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())
	if caller == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	u, err := h.accounts.Get(r.Context(), caller.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Logout handles POST /api/v1/auth/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), auth.TokenFromContext(r.Context())); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
