package api

import (
	"context"
	"net/http"

	"github.com/alecgard/huddle/internal/auth"
	"github.com/alecgard/huddle/internal/user"
	"github.com/go-chi/chi/v5"
)

const (
	defaultMatchCount = 10
	defaultPageSize   = 10
)

// Matcher ranks other users for the caller. *match.Service implements it.
type Matcher interface {
	Match(ctx context.Context, requesterID string, n int) ([]user.Public, error)
	Recommend(ctx context.Context, requesterID string, pageSize, pageNum int) ([]user.Public, error)
}

// usersHandler groups user discovery and profile HTTP handlers.
type usersHandler struct {
	accounts Accounts
	matcher  Matcher
}

func newUsersHandler(accounts Accounts, matcher Matcher) *usersHandler {
	return &usersHandler{accounts: accounts, matcher: matcher}
}

// Match handles GET /api/v1/users/match?num=N.
func (h *usersHandler) Match(w http.ResponseWriter, r *http.Request) {
	num, err := intParam(r, "num", defaultMatchCount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_argument", err.Error())
		return
	}

	caller := auth.UserFromContext(r.Context())
	users, err := h.matcher.Match(r.Context(), caller.ID, num)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// Recommend handles GET /api/v1/users/recommend?page_size=&page_num=.
func (h *usersHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	size, num, ok := pageParams(w, r)
	if !ok {
		return
	}

	caller := auth.UserFromContext(r.Context())
	users, err := h.matcher.Recommend(r.Context(), caller.ID, size, num)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":     users,
		"page_size": size,
		"page_num":  num,
	})
}

// Search handles GET /api/v1/users/search?tags=a,b.
func (h *usersHandler) Search(w http.ResponseWriter, r *http.Request) {
	size, num, ok := pageParams(w, r)
	if !ok {
		return
	}

	users, err := h.accounts.SearchByTags(r.Context(), listParam(r, "tags"), size, num)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// HotTags handles GET /api/v1/users/tags/hot.
func (h *usersHandler) HotTags(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())
	hot, err := h.accounts.HotTags(r.Context(), caller.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hot)
}

// Get handles GET /api/v1/users/{id}. Other users only ever see the public
// profile.
func (h *usersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	caller := auth.UserFromContext(r.Context())
	if caller.ID == u.ID || caller.IsAdmin() {
		writeJSON(w, http.StatusOK, u)
		return
	}
	writeJSON(w, http.StatusOK, u.Public())
}

// Update handles PUT /api/v1/users/{id}.
func (h *usersHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req user.UpdateUserInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	id := chi.URLParam(r, "id")
	u, err := h.accounts.UpdateProfile(r.Context(), auth.UserFromContext(r.Context()), id, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	auditLog(r, "update", "user", id)
	writeJSON(w, http.StatusOK, u)
}

// UpdateTags handles PUT /api/v1/users/{id}/tags.
func (h *usersHandler) UpdateTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tags []string `json:"tags"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	id := chi.URLParam(r, "id")
	u, err := h.accounts.UpdateTags(r.Context(), auth.UserFromContext(r.Context()), id, req.Tags)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	auditLog(r, "update_tags", "user", id, "tags", len(u.Tags))
	writeJSON(w, http.StatusOK, u)
}

// pageParams reads page_size and page_num, writing a 422 on malformed input.
// Range checks are left to the services.
func pageParams(w http.ResponseWriter, r *http.Request) (size, num int, ok bool) {
	size, err := intParam(r, "page_size", defaultPageSize)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_argument", err.Error())
		return 0, 0, false
	}
	num, err = intParam(r, "page_num", 1)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_argument", err.Error())
		return 0, 0, false
	}
	return size, num, true
}
