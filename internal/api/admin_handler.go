package api

import (
	"context"
	"net/http"

	"github.com/alecgard/huddle/internal/apperr"
	"github.com/alecgard/huddle/internal/match"
	"github.com/alecgard/huddle/internal/user"
	"github.com/go-chi/chi/v5"
)

// WarmupRunner runs one recommendation warm-up pass. *match.Warmer
// implements it.
type WarmupRunner interface {
	Run(ctx context.Context) (match.WarmupResult, error)
}

// CacheInvalidator drops a user's cached rankings. *cache.Recommendations
// implements it.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// adminHandler groups operator endpoints. All routes require the admin role.
type adminHandler struct {
	warmer WarmupRunner
	cache  CacheInvalidator
}

func newAdminHandler(warmer WarmupRunner, cache CacheInvalidator) *adminHandler {
	return &adminHandler{warmer: warmer, cache: cache}
}

// Warmup handles POST /api/v1/admin/warmup. The pass runs inline so the
// caller sees its result; a pass already running elsewhere reports skipped.
func (h *adminHandler) Warmup(w http.ResponseWriter, r *http.Request) {
	res, err := h.warmer.Run(r.Context())
	if err != nil {
		writeAppError(w, r, apperr.System("warm-up failed", err))
		return
	}

	auditLog(r, "warmup", "cache", "recommend", "users", res.Users, "failed", res.Failed, "skipped", res.Skipped)
	writeJSON(w, http.StatusOK, map[string]any{
		"skipped": res.Skipped,
		"users":   res.Users,
		"failed":  res.Failed,
	})
}

// InvalidateUser handles DELETE /api/v1/admin/cache/{userID}.
func (h *adminHandler) InvalidateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if checkIDs("userID", userID) != nil {
		writeAppError(w, r, user.ErrNotFound)
		return
	}
	if err := h.cache.Invalidate(r.Context(), userID); err != nil {
		writeAppError(w, r, apperr.System("failed to invalidate cache", err))
		return
	}

	auditLog(r, "invalidate", "cache", userID)
	writeSuccess(w)
}
