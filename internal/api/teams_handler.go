package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/alecgard/huddle/internal/activity"
	"github.com/alecgard/huddle/internal/apperr"
	"github.com/alecgard/huddle/internal/auth"
	"github.com/alecgard/huddle/internal/team"
	"github.com/go-chi/chi/v5"
)

const maxActivityLimit = 200

// TeamAdmission performs team mutations. *team.Service implements it.
type TeamAdmission interface {
	Create(ctx context.Context, caller *auth.User, in team.CreateTeamInput) (*team.Team, error)
	Join(ctx context.Context, caller *auth.User, teamID, password string) error
	Quit(ctx context.Context, caller *auth.User, teamID string) error
	Disband(ctx context.Context, caller *auth.User, teamID string) error
	Update(ctx context.Context, caller *auth.User, teamID string, in team.UpdateTeamInput) (*team.Team, error)
}

// TeamViews builds read-only team listings. *team.Projector implements it.
type TeamViews interface {
	Query(ctx context.Context, caller *auth.User, f team.Filter) ([]team.View, error)
	Get(ctx context.Context, caller *auth.User, id string) (*team.View, error)
	ListCreated(ctx context.Context, caller *auth.User) ([]team.View, error)
	ListJoined(ctx context.Context, caller *auth.User) ([]team.View, error)
}

// ActivityLister pages a team's activity log. *activity.Store implements it.
type ActivityLister interface {
	List(ctx context.Context, q activity.Query) ([]*activity.Event, string, error)
}

var errActivityForbidden = apperr.New(apperr.Unauthorized, "only the team owner or an admin may view its activity")

// teamsHandler groups team HTTP handlers.
type teamsHandler struct {
	admission TeamAdmission
	views     TeamViews
	activity  ActivityLister
}

func newTeamsHandler(admission TeamAdmission, views TeamViews, events ActivityLister) *teamsHandler {
	return &teamsHandler{admission: admission, views: views, activity: events}
}

// Create handles POST /api/v1/teams.
func (h *teamsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req team.CreateTeamInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	t, err := h.admission.Create(r.Context(), auth.UserFromContext(r.Context()), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	auditLog(r, "create", "team", t.ID, "name", t.Name, "status", t.Status.String(), "max_num", t.MaxNum)
	writeJSON(w, http.StatusCreated, t)
}

// Query handles GET /api/v1/teams.
func (h *teamsHandler) Query(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_argument", err.Error())
		return
	}

	views, err := h.views.Query(r.Context(), auth.UserFromContext(r.Context()), f)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": views})
}

// ListCreated handles GET /api/v1/teams/mine/created.
func (h *teamsHandler) ListCreated(w http.ResponseWriter, r *http.Request) {
	views, err := h.views.ListCreated(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": views})
}

// ListJoined handles GET /api/v1/teams/mine/joined.
func (h *teamsHandler) ListJoined(w http.ResponseWriter, r *http.Request) {
	views, err := h.views.ListJoined(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": views})
}

// Get handles GET /api/v1/teams/{id}.
func (h *teamsHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.views.Get(r.Context(), auth.UserFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Update handles PUT /api/v1/teams/{id}.
func (h *teamsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req team.UpdateTeamInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	id := chi.URLParam(r, "id")
	t, err := h.admission.Update(r.Context(), auth.UserFromContext(r.Context()), id, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	auditLog(r, "update", "team", id)
	writeJSON(w, http.StatusOK, t)
}

// Join handles POST /api/v1/teams/{id}/join. The body is only needed for
// secret teams.
func (h *teamsHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := readOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.admission.Join(r.Context(), auth.UserFromContext(r.Context()), id, req.Password); err != nil {
		writeAppError(w, r, err)
		return
	}

	auditLog(r, "join", "team", id)
	writeSuccess(w)
}

// Quit handles POST /api/v1/teams/{id}/quit.
func (h *teamsHandler) Quit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.admission.Quit(r.Context(), auth.UserFromContext(r.Context()), id); err != nil {
		writeAppError(w, r, err)
		return
	}

	auditLog(r, "quit", "team", id)
	writeSuccess(w)
}

// Disband handles DELETE /api/v1/teams/{id}.
func (h *teamsHandler) Disband(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.admission.Disband(r.Context(), auth.UserFromContext(r.Context()), id); err != nil {
		writeAppError(w, r, err)
		return
	}

	auditLog(r, "disband", "team", id)
	writeSuccess(w)
}

// Activity handles GET /api/v1/teams/{id}/activity?cursor=&limit=.
func (h *teamsHandler) Activity(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil || limit < 0 || limit > maxActivityLimit {
		writeError(w, http.StatusUnprocessableEntity, "invalid_argument", "limit must be between 1 and 200")
		return
	}

	caller := auth.UserFromContext(r.Context())
	v, err := h.views.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if v.OwnerID != caller.ID && !caller.IsAdmin() {
		writeAppError(w, r, errActivityForbidden)
		return
	}

	events, next, err := h.activity.List(r.Context(), activity.Query{
		TeamID: v.ID,
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.SystemError {
			err = apperr.System("failed to list activity", err)
		}
		writeAppError(w, r, err)
		return
	}
	if events == nil {
		events = []*activity.Event{}
	}

	resp := map[string]any{"events": events}
	if next != "" {
		resp["next_cursor"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseFilter maps query parameters onto a team filter. Status is numeric
// or one of public, private, secret.
func parseFilter(r *http.Request) (team.Filter, error) {
	q := r.URL.Query()
	f := team.Filter{
		ID:          strings.TrimSpace(q.Get("id")),
		IDs:         listParam(r, "ids"),
		OwnerID:     strings.TrimSpace(q.Get("owner_id")),
		Name:        strings.TrimSpace(q.Get("name")),
		Description: strings.TrimSpace(q.Get("description")),
		SearchText:  strings.TrimSpace(q.Get("search_text")),
	}
	if err := checkIDs("id", f.ID); err != nil {
		return team.Filter{}, err
	}
	if err := checkIDs("ids", f.IDs...); err != nil {
		return team.Filter{}, err
	}
	if err := checkIDs("owner_id", f.OwnerID); err != nil {
		return team.Filter{}, err
	}

	maxNum, err := intParam(r, "max_num", 0)
	if err != nil {
		return team.Filter{}, err
	}
	f.MaxNum = maxNum

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		s, err := parseStatus(raw)
		if err != nil {
			return team.Filter{}, err
		}
		f.Status = &s
	}
	return f, nil
}

func parseStatus(raw string) (team.Status, error) {
	for _, s := range []team.Status{team.StatusPublic, team.StatusPrivate, team.StatusSecret} {
		if strings.EqualFold(raw, s.String()) {
			return s, nil
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("status must be public, private, secret or its number")
	}
	// Out-of-range numbers are rejected by the projector with its own message.
	return team.Status(n), nil
}
