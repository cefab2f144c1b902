package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alecgard/huddle/internal/activity"
	"github.com/alecgard/huddle/internal/apperr"
	"github.com/alecgard/huddle/internal/auth"
	"github.com/alecgard/huddle/internal/match"
	"github.com/alecgard/huddle/internal/team"
	"github.com/alecgard/huddle/internal/user"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// Well-formed ids for routes that check them before reaching a fake.
const (
	teamA   = "6f1c1d3e-8a2b-4c5d-9e0f-112233445566"
	teamB   = "7a2d2e4f-9b3c-4d6e-8f10-223344556677"
	bobUUID = "8b3e3f50-ac4d-4e7f-9021-334455667788"
)

type fakeSessions map[string]*auth.User

func (f fakeSessions) LookupSession(_ context.Context, token string) (*auth.User, error) {
	if u, ok := f[token]; ok {
		return u, nil
	}
	return nil, errors.New("no such session")
}

type fakeAccounts struct {
	users      map[string]*user.User
	loggedOut  []string
	searchWant []string
	searchPage [2]int
	updateErr  error
}

func (f *fakeAccounts) Register(_ context.Context, in user.RegisterInput) (*user.User, error) {
	if in.Password != in.CheckPassword {
		return nil, user.ErrPasswordMismatch
	}
	return &user.User{ID: "new", Account: in.Account, Username: "user123456", Phone: "secret"}, nil
}

func (f *fakeAccounts) Login(_ context.Context, account, password string) (string, *user.User, error) {
	u, ok := f.users[account]
	if !ok || password != "correct-horse" {
		return "", nil, user.ErrBadCredentials
	}
	return "tok-" + account, u, nil
}

func (f *fakeAccounts) Logout(_ context.Context, token string) error {
	f.loggedOut = append(f.loggedOut, token)
	return nil
}

func (f *fakeAccounts) Get(_ context.Context, id string) (*user.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (f *fakeAccounts) UpdateProfile(_ context.Context, caller *auth.User, id string, in user.UpdateUserInput) (*user.User, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if caller.ID != id && !caller.IsAdmin() {
		return nil, user.ErrForbidden
	}
	u := *f.users[id]
	if in.Username != nil {
		u.Username = *in.Username
	}
	return &u, nil
}

func (f *fakeAccounts) UpdateTags(_ context.Context, caller *auth.User, id string, set []string) (*user.User, error) {
	if caller.ID != id {
		return nil, user.ErrForbidden
	}
	u := *f.users[id]
	u.Tags = set
	return &u, nil
}

func (f *fakeAccounts) SearchByTags(_ context.Context, want []string, pageSize, pageNum int) ([]user.Public, error) {
	f.searchWant = want
	f.searchPage = [2]int{pageSize, pageNum}
	return []user.Public{}, nil
}

func (f *fakeAccounts) HotTags(_ context.Context, callerID string) (*user.HotTags, error) {
	return &user.HotTags{Mine: []string{"go"}, Popular: []string{"rust"}}, nil
}

type fakeMatcher struct {
	lastID   string
	lastArgs []int
	err      error
}

func (f *fakeMatcher) Match(_ context.Context, requesterID string, n int) ([]user.Public, error) {
	f.lastID, f.lastArgs = requesterID, []int{n}
	if f.err != nil {
		return nil, f.err
	}
	return []user.Public{{ID: "bob", Tags: []string{"go"}}}, nil
}

func (f *fakeMatcher) Recommend(_ context.Context, requesterID string, pageSize, pageNum int) ([]user.Public, error) {
	f.lastID, f.lastArgs = requesterID, []int{pageSize, pageNum}
	return []user.Public{}, f.err
}

type fakeAdmission struct {
	joinErr  error
	password string
	calls    []string
}

func (f *fakeAdmission) Create(_ context.Context, caller *auth.User, in team.CreateTeamInput) (*team.Team, error) {
	f.calls = append(f.calls, "create")
	return &team.Team{ID: "t1", Name: in.Name, MaxNum: in.MaxNum, OwnerID: caller.ID, Status: in.Status, PasswordHash: "hash"}, nil
}

func (f *fakeAdmission) Join(_ context.Context, _ *auth.User, teamID, password string) error {
	f.calls = append(f.calls, "join:"+teamID)
	f.password = password
	return f.joinErr
}

func (f *fakeAdmission) Quit(_ context.Context, _ *auth.User, teamID string) error {
	f.calls = append(f.calls, "quit:"+teamID)
	return nil
}

func (f *fakeAdmission) Disband(_ context.Context, caller *auth.User, teamID string) error {
	f.calls = append(f.calls, "disband:"+teamID)
	if caller.ID != "alice" {
		return team.ErrNotOwner
	}
	return nil
}

func (f *fakeAdmission) Update(_ context.Context, _ *auth.User, teamID string, in team.UpdateTeamInput) (*team.Team, error) {
	f.calls = append(f.calls, "update:"+teamID)
	return &team.Team{ID: teamID, Name: *in.Name}, nil
}

type fakeViews struct {
	lastFilter team.Filter
}

func (f *fakeViews) Query(_ context.Context, caller *auth.User, fl team.Filter) ([]team.View, error) {
	f.lastFilter = fl
	if fl.Status != nil && !fl.Status.Valid() {
		return nil, team.ErrStatusInvalid
	}
	return []team.View{}, nil
}

func (f *fakeViews) Get(_ context.Context, _ *auth.User, id string) (*team.View, error) {
	if id != "t1" {
		return nil, team.ErrTeamNotFound
	}
	return &team.View{Team: &team.Team{ID: "t1", OwnerID: "alice"}}, nil
}

func (f *fakeViews) ListCreated(context.Context, *auth.User) ([]team.View, error) {
	return []team.View{}, nil
}

func (f *fakeViews) ListJoined(context.Context, *auth.User) ([]team.View, error) {
	return []team.View{}, nil
}

type fakeActivity struct {
	last activity.Query
}

func (f *fakeActivity) List(_ context.Context, q activity.Query) ([]*activity.Event, string, error) {
	f.last = q
	if q.Cursor == "bad" {
		return nil, "", apperr.Wrap(apperr.InvalidArgument, "invalid cursor", errors.New("decode"))
	}
	return []*activity.Event{{ID: 1, TeamID: q.TeamID, UserID: "alice", Action: activity.ActionCreate}}, "next-page", nil
}

type fakeWarmer struct{ runs int }

func (f *fakeWarmer) Run(context.Context) (match.WarmupResult, error) {
	f.runs++
	return match.WarmupResult{Users: 3}, nil
}

type fakeInvalidator struct{ ids []string }

func (f *fakeInvalidator) Invalidate(_ context.Context, userID string) error {
	f.ids = append(f.ids, userID)
	return nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type testEnv struct {
	handler   http.Handler
	accounts  *fakeAccounts
	matcher   *fakeMatcher
	admission *fakeAdmission
	views     *fakeViews
	activity  *fakeActivity
	warmer    *fakeWarmer
	cache     *fakeInvalidator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		accounts: &fakeAccounts{users: map[string]*user.User{
			"alice": {ID: "alice", Account: "alice", Username: "Alice", Phone: "+1-555-0100", Tags: []string{"go"}},
			"bob":   {ID: "bob", Account: "bob", Username: "Bob", Phone: "+1-555-0101"},
		}},
		matcher:   &fakeMatcher{},
		admission: &fakeAdmission{},
		views:     &fakeViews{},
		activity:  &fakeActivity{},
		warmer:    &fakeWarmer{},
		cache:     &fakeInvalidator{},
	}
	env.handler = NewRouter(RouterDeps{
		Accounts: env.accounts,
		Sessions: fakeSessions{
			"alice-token": {ID: "alice", Account: "alice", Role: "user"},
			"bob-token":   {ID: "bob", Account: "bob", Role: "user"},
			"root-token":  {ID: "root", Account: "root", Role: "admin"},
		},
		Matcher:   env.matcher,
		Teams:     env.admission,
		TeamViews: env.views,
		Activity:  env.activity,
		Warmer:    env.warmer,
		Cache:     env.cache,
	})
	return env
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	return env.Error
}

// ---------------------------------------------------------------------------
// Ops endpoints
// ---------------------------------------------------------------------------

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		wantStatus int
		wantDB     string
	}{
		{"no database configured", nil, http.StatusOK, "connected"},
		{"database answers", &fakePinger{}, http.StatusOK, "connected"},
		{"database down", &fakePinger{err: errors.New("refused")}, http.StatusServiceUnavailable, "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(RouterDeps{DB: tt.db})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body["database"] != tt.wantDB {
				t.Errorf("database = %q, want %q", body["database"], tt.wantDB)
			}
		})
	}
}

func TestWellKnownHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(RouterDeps{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/huddle.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var manifest map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&manifest); err != nil {
		t.Fatalf("failed to decode manifest: %v", err)
	}
	for _, field := range []string{"name", "description", "version", "api_base", "auth", "endpoints", "health"} {
		if _, ok := manifest[field]; !ok {
			t.Errorf("manifest missing required field %q", field)
		}
	}
	endpoints, _ := manifest["endpoints"].(map[string]any)
	for _, ep := range []string{"match", "recommend", "teams"} {
		if _, ok := endpoints[ep]; !ok {
			t.Errorf("endpoints missing %q", ep)
		}
	}
}

func TestRouter_NotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(RouterDeps{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "not_found" {
		t.Errorf("expected not_found, got %q", got.Code)
	}
}

func TestRouter_SecureHeadersAndRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(RouterDeps{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected secure headers on router responses")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on router responses")
	}
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/v1/users/match", "/api/v1/teams", "/api/v1/auth/me"} {
		rec := env.do(http.MethodGet, path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
		rec = env.do(http.MethodGet, path, "forged", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s with bad token: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/auth/login", "", `{"account":"alice","password":"correct-horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"token":"tok-alice"`) {
		t.Errorf("expected token in body, got %s", body)
	}
	if strings.Contains(body, "555-0100") {
		t.Error("login response must not expose the phone number")
	}

	rec = env.do(http.MethodPost, "/api/v1/auth/login", "", `{"account":"alice","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/api/v1/auth/login", "", `{"account":""}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing fields, got %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/api/v1/auth/login", "", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/auth/register", "", `{"account":"carol","password":"12345678","check_password":"12345678"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("register response must be the public profile")
	}

	rec = env.do(http.MethodPost, "/api/v1/auth/register", "", `{"account":"carol","password":"12345678","check_password":"x"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestMeAndLogout(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/auth/me", "alice-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "555-0100") {
		t.Error("callers see their own phone number")
	}

	rec = env.do(http.MethodPost, "/api/v1/auth/logout", "alice-token", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(env.accounts.loggedOut) != 1 || env.accounts.loggedOut[0] != "alice-token" {
		t.Errorf("expected the session token to be revoked, got %v", env.accounts.loggedOut)
	}
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestMatchParams(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
		wantN      int
	}{
		{"default count", "", nil, http.StatusOK, 10},
		{"explicit count", "?num=3", nil, http.StatusOK, 3},
		{"not a number", "?num=abc", nil, http.StatusUnprocessableEntity, 0},
		{"service rejects range", "?num=99", match.ErrCountOutOfRange, http.StatusUnprocessableEntity, 99},
		{"system failure", "?num=5", apperr.System("failed to scan candidates", errors.New("pg: conn reset")), http.StatusInternalServerError, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.matcher.err = tt.err

			rec := env.do(http.MethodGet, "/api/v1/users/match"+tt.query, "alice-token", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantN != 0 && (env.matcher.lastID != "alice" || env.matcher.lastArgs[0] != tt.wantN) {
				t.Errorf("matcher called with %q %v", env.matcher.lastID, env.matcher.lastArgs)
			}
			if tt.wantStatus == http.StatusInternalServerError {
				detail := decodeError(t, rec)
				if detail.Code != "internal_error" || strings.Contains(detail.Message, "conn reset") {
					t.Errorf("system errors must not leak their cause: %+v", detail)
				}
			}
		})
	}
}

func TestRecommendPaging(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/users/recommend?page_size=20&page_num=3", "bob-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.matcher.lastID != "bob" || env.matcher.lastArgs[0] != 20 || env.matcher.lastArgs[1] != 3 {
		t.Errorf("unexpected recommend call %q %v", env.matcher.lastID, env.matcher.lastArgs)
	}
}

func TestSearchParsesTags(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/users/search?tags=go,%20rust&tags=java&page_size=5", "alice-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := []string{"go", "rust", "java"}
	if strings.Join(env.accounts.searchWant, "|") != strings.Join(want, "|") {
		t.Errorf("tags = %v, want %v", env.accounts.searchWant, want)
	}
	if env.accounts.searchPage != [2]int{5, 1} {
		t.Errorf("page = %v", env.accounts.searchPage)
	}
}

func TestGetUserHidesPrivateFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/users/alice", "bob-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "555-0100") {
		t.Error("other users must only see the public profile")
	}

	rec = env.do(http.MethodGet, "/api/v1/users/alice", "root-token", "")
	if !strings.Contains(rec.Body.String(), "555-0100") {
		t.Error("admins see the full profile")
	}
}

func TestUpdateOtherUserForbidden(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPut, "/api/v1/users/alice", "bob-token", `{"username":"mallory"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = env.do(http.MethodPut, "/api/v1/users/alice/tags", "alice-token", `{"tags":["go","sql"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Teams
// ---------------------------------------------------------------------------

func TestCreateTeam(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/teams", "alice-token", `{"name":"Hiking","max_num":5,"status":2,"password":"pw"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "hash") {
		t.Error("password hash must not be rendered")
	}
	if !strings.Contains(body, `"owner_id":"alice"`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestJoinTeam(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodPost, "/api/v1/teams/t1/join", "bob-token", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"success":true`) {
			t.Errorf("unexpected body %s", rec.Body.String())
		}
	})

	t.Run("password forwarded", func(t *testing.T) {
		env := newTestEnv(t)
		env.do(http.MethodPost, "/api/v1/teams/t1/join", "bob-token", `{"password":"open sesame"}`)
		if env.admission.password != "open sesame" {
			t.Errorf("password = %q", env.admission.password)
		}
	})

	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{team.ErrTeamFull, http.StatusConflict, "conflict"},
		{team.ErrAlreadyMember, http.StatusConflict, "conflict"},
		{team.ErrTeamExpired, http.StatusGone, "expired"},
		{team.ErrTeamNotFound, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newTestEnv(t)
			env.admission.joinErr = tt.err
			rec := env.do(http.MethodPost, "/api/v1/teams/t1/join", "bob-token", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			detail := decodeError(t, rec)
			if detail.Code != tt.wantCode || detail.Message != tt.err.Error() {
				t.Errorf("unexpected error body %+v", detail)
			}
		})
	}
}

func TestQuitAndDisband(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(http.MethodPost, "/api/v1/teams/t1/quit", "bob-token", ""); rec.Code != http.StatusOK {
		t.Fatalf("quit: expected 200, got %d", rec.Code)
	}
	if rec := env.do(http.MethodDelete, "/api/v1/teams/t1", "bob-token", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("disband by non-owner: expected 403, got %d", rec.Code)
	}
	if rec := env.do(http.MethodDelete, "/api/v1/teams/t1", "alice-token", ""); rec.Code != http.StatusOK {
		t.Fatalf("disband by owner: expected 200, got %d", rec.Code)
	}
}

func TestUpdateTeam(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPut, "/api/v1/teams/t1", "alice-token", `{"name":"Renamed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"name":"Renamed"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestQueryTeamsFilter(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		check      func(t *testing.T, f team.Filter)
	}{
		{"status by name", "?status=secret&name=hike", http.StatusOK, func(t *testing.T, f team.Filter) {
			if f.Status == nil || *f.Status != team.StatusSecret || f.Name != "hike" {
				t.Errorf("unexpected filter %+v", f)
			}
		}},
		{"numeric status and ids", "?status=0&ids=" + teamA + "," + teamB + "&max_num=4", http.StatusOK, func(t *testing.T, f team.Filter) {
			if f.Status == nil || *f.Status != team.StatusPublic || len(f.IDs) != 2 || f.MaxNum != 4 {
				t.Errorf("unexpected filter %+v", f)
			}
		}},
		{"search text", "?search_text=weekend", http.StatusOK, func(t *testing.T, f team.Filter) {
			if f.SearchText != "weekend" || f.Status != nil {
				t.Errorf("unexpected filter %+v", f)
			}
		}},
		{"unknown status word", "?status=hidden", http.StatusUnprocessableEntity, nil},
		{"out of range status", "?status=7", http.StatusUnprocessableEntity, nil},
		{"bad max_num", "?max_num=x", http.StatusUnprocessableEntity, nil},
		{"malformed id", "?id=abc", http.StatusUnprocessableEntity, nil},
		{"one malformed in ids", "?ids=" + teamA + ",abc", http.StatusUnprocessableEntity, nil},
		{"malformed owner_id", "?owner_id=alice", http.StatusUnprocessableEntity, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodGet, "/api/v1/teams"+tt.query, "alice-token", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.check != nil {
				tt.check(t, env.views.lastFilter)
			}
		})
	}
}

func TestMineRoutesAreNotTeamIDs(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/v1/teams/mine/created", "/api/v1/teams/mine/joined"} {
		rec := env.do(http.MethodGet, path, "alice-token", "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"teams":[]`) {
			t.Errorf("%s: expected an empty list, got %s", path, rec.Body.String())
		}
	}
}

func TestTeamActivity(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		query      string
		wantStatus int
	}{
		{"owner", "alice-token", "?limit=10", http.StatusOK},
		{"admin", "root-token", "", http.StatusOK},
		{"member", "bob-token", "", http.StatusForbidden},
		{"bad limit", "alice-token", "?limit=500", http.StatusUnprocessableEntity},
		{"bad cursor", "alice-token", "?cursor=bad", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodGet, "/api/v1/teams/t1/activity"+tt.query, tt.token, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK && !strings.Contains(rec.Body.String(), `"next_cursor":"next-page"`) {
				t.Errorf("expected next cursor, got %s", rec.Body.String())
			}
		})
	}

	env := newTestEnv(t)
	if rec := env.do(http.MethodGet, "/api/v1/teams/missing/activity", "alice-token", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing team: expected 404, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(http.MethodPost, "/api/v1/admin/warmup", "alice-token", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin warmup: expected 403, got %d", rec.Code)
	}
	if env.warmer.runs != 0 {
		t.Fatal("warm-up must not run for non-admins")
	}

	rec := env.do(http.MethodPost, "/api/v1/admin/warmup", "root-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin warmup: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"users":3`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	if rec := env.do(http.MethodDelete, "/api/v1/admin/cache/"+bobUUID, "root-token", ""); rec.Code != http.StatusOK {
		t.Fatalf("invalidate: expected 200, got %d", rec.Code)
	}
	if len(env.cache.ids) != 1 || env.cache.ids[0] != bobUUID {
		t.Errorf("expected bob's cache to be dropped, got %v", env.cache.ids)
	}

	rec = env.do(http.MethodDelete, "/api/v1/admin/cache/bob", "root-token", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("malformed user id: expected 404, got %d", rec.Code)
	}
	if len(env.cache.ids) != 1 {
		t.Errorf("malformed user id must not reach the cache, got %v", env.cache.ids)
	}
}

// ---------------------------------------------------------------------------
// writeError / writeJSON / readJSON helpers
// ---------------------------------------------------------------------------

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusNotFound, "not_found", "resource not found")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
	if got := decodeError(t, rec); got.Code != "not_found" || got.Message != "resource not found" {
		t.Errorf("unexpected envelope %+v", got)
	}
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{apperr.New(apperr.InvalidArgument, "bad"), http.StatusUnprocessableEntity, "invalid_argument"},
		{apperr.New(apperr.Unauthorized, "no"), http.StatusForbidden, "forbidden"},
		{errors.New("unclassified"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeAppError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
		if rec.Code != tt.wantStatus {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.wantStatus, rec.Code)
		}
		if got := decodeError(t, rec); got.Code != tt.wantCode {
			t.Errorf("%v: expected code %q, got %q", tt.err, tt.wantCode, got.Code)
		}
	}
}

func TestReadOptionalJSON(t *testing.T) {
	var v struct{ Password string }

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := readOptionalJSON(req, &v); err != nil {
		t.Errorf("empty body should be accepted: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{bad"))
	if err := readOptionalJSON(req, &v); err == nil {
		t.Error("malformed body should be rejected")
	}
}
