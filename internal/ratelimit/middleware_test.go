package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alecgard/huddle/internal/auth"
)

type stubChecker struct {
	decision Decision
	err      error
	keys     []string
}

func (s *stubChecker) Check(_ context.Context, key string) (Decision, error) {
	s.keys = append(s.keys, key)
	return s.decision, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(u *auth.User) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/users/match", nil)
	if u != nil {
		r = r.WithContext(auth.ContextWithUser(r.Context(), u))
	}
	return r
}

func TestMiddlewareAllows(t *testing.T) {
	reset := time.Unix(1_800_000_000, 0)
	checker := &stubChecker{decision: Decision{Allowed: true, Limit: 10, Remaining: 9, ResetAt: reset}}
	rr := httptest.NewRecorder()

	Middleware(checker)(okHandler()).ServeHTTP(rr, requestAs(&auth.User{ID: "u1"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want 10", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("X-RateLimit-Remaining = %q, want 9", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1800000000" {
		t.Errorf("X-RateLimit-Reset = %q, want 1800000000", got)
	}
	if len(checker.keys) != 1 || checker.keys[0] != "u1" {
		t.Errorf("expected the limiter to be keyed by user id, got %v", checker.keys)
	}
}

func TestMiddlewareRejects(t *testing.T) {
	checker := &stubChecker{decision: Decision{Allowed: false, Limit: 1, ResetAt: time.Now()}}
	rejected := 0
	rr := httptest.NewRecorder()

	Middleware(checker, func() { rejected++ })(okHandler()).ServeHTTP(rr, requestAs(&auth.User{ID: "u1"}))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rejected != 1 {
		t.Errorf("expected onReject to run once, ran %d times", rejected)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Error.Code != "rate_limited" {
		t.Errorf("expected code rate_limited, got %q", body.Error.Code)
	}
}

func TestMiddlewareSkipsAnonymous(t *testing.T) {
	checker := &stubChecker{decision: Decision{Allowed: false}}
	rr := httptest.NewRecorder()

	Middleware(checker)(okHandler()).ServeHTTP(rr, requestAs(nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(checker.keys) != 0 {
		t.Errorf("limiter should not be consulted without a user")
	}
}

func TestMiddlewareFailsOpen(t *testing.T) {
	checker := &stubChecker{err: errors.New("redis down")}
	rr := httptest.NewRecorder()

	Middleware(checker)(okHandler()).ServeHTTP(rr, requestAs(&auth.User{ID: "u1"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when the limiter fails, got %d", rr.Code)
	}
}

func TestMiddlewareWithTokenBucket(t *testing.T) {
	l := New(2, time.Minute)
	h := Middleware(l)(okHandler())

	codes := make([]int, 3)
	for i := range codes {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, requestAs(&auth.User{ID: "u1"}))
		codes[i] = rr.Code
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != 429 {
		t.Fatalf("expected [200 200 429], got %v", codes)
	}
}
