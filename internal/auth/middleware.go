package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey int

const (
	userContextKey contextKey = iota
	tokenContextKey
)

// ContextWithUser returns a new context carrying the given user.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext extracts the user from the context, or nil if not present.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey).(*User)
	return user
}

// TokenFromContext returns the session token the request authenticated with.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// Recorder is an optional hook for counting authentication outcomes.
type Recorder interface {
	IncAuthFailure(authType string)
	IncAuthSuccess(authType string)
}

// MemberAuthMiddleware validates the session token and injects the user into
// context. Any role is accepted.
func MemberAuthMiddleware(sessions SessionLookup, rec Recorder) func(http.Handler) http.Handler {
	return sessionMiddleware(sessions, rec, false)
}

// AdminSessionMiddleware validates the session token and requires the admin
// role.
func AdminSessionMiddleware(sessions SessionLookup, rec Recorder) func(http.Handler) http.Handler {
	return sessionMiddleware(sessions, rec, true)
}

func sessionMiddleware(sessions SessionLookup, rec Recorder, adminOnly bool) func(http.Handler) http.Handler {
	fail := func(kind string) {
		if rec != nil {
			rec.IncAuthFailure(kind)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r)
			if token == "" {
				fail("missing")
				writeUnauthorized(w, "missing or malformed authorization header")
				return
			}

			user, err := sessions.LookupSession(r.Context(), token)
			if err != nil || user == nil {
				fail("session")
				writeUnauthorized(w, "invalid or expired session")
				return
			}
			if adminOnly && !user.IsAdmin() {
				fail("admin")
				writeForbidden(w, "admin access required")
				return
			}

			if rec != nil {
				rec.IncAuthSuccess("session")
			}

			ctx := ContextWithUser(r.Context(), user)
			ctx = context.WithValue(ctx, tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractBearerToken returns the bearer token from the Authorization header,
// or "" if there is none.
func ExtractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "unauthorized",
			Message: message,
		},
	})
}

func writeForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "forbidden",
			Message: message,
		},
	})
}
