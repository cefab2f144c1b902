package api

import "net/http"

// wellKnownManifest is the static JSON manifest for /.well-known/huddle.json.
const wellKnownManifest = `{
  "name": "Huddle",
  "description": "Partner matching and team formation",
  "version": "0.1.0",
  "api_base": "/api/v1",
  "auth": {
    "type": "bearer",
    "header": "Authorization",
    "login": "/api/v1/auth/login"
  },
  "endpoints": {
    "match": "/api/v1/users/match",
    "recommend": "/api/v1/users/recommend",
    "search": "/api/v1/users/search",
    "hot_tags": "/api/v1/users/tags/hot",
    "teams": "/api/v1/teams",
    "teams_created": "/api/v1/teams/mine/created",
    "teams_joined": "/api/v1/teams/mine/joined"
  },
  "health": "/health"
}`

// WellKnownHandler returns the static Huddle well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}
