package api

import (
	"context"
	"net/http"
	"time"

	"github.com/alecgard/huddle/internal/auth"
	"github.com/alecgard/huddle/internal/metrics"
	"github.com/alecgard/huddle/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports database reachability. *pgxpool.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Accounts  Accounts
	Sessions  auth.SessionLookup
	Matcher   Matcher
	Teams     TeamAdmission
	TeamViews TeamViews
	Activity  ActivityLister
	Warmer    WarmupRunner
	Cache     CacheInvalidator

	// Limiter throttles authenticated API calls per user; LoginLimiter
	// throttles login attempts per client address. Either may be nil.
	Limiter      ratelimit.Checker
	LoginLimiter ratelimit.Checker

	Metrics        *metrics.Metrics
	DB             Pinger
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)

	// Optional recorders stay nil interfaces when metrics are disabled.
	var authRec auth.Recorder
	var rejectLogin, rejectAPI []func()
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
		authRec = deps.Metrics
		rejectLogin = append(rejectLogin, func() { deps.Metrics.IncRateLimitRejection("login") })
		rejectAPI = append(rejectAPI, func() { deps.Metrics.IncRateLimitRejection("user") })
	}

	authH := newAuthHandler(deps.Accounts)
	users := newUsersHandler(deps.Accounts, deps.Matcher)
	teams := newTeamsHandler(deps.Teams, deps.TeamViews, deps.Activity)
	admin := newAdminHandler(deps.Warmer, deps.Cache)

	r.Get("/health", healthHandler(deps.DB))
	r.Get("/.well-known/huddle.json", WellKnownHandler)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
		r.Get("/metrics/summary", deps.Metrics.Handler())
	}

	// Public (unauthenticated) routes.
	r.Group(func(pr chi.Router) {
		if deps.LoginLimiter != nil {
			pr.Use(loginThrottle(deps.LoginLimiter, rejectLogin...))
		}
		pr.Post("/api/v1/auth/register", authH.Register)
		pr.Post("/api/v1/auth/login", authH.Login)
	})

	// Session-authed routes.
	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(auth.MemberAuthMiddleware(deps.Sessions, authRec))
		if deps.Limiter != nil {
			ar.Use(ratelimit.Middleware(deps.Limiter, rejectAPI...))
		}

		ar.Post("/auth/logout", authH.Logout)
		ar.Get("/auth/me", authH.Me)

		ar.Get("/users/match", users.Match)
		ar.Get("/users/recommend", users.Recommend)
		ar.Get("/users/search", users.Search)
		ar.Get("/users/tags/hot", users.HotTags)
		ar.Get("/users/{id}", users.Get)
		ar.Put("/users/{id}", users.Update)
		ar.Put("/users/{id}/tags", users.UpdateTags)

		ar.Post("/teams", teams.Create)
		ar.Get("/teams", teams.Query)
		ar.Get("/teams/mine/created", teams.ListCreated)
		ar.Get("/teams/mine/joined", teams.ListJoined)
		ar.Get("/teams/{id}", teams.Get)
		ar.Put("/teams/{id}", teams.Update)
		ar.Delete("/teams/{id}", teams.Disband)
		ar.Post("/teams/{id}/join", teams.Join)
		ar.Post("/teams/{id}/quit", teams.Quit)
		ar.Get("/teams/{id}/activity", teams.Activity)

		// Admin routes (require the admin role on top of a session).
		ar.Route("/admin", func(adm chi.Router) {
			adm.Use(requireAdmin)
			adm.Post("/warmup", admin.Warmup)
			adm.Delete("/cache/{userID}", admin.InvalidateUser)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}

// healthHandler reports liveness and, when a database is configured, whether
// it answers a ping.
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "degraded",
					"database": "unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "connected",
		})
	}
}

// requireAdmin rejects callers without the admin role. It runs after the
// session middleware.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.UserFromContext(r.Context()).IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden", "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
