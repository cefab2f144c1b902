package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Recommendations is the typed view over a Backend used by the matcher and
// the recommender. Both entries for a user are derived from that user's
// profile, so Invalidate always drops them together.
type Recommendations struct {
	backend      Backend
	prefix       string
	matchTTL     time.Duration
	recommendTTL time.Duration
}

// Options configures key prefix and entry lifetimes.
type Options struct {
	Prefix       string
	MatchTTL     time.Duration
	RecommendTTL time.Duration
}

// NewRecommendations wraps backend. Zero TTLs fall back to 5 minutes for
// matches and 12 hours for recommendations.
func NewRecommendations(backend Backend, opts Options) *Recommendations {
	if opts.MatchTTL <= 0 {
		opts.MatchTTL = 5 * time.Minute
	}
	if opts.RecommendTTL <= 0 {
		opts.RecommendTTL = 12 * time.Hour
	}
	return &Recommendations{
		backend:      backend,
		prefix:       opts.Prefix,
		matchTTL:     opts.MatchTTL,
		recommendTTL: opts.RecommendTTL,
	}
}

// MatchKey returns the key holding userID's match result.
func (r *Recommendations) MatchKey(userID string) string {
	return r.prefix + "match:" + userID
}

// RecommendKey returns the key holding userID's recommendation set.
func (r *Recommendations) RecommendKey(userID string) string {
	return r.prefix + "recommend:" + userID
}

// LoadMatch decodes userID's cached match result into dst. It reports false
// on a miss.
func (r *Recommendations) LoadMatch(ctx context.Context, userID string, dst any) (bool, error) {
	return r.load(ctx, r.MatchKey(userID), dst)
}

// StoreMatch caches a match result for userID.
func (r *Recommendations) StoreMatch(ctx context.Context, userID string, v any) error {
	return r.store(ctx, r.MatchKey(userID), v, r.matchTTL)
}

// LoadRecommend decodes userID's cached recommendation set into dst.
func (r *Recommendations) LoadRecommend(ctx context.Context, userID string, dst any) (bool, error) {
	return r.load(ctx, r.RecommendKey(userID), dst)
}

// StoreRecommend caches a recommendation set for userID.
func (r *Recommendations) StoreRecommend(ctx context.Context, userID string, v any) error {
	return r.store(ctx, r.RecommendKey(userID), v, r.recommendTTL)
}

// Invalidate drops every entry derived from userID's profile.
func (r *Recommendations) Invalidate(ctx context.Context, userID string) error {
	if err := r.backend.Delete(ctx, r.MatchKey(userID), r.RecommendKey(userID)); err != nil {
		return fmt.Errorf("invalidating cache for user %s: %w", userID, err)
	}
	return nil
}

func (r *Recommendations) load(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := r.backend.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decoding cache entry %s: %w", key, err)
	}
	return true, nil
}

func (r *Recommendations) store(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache entry %s: %w", key, err)
	}
	return r.backend.Set(ctx, key, raw, ttl)
}
