// Package match ranks users against each other: by tag similarity for
// "match me" and by popularity for recommendations. Both results are cached
// per requesting user.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alecgard/huddle/internal/apperr"
	"github.com/alecgard/huddle/internal/tags"
	"github.com/alecgard/huddle/internal/user"
	"github.com/jackc/pgx/v5"
)

const (
	// MaxMatches bounds the size of a match request. The cached result always
	// holds this many entries so any smaller request can be served from it.
	MaxMatches = 20

	// MaxPageSize bounds a recommendation page.
	MaxPageSize = 50
)

var (
	ErrCountOutOfRange = apperr.New(apperr.InvalidArgument, fmt.Sprintf("num must be between 1 and %d", MaxMatches))
	ErrPageInvalid     = apperr.New(apperr.InvalidArgument, fmt.Sprintf("page_size must be between 1 and %d and page_num at least 1", MaxPageSize))
	ErrUserNotFound    = apperr.New(apperr.NotFound, "user not found")
)

// UserSource is the read side of the user store used for ranking.
type UserSource interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*user.User, error)
	EachTagged(ctx context.Context, excludeID string, fn func(user.Candidate) error) error
	ListByPopularity(ctx context.Context, excludeID string, limit int) ([]*user.User, error)
}

// ResultCache stores computed rankings per requesting user.
// *cache.Recommendations implements it.
type ResultCache interface {
	LoadMatch(ctx context.Context, userID string, dst any) (bool, error)
	StoreMatch(ctx context.Context, userID string, v any) error
	LoadRecommend(ctx context.Context, userID string, dst any) (bool, error)
	StoreRecommend(ctx context.Context, userID string, v any) error
}

// MetricsRecorder is an optional interface for recording ranking metrics.
type MetricsRecorder interface {
	IncCacheLookup(cache, result string)
	IncCacheWriteError(cache string)
	ObserveMatchDuration(seconds float64, candidates int)
}

// Service computes match results and recommendation sets.
type Service struct {
	users    UserSource
	cache    ResultCache
	poolSize int
	logger   *slog.Logger
	metrics  MetricsRecorder
}

// NewService creates a Service. poolSize caps how many users a
// recommendation set holds.
func NewService(users UserSource, cache ResultCache, poolSize int, logger *slog.Logger) *Service {
	if poolSize <= 0 {
		poolSize = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, cache: cache, poolSize: poolSize, logger: logger}
}

// SetMetrics sets the optional metrics recorder.
func (s *Service) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// Match returns the n users whose tags are closest to the requester's, most
// similar first. Users without tags are never candidates.
func (s *Service) Match(ctx context.Context, requesterID string, n int) ([]user.Public, error) {
	if n < 1 || n > MaxMatches {
		return nil, ErrCountOutOfRange
	}

	var cached []user.Public
	if s.load(ctx, "match", requesterID, &cached, s.cache.LoadMatch) {
		return head(cached, n), nil
	}

	ranked, err := s.rank(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.StoreMatch(ctx, requesterID, ranked); err != nil {
		s.storeFailed("match", requesterID, err)
	}
	return head(ranked, n), nil
}

// Recommend returns one page of the requester's recommendation set: every
// other user ordered by popularity. The whole set is cached, so later pages
// within the TTL never reach the store.
func (s *Service) Recommend(ctx context.Context, requesterID string, pageSize, pageNum int) ([]user.Public, error) {
	if pageSize < 1 || pageSize > MaxPageSize || pageNum < 1 {
		return nil, ErrPageInvalid
	}

	var set []user.Public
	if !s.load(ctx, "recommend", requesterID, &set, s.cache.LoadRecommend) {
		var err error
		set, err = s.RefreshRecommend(ctx, requesterID)
		if err != nil {
			return nil, err
		}
	}
	return page(set, pageSize, pageNum), nil
}

// RefreshRecommend recomputes and caches the requester's recommendation set.
// A cache write failure is logged and the computed set is still returned.
func (s *Service) RefreshRecommend(ctx context.Context, requesterID string) ([]user.Public, error) {
	users, err := s.users.ListByPopularity(ctx, requesterID, s.poolSize)
	if err != nil {
		return nil, apperr.System("failed to load recommendations", err)
	}
	set := make([]user.Public, len(users))
	for i, u := range users {
		set[i] = u.Public()
	}
	if err := s.cache.StoreRecommend(ctx, requesterID, set); err != nil {
		s.storeFailed("recommend", requesterID, err)
	}
	return set, nil
}

// rank scores every tagged candidate against the requester and resolves the
// best MaxMatches to public profiles in rank order.
func (s *Service) rank(ctx context.Context, requesterID string) ([]user.Public, error) {
	start := time.Now()

	me, err := s.users.GetByID(ctx, requesterID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, apperr.System("failed to load user", err)
	}

	top := NewTopN[string](MaxMatches)
	scanned := 0
	err = s.users.EachTagged(ctx, requesterID, func(c user.Candidate) error {
		scanned++
		top.Offer(c.ID, tags.Distance(me.Tags, c.Tags))
		return nil
	})
	if err != nil {
		return nil, apperr.System("failed to scan candidates", err)
	}

	winners := top.Result()
	ids := make([]string, len(winners))
	for i, w := range winners {
		ids[i] = w.Item
	}

	byID, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.System("failed to load matched users", err)
	}

	out := make([]user.Public, 0, len(ids))
	for _, id := range ids {
		// A candidate deleted between the scan and the lookup is skipped.
		if u, ok := byID[id]; ok {
			out = append(out, u.Public())
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveMatchDuration(time.Since(start).Seconds(), scanned)
	}
	return out, nil
}

// load reads a cache entry. Read errors are logged and treated as a miss.
func (s *Service) load(ctx context.Context, name, userID string, dst any, fn func(context.Context, string, any) (bool, error)) bool {
	ok, err := fn(ctx, userID, dst)
	if err != nil {
		s.logger.Warn("cache read failed", "cache", name, "user_id", userID, "error", err)
		s.recordLookup(name, "error")
		return false
	}
	if ok {
		s.recordLookup(name, "hit")
	} else {
		s.recordLookup(name, "miss")
	}
	return ok
}

func (s *Service) storeFailed(name, userID string, err error) {
	s.logger.Error("cache write failed", "cache", name, "user_id", userID, "error", err)
	if s.metrics != nil {
		s.metrics.IncCacheWriteError(name)
	}
}

func (s *Service) recordLookup(name, result string) {
	if s.metrics != nil {
		s.metrics.IncCacheLookup(name, result)
	}
}

func head(list []user.Public, n int) []user.Public {
	if len(list) > n {
		return list[:n]
	}
	return list
}

func page(list []user.Public, size, num int) []user.Public {
	start := (num - 1) * size
	if start >= len(list) {
		return []user.Public{}
	}
	end := min(start+size, len(list))
	return list[start:end]
}
