package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alecgard/huddle/internal/lock"
	"golang.org/x/sync/errgroup"
)

const warmupLockKey = "warmup"

// DefaultWarmupLease is how long a warm-up pass holds its lease unless
// SetLeaseTTL says otherwise. The lease is not renewed, so it must outlast
// the longest expected pass.
const DefaultWarmupLease = time.Hour

// IDLister lists every user that should have a warm recommendation set.
type IDLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// TryLocker takes a lease of the given lifetime without waiting.
// *lock.Locker implements it.
type TryLocker interface {
	TryAcquireFor(ctx context.Context, key string, ttl time.Duration) (*lock.Lease, error)
}

// WarmupResult summarizes one warm-up run.
type WarmupResult struct {
	Skipped bool
	Users   int
	Failed  int64
}

// Warmer periodically refreshes every user's recommendation set so the first
// request of the day is served from cache. Only one instance runs a pass at
// a time; the others skip.
type Warmer struct {
	svc         *Service
	users       IDLister
	locker      TryLocker
	interval    time.Duration
	leaseTTL    time.Duration
	concurrency int
	logger      *slog.Logger
	done        chan struct{}
}

// NewWarmer creates a Warmer. An interval of zero disables Start.
func NewWarmer(svc *Service, users IDLister, locker TryLocker, interval time.Duration, concurrency int, logger *slog.Logger) *Warmer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		svc:         svc,
		users:       users,
		locker:      locker,
		interval:    interval,
		leaseTTL:    DefaultWarmupLease,
		concurrency: concurrency,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// SetLeaseTTL sets how long a pass may hold the warm-up lease. Non-positive
// values are ignored.
func (w *Warmer) SetLeaseTTL(d time.Duration) {
	if d > 0 {
		w.leaseTTL = d
	}
}

// Start runs a pass on every tick until Stop is called or ctx is done.
func (w *Warmer) Start(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Run(ctx); err != nil {
				w.logger.Error("recommendation warm-up failed", "error", err)
			}
		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

// Stop signals the background goroutine to exit.
func (w *Warmer) Stop() {
	close(w.done)
}

// Run performs one pass. Failures for individual users are logged and
// counted; they do not abort the pass.
func (w *Warmer) Run(ctx context.Context) (WarmupResult, error) {
	lease, err := w.locker.TryAcquireFor(ctx, warmupLockKey, w.leaseTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		w.logger.Info("recommendation warm-up already running elsewhere, skipping")
		return WarmupResult{Skipped: true}, nil
	}
	if err != nil {
		return WarmupResult{}, fmt.Errorf("taking warm-up lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			w.logger.Warn("releasing warm-up lock", "error", err)
		}
	}()

	ids, err := w.users.ListIDs(ctx)
	if err != nil {
		return WarmupResult{}, fmt.Errorf("listing users: %w", err)
	}

	start := time.Now()
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := w.svc.RefreshRecommend(gctx, id); err != nil {
				failed.Add(1)
				w.logger.Warn("warming recommendations", "user_id", id, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WarmupResult{}, err
	}

	res := WarmupResult{Users: len(ids), Failed: failed.Load()}
	w.logger.Info("recommendation warm-up complete",
		"users", res.Users, "failed", res.Failed, "duration", time.Since(start))
	return res, nil
}
