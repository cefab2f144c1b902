// Package lock provides leased mutual exclusion across service instances.
//
// A lease is held under a random token and expires on its own after the
// configured TTL, so a crashed holder cannot block others forever. Release
// only succeeds for the token that acquired the lease.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotAcquired is returned when the key is held by someone else and
	// the caller asked not to wait (or ran out of attempts).
	ErrNotAcquired = errors.New("lock not acquired")

	// ErrNotHeld is returned by Release when the lease has already expired
	// or been taken over.
	ErrNotHeld = errors.New("lock not held")
)

// Store is the primitive a Locker is built on.
type Store interface {
	// TryAcquire sets key to token if key is free. It reports whether the
	// caller now holds the key.
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release deletes key only if it still holds token.
	Release(ctx context.Context, key, token string) (bool, error)
}

// MetricsRecorder is an optional hook for lock outcomes.
type MetricsRecorder interface {
	IncLockAcquisition(outcome string)
}

// Options tunes lease lifetime and the retry policy.
type Options struct {
	Prefix      string
	LeaseTTL    time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Locker hands out leases over a Store.
type Locker struct {
	store   Store
	opts    Options
	metrics MetricsRecorder

	sleep    func(ctx context.Context, d time.Duration) error // for testing
	newToken func() string
}

// New returns a Locker. Zero options take the defaults: 10s leases and up
// to 50 attempts backing off from 10ms to 200ms.
func New(store Store, opts Options) *Locker {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 50
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 10 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = 200 * time.Millisecond
		if opts.MaxDelay < opts.BaseDelay {
			opts.MaxDelay = opts.BaseDelay
		}
	}
	return &Locker{
		store:    store,
		opts:     opts,
		sleep:    sleepCtx,
		newToken: uuid.NewString,
	}
}

// SetMetrics sets the optional metrics recorder.
func (l *Locker) SetMetrics(m MetricsRecorder) {
	l.metrics = m
}

// Lease is a held lock. Release it exactly once, typically in a defer.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Key returns the full store key of the lease.
func (l *Lease) Key() string { return l.key }

// Release gives the lease back. It returns ErrNotHeld if the lease expired
// and someone else may have acquired the key since.
func (l *Lease) Release(ctx context.Context) error {
	ok, err := l.locker.store.Release(ctx, l.key, l.token)
	if err != nil {
		return fmt.Errorf("releasing %s: %w", l.key, err)
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}

// TryAcquire makes a single attempt on key.
func (l *Locker) TryAcquire(ctx context.Context, key string) (*Lease, error) {
	return l.TryAcquireFor(ctx, key, l.opts.LeaseTTL)
}

// TryAcquireFor is TryAcquire with a lease lifetime of ttl instead of the
// configured one, for holders that outlast a normal critical section.
func (l *Locker) TryAcquireFor(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = l.opts.LeaseTTL
	}
	lease, err := l.attempt(ctx, key, ttl)
	if err != nil {
		l.record("error")
		return nil, err
	}
	if lease == nil {
		l.record("busy")
		return nil, ErrNotAcquired
	}
	l.record("acquired")
	return lease, nil
}

// Acquire retries key with exponential backoff until it is acquired, the
// attempts run out (ErrNotAcquired) or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	delay := l.opts.BaseDelay
	for i := 0; i < l.opts.MaxAttempts; i++ {
		lease, err := l.attempt(ctx, key, l.opts.LeaseTTL)
		if err != nil {
			l.record("error")
			return nil, err
		}
		if lease != nil {
			l.record("acquired")
			return lease, nil
		}
		if i == l.opts.MaxAttempts-1 {
			break
		}
		if err := l.sleep(ctx, delay); err != nil {
			l.record("canceled")
			return nil, err
		}
		delay = min(delay*2, l.opts.MaxDelay)
	}
	l.record("exhausted")
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrNotAcquired, key, l.opts.MaxAttempts)
}

// AcquireAll acquires keys in the given order. If any key fails, the leases
// already held are released before returning. Callers must use a fixed
// global key order to avoid deadlock.
func (l *Locker) AcquireAll(ctx context.Context, keys ...string) ([]*Lease, error) {
	leases := make([]*Lease, 0, len(keys))
	for _, k := range keys {
		lease, err := l.Acquire(ctx, k)
		if err != nil {
			ReleaseAll(context.WithoutCancel(ctx), leases)
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

// ReleaseAll releases leases in reverse order and returns the first error.
func ReleaseAll(ctx context.Context, leases []*Lease) error {
	var first error
	for i := len(leases) - 1; i >= 0; i-- {
		if err := leases[i].Release(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (l *Locker) attempt(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	full := l.opts.Prefix + key
	token := l.newToken()
	ok, err := l.store.TryAcquire(ctx, full, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", full, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{locker: l, key: full, token: token}, nil
}

func (l *Locker) record(outcome string) {
	if l.metrics != nil {
		l.metrics.IncLockAcquisition(outcome)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
