package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

func newRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBackend(client), mr
}

func TestBackends(t *testing.T) {
	redisBackend, _ := newRedisBackend(t)
	backends := map[string]Backend{
		"memory": NewMemoryBackend(),
		"redis":  redisBackend,
	}

	for name, b := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := b.Get(ctx, "absent")
			require.ErrorIs(t, err, ErrMiss)

			require.NoError(t, b.Set(ctx, "k1", []byte("v1"), time.Minute))
			require.NoError(t, b.Set(ctx, "k2", []byte("v2"), time.Minute))

			got, err := b.Get(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), got)

			require.NoError(t, b.Delete(ctx, "k1", "k2", "never-set"))
			_, err = b.Get(ctx, "k2")
			assert.ErrorIs(t, err, ErrMiss)

			assert.NoError(t, b.Delete(ctx))
		})
	}
}

func TestMemoryBackendExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewMemoryBackend()
	b.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), 5*time.Minute))

	now = now.Add(4 * time.Minute)
	_, err := b.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryBackendCopiesValues(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	val := []byte("abc")
	require.NoError(t, b.Set(ctx, "k", val, 0))
	val[0] = 'x'

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRecommendationsKeysAndTTL(t *testing.T) {
	backend, mr := newRedisBackend(t)
	r := NewRecommendations(backend, Options{Prefix: "huddle:"})
	ctx := context.Background()

	assert.Equal(t, "huddle:match:u1", r.MatchKey("u1"))
	assert.Equal(t, "huddle:recommend:u1", r.RecommendKey("u1"))

	require.NoError(t, r.StoreMatch(ctx, "u1", []profile{{ID: "u2"}}))
	require.NoError(t, r.StoreRecommend(ctx, "u1", []profile{{ID: "u3"}}))

	assert.Equal(t, 5*time.Minute, mr.TTL("huddle:match:u1"))
	assert.Equal(t, 12*time.Hour, mr.TTL("huddle:recommend:u1"))

	mr.FastForward(5 * time.Minute)

	var matches []profile
	ok, err := r.LoadMatch(ctx, "u1", &matches)
	require.NoError(t, err)
	assert.False(t, ok, "match entry should have expired")

	var recs []profile
	ok, err = r.LoadRecommend(ctx, "u1", &recs)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []profile{{ID: "u3"}}, recs)
}

func TestInvalidateDropsBothEntries(t *testing.T) {
	r := NewRecommendations(NewMemoryBackend(), Options{})
	ctx := context.Background()

	require.NoError(t, r.StoreMatch(ctx, "u1", []profile{{ID: "u2", Tags: []string{"go"}}}))
	require.NoError(t, r.StoreRecommend(ctx, "u1", []profile{{ID: "u2"}}))
	require.NoError(t, r.StoreMatch(ctx, "u9", []profile{{ID: "u2"}}))

	require.NoError(t, r.Invalidate(ctx, "u1"))

	var out []profile
	ok, err := r.LoadMatch(ctx, "u1", &out)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.LoadRecommend(ctx, "u1", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.LoadMatch(ctx, "u9", &out)
	require.NoError(t, err)
	assert.True(t, ok, "other users' entries must survive")
}

type failingBackend struct{ err error }

func (f failingBackend) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return f.err
}
func (f failingBackend) Delete(context.Context, ...string) error { return f.err }

func TestRecommendationsPropagatesBackendErrors(t *testing.T) {
	down := errors.New("connection refused")
	r := NewRecommendations(failingBackend{err: down}, Options{})
	ctx := context.Background()

	var out []profile
	_, err := r.LoadMatch(ctx, "u1", &out)
	assert.ErrorIs(t, err, down)
	assert.ErrorIs(t, r.StoreRecommend(ctx, "u1", out), down)
	assert.ErrorIs(t, r.Invalidate(ctx, "u1"), down)
}

func TestLoadCorruptEntry(t *testing.T) {
	b := NewMemoryBackend()
	r := NewRecommendations(b, Options{})
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, r.MatchKey("u1"), []byte("{not json"), time.Minute))

	var out []profile
	ok, err := r.LoadMatch(ctx, "u1", &out)
	assert.False(t, ok)
	assert.Error(t, err)
}
