package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddockhq/governance/internal/httperr"
)

func newRedisLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)

	store := &RedisStore{client: redis.NewClient(&redis.Options{Addr: srv.Addr()})}
	return New(store, zerolog.Nop()), srv
}

func TestCheckAdmitsUpToLimit(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()

	// Scenario: limit=3 within one 60s window.
	wantRemaining := []int{2, 1, 0}
	for i, want := range wantRemaining {
		res, err := limiter.Check(ctx, "chat", "org-1", 3, 60*time.Second)
		require.NoError(t, err, "call %d should be admitted", i+1)
		assert.Equal(t, want, res.Remaining)
		assert.Equal(t, 3, res.Limit)
	}

	res, err := limiter.Check(ctx, "chat", "org-1", 3, 60*time.Second)
	require.Error(t, err)

	he := httperr.From(err)
	assert.Equal(t, httperr.CodeRateLimited, he.Code)
	assert.GreaterOrEqual(t, he.RetryAfter, time.Second)
	assert.LessOrEqual(t, he.RetryAfter, 60*time.Second)
	assert.Equal(t, 0, res.Remaining)
}

func TestCheckInvariantTokensWithinBounds(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, _ := limiter.Check(ctx, "api", "user-7", 5, time.Minute)
		assert.GreaterOrEqual(t, res.Remaining, 0)
		assert.LessOrEqual(t, res.Remaining, 5)
	}
}

func TestCheckRejectionDoesNotConsumeState(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()

	_, err := limiter.Check(ctx, "chat", "org-2", 1, time.Minute)
	require.NoError(t, err)

	// Repeated rejections must keep reporting the same reset, not extend it.
	res1, err := limiter.Check(ctx, "chat", "org-2", 1, time.Minute)
	require.Error(t, err)
	res2, err := limiter.Check(ctx, "chat", "org-2", 1, time.Minute)
	require.Error(t, err)
	assert.Equal(t, res1.ResetAt, res2.ResetAt)
}

func TestCheckFreshWindowResetsToLimit(t *testing.T) {
	limiter := New(NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.Check(ctx, "chat", "org-3", 2, 50*time.Millisecond)
		require.NoError(t, err)
	}
	_, err := limiter.Check(ctx, "chat", "org-3", 2, 50*time.Millisecond)
	require.Error(t, err)

	time.Sleep(60 * time.Millisecond)

	res, err := limiter.Check(ctx, "chat", "org-3", 2, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remaining)
}

func TestCheckFailsOpenOnStoreOutage(t *testing.T) {
	limiter, srv := newRedisLimiter(t)
	srv.Close()

	res, err := limiter.Check(context.Background(), "chat", "org-4", 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Remaining)
}

func TestCheckFailsOpenWithoutStore(t *testing.T) {
	limiter := New(nil, zerolog.Nop())

	res, err := limiter.Check(context.Background(), "chat", "org-5", 4, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Remaining)
}

func TestSeparateBucketsPerScopeAndIdentifier(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()

	_, err := limiter.Check(ctx, "chat", "org-a", 1, time.Minute)
	require.NoError(t, err)
	_, err = limiter.Check(ctx, "chat", "org-a", 1, time.Minute)
	require.Error(t, err)

	// Different identifier and different scope both stay admitted.
	_, err = limiter.Check(ctx, "chat", "org-b", 1, time.Minute)
	require.NoError(t, err)
	_, err = limiter.Check(ctx, "embed", "org-a", 1, time.Minute)
	require.NoError(t, err)
}
