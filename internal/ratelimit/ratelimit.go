// Package ratelimit implements fixed-window token-bucket admission control
// over a pluggable store. The limiter fails open: an unreachable store must
// never turn into a full outage.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/paddockhq/governance/internal/httperr"
)

// Result reports bucket state after an admission check.
type Result struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Store holds rate-limit buckets. Take performs one admission check for key:
// a missing or expired bucket is treated as fresh with limit tokens; an empty
// bucket rejects without mutating state; otherwise one token is consumed.
// The whole sequence is a single atomic operation at the store.
type Store interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (remaining int, resetAt time.Time, allowed bool, err error)
}

type Limiter struct {
	store Store
	log   zerolog.Logger
}

func New(store Store, log zerolog.Logger) *Limiter {
	return &Limiter{store: store, log: log.With().Str("component", "ratelimit").Logger()}
}

// Check admits or rejects one call against the scope:identifier bucket.
// A rejection is returned as *httperr.Error with a retry-after hint of at
// least one second. Store failures (or a nil store) log a warning and admit
// the call with the full limit reported as remaining.
func (l *Limiter) Check(ctx context.Context, scope, identifier string, limit int, window time.Duration) (Result, error) {
	key := scope + ":" + identifier

	if l.store == nil {
		l.log.Warn().Str("key", key).Msg("rate limit store not configured, failing open")
		return l.failOpen(limit, window), nil
	}

	remaining, resetAt, allowed, err := l.store.Take(ctx, key, limit, window)
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("rate limit store unavailable, failing open")
		return l.failOpen(limit, window), nil
	}

	result := Result{Limit: limit, Remaining: remaining, ResetAt: resetAt}
	if !allowed {
		retryAfter := time.Until(resetAt)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return result, httperr.RateLimited(retryAfter)
	}
	return result, nil
}

func (l *Limiter) failOpen(limit int, window time.Duration) Result {
	return Result{Limit: limit, Remaining: limit, ResetAt: time.Now().Add(window)}
}
