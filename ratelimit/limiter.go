// Package ratelimit implements shared token-bucket rate limiting backed by
// Redis. Buckets are keyed by name so independent workers draw from the
// same capacity; the refill/consume step runs as a single server-side Lua
// script, which makes concurrent acquires safe without locks.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pithecene-io/assay/log"
)

// ErrAcquireTimeout is returned when a bucket did not yield the requested
// tokens before the deadline. Callers treat it as a transient failure.
var ErrAcquireTimeout = errors.New("rate limit acquire timed out")

// keyPrefix namespaces bucket keys in Redis.
const keyPrefix = "rate_limit:"

// bucketTTLSeconds garbage-collects idle buckets. A recreated bucket
// reinitializes to full burst, so the TTL is a cache hint, not semantics.
const bucketTTLSeconds = 60

// defaultPollInterval is how long an unsatisfied acquire sleeps between
// script attempts.
const defaultPollInterval = 100 * time.Millisecond

// acquireScript atomically refills and consumes one bucket.
//
// State is a hash {tokens, last_update}. Refill moves last_update forward
// by whole refill intervals only, so fractional accrual is never lost
// between polls. The refreshed state is persisted even when the request
// cannot be satisfied.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local requested = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local interval = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_update')
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now

local elapsed = now - last
if elapsed < 0 then
  elapsed = 0
  last = now
end

tokens = math.min(burst, tokens + math.floor(elapsed / interval))
last = now - (elapsed % interval)

local granted = 0
if tokens >= requested then
  tokens = tokens - requested
  granted = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_update', last)
redis.call('EXPIRE', key, ttl)
return granted
`)

// Bucket is the capacity configuration for one named bucket.
type Bucket struct {
	// QPS is the refill rate in tokens per second.
	QPS float64
	// Burst is the bucket capacity.
	Burst int
}

// Limiter coordinates named token buckets in Redis.
type Limiter struct {
	client  redis.UniversalClient
	buckets map[string]Bucket
	// fallback applies to names without a registered bucket.
	fallback Bucket
	poll     time.Duration
	logger   *log.Logger

	// now is injectable for deterministic refill tests.
	now func() time.Time
}

// New creates a Limiter with the given named buckets.
// Names without an entry fall back to a 5 qps / 10 burst bucket.
func New(client redis.UniversalClient, buckets map[string]Bucket, logger *log.Logger) *Limiter {
	if buckets == nil {
		buckets = map[string]Bucket{}
	}
	return &Limiter{
		client:   client,
		buckets:  buckets,
		fallback: Bucket{QPS: 5, Burst: 10},
		poll:     defaultPollInterval,
		logger:   logger,
		now:      time.Now,
	}
}

// Register adds or replaces a named bucket.
func (l *Limiter) Register(name string, b Bucket) {
	l.buckets[name] = b
}

func (l *Limiter) bucketFor(name string) Bucket {
	if b, ok := l.buckets[name]; ok {
		return b
	}
	return l.fallback
}

// TryAcquire attempts to take n tokens from the named bucket without
// blocking. It reports whether the tokens were granted.
func (l *Limiter) TryAcquire(ctx context.Context, name string, n int) (bool, error) {
	b := l.bucketFor(name)
	if b.QPS <= 0 || b.Burst <= 0 {
		return false, fmt.Errorf("bucket %q has no capacity (qps=%v burst=%d)", name, b.QPS, b.Burst)
	}

	now := float64(l.now().UnixNano()) / 1e9
	interval := 1.0 / b.QPS

	res, err := acquireScript.Run(ctx, l.client,
		[]string{keyPrefix + name},
		now, n, b.Burst, interval, bucketTTLSeconds,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script for %q: %w", name, err)
	}
	return res == 1, nil
}

// Acquire blocks until n tokens are granted from the named bucket or the
// timeout elapses. Cancellation of ctx wakes the poll loop promptly.
//
// Returns nil on success, ErrAcquireTimeout when the deadline passes, or
// the context/Redis error.
func (l *Limiter) Acquire(ctx context.Context, name string, n int, timeout time.Duration) error {
	deadline := l.now().Add(timeout)

	for {
		ok, err := l.TryAcquire(ctx, name, n)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if !l.now().Before(deadline) {
			l.logger.Warn("rate_limit_timeout", map[string]any{
				"bucket":  name,
				"tokens":  n,
				"timeout": timeout.String(),
			})
			return fmt.Errorf("bucket %q: %w", name, ErrAcquireTimeout)
		}

		wait := l.poll
		if remaining := deadline.Sub(l.now()); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
