package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mrlokans/authview/internal/config"
)

// AttemptLimiter locks out a client IP and email pair after repeated failed
// credential submissions. The provider enforces its own limits; this keeps
// obvious guessing from reaching it.
type AttemptLimiter interface {
	// Check returns how long the pair stays locked out, or zero.
	Check(ctx context.Context, ip, email string) (time.Duration, error)
	// Fail records a failure and returns the lockout it started, or zero.
	Fail(ctx context.Context, ip, email string) (time.Duration, error)
	// Reset forgets the failures of the pair.
	Reset(ctx context.Context, ip, email string) error
	Stop()
}

// LimitPolicy says how many failures inside Window start a Lockout.
type LimitPolicy struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

// NewLimitPolicy reads the policy from the auth settings, filling gaps with
// 5 attempts per 15 minutes and a 30 minute lockout.
func NewLimitPolicy(cfg config.Auth) LimitPolicy {
	return LimitPolicy{
		MaxAttempts: cfg.MaxLoginAttempts,
		Window:      cfg.RateLimitWindow,
		Lockout:     cfg.LockoutDuration,
	}.withDefaults()
}

func (p LimitPolicy) withDefaults() LimitPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.Window <= 0 {
		p.Window = 15 * time.Minute
	}
	if p.Lockout <= 0 {
		p.Lockout = 30 * time.Minute
	}
	return p
}

func limitKey(ip, email string) string {
	return ip + ":" + strings.ToLower(strings.TrimSpace(email))
}

// MemoryLimiter keeps failure windows in process memory. It suits a single
// instance; use RedisLimiter when several instances share a session store.
type MemoryLimiter struct {
	policy LimitPolicy
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]failureWindow

	done     chan struct{}
	stopOnce sync.Once
}

type failureWindow struct {
	failures    int
	opened      time.Time
	lockedUntil time.Time
}

// NewMemoryLimiter starts a limiter whose stale windows are swept once per
// policy window. Unset policy fields take the NewLimitPolicy defaults.
func NewMemoryLimiter(policy LimitPolicy) *MemoryLimiter {
	policy = policy.withDefaults()
	m := &MemoryLimiter{
		policy:  policy,
		now:     time.Now,
		windows: make(map[string]failureWindow),
		done:    make(chan struct{}),
	}
	go m.sweepLoop(policy.Window)
	return m
}

func (m *MemoryLimiter) Check(_ context.Context, ip, email string) (time.Duration, error) {
	now := m.now()

	m.mu.Lock()
	w, ok := m.windows[limitKey(ip, email)]
	m.mu.Unlock()

	if ok && now.Before(w.lockedUntil) {
		return w.lockedUntil.Sub(now), nil
	}
	return 0, nil
}

func (m *MemoryLimiter) Fail(_ context.Context, ip, email string) (time.Duration, error) {
	key := limitKey(ip, email)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.windows[key]
	if m.stale(w, now) {
		w = failureWindow{opened: now}
	}
	w.failures++

	var lockout time.Duration
	if w.failures >= m.policy.MaxAttempts {
		w.lockedUntil = now.Add(m.policy.Lockout)
		lockout = m.policy.Lockout
	}
	m.windows[key] = w
	return lockout, nil
}

func (m *MemoryLimiter) Reset(_ context.Context, ip, email string) error {
	m.mu.Lock()
	delete(m.windows, limitKey(ip, email))
	m.mu.Unlock()
	return nil
}

// Stop ends the sweep goroutine. Calling it twice is fine.
func (m *MemoryLimiter) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// stale reports whether w no longer counts: its window has passed and any
// lockout it started is over.
func (m *MemoryLimiter) stale(w failureWindow, now time.Time) bool {
	if w.opened.IsZero() {
		return true
	}
	if !w.lockedUntil.IsZero() {
		return !now.Before(w.lockedUntil)
	}
	return now.Sub(w.opened) > m.policy.Window
}

func (m *MemoryLimiter) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryLimiter) sweep() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, w := range m.windows {
		if m.stale(w, now) {
			delete(m.windows, key)
		}
	}
}

const (
	redisAttemptsPrefix = "authview:attempts:"
	redisLockoutPrefix  = "authview:lockout:"
)

// RedisLimiter shares failure counts between instances. The failure counter
// expires with the window and the lockout is a key with the lockout TTL.
type RedisLimiter struct {
	client redis.UniversalClient
	policy LimitPolicy
}

func NewRedisLimiter(client redis.UniversalClient, policy LimitPolicy) *RedisLimiter {
	return &RedisLimiter{client: client, policy: policy.withDefaults()}
}

func (r *RedisLimiter) Check(ctx context.Context, ip, email string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, redisLockoutPrefix+limitKey(ip, email)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis pttl: %w", err)
	}
	// Negative values mean the key is missing or has no TTL.
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (r *RedisLimiter) Fail(ctx context.Context, ip, email string) (time.Duration, error) {
	key := limitKey(ip, email)
	counter := redisAttemptsPrefix + key

	failures, err := r.client.Incr(ctx, counter).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	if failures == 1 {
		if err := r.client.PExpire(ctx, counter, r.policy.Window).Err(); err != nil {
			return 0, fmt.Errorf("redis pexpire: %w", err)
		}
	}
	if failures < int64(r.policy.MaxAttempts) {
		return 0, nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisLockoutPrefix+key, failures, r.policy.Lockout)
		pipe.Del(ctx, counter)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis lockout: %w", err)
	}
	return r.policy.Lockout, nil
}

func (r *RedisLimiter) Reset(ctx context.Context, ip, email string) error {
	key := limitKey(ip, email)
	err := r.client.Del(ctx, redisAttemptsPrefix+key, redisLockoutPrefix+key).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Stop is a no-op; the redis client is owned by the caller.
func (r *RedisLimiter) Stop() {}
