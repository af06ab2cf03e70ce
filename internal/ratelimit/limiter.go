package ratelimit

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Strategy selects the windowing algorithm
type Strategy string

const (
	StrategyFixedWindow   Strategy = "fixed_window"
	StrategySlidingWindow Strategy = "sliding_window"
)

// Config defines one limit: at most Limit requests per Window
type Config struct {
	Strategy Strategy
	Limit    int
	Window   time.Duration
}

// Result is the outcome of one limiter check
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

const shardCount = 64

type entry struct {
	windowStart time.Time
	count       int
	timestamps  []time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Limiter tracks per-key request counters inside fixed or sliding windows.
// Keys are composite scope identifiers (tenant:chatbot, tenant:user, tier).
// Counters are created lazily on first use and live in a sharded store; the
// check is a single increment-and-compare under the shard lock so that N
// concurrent checks on one key can never admit more than Limit requests in a
// window. When a redis client is configured, the window state moves to redis
// and survives process restarts.
type Limiter struct {
	cfg       Config
	tiers     map[string]Config
	redis     *redis.Client
	keyPrefix string
	shards    [shardCount]*shard
	now       func() time.Time
}

// New creates a limiter with the default config and optional per-tier
// overrides. redis may be nil for purely in-process limiting.
func New(cfg Config, tiers map[string]Config, redisClient *redis.Client) *Limiter {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyFixedWindow
	}
	l := &Limiter{
		cfg:       cfg,
		tiers:     tiers,
		redis:     redisClient,
		keyPrefix: "automation:ratelimit",
		now:       time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return l
}

// Allow checks and consumes one request for key under the default config.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowTier(ctx, key, "")
}

// AllowTier checks and consumes one request for key, applying the tier's
// limit/window override when one is configured for that tier.
func (l *Limiter) AllowTier(ctx context.Context, key, tier string) (*Result, error) {
	cfg := l.configFor(tier)

	if l.redis != nil {
		res, err := l.allowDistributed(ctx, key, cfg)
		if err == nil {
			return res, nil
		}
		// Redis being down must not take automations with it; fall back to
		// the local window.
	}

	return l.allowLocal(key, cfg), nil
}

// Remaining reports how many requests key has left in the current window
// without consuming one.
func (l *Limiter) Remaining(ctx context.Context, key string) int {
	return l.RemainingTier(ctx, key, "")
}

// RemainingTier is Remaining with a tier override applied.
func (l *Limiter) RemainingTier(ctx context.Context, key, tier string) int {
	cfg := l.configFor(tier)
	now := l.now()

	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return cfg.Limit
	}

	switch cfg.Strategy {
	case StrategySlidingWindow:
		live := 0
		cutoff := now.Add(-cfg.Window)
		for _, ts := range e.timestamps {
			if ts.After(cutoff) {
				live++
			}
		}
		return max(cfg.Limit-live, 0)
	default:
		windowStart := now.Truncate(cfg.Window)
		if e.windowStart.Before(windowStart) {
			return cfg.Limit
		}
		return max(cfg.Limit-e.count, 0)
	}
}

// Reset clears the counter for key (administrative reset).
func (l *Limiter) Reset(ctx context.Context, key string) error {
	s := l.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	if l.redis != nil {
		pattern := fmt.Sprintf("%s:%s*", l.keyPrefix, key)
		iter := l.redis.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := l.redis.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to reset rate limit key: %w", err)
			}
		}
		return iter.Err()
	}
	return nil
}

func (l *Limiter) configFor(tier string) Config {
	if tier != "" {
		if override, ok := l.tiers[tier]; ok {
			if override.Strategy == "" {
				override.Strategy = l.cfg.Strategy
			}
			return override
		}
	}
	return l.cfg
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

func (l *Limiter) allowLocal(key string, cfg Config) *Result {
	now := l.now()
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}

	switch cfg.Strategy {
	case StrategySlidingWindow:
		cutoff := now.Add(-cfg.Window)
		live := e.timestamps[:0]
		for _, ts := range e.timestamps {
			if ts.After(cutoff) {
				live = append(live, ts)
			}
		}
		e.timestamps = live

		if len(e.timestamps) >= cfg.Limit {
			return &Result{
				Allowed:   false,
				Remaining: 0,
				ResetAt:   e.timestamps[0].Add(cfg.Window),
			}
		}
		e.timestamps = append(e.timestamps, now)
		return &Result{
			Allowed:   true,
			Remaining: cfg.Limit - len(e.timestamps),
			ResetAt:   e.timestamps[0].Add(cfg.Window),
		}

	default:
		windowStart := now.Truncate(cfg.Window)
		if e.windowStart.Before(windowStart) {
			e.windowStart = windowStart
			e.count = 0
		}

		resetAt := windowStart.Add(cfg.Window)
		if e.count >= cfg.Limit {
			return &Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
		}
		e.count++
		return &Result{
			Allowed:   true,
			Remaining: cfg.Limit - e.count,
			ResetAt:   resetAt,
		}
	}
}

func (l *Limiter) allowDistributed(ctx context.Context, key string, cfg Config) (*Result, error) {
	now := l.now()

	if cfg.Strategy == StrategySlidingWindow {
		return l.distributedSlidingWindow(ctx, key, cfg, now)
	}
	return l.distributedFixedWindow(ctx, key, cfg, now)
}

func (l *Limiter) distributedFixedWindow(ctx context.Context, key string, cfg Config, now time.Time) (*Result, error) {
	windowStart := now.Truncate(cfg.Window)
	windowKey := fmt.Sprintf("%s:%s:%d", l.keyPrefix, key, windowStart.Unix())

	script := `
		local key = KEYS[1]
		local limit = tonumber(ARGV[1])
		local window_size = tonumber(ARGV[2])

		local current = redis.call('GET', key)
		if current == false then
			current = 0
		else
			current = tonumber(current)
		end

		if current < limit then
			local new_val = redis.call('INCR', key)
			redis.call('EXPIRE', key, window_size)
			return {1, limit - new_val}
		else
			return {0, 0}
		end
	`

	result, err := l.redis.Eval(ctx, script, []string{windowKey},
		cfg.Limit, int(cfg.Window.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("fixed window script failed: %w", err)
	}

	resultSlice := result.([]interface{})
	allowed := resultSlice[0].(int64) == 1
	remaining := int(resultSlice[1].(int64))

	return &Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   windowStart.Add(cfg.Window),
	}, nil
}

func (l *Limiter) distributedSlidingWindow(ctx context.Context, key string, cfg Config, now time.Time) (*Result, error) {
	windowKey := fmt.Sprintf("%s:%s", l.keyPrefix, key)

	script := `
		local key = KEYS[1]
		local window_ms = tonumber(ARGV[1])
		local limit = tonumber(ARGV[2])
		local now = tonumber(ARGV[3])

		redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window_ms)

		local current = redis.call('ZCARD', key)

		if current < limit then
			redis.call('ZADD', key, now, now)
			redis.call('PEXPIRE', key, window_ms)
			return {1, limit - current - 1}
		else
			return {0, 0}
		end
	`

	result, err := l.redis.Eval(ctx, script, []string{windowKey},
		cfg.Window.Milliseconds(), cfg.Limit, now.UnixMilli()).Result()
	if err != nil {
		return nil, fmt.Errorf("sliding window script failed: %w", err)
	}

	resultSlice := result.([]interface{})
	allowed := resultSlice[0].(int64) == 1
	remaining := int(resultSlice[1].(int64))

	return &Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   now.Add(cfg.Window),
	}, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
