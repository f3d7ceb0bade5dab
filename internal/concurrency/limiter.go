// Package concurrency bounds in-flight calls per campaign. The dispatch queue
// gates selection on a slot, so one worker pool can serve many campaigns with
// different concurrency caps simultaneously.
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// SlotLimiter reserves and frees per-campaign dispatch slots.
type SlotLimiter interface {
	Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error)
	Release(ctx context.Context, campaignID uuid.UUID) error
}

// RedisLimiter coordinates slots across processes using Redis counters.
type RedisLimiter struct {
	client       *redis.Client
	defaultLimit int
	ttl          time.Duration
}

// NewRedisLimiter constructs a cross-process limiter.
func NewRedisLimiter(client *redis.Client, defaultLimit int, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLimiter{client: client, defaultLimit: defaultLimit, ttl: ttl}
}

// Acquire attempts to reserve a slot for the campaign. The check and the
// increment run in one Lua script so two workers never race past the cap.
func (l *RedisLimiter) Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error) {
	if campaignID == uuid.Nil {
		return true, nil
	}
	if limit <= 0 {
		limit = l.defaultLimit
	}
	if limit <= 0 {
		return true, nil
	}

	script := redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  current = redis.call('INCR', key)
  if ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

	key := l.key(campaignID)
	res, err := script.Run(ctx, l.client, []string{key}, limit, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("concurrency acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees a previously acquired slot.
func (l *RedisLimiter) Release(ctx context.Context, campaignID uuid.UUID) error {
	if campaignID == uuid.Nil {
		return nil
	}
	key := l.key(campaignID)
	script := redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 0 then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECR', key)
`)
	if _, err := script.Run(ctx, l.client, []string{key}).Int(); err != nil {
		return fmt.Errorf("concurrency release: %w", err)
	}
	return nil
}

func (l *RedisLimiter) key(campaignID uuid.UUID) string {
	return fmt.Sprintf("dispatch:campaign:%s:active", campaignID.String())
}

// LocalLimiter tracks slots in process memory. Used by tests and single-node
// deployments where Redis coordination buys nothing.
type LocalLimiter struct {
	mu     sync.Mutex
	active map[uuid.UUID]int
}

// NewLocalLimiter constructs an in-process limiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{active: make(map[uuid.UUID]int)}
}

// Acquire reserves a slot if the campaign is below its cap.
func (l *LocalLimiter) Acquire(_ context.Context, campaignID uuid.UUID, limit int) (bool, error) {
	if campaignID == uuid.Nil || limit <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[campaignID] >= limit {
		return false, nil
	}
	l.active[campaignID]++
	return true, nil
}

// Release frees a slot.
func (l *LocalLimiter) Release(_ context.Context, campaignID uuid.UUID) error {
	if campaignID == uuid.Nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[campaignID] > 0 {
		l.active[campaignID]--
	}
	return nil
}

// Active reports the current in-flight count for a campaign.
func (l *LocalLimiter) Active(campaignID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[campaignID]
}
