package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/pkg/config"
)

// Suppressor remembers recent remote refresh attempts per user. It is advisory: callers
// treat its errors as "not suppressed".
type Suppressor interface {
	// Acquire records an attempt for userID and reports false when one was already
	// recorded inside the window.
	Acquire(ctx context.Context, userID string) (bool, error)
	// Mark records an attempt unconditionally.
	Mark(ctx context.Context, userID string) error
}

// MemorySuppressor is a process-local TTL map bounded by maxTracked entries.
type MemorySuppressor struct {
	mu         sync.Mutex
	window     time.Duration
	maxTracked int
	now        func() time.Time
	seen       map[string]time.Time
}

func NewMemorySuppressor(window time.Duration, maxTracked int, now func() time.Time) *MemorySuppressor {
	if now == nil {
		now = time.Now
	}
	return &MemorySuppressor{
		window:     window,
		maxTracked: maxTracked,
		now:        now,
		seen:       make(map[string]time.Time),
	}
}

func (m *MemorySuppressor) Acquire(ctx context.Context, userID string) (bool, error) {
	if m.window <= 0 {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if at, ok := m.seen[userID]; ok && now.Sub(at) < m.window {
		return false, nil
	}
	m.put(userID, now)
	return true, nil
}

func (m *MemorySuppressor) Mark(ctx context.Context, userID string) error {
	if m.window <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(userID, m.now())
	return nil
}

// Len returns the number of tracked users.
func (m *MemorySuppressor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// put must be called with mu held.
func (m *MemorySuppressor) put(userID string, now time.Time) {
	m.seen[userID] = now
	if m.maxTracked <= 0 || len(m.seen) <= m.maxTracked {
		return
	}
	for id, at := range m.seen {
		if now.Sub(at) >= m.window {
			delete(m.seen, id)
		}
	}
	for len(m.seen) > m.maxTracked {
		oldestID, oldestAt := "", now
		for id, at := range m.seen {
			if id != userID && !at.After(oldestAt) {
				oldestID, oldestAt = id, at
			}
		}
		if oldestID == "" {
			return
		}
		delete(m.seen, oldestID)
	}
}

const redisKeyPrefix = "entitlement:refresh:"

// RedisSuppressor shares the window across instances with SET NX PX.
type RedisSuppressor struct {
	client *redis.Client
	window time.Duration
	prefix string
}

func NewRedisSuppressor(client *redis.Client, window time.Duration) *RedisSuppressor {
	return &RedisSuppressor{client: client, window: window, prefix: redisKeyPrefix}
}

func (r *RedisSuppressor) Acquire(ctx context.Context, userID string) (bool, error) {
	if r.window <= 0 {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, r.prefix+userID, time.Now().UnixMilli(), r.window).Result()
	if err != nil {
		return true, fmt.Errorf("failed to acquire refresh slot: %w", err)
	}
	return ok, nil
}

func (r *RedisSuppressor) Mark(ctx context.Context, userID string) error {
	if r.window <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+userID, time.Now().UnixMilli(), r.window).Err(); err != nil {
		return fmt.Errorf("failed to mark refresh: %w", err)
	}
	return nil
}

// NewSuppressor picks the backend named by refresh.suppressor.
func NewSuppressor(cfg *config.Config, client *redis.Client, l *zap.SugaredLogger) (Suppressor, error) {
	switch cfg.Refresh.Suppressor {
	case config.SuppressorRedis:
		if client == nil {
			return nil, fmt.Errorf("refresh.suppressor is redis but redis is not configured")
		}
		l.Infow("refresh suppressor", "backend", "redis", "window", cfg.Refresh.DuplicateWindow)
		return NewRedisSuppressor(client, cfg.Refresh.DuplicateWindow), nil
	default:
		l.Infow("refresh suppressor", "backend", "memory", "window", cfg.Refresh.DuplicateWindow,
			"max_tracked_users", cfg.Refresh.MaxTrackedUsers)
		return NewMemorySuppressor(cfg.Refresh.DuplicateWindow, cfg.Refresh.MaxTrackedUsers, time.Now), nil
	}
}
