package tilecache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrCacheUnavailable indicates the shared tier could not be reached. It is
// internal to the cache: Get and Set degrade to the local tier instead of
// returning it to callers.
var ErrCacheUnavailable = errors.New("shared cache tier unavailable")

// DefaultTTL is applied to shared-tier entries when no TTL is configured.
const DefaultTTL = time.Hour

// DefaultLocalCapacity bounds the local tier entry count.
const DefaultLocalCapacity = 200

// Manager is the two-tier tile cache: a shared Redis tier with TTL expiry in
// front of a fixed-capacity in-process tier. Every write lands in the local
// tier; the shared tier is written through when reachable. Reads prefer the
// shared tier and fall open to the local tier on any shared-tier error.
type Manager struct {
	redis  *redis.Client
	local  *localStore
	ttl    time.Duration
	logger zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Options configures a Manager.
type Options struct {
	// TTL for shared-tier entries. Defaults to DefaultTTL.
	TTL time.Duration

	// LocalCapacity bounds the local tier. Defaults to DefaultLocalCapacity.
	LocalCapacity int

	Logger zerolog.Logger
}

// NewManager creates a cache manager. redisClient may be nil, in which case
// the cache runs on the local tier alone.
func NewManager(redisClient *redis.Client, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LocalCapacity <= 0 {
		opts.LocalCapacity = DefaultLocalCapacity
	}
	return &Manager{
		redis:  redisClient,
		local:  newLocalStore(opts.LocalCapacity),
		ttl:    opts.TTL,
		logger: opts.Logger,
	}
}

// TTL returns the shared-tier entry lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Get retrieves tile bytes by canonical key. A shared-tier error is treated
// as a miss on that tier, never surfaced: the local tier answers instead.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if m.redis != nil {
		data, err := m.redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			CacheHits.WithLabelValues("redis").Inc()
			m.hits.Add(1)
			return data, true
		case errors.Is(err, redis.Nil):
			// absent from the shared tier; the local tier may still have it
		default:
			CacheErrors.WithLabelValues("get").Inc()
			m.logger.Warn().Err(err).Str("key", key).Msg("Shared cache tier get failed, falling back to local tier")
		}
	}

	if data, ok := m.local.get(key); ok {
		CacheHits.WithLabelValues("local").Inc()
		m.hits.Add(1)
		return data, true
	}

	CacheMisses.Inc()
	m.misses.Add(1)
	return nil, false
}

// Set stores tile bytes under key in the local tier and writes through to the
// shared tier when reachable. The returned error reports a shared-tier write
// failure for logging; the local write always succeeds, so callers may ignore
// it without losing the entry.
func (m *Manager) Set(ctx context.Context, key string, data []byte) error {
	m.local.set(key, data)
	LocalEntries.Set(float64(m.local.len()))

	if m.redis == nil {
		return nil
	}

	if err := m.redis.Set(ctx, key, data, m.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// DeleteByPrefix removes every shared-tier entry whose key begins with prefix
// and returns the number of keys removed. Local-tier entries are not purged;
// they age out under capacity pressure, leaving a bounded staleness window.
func (m *Manager) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if m.redis == nil {
		return 0, nil
	}

	deleted := 0
	iter := m.redis.Scan(ctx, 0, prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := m.redis.Del(ctx, batch...).Err(); err != nil {
			return err
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := flush(); err != nil {
				CacheErrors.WithLabelValues("delete").Inc()
				return deleted, fmt.Errorf("redis del: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return deleted, fmt.Errorf("redis del: %w", err)
	}

	Invalidations.Add(float64(deleted))
	m.logger.Info().Str("prefix", prefix).Int("deleted", deleted).Msg("Invalidated shared cache tier entries")
	return deleted, nil
}

// Stats reports aggregate cache health. The counters are best-effort
// pass-through values, not a correctness surface.
type Stats struct {
	Connected    bool  `json:"connected"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	LocalEntries int   `json:"local_entries"`
}

// Stats returns connectivity plus hit/miss counters.
func (m *Manager) Stats(ctx context.Context) Stats {
	return Stats{
		Connected:    m.Ping(ctx) == nil,
		Hits:         m.hits.Load(),
		Misses:       m.misses.Load(),
		LocalEntries: m.local.len(),
	}
}

// Ping checks shared-tier connectivity. Returns ErrCacheUnavailable when no
// shared tier is configured or it cannot be reached.
func (m *Manager) Ping(ctx context.Context) error {
	if m.redis == nil {
		return ErrCacheUnavailable
	}
	if err := m.redis.Ping(ctx).Err(); err != nil {
		CacheErrors.WithLabelValues("ping").Inc()
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
