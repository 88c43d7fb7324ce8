package cooldown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/toolgate/toolgate/internal/config"
)

const redisBreakerDuration = 30 * time.Second

// ConfigProvider supplies the latest Redis settings snapshot.
type ConfigProvider func() config.RedisConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

type redisSettings struct {
	addr     string
	password string
	prefix   string
	db       int
}

// Manager selects a tracker backend per call: Redis when configured and
// healthy, in-process memory otherwise. A breaker keeps a flapping Redis
// from stalling every check.
type Manager struct {
	provider       ConfigProvider
	nowFn          func() time.Time
	memoryTracker  Tracker
	newRedisClient RedisClientFactory
	mu             sync.Mutex
	redisTracker   *RedisTracker
	redisClient    *redis.Client
	redisCfg       redisSettings
	breakerUntil   time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(provider ConfigProvider, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = func() config.RedisConfig { return config.RedisConfig{} }
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		memoryTracker:  NewMemoryTracker(),
		newRedisClient: newRedisClient,
	}
}

// Start begins a cooldown for the (actor, tool) pair.
func (m *Manager) Start(ctx context.Context, actorID, toolSlug string, d time.Duration) error {
	if m == nil || d <= 0 {
		return nil
	}
	now := m.nowFn()
	availableAt := now.Add(d)
	key := Key(actorID, toolSlug)

	if tracker, ok := m.redisBackend(ctx, now); ok {
		errSet := tracker.Set(ctx, key, availableAt)
		if errSet == nil {
			return nil
		}
		m.tripBreaker(errSet, now)
	}
	return m.memoryTracker.Set(ctx, key, availableAt)
}

// AvailableAt returns when the pair's cooldown ends; the zero time means
// no cooldown is active.
func (m *Manager) AvailableAt(ctx context.Context, actorID, toolSlug string) (time.Time, error) {
	if m == nil {
		return time.Time{}, nil
	}
	now := m.nowFn()
	key := Key(actorID, toolSlug)

	if tracker, ok := m.redisBackend(ctx, now); ok {
		stamp, errGet := tracker.Get(ctx, key, now)
		if errGet == nil {
			return stamp, nil
		}
		m.tripBreaker(errGet, now)
	}
	return m.memoryTracker.Get(ctx, key, now)
}

func (m *Manager) redisBackend(ctx context.Context, now time.Time) (*RedisTracker, bool) {
	cfg := m.provider()
	if !cfg.Enabled {
		return nil, false
	}
	if m.isBreakerActive(now) {
		return nil, false
	}
	tracker, errEnsure := m.ensureRedis(ctx, cfg)
	if errEnsure != nil {
		m.tripBreaker(errEnsure, now)
		return nil, false
	}
	return tracker, tracker != nil
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil || m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("cooldown: redis unavailable, falling back to memory")
}

func (m *Manager) ensureRedis(ctx context.Context, cfg config.RedisConfig) (*RedisTracker, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("cooldown redis: missing address")
	}

	nextCfg := redisSettings{
		addr:     addr,
		password: strings.TrimSpace(cfg.Password),
		prefix:   strings.TrimSpace(cfg.Prefix),
		db:       cfg.DB,
	}
	if nextCfg.db < 0 {
		nextCfg.db = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redisTracker != nil && m.redisCfg == nextCfg {
		return m.redisTracker, nil
	}
	if m.redisClient != nil {
		_ = m.redisClient.Close()
		m.redisTracker = nil
		m.redisClient = nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     nextCfg.addr,
		Password: nextCfg.password,
		DB:       nextCfg.db,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redisTracker = NewRedisTracker(client, nextCfg.prefix)
	m.redisClient = client
	m.redisCfg = nextCfg
	return m.redisTracker, nil
}
