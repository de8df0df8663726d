package cache

import (
	"context"
	"errors"
	"time"
)

// CacheRepo кеш сводок разобранных записей.
// Ключи: идентификатор записи; значения: сериализованный JSON сводки.
//
// Использование:
//
//	c, err := NewRedisCache(&cfg, store)
//	data, err := c.Get(ctx, id)
//	err = c.Set(ctx, id, data, 0)
type CacheRepo interface {
	// Get возвращает ErrCacheMiss, если ключа нет ни в кеше, ни в ColdStorage.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение; ttl = 0 означает DefaultTTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ только из кеша.
	Delete(ctx context.Context, key string) error

	Close() error

	GetMetrics() *CacheMetrics
}

// ColdStorage постоянное хранилище за кешем (read-through).
type ColdStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
}

// CacheMetrics счётчики кеша
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	ColdHits      int64   `json:"cold_hits"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig настройки кеша. Пустой RedisURL: используется локальный кеш процесса.
type CacheConfig struct {
	RedisURL      string `yaml:"redis_url" env:"SLP_CACHE_REDIS_URL"`
	RedisPassword string `yaml:"redis_password" env:"SLP_CACHE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"SLP_CACHE_REDIS_DB"`
	KeyPrefix     string `yaml:"key_prefix" env:"SLP_CACHE_KEY_PREFIX"`

	DefaultTTL time.Duration `yaml:"default_ttl" env:"SLP_CACHE_DEFAULT_TTL"`
	MaxTTL     time.Duration `yaml:"max_ttl" env:"SLP_CACHE_MAX_TTL"`

	MaxConnections int           `yaml:"max_connections" env:"SLP_CACHE_MAX_CONNECTIONS"`
	PoolTimeout    time.Duration `yaml:"pool_timeout" env:"SLP_CACHE_POOL_TIMEOUT"`

	// LocalMaxBytes бюджет локального кеша
	LocalMaxBytes int64 `yaml:"local_max_bytes" env:"SLP_CACHE_LOCAL_MAX_BYTES"`
}

// withDefaults заполняет нулевые поля
func (c *CacheConfig) withDefaults() {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 10 * time.Minute
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = time.Hour
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 30 * time.Second
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "slp:summary:"
	}
	if c.LocalMaxBytes == 0 {
		c.LocalMaxBytes = 64 << 20
	}
}

// clampTTL
func (c *CacheConfig) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.DefaultTTL
	}
	if ttl > c.MaxTTL {
		return c.MaxTTL
	}
	return ttl
}

var (
	ErrCacheMiss  = errors.New("cache miss")
	ErrInvalidKey = errors.New("invalid key")
)

// IsCacheMiss промах кеша
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// New выбирает реализацию по конфигурации
func New(cfg CacheConfig, cold ColdStorage) (CacheRepo, error) {
	if cfg.RedisURL == "" {
		return NewLocalCache(cfg, cold)
	}
	return NewRedisCache(&cfg, cold)
}
