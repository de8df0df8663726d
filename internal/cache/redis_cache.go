package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/slp-replay/internal/logging"
)

// RedisCache горячий кеш сводок в Redis с read-through из ColdStorage.
// Сводка неизменна после разбора, поэтому кеш не требует инвалидации при записи;
// удаление записи снимает ключ через Delete.
type RedisCache struct {
	client      *redis.Client
	config      *CacheConfig
	coldStorage ColdStorage
	counters
}

// NewRedisCache подключается к Redis и проверяет соединение.
// coldStorage может быть nil.
func NewRedisCache(config *CacheConfig, coldStorage ColdStorage) (*RedisCache, error) {
	config.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("🧊 Redis cache initialized: %s (ttl=%v)", config.RedisURL, config.DefaultTTL)
	return &RedisCache{client: rdb, config: config, coldStorage: coldStorage}, nil
}

func (r *RedisCache) key(k string) string { return r.config.KeyPrefix + k }

// Get значение из Redis; при промахе грузит из ColdStorage и прогревает кеш.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	start := time.Now()
	defer r.recordLatency(start)
	r.requests.Add(1)

	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == nil {
		r.hits.Add(1)
		return val, nil
	}
	r.misses.Add(1)
	if !errors.Is(err, redis.Nil) {
		logging.Error("Redis Get error for key %s: %v", key, err)
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	if r.coldStorage == nil {
		return nil, ErrCacheMiss
	}
	val, err = r.coldStorage.Load(ctx, key)
	if err != nil {
		logging.Debug("Cold storage miss for key %s: %v", key, err)
		return nil, ErrCacheMiss
	}
	r.coldHits.Add(1)
	if err := r.client.Set(ctx, r.key(key), val, r.config.DefaultTTL).Err(); err != nil {
		logging.Warn("Redis warm-up failed for key %s: %v", key, err)
	}
	return val, nil
}

// Set
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	start := time.Now()
	defer r.recordLatency(start)

	if err := r.client.Set(ctx, r.key(key), value, r.config.clampTTL(ttl)).Err(); err != nil {
		logging.Error("Redis Set error for key %s: %v", key, err)
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		logging.Error("Redis Delete error for key %s: %v", key, err)
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisCache) Close() error {
	if err := r.client.Close(); err != nil {
		logging.Error("Error closing Redis connection: %v", err)
		return err
	}
	logging.Info("Redis cache closed")
	return nil
}

// GetMetrics снимок счётчиков
func (r *RedisCache) GetMetrics() *CacheMetrics { return r.snapshot() }
