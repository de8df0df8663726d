package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/annel0/slp-replay/internal/logging"
)

// LocalCache кеш в памяти процесса поверх ristretto; используется без Redis.
type LocalCache struct {
	c           *ristretto.Cache
	config      *CacheConfig
	coldStorage ColdStorage
	counters
}

// NewLocalCache бюджет задаётся LocalMaxBytes, стоимость элемента равна его длине
func NewLocalCache(config CacheConfig, coldStorage ColdStorage) (*LocalCache, error) {
	config.withDefaults()
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     config.LocalMaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	logging.Info("🧊 Local cache initialized (budget=%d bytes)", config.LocalMaxBytes)
	return &LocalCache{c: c, config: &config, coldStorage: coldStorage}, nil
}

// Get
func (l *LocalCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	start := time.Now()
	defer l.recordLatency(start)
	l.requests.Add(1)

	if v, ok := l.c.Get(key); ok {
		l.hits.Add(1)
		return v.([]byte), nil
	}
	l.misses.Add(1)

	if l.coldStorage == nil {
		return nil, ErrCacheMiss
	}
	val, err := l.coldStorage.Load(ctx, key)
	if err != nil {
		return nil, ErrCacheMiss
	}
	l.coldHits.Add(1)
	l.c.SetWithTTL(key, val, int64(len(val)), l.config.DefaultTTL)
	return val, nil
}

// Set запись асинхронна: сразу после Set значение может быть ещё не видно
func (l *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if !l.c.SetWithTTL(key, value, int64(len(value)), l.config.clampTTL(ttl)) {
		logging.Debug("Local cache rejected key %s (%d bytes)", key, len(value))
	}
	return nil
}

// Delete
func (l *LocalCache) Delete(_ context.Context, key string) error {
	l.c.Del(key)
	return nil
}

// Wait дожидается применения буферизованных записей
func (l *LocalCache) Wait() { l.c.Wait() }

// Close
func (l *LocalCache) Close() error {
	l.c.Close()
	return nil
}

// GetMetrics
func (l *LocalCache) GetMetrics() *CacheMetrics { return l.snapshot() }
