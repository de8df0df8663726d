package cache

import (
	"sync/atomic"
	"time"
)

// counters общие счётчики реализаций кеша
type counters struct {
	requests atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
	coldHits atomic.Int64

	latencySum   atomic.Int64 // нс
	latencyCount atomic.Int64
	maxLatency   atomic.Int64
}

func (c *counters) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()
	c.latencySum.Add(latency)
	c.latencyCount.Add(1)
	for {
		cur := c.maxLatency.Load()
		if latency <= cur || c.maxLatency.CompareAndSwap(cur, latency) {
			break
		}
	}
}

func (c *counters) snapshot() *CacheMetrics {
	m := &CacheMetrics{
		TotalRequests: c.requests.Load(),
		CacheHits:     c.hits.Load(),
		CacheMisses:   c.misses.Load(),
		ColdHits:      c.coldHits.Load(),
		MaxLatencyMs:  float64(c.maxLatency.Load()) / 1e6,
		LastUpdate:    time.Now(),
	}
	if total := m.CacheHits + m.CacheMisses; total > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(total)
	}
	if n := c.latencyCount.Load(); n > 0 {
		m.AvgLatencyMs = float64(c.latencySum.Load()) / float64(n) / 1e6
	}
	return m
}
