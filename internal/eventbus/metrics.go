package eventbus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsExporter периодически переносит Stats шины в Prometheus.
// Эндпоинт /metrics отдаёт HTTP-сервер.
type MetricsExporter struct {
	bus  EventBus
	quit chan struct{}
	done chan struct{}

	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge
}

// NewMetricsExporter регистрирует метрики в reg
func NewMetricsExporter(bus EventBus, reg prometheus.Registerer) *MetricsExporter {
	me := &MetricsExporter{
		bus:  bus,
		quit: make(chan struct{}),
		done: make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slp",
			Subsystem: "eventbus",
			Name:      "messages_published_total",
			Help:      "События разбора, опубликованные в шину.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slp",
			Subsystem: "eventbus",
			Name:      "messages_consumed_total",
			Help:      "События, доставленные подписчикам (лог, вебхуки, websocket).",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slp",
			Subsystem: "eventbus",
			Name:      "messages_dropped_total",
			Help:      "Сообщений, отброшенных из-за ошибок или back-pressure.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "slp",
			Subsystem: "eventbus",
			Name:      "messages_inflight",
			Help:      "Сообщений в очереди, ещё не доставленных.",
		}),
	}
	reg.MustRegister(me.published, me.consumed, me.dropped, me.inflight)
	return me
}

// Start запускает обновление раз в interval
func (m *MetricsExporter) Start(interval time.Duration) {
	go m.loop(interval)
}

// Stop
func (m *MetricsExporter) Stop() {
	close(m.quit)
	<-m.done
}

func (m *MetricsExporter) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(m.done)

	var prev Stats
	for {
		select {
		case <-ticker.C:
			prev = m.sync(prev)
		case <-m.quit:
			m.sync(prev)
			return
		}
	}
}

// sync counters растут только на дельту с прошлого снимка
func (m *MetricsExporter) sync(prev Stats) Stats {
	stats := m.bus.Metrics()
	if d := stats.Published - prev.Published; d > 0 {
		m.published.Add(float64(d))
	}
	if d := stats.Consumed - prev.Consumed; d > 0 {
		m.consumed.Add(float64(d))
	}
	if d := stats.Dropped - prev.Dropped; d > 0 {
		m.dropped.Add(float64(d))
	}
	m.inflight.Set(float64(stats.InFlight))
	return stats
}
