// Package metrics Prometheus-метрики разбора записей.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/slp-replay/internal/replay"
	"github.com/annel0/slp-replay/internal/slp"
)

// DecodeMetrics
//
// * slp_replays_decoded_total{result}: ok | recovered | fatal | duplicate
// * slp_decode_duration_seconds: histogram
// * slp_frames_decoded_total
// * slp_rollback_frames_total
// * slp_parsing_errors_total
// * slp_decode_failures_total{kind}: вид фатальной ошибки
type DecodeMetrics struct {
	replays   *prometheus.CounterVec
	duration  prometheus.Histogram
	frames    prometheus.Counter
	rollbacks prometheus.Counter
	parseErrs prometheus.Counter
	failures  *prometheus.CounterVec
}

// Результаты разбора
const (
	ResultOK        = "ok"
	ResultRecovered = "recovered"
	ResultFatal     = "fatal"
	ResultDuplicate = "duplicate"
)

// NewDecodeMetrics регистрирует метрики в reg
func NewDecodeMetrics(reg prometheus.Registerer) *DecodeMetrics {
	m := &DecodeMetrics{
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slp",
			Name:      "replays_decoded_total",
			Help:      "Разобранные записи по результату.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slp",
			Name:      "decode_duration_seconds",
			Help:      "Длительность разбора одной записи.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slp",
			Name:      "frames_decoded_total",
			Help:      "Кадры после разрешения откатов.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slp",
			Name:      "rollback_frames_total",
			Help:      "Кадры, итоговое состояние которых изменено откатом.",
		}),
		parseErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slp",
			Name:      "parsing_errors_total",
			Help:      "Восстановимые ошибки разбора.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slp",
			Name:      "decode_failures_total",
			Help:      "Фатальные ошибки разбора по виду.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.replays, m.duration, m.frames, m.rollbacks, m.parseErrs, m.failures)
	return m
}

// Observe учитывает один разбор; g == nil при фатальной ошибке
func (m *DecodeMetrics) Observe(g *replay.Game, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.Observe(took.Seconds())
	if err != nil {
		m.replays.WithLabelValues(ResultFatal).Inc()
		m.failures.WithLabelValues(failureKind(err)).Inc()
		return
	}
	m.frames.Add(float64(g.FrameCount))
	m.rollbacks.Add(float64(g.RollbackFrames))
	if n := len(g.ParsingErrors); n > 0 {
		m.parseErrs.Add(float64(n))
		m.replays.WithLabelValues(ResultRecovered).Inc()
		return
	}
	m.replays.WithLabelValues(ResultOK).Inc()
}

// Duplicate запись уже была сохранена, разбор пропущен
func (m *DecodeMetrics) Duplicate() {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(ResultDuplicate).Inc()
}

func failureKind(err error) string {
	var de *slp.DecodeError
	if errors.As(err, &de) {
		return de.Kind.String()
	}
	return "other"
}
