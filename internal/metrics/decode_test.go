package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/annel0/slp-replay/internal/replay"
	"github.com/annel0/slp-replay/internal/slp"
)

func TestDecodeMetrics_Observe(t *testing.T) {
	m := NewDecodeMetrics(prometheus.NewRegistry())

	m.Observe(&replay.Game{FrameCount: 100, RollbackFrames: 3}, 10*time.Millisecond, nil)
	m.Observe(&replay.Game{FrameCount: 50, ParsingErrors: []string{"a", "b"}}, time.Millisecond, nil)
	m.Observe(nil, time.Millisecond, &slp.DecodeError{Kind: slp.KindTruncatedStream})
	m.Observe(nil, time.Millisecond, errors.New("io"))
	m.Duplicate()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.replays.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replays.WithLabelValues(ResultRecovered)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.replays.WithLabelValues(ResultFatal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replays.WithLabelValues(ResultDuplicate)))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.frames))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rollbacks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.parseErrs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(slp.KindTruncatedStream.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("other")))
}

func TestDecodeMetrics_NilSafe(t *testing.T) {
	var m *DecodeMetrics
	assert.NotPanics(t, func() {
		m.Observe(nil, 0, errors.New("x"))
		m.Duplicate()
	})
}
