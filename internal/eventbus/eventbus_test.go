package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu  sync.Mutex
	got []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.got = append(c.got, ev)
	c.mu.Unlock()
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.got))
	for _, ev := range c.got {
		out = append(out, ev.EventType)
	}
	return out
}

func TestMemoryBus_FilterAndOrder(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	all, decoded := &collector{}, &collector{}
	_, err := bus.Subscribe(ctx, Filter{}, all.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{Types: []string{TypeReplayDecoded}}, decoded.handle)
	require.NoError(t, err)

	for _, typ := range []string{TypeReplayDecoded, TypeReplayFailed, TypeReplayDecoded} {
		ev, err := NewEnvelope(typ, "test", map[string]string{"k": "v"})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, ev))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, []string{TypeReplayDecoded, TypeReplayFailed, TypeReplayDecoded}, all.types())
	assert.Equal(t, []string{TypeReplayDecoded, TypeReplayDecoded}, decoded.types())

	stats := bus.Metrics()
	assert.Equal(t, uint64(3), stats.Published)
	assert.Equal(t, uint64(5), stats.Consumed)

	ev, _ := NewEnvelope(TypeReplayDecoded, "test", nil)
	assert.ErrorIs(t, bus.Publish(ctx, ev), ErrClosed)
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(4)
	c := &collector{}
	sub, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)
	sub.Unsubscribe()

	ev, _ := NewEnvelope(TypeReplayDeleted, "test", ReplayDeleted{GameID: "x"})
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Close())
	assert.Empty(t, c.types())
}

func TestEnvelope_Decode(t *testing.T) {
	winner := 1
	ev, err := NewEnvelope(TypeReplayDecoded, "api", ReplayDecoded{GameID: "g1", TotalFrames: 100, Winner: &winner})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, 1, ev.Version)

	var got ReplayDecoded
	require.NoError(t, ev.Decode(&got))
	assert.Equal(t, "g1", got.GameID)
	require.NotNil(t, got.Winner)
	assert.Equal(t, 1, *got.Winner)
}

func TestMetricsExporter(t *testing.T) {
	bus := NewMemoryBus(4)
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg)
	me.Start(time.Hour)

	ev, _ := NewEnvelope(TypeReplayDecoded, "test", nil)
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Close())
	me.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(me.published))
	assert.Equal(t, 0.0, testutil.ToFloat64(me.inflight))
}

func TestNew_DefaultsToMemory(t *testing.T) {
	bus, err := New(EventBusConfig{})
	require.NoError(t, err)
	defer bus.Close()
	_, ok := bus.(*memoryBus)
	assert.True(t, ok)
}
