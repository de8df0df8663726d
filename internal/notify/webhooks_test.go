package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slp-replay/internal/eventbus"
)

type receiver struct {
	mu     sync.Mutex
	bodies [][]byte
	sigs   []string
	types  []string
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.sigs = append(r.sigs, req.Header.Get(SignatureHeader))
	r.types = append(r.types, req.Header.Get("X-Event-Type"))
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func publish(t *testing.T, bus eventbus.EventBus, eventType string, payload any) {
	t.Helper()
	ev, err := eventbus.NewEnvelope(eventType, "test", payload)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))
}

func TestNotifier_DeliversSignedEvents(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	bus := eventbus.NewMemoryBus(16)
	n, err := NewNotifier(bus, Config{URLs: []string{srv.URL}, Secret: "s3cret"})
	require.NoError(t, err)

	publish(t, bus, eventbus.TypeReplayDecoded, eventbus.ReplayDecoded{GameID: "g1"})
	publish(t, bus, eventbus.TypeReplayDeleted, eventbus.ReplayDeleted{GameID: "g1"})
	publish(t, bus, eventbus.TypeReplayFailed, eventbus.ReplayFailed{Hash: "h", Error: "boom"})
	require.NoError(t, bus.Close())
	n.Close()

	rcv.mu.Lock()
	defer rcv.mu.Unlock()
	assert.Equal(t, []string{eventbus.TypeReplayDecoded, eventbus.TypeReplayFailed}, rcv.types, "ReplayDeleted не в списке по умолчанию")
	for i, body := range rcv.bodies {
		assert.True(t, Verify(body, "s3cret", rcv.sigs[i]))
	}
	assert.Equal(t, Stats{Delivered: 2}, n.Stats())
}

func TestNotifier_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bus := eventbus.NewMemoryBus(16)
	n, err := NewNotifier(bus, Config{URLs: []string{srv.URL, "http://127.0.0.1:1"}, Retries: 2, Timeout: time.Second})
	require.NoError(t, err)
	n.backoff = func(int) time.Duration { return time.Millisecond }

	publish(t, bus, eventbus.TypeReplayDecoded, eventbus.ReplayDecoded{GameID: "g1"})
	require.NoError(t, bus.Close())
	n.Close()

	assert.Equal(t, int32(3), calls.Load(), "две неудачи и успех")
	assert.Equal(t, Stats{Delivered: 1, Failed: 1}, n.Stats())
}

func TestSignVerify(t *testing.T) {
	sig := Sign([]byte(`{"a":1}`), "k")
	assert.True(t, Verify([]byte(`{"a":1}`), "k", sig))
	assert.False(t, Verify([]byte(`{"a":2}`), "k", sig))
	assert.False(t, Verify([]byte(`{"a":1}`), "other", sig))
}
