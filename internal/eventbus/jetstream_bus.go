package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/annel0/slp-replay/internal/logging"
)

// subjectPrefix события публикуются в replays.<EventType>
const subjectPrefix = "replays"

// JetStreamBus EventBus поверх NATS JetStream
type JetStreamBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	stream    string
	published uint64
	consumed  uint64
	dropped   uint64
}

// EventBusConfig
type EventBusConfig struct {
	// URL пустой: шина в памяти процесса
	URL       string `yaml:"url" env:"SLP_NATS_URL"`
	Stream    string `yaml:"stream" env:"SLP_NATS_STREAM"`
	Retention int    `yaml:"retention_hours" env:"SLP_NATS_RETENTION_HOURS"`
	Buffer    int    `yaml:"buffer" env:"SLP_EVENTBUS_BUFFER"`
}

// New выбирает реализацию по конфигурации
func New(cfg EventBusConfig) (EventBus, error) {
	if cfg.URL == "" {
		buf := cfg.Buffer
		if buf <= 0 {
			buf = 256
		}
		return NewMemoryBus(buf), nil
	}
	return NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
}

// NewJetStreamBus подключается к NATS и гарантирует наличие стрима
// (subjects: replays.*).
func NewJetStreamBus(url, stream string, retention time.Duration) (*JetStreamBus, error) {
	if stream == "" {
		stream = "REPLAYS"
	}

	nc, err := nats.Connect(url,
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Drain()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if _, err = js.StreamInfo(stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subjectPrefix + ".*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    retention,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			nc.Drain()
			return nil, fmt.Errorf("add stream: %w", err)
		}
	}

	logging.Info("📨 JetStream bus connected: %s stream=%s", url, stream)
	return &JetStreamBus{nc: nc, js: js, stream: stream}, nil
}

// subject
func subject(eventType string) string {
	return subjectPrefix + "." + eventType
}

// Publish сериализует Envelope в JSON
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		atomic.AddUint64(&jb.dropped, 1)
		return err
	}
	if _, err = jb.js.Publish(subject(ev.EventType), data, nats.Context(ctx)); err != nil {
		atomic.AddUint64(&jb.dropped, 1)
		return err
	}
	atomic.AddUint64(&jb.published, 1)
	return nil
}

// Subscribe эфемерный consumer; handler вызывается асинхронно
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subj := subjectPrefix + ".*"
	if len(f.Types) == 1 {
		subj = subject(f.Types[0])
	}

	natSub, err := jb.js.Subscribe(subj, func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err == nil && matchFilter(&ev, f) {
			h(ctx, &ev)
			atomic.AddUint64(&jb.consumed, 1)
		}
		_ = msg.Ack()
	}, nats.ManualAck(), nats.DeliverNew(), nats.AckWait(30*time.Second))
	if err != nil {
		return nil, err
	}
	return &jetSub{natSub}, nil
}

// jetSub обёртка над *nats.Subscription
type jetSub struct {
	s *nats.Subscription
}

func (j *jetSub) Unsubscribe() {
	_ = j.s.Unsubscribe()
}

// Metrics
func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: atomic.LoadUint64(&jb.published),
		Consumed:  atomic.LoadUint64(&jb.consumed),
		Dropped:   atomic.LoadUint64(&jb.dropped),
	}
}

// Close дожидается отправки буферов клиента
func (jb *JetStreamBus) Close() error {
	return jb.nc.Drain()
}
