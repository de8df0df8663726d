// Package notify доставляет события шины во внешние webhook'и.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/annel0/slp-replay/internal/eventbus"
	"github.com/annel0/slp-replay/internal/logging"
)

// SignatureHeader HMAC-SHA256 тела в виде "sha256=<hex>"
const SignatureHeader = "X-Webhook-Signature"

// Config исходящих webhook'ов; пустой URLs: доставка выключена
type Config struct {
	URLs    []string      `yaml:"urls" env:"SLP_WEBHOOK_URLS" envSeparator:","`
	Secret  string        `yaml:"secret" env:"SLP_WEBHOOK_SECRET"`
	Events  []string      `yaml:"events" env:"SLP_WEBHOOK_EVENTS" envSeparator:","`
	Timeout time.Duration `yaml:"timeout" env:"SLP_WEBHOOK_TIMEOUT"`
	Retries int           `yaml:"retries" env:"SLP_WEBHOOK_RETRIES"`
	Queue   int           `yaml:"queue" env:"SLP_WEBHOOK_QUEUE"`
}

// Stats счётчики доставки
type Stats struct {
	Delivered uint64
	Failed    uint64
	Dropped   uint64
}

// Notifier подписан на шину и рассылает конверты по всем URL
type Notifier struct {
	cfg    Config
	client *http.Client
	queue  chan *eventbus.Envelope
	sub    eventbus.Subscription
	// backoff задержка перед попыткой n (с 1)
	backoff func(n int) time.Duration

	mu    sync.Mutex
	stats Stats

	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}
}

// Enabled
func (c Config) Enabled() bool {
	return len(c.URLs) > 0
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = 3
	}
	if c.Queue <= 0 {
		c.Queue = 1000
	}
	if len(c.Events) == 0 {
		c.Events = []string{eventbus.TypeReplayDecoded, eventbus.TypeReplayFailed}
	}
	return c
}

// NewNotifier подписывается на bus и запускает воркер доставки
func NewNotifier(bus eventbus.EventBus, cfg Config) (*Notifier, error) {
	cfg = cfg.withDefaults()
	n := &Notifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		queue:   make(chan *eventbus.Envelope, cfg.Queue),
		backoff: func(attempt int) time.Duration { return time.Duration(attempt) * time.Second },
		done:    make(chan struct{}),
	}

	filter := eventbus.Filter{}
	if !slices.Contains(cfg.Events, "*") {
		filter.Types = cfg.Events
	}
	sub, err := bus.Subscribe(context.Background(), filter, n.enqueue)
	if err != nil {
		return nil, fmt.Errorf("subscribe webhooks: %w", err)
	}
	n.sub = sub

	go n.worker()
	logging.Info("📣 Webhooks enabled: %d targets, events %v", len(cfg.URLs), cfg.Events)
	return n, nil
}

// enqueue не блокирует шину: при переполнении событие теряется
func (n *Notifier) enqueue(_ context.Context, ev *eventbus.Envelope) {
	n.closeMu.RLock()
	defer n.closeMu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.count(func(s *Stats) { s.Dropped++ })
		logging.Warn("⚠️ Webhook queue full, %s dropped", ev.EventType)
	}
}

func (n *Notifier) worker() {
	defer close(n.done)
	for ev := range n.queue {
		body, err := json.Marshal(ev)
		if err != nil {
			logging.Error("❌ webhook marshal %s: %v", ev.EventType, err)
			continue
		}
		for _, url := range n.cfg.URLs {
			if err := n.deliver(url, ev.EventType, body); err != nil {
				n.count(func(s *Stats) { s.Failed++ })
				logging.Warn("⚠️ Webhook %s: %v", url, err)
				continue
			}
			n.count(func(s *Stats) { s.Delivered++ })
		}
	}
}

// deliver с повторами; тело запроса создаётся заново на каждую попытку
func (n *Notifier) deliver(url, eventType string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= n.cfg.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(n.backoff(attempt))
		}
		lastErr = n.post(url, eventType, body)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%d attempts: %w", n.cfg.Retries+1, lastErr)
}

func (n *Notifier) post(url, eventType string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "slp-replay/1.0")
	req.Header.Set("X-Event-Type", eventType)
	if n.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, n.cfg.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Sign HMAC-SHA256 подпись тела
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify для получателей webhook'ов
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

func (n *Notifier) count(f func(*Stats)) {
	n.mu.Lock()
	f(&n.stats)
	n.mu.Unlock()
}

// Stats
func (n *Notifier) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Close отписывается и дожидается доставки очереди
func (n *Notifier) Close() {
	n.sub.Unsubscribe()
	n.closeMu.Lock()
	if n.closed {
		n.closeMu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.closeMu.Unlock()
	<-n.done
}
