// Package eventbus рассылает события о разобранных записях: в памяти процесса
// или через NATS JetStream.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Типы событий
const (
	TypeReplayDecoded = "ReplayDecoded"
	TypeReplayFailed  = "ReplayFailed"
	TypeReplayDeleted = "ReplayDeleted"
)

// Envelope контейнер события
type Envelope struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	EventType     string            `json:"event_type"`
	Version       int               `json:"version"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Priority      int               `json:"priority"` // 0=Low … 9=Critical
	Payload       []byte            `json:"payload"`  // JSON
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEnvelope сериализует payload в JSON
func NewEnvelope(eventType, source string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Payload:   data,
	}, nil
}

// Decode разбирает payload
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// ReplayDecoded публикуется после успешного разбора и сохранения
type ReplayDecoded struct {
	GameID        string   `json:"game_id"`
	Hash          string   `json:"hash"`
	Name          string   `json:"name,omitempty"`
	Version       string   `json:"version"`
	Stage         string   `json:"stage,omitempty"`
	Characters    []string `json:"characters,omitempty"`
	TotalFrames   int      `json:"total_frames"`
	Winner        *int     `json:"winner,omitempty"`
	ParsingErrors int      `json:"parsing_errors"`
	Duplicate     bool     `json:"duplicate"`
}

// ReplayFailed фатальная ошибка разбора
type ReplayFailed struct {
	Name  string `json:"name,omitempty"`
	Hash  string `json:"hash"`
	Error string `json:"error"`
}

// ReplayDeleted запись удалена: узлы снимают её из кеша
type ReplayDeleted struct {
	GameID string `json:"game_id"`
}

// ErrClosed публикация после Close
var ErrClosed = errors.New("eventbus closed")

// Filter пустые списки пропускают всё
type Filter struct {
	Types   []string
	Sources []string
}

// Subscription
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus абстракция шины
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]subscriber
	nextID      int
	stats       Stats
	buffer      chan *Envelope
	done        chan struct{}

	// closeMu: Publish не пишет в закрытый buffer
	closeMu sync.RWMutex
	closed  bool
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus in-memory шина с буфером capacity.
// Подписчик получает события последовательно в порядке публикации.
func NewMemoryBus(capacity int) EventBus {
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, capacity),
		done:        make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.closeMu.RLock()
	defer mb.closeMu.RUnlock()
	if mb.closed {
		return ErrClosed
	}

	select {
	case mb.buffer <- ev:
		mb.count(func(s *Stats) { s.Published++ })
		return nil
	default:
		// Буфер заполнен: низкий приоритет (<5) отбрасывается
		if ev.Priority < 5 {
			mb.count(func(s *Stats) { s.Dropped++ })
			return nil
		}
		select {
		case mb.buffer <- ev:
			mb.count(func(s *Stats) { s.Published++ })
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (mb *memoryBus) count(f func(*Stats)) {
	mb.mu.Lock()
	f(&mb.stats)
	mb.mu.Unlock()
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.Lock()
	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	mb.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	mb.mu.Unlock()

	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	s := mb.stats
	s.InFlight = len(mb.buffer)
	return s
}

// Close дожидается доставки уже опубликованных событий
func (mb *memoryBus) Close() error {
	mb.closeMu.Lock()
	if mb.closed {
		mb.closeMu.Unlock()
		return nil
	}
	mb.closed = true
	close(mb.buffer)
	mb.closeMu.Unlock()
	<-mb.done
	return nil
}

// dispatchLoop рассылает события подписчикам
func (mb *memoryBus) dispatchLoop() {
	defer close(mb.done)
	for ev := range mb.buffer {
		mb.mu.RLock()
		subs := make([]subscriber, 0, len(mb.subscribers))
		for _, sub := range mb.subscribers {
			subs = append(subs, sub)
		}
		mb.mu.RUnlock()

		for _, sub := range subs {
			if !matchFilter(ev, sub.filter) || sub.ctx.Err() != nil {
				continue
			}
			sub.handler(sub.ctx, ev)
			mb.count(func(s *Stats) { s.Consumed++ })
		}
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		return len(arr) == 0 || slices.Contains(arr, val)
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
}
