// Package app связывает разбор записей с хранилищем, кешем и шиной событий.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/slp-replay/internal/cache"
	"github.com/annel0/slp-replay/internal/eventbus"
	"github.com/annel0/slp-replay/internal/logging"
	"github.com/annel0/slp-replay/internal/metrics"
	"github.com/annel0/slp-replay/internal/replay"
	"github.com/annel0/slp-replay/internal/slp"
	"github.com/annel0/slp-replay/internal/storage"
)

// eventSource поле Source в конвертах
const eventSource = "slp-replay"

var tracer = otel.Tracer("github.com/annel0/slp-replay/internal/app")

// Library принимает файлы записей, разбирает и хранит сводки
type Library struct {
	store   *storage.GameStore
	archive *storage.Archive
	cache   cache.CacheRepo
	bus     eventbus.EventBus
	metrics *metrics.DecodeMetrics
	opts    replay.Options

	invalidation eventbus.Subscription
}

// Deps зависимости; Archive, Cache, Bus и Metrics необязательны
type Deps struct {
	Store   *storage.GameStore
	Archive *storage.Archive
	Cache   cache.CacheRepo
	Bus     eventbus.EventBus
	Metrics *metrics.DecodeMetrics
	Options replay.Options
}

// NewLibrary. Кадры не сохраняются: в хранилище уходит сводка.
func NewLibrary(d Deps) (*Library, error) {
	if d.Store == nil {
		return nil, errors.New("library: store is required")
	}
	opts := d.Options
	opts.DecodeFrames = false

	l := &Library{store: d.Store, archive: d.Archive, cache: d.Cache, bus: d.Bus, metrics: d.Metrics, opts: opts}
	if l.bus != nil && l.cache != nil {
		sub, err := l.bus.Subscribe(context.Background(),
			eventbus.Filter{Types: []string{eventbus.TypeReplayDeleted}}, l.onDeleted)
		if err != nil {
			return nil, fmt.Errorf("subscribe invalidation: %w", err)
		}
		l.invalidation = sub
	}
	return l, nil
}

// Close отписывается от шины; store, cache и bus закрывает владелец
func (l *Library) Close() {
	if l.invalidation != nil {
		l.invalidation.Unsubscribe()
	}
}

// IngestResult
type IngestResult struct {
	Record    *storage.GameRecord
	Game      *replay.Game // nil для дубликата
	Duplicate bool
}

// Ingest разбирает запись и сохраняет сводку. Повторная загрузка того же
// содержимого не разбирается заново.
func (l *Library) Ingest(ctx context.Context, name string, data []byte) (*IngestResult, error) {
	hash := storage.ContentHash(data)

	if id, ok, err := l.store.FindByHash(ctx, hash); err != nil {
		return nil, err
	} else if ok {
		rec, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		l.metrics.Duplicate()
		l.publishDecoded(ctx, rec, nil, true)
		return &IngestResult{Record: rec, Duplicate: true}, nil
	}

	ctx, span := tracer.Start(ctx, "replay.decode", trace.WithAttributes(
		attribute.String("replay.name", name),
		attribute.Int("replay.size", len(data)),
	))
	start := time.Now()
	game, err := replay.DecodeBytes(ctx, data, l.opts)
	l.metrics.Observe(game, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		span.End()
		logging.LogDecodeError(name, err, around(data, err))
		l.publish(ctx, eventbus.TypeReplayFailed, eventbus.ReplayFailed{Name: name, Hash: hash, Error: err.Error()}, 5)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("replay.version", game.Version),
		attribute.Int("replay.frames", game.FrameCount),
		attribute.Int("replay.parsing_errors", len(game.ParsingErrors)),
	)
	span.End()

	summary, err := json.Marshal(game.Summary())
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	rec, created, err := l.store.Save(ctx, newRecord(name, hash, int64(len(data)), game, summary))
	if err != nil {
		return nil, err
	}
	if l.archive != nil && created {
		if err := l.archive.Put(hash, data); err != nil {
			logging.Warn("archive %s: %v", rec.ID, err)
		}
	}
	if l.cache != nil {
		if err := l.cache.Set(ctx, rec.ID, mustMarshal(rec), 0); err != nil {
			logging.Warn("cache set %s: %v", rec.ID, err)
		}
	}

	logging.Info("🎮 Replay %s stored as %s (%d frames, %d parsing errors)", name, rec.ID, game.FrameCount, len(game.ParsingErrors))
	l.publishDecoded(ctx, rec, game, !created)
	return &IngestResult{Record: rec, Game: game, Duplicate: !created}, nil
}

// around окрестность смещения фатальной ошибки для hex-дампа
func around(data []byte, err error) []byte {
	var de *slp.DecodeError
	if !errors.As(err, &de) || de.Offset < 0 || de.Offset >= int64(len(data)) {
		return data[:min(len(data), 64)]
	}
	from := max(0, int(de.Offset)-16)
	return data[from:min(len(data), int(de.Offset)+48)]
}

func newRecord(name, hash string, size int64, g *replay.Game, summary []byte) storage.GameRecord {
	rec := storage.GameRecord{
		Hash:          hash,
		Name:          name,
		Size:          size,
		Version:       g.Version,
		ParsingErrors: len(g.ParsingErrors),
		Summary:       summary,
	}
	if g.Settings != nil {
		rec.Stage = g.Settings.Stage.String()
		for _, p := range g.Settings.Players {
			rec.Characters = append(rec.Characters, p.Character.String())
		}
	}
	return rec
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Get запись со сводкой: кеш, затем хранилище
func (l *Library) Get(ctx context.Context, id string) (*storage.GameRecord, error) {
	if l.cache == nil {
		return l.store.Get(ctx, id)
	}
	data, err := l.cache.Get(ctx, id)
	if cache.IsCacheMiss(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		logging.Warn("cache get %s: %v", id, err)
		return l.store.Get(ctx, id)
	}
	var rec storage.GameRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cached record: %w", err)
	}
	return &rec, nil
}

// Statistics JSON статистики записи; nil, если статистика не считалась
func (l *Library) Statistics(ctx context.Context, id string) (json.RawMessage, error) {
	rec, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var summary struct {
		Statistics json.RawMessage `json:"statistics"`
	}
	if err := json.Unmarshal(rec.Summary, &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return summary.Statistics, nil
}

// List заголовки записей, новые первыми
func (l *Library) List(ctx context.Context, offset, limit int) ([]storage.GameRecord, error) {
	return l.store.List(ctx, offset, limit)
}

// Count
func (l *Library) Count(ctx context.Context) (int, error) {
	return l.store.Count(ctx)
}

// Delete удаляет запись; кеш снимается на всех узлах через ReplayDeleted
func (l *Library) Delete(ctx context.Context, id string) error {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := l.store.Delete(ctx, id); err != nil {
		return err
	}
	if l.archive != nil {
		if err := l.archive.Delete(rec.Hash); err != nil {
			logging.Warn("archive delete %s: %v", id, err)
		}
	}
	if l.cache != nil {
		if err := l.cache.Delete(ctx, id); err != nil {
			logging.Warn("cache delete %s: %v", id, err)
		}
	}
	l.publish(ctx, eventbus.TypeReplayDeleted, eventbus.ReplayDeleted{GameID: id}, 7)
	return nil
}

// Raw исходный файл записи; ErrNotFound, если архив выключен или файла нет
func (l *Library) Raw(ctx context.Context, id string) (*storage.GameRecord, io.ReadCloser, error) {
	if l.archive == nil {
		return nil, nil, storage.ErrNotFound
	}
	rec, err := l.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	r, err := l.archive.Open(rec.Hash)
	if err != nil {
		return nil, nil, err
	}
	return rec, r, nil
}

func (l *Library) onDeleted(ctx context.Context, ev *eventbus.Envelope) {
	var msg eventbus.ReplayDeleted
	if err := ev.Decode(&msg); err != nil {
		logging.Warn("bad %s payload: %v", ev.EventType, err)
		return
	}
	if err := l.cache.Delete(ctx, msg.GameID); err != nil {
		logging.Warn("cache invalidation %s: %v", msg.GameID, err)
	}
}

func (l *Library) publishDecoded(ctx context.Context, rec *storage.GameRecord, g *replay.Game, duplicate bool) {
	msg := eventbus.ReplayDecoded{
		GameID:        rec.ID,
		Hash:          rec.Hash,
		Name:          rec.Name,
		Version:       rec.Version,
		Stage:         rec.Stage,
		Characters:    rec.Characters,
		ParsingErrors: rec.ParsingErrors,
		Duplicate:     duplicate,
	}
	if g != nil {
		msg.TotalFrames = g.FrameCount
		if g.Statistics != nil {
			msg.Winner = g.Statistics.Winner
		}
	}
	l.publish(ctx, eventbus.TypeReplayDecoded, msg, 3)
}

func (l *Library) publish(ctx context.Context, eventType string, payload any, priority int) {
	if l.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventType, eventSource, payload)
	if err != nil {
		logging.Error("envelope %s: %v", eventType, err)
		return
	}
	ev.Priority = priority
	if err := l.bus.Publish(ctx, ev); err != nil {
		logging.Warn("publish %s: %v", eventType, err)
	}
}
