package eventbus

import (
	"context"

	"github.com/annel0/slp-replay/internal/logging"
)

// StartLoggingListener пишет журнал разбора по событиям шины: успешные записи в info,
// ошибки разбора в warn, остальное в debug.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	sub, err := bus.Subscribe(context.Background(), Filter{}, logReplayEvent)
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 Журнал событий разбора подключён к шине")
	return sub, nil
}

func logReplayEvent(_ context.Context, ev *Envelope) {
	switch ev.EventType {
	case TypeReplayDecoded:
		var p ReplayDecoded
		if err := ev.Decode(&p); err != nil {
			break
		}
		if p.Duplicate {
			logging.Debug("♻️ [EventBus] %s повтор записи %s", ev.ID, p.GameID)
			return
		}
		logging.Info("🎞️ [EventBus] %s %s v%s stage=%s frames=%d errors=%d",
			p.GameID, p.Name, p.Version, p.Stage, p.TotalFrames, p.ParsingErrors)
		return
	case TypeReplayFailed:
		var p ReplayFailed
		if err := ev.Decode(&p); err != nil {
			break
		}
		logging.Warn("💥 [EventBus] не разобрана %s (%s): %s", p.Name, shortHash(p.Hash), p.Error)
		return
	}
	logging.Debug("[EventBus] %s %s src=%s size=%dB", ev.ID, ev.EventType, ev.Source, len(ev.Payload))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
