// Package replay собирает результат разбора записи: settings, metadata,
// кадры и статистику, накапливая нефатальные ошибки.
package replay

import (
	"github.com/annel0/slp-replay/internal/slp"
	"github.com/annel0/slp-replay/internal/stats"
)

// Options выборочный разбор. Статистика считается и без сохранения кадров.
type Options struct {
	DecodeFrames      bool              `yaml:"decode_frames" json:"decode_frames"`
	ComputeStatistics bool              `yaml:"compute_statistics" json:"compute_statistics"`
	Thresholds        *stats.Thresholds `yaml:"-" json:"-"`
	// MaxOpenFrames предел окна реконсилятора; 0: значение по умолчанию
	MaxOpenFrames int `yaml:"max_open_frames" json:"max_open_frames"`
}

// DefaultOptions полный разбор
func DefaultOptions() Options {
	return Options{DecodeFrames: true, ComputeStatistics: true}
}

func (o Options) thresholds() stats.Thresholds {
	if o.Thresholds != nil {
		return *o.Thresholds
	}
	return stats.DefaultThresholds()
}

// Game итог разбора одной записи
type Game struct {
	Metadata      *slp.Metadata     `json:"metadata,omitempty"`
	Settings      *slp.Settings     `json:"settings"`
	Frames        []*slp.Frame      `json:"frames,omitempty"`
	Statistics    *stats.Statistics `json:"statistics,omitempty"`
	Version       string            `json:"version"`
	ParsingErrors []string          `json:"parsing_errors"`

	// FrameCount кадры, прошедшие реконсилятор (и при DecodeFrames=false)
	FrameCount     int          `json:"frame_count"`
	RollbackFrames int          `json:"rollback_frames"`
	GameEnd        *slp.GameEnd `json:"-"`
}

// Valid версия и settings обязательны; кадров может не быть
func (g *Game) Valid() bool {
	return g != nil && g.Version != "" && g.Settings != nil
}

// Frame кадр по индексу, если кадры сохранены
func (g *Game) Frame(index int32) (*slp.Frame, bool) {
	if len(g.Frames) == 0 {
		return nil, false
	}
	off := int(index - g.Frames[0].Index)
	if off >= 0 && off < len(g.Frames) && g.Frames[off].Index == index {
		return g.Frames[off], true
	}
	// при разрывах индексы не совпадают с позициями
	for _, f := range g.Frames {
		if f.Index == index {
			return f, true
		}
	}
	return nil, false
}

// Summary копия без кадров: для хранения и ответов API
func (g *Game) Summary() *Game {
	if g == nil {
		return nil
	}
	cp := *g
	cp.Frames = nil
	return &cp
}
