package replay

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/annel0/slp-replay/internal/logging"
	"github.com/annel0/slp-replay/internal/slp"
	"github.com/annel0/slp-replay/internal/stats"
)

// Stream пошаговый разбор: кадры можно забирать по одному и остановиться в любой момент.
// Не потокобезопасен.
type Stream struct {
	ctx      context.Context
	opts     Options
	demux    *slp.Demuxer
	rec      *slp.Reconciler
	settings *slp.Settings
	version  slp.Version
	pipeline *stats.Pipeline

	frames    []*slp.Frame
	count     int
	rollbacks int
	errs      []string
	drained   bool
	finished  bool
	game      *Game
}

// NewStream читает заголовок, таблицу размеров и game start.
// Ошибка здесь фатальна: без версии и settings результата нет.
func NewStream(ctx context.Context, src slp.Source, opts Options) (*Stream, error) {
	demux, err := slp.NewDemuxer(src)
	if err != nil {
		return nil, err
	}

	var gs *slp.GameStart
	for gs == nil {
		ev, err := demux.Next()
		if err == io.EOF {
			return nil, &slp.DecodeError{Kind: slp.KindInvalidContainer, Offset: src.Offset(), Msg: "stream has no game start event"}
		}
		if err != nil {
			return nil, err
		}
		if start, ok := ev.(*slp.GameStart); ok {
			gs = start
			continue
		}
		return nil, &slp.DecodeError{
			Kind: slp.KindInvalidContainer, Offset: ev.StreamOffset(), Code: ev.Command(),
			Msg: "event before game start",
		}
	}

	settings, verrs, err := slp.DecodeSettings(gs)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		ctx:      ctx,
		opts:     opts,
		demux:    demux,
		rec:      slp.NewReconciler(demux),
		settings: settings,
		version:  settings.Version,
	}
	if opts.MaxOpenFrames > 0 {
		s.rec.SetMaxOpenFrames(opts.MaxOpenFrames)
	}
	for _, e := range verrs {
		s.errs = append(s.errs, e.Error())
	}
	if opts.ComputeStatistics {
		s.pipeline = stats.NewPipeline(settings, opts.thresholds())
	}
	return s, nil
}

// Settings раскодированные настройки матча
func (s *Stream) Settings() *slp.Settings { return s.settings }

// Version версия формата записи
func (s *Stream) Version() slp.Version { return s.version }

// Next следующий кадр после разрешения откатов; io.EOF в конце
func (s *Stream) Next() (*slp.Frame, error) {
	if s.drained {
		return nil, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.rec.Next()
	if err == io.EOF {
		s.drained = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	s.count++
	if f.IsRollback {
		s.rollbacks++
	}
	if s.pipeline != nil {
		s.pipeline.Add(f)
	}
	if s.opts.DecodeFrames {
		s.frames = append(s.frames, f)
	}
	return f, nil
}

// Frames ленивая последовательность кадров
func (s *Stream) Frames() iter.Seq2[*slp.Frame, error] {
	return func(yield func(*slp.Frame, error) bool) {
		for {
			f, err := s.Next()
			if err == io.EOF {
				return
			}
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// Finish дочитывает поток и собирает Game. Если не нужны ни кадры, ни статистика,
// события не разбираются: читаются только settings и metadata.
func (s *Stream) Finish() (*Game, error) {
	if s.finished {
		return s.game, nil
	}

	if s.opts.DecodeFrames || s.opts.ComputeStatistics {
		for !s.drained {
			if _, err := s.Next(); err != nil && err != io.EOF {
				return nil, err
			}
		}
	}

	md, err := s.demux.Metadata()
	if err != nil {
		if slp.IsFatal(err) {
			return nil, err
		}
		s.errs = append(s.errs, fmt.Sprintf("metadata: %v", err))
	}

	for _, e := range s.rec.Errors() {
		s.errs = append(s.errs, e.Error())
	}

	g := &Game{
		Metadata:       md,
		Settings:       s.settings,
		Version:        s.version.String(),
		ParsingErrors:  s.errs,
		FrameCount:     s.count,
		RollbackFrames: s.rollbacks,
		GameEnd:        s.rec.GameEnd(),
	}
	if g.ParsingErrors == nil {
		g.ParsingErrors = []string{}
	}
	if s.opts.DecodeFrames {
		g.Frames = s.frames
	}
	if s.pipeline != nil {
		g.Statistics = s.pipeline.Finish(g.GameEnd, md)
	}

	if n := len(g.ParsingErrors); n > 0 {
		logging.Debug("⚠️ Replay %s decoded with %d recoverable errors, first: %s", g.Version, n, g.ParsingErrors[0])
	}

	s.finished = true
	s.game = g
	return g, nil
}

// Decode полный разбор из источника
func Decode(ctx context.Context, src slp.Source, opts Options) (*Game, error) {
	s, err := NewStream(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	return s.Finish()
}

// DecodeBytes разбор записи в памяти (в том числе сжатой zstd/gzip)
func DecodeBytes(ctx context.Context, data []byte, opts Options) (*Game, error) {
	src, err := slp.OpenBytes(data)
	if err != nil {
		return nil, err
	}
	return Decode(ctx, src, opts)
}

// DecodeReader потоковый разбор; в памяти держится одно событие
func DecodeReader(ctx context.Context, r io.Reader, opts Options) (*Game, error) {
	src, err := slp.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return Decode(ctx, src, opts)
}

// DecodeFile разбор файла с диска
func DecodeFile(ctx context.Context, path string, opts Options) (*Game, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()

	g, err := DecodeReader(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}
