package slp

import (
	"io"
	"iter"
	"maps"
	"math"
	"slices"
)

const (
	// DefaultMaxOpenFrames сколько кадров одновременно может ждать закрытия
	DefaultMaxOpenFrames = 64
	// DefaultRollbackDepth глубина отката для записей без bookend:
	// кадр i закрывается, когда начинается кадр больше i+depth
	DefaultRollbackDepth = 7
)

// EventSource источник событий для реконсилятора (обычно *Demuxer)
type EventSource interface {
	Next() (Event, error)
}

type pendingFrame struct {
	frame     *Frame
	firstPost map[int]PostFrame
}

// Reconciler сводит поток pre/post событий с повторами от откатов
// в строго возрастающую последовательность кадров.
//
// Для пары (кадр, порт) побеждает последнее событие. Кадр закрывается по
// bookend (с 3.7.0 по полю latest finalized), а в записях без bookend, когда
// начинается кадр дальше глубины отката. События для уже закрытого кадра
// отбрасываются с нефатальной ошибкой.
type Reconciler struct {
	src           EventSource
	maxOpen       int
	rollbackDepth int

	open        map[int32]*pendingFrame
	maxOpenIdx  int32
	ready       []*Frame
	sawBookend  bool
	hasClosed   bool
	lastClosed  int32
	errs        []error
	gameEnd     *GameEnd
	done        bool
	err         error
	framesTotal int
}

// NewReconciler создаёт реконсилятор поверх источника событий
func NewReconciler(src EventSource) *Reconciler {
	return &Reconciler{
		src:           src,
		maxOpen:       DefaultMaxOpenFrames,
		rollbackDepth: DefaultRollbackDepth,
		open:          make(map[int32]*pendingFrame),
	}
}

// SetMaxOpenFrames меняет предел окна открытых кадров
func (r *Reconciler) SetMaxOpenFrames(n int) {
	if n > 0 {
		r.maxOpen = n
	}
}

// SetRollbackDepth меняет глубину отката для записей без bookend.
// 0: кадр закрывается сразу с началом следующего.
func (r *Reconciler) SetRollbackDepth(n int) {
	if n >= 0 {
		r.rollbackDepth = n
	}
}

// Next возвращает следующий закрытый кадр; io.EOF после последнего.
// Фатальная ошибка источника возвращается как есть и повторяется при следующих вызовах.
func (r *Reconciler) Next() (*Frame, error) {
	for len(r.ready) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		if r.done {
			return nil, io.EOF
		}
		ev, err := r.src.Next()
		if err == io.EOF {
			r.closeUpTo(math.MaxInt32)
			r.done = true
			continue
		}
		if err != nil {
			r.err = err
			return nil, err
		}
		r.handle(ev)
	}

	f := r.ready[0]
	r.ready[0] = nil
	r.ready = r.ready[1:]
	r.framesTotal++
	return f, nil
}

// Frames ленивая последовательность кадров. Прерывание цикла и есть отмена.
func (r *Reconciler) Frames() iter.Seq2[*Frame, error] {
	return func(yield func(*Frame, error) bool) {
		for {
			f, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// Errors нефатальные ошибки, накопленные к текущему моменту
func (r *Reconciler) Errors() []error {
	return slices.Clone(r.errs)
}

// GameEnd событие завершения, если уже встречено
func (r *Reconciler) GameEnd() *GameEnd { return r.gameEnd }

// Emitted сколько кадров отдано потребителю
func (r *Reconciler) Emitted() int { return r.framesTotal }

func (r *Reconciler) handle(ev Event) {
	switch e := ev.(type) {
	case *PreFrameUpdate:
		// Ведомый персонаж (Nana) не отдельный игрок
		if e.IsFollower {
			return
		}
		if p := r.frameFor(e.Frame, e.Port); p != nil {
			p.frame.Pre[e.Port] = e.PreFrame
		}
	case *PostFrameUpdate:
		if e.IsFollower {
			return
		}
		if p := r.frameFor(e.Frame, e.Port); p != nil {
			if _, seen := p.firstPost[e.Port]; !seen {
				p.firstPost[e.Port] = e.PostFrame
			}
			p.frame.Post[e.Port] = e.PostFrame
		}
	case *FrameStart:
		if p := r.frameFor(e.Frame, 0); p != nil {
			p.frame.RandomSeed = e.RandomSeed
		}
	case *FrameBookend:
		r.sawBookend = true
		limit := e.Frame
		if e.HasFinalized && e.LatestFinalized < limit {
			limit = e.LatestFinalized
		}
		r.closeUpTo(limit)
	case *GameEnd:
		r.gameEnd = e
	}
}

// frameFor находит или открывает кадр; nil если кадр уже закрыт
func (r *Reconciler) frameFor(idx int32, port int) *pendingFrame {
	if r.hasClosed && idx <= r.lastClosed {
		r.errs = append(r.errs, &StaleFrameError{Frame: idx, LastClosed: r.lastClosed, Port: port})
		return nil
	}

	// Без bookend границей кадра служит начало кадра за пределами глубины отката
	if !r.sawBookend && len(r.open) > 0 && idx > r.maxOpenIdx {
		r.closeUpTo(idx - 1 - int32(r.rollbackDepth))
	}

	if p, ok := r.open[idx]; ok {
		return p
	}
	p := &pendingFrame{frame: NewFrame(idx), firstPost: make(map[int]PostFrame)}
	r.open[idx] = p
	if len(r.open) == 1 || idx > r.maxOpenIdx {
		r.maxOpenIdx = idx
	}

	if len(r.open) > r.maxOpen {
		r.closeOldest(len(r.open) - r.maxOpen)
	}
	return p
}

func (r *Reconciler) closeUpTo(limit int32) {
	if len(r.open) == 0 {
		return
	}
	for _, idx := range slices.Sorted(maps.Keys(r.open)) {
		if idx > limit {
			break
		}
		r.emit(idx)
	}
}

func (r *Reconciler) closeOldest(n int) {
	keys := slices.Sorted(maps.Keys(r.open))
	for _, idx := range keys[:n] {
		r.emit(idx)
	}
}

func (r *Reconciler) emit(idx int32) {
	p := r.open[idx]
	delete(r.open, idx)

	if r.hasClosed && idx != r.lastClosed+1 {
		r.errs = append(r.errs, &FrameGapError{Prev: r.lastClosed, Next: idx})
	}
	r.hasClosed = true
	r.lastClosed = idx

	for port, first := range p.firstPost {
		if p.frame.Post[port] != first {
			p.frame.IsRollback = true
			break
		}
	}
	r.ready = append(r.ready, p.frame)
}
