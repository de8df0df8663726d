package stats

import (
	"math/bits"
	"slices"

	"github.com/annel0/slp-replay/internal/slp"
)

// playerTrack скользящее состояние одного игрока между тиками
type playerTrack struct {
	port  int
	stats *PlayerStats
	th    *Thresholds
	table StateTable

	hasPrev    bool
	prev       slp.PostFrame
	hasPrevPre bool
	prevPre    slp.PreFrame

	hasDeathState bool
	lastDeathAt   int32

	hasHitTaken bool
	lastHitAt   int32
	lastHitBy   int
	comboHits   int
	comboOwner  int
	technique   techniqueState
	dashDance   dashDanceTracker
	lCancel     lCancelTracker
}

// hit попадание, обнаруженное по росту процентов жертвы
type hit struct {
	frame        int32
	attacker     int
	victim       int
	damage       float64
	continuation bool
	victimBusy   bool
	resolved     bool
}

// Pipeline однопроходная свёртка по кадрам. Add вызывается для каждого
// кадра в порядке возрастания индекса, Finish один раз в конце.
type Pipeline struct {
	th    Thresholds
	table StateTable

	stats   *Statistics
	ports   []int
	players map[int]*playerTrack

	frames    int
	lastFrame int32
	firstKill bool
	pending   []*hit
	frameHits []*hit
	finished  bool
}

// NewPipeline готовит свёртку для участников settings
func NewPipeline(settings *slp.Settings, th Thresholds) *Pipeline {
	p := &Pipeline{
		th:      th,
		players: make(map[int]*playerTrack),
		stats: &Statistics{
			Players: make(map[int]*PlayerStats),
			Events:  []GameEvent{},
		},
	}
	if settings != nil {
		p.table = StateTableFor(settings.Version)
		for _, pl := range settings.Players {
			if pl.Port < 1 || pl.Port > 4 {
				continue
			}
			p.track(pl.Port).stats.Character = pl.Character
		}
	} else {
		p.table = defaultStateTable
	}
	return p
}

func (p *Pipeline) track(port int) *playerTrack {
	if t, ok := p.players[port]; ok {
		return t
	}
	ps := &PlayerStats{Port: port}
	t := &playerTrack{
		port:      port,
		stats:     ps,
		th:        &p.th,
		table:     p.table,
		technique: groundState{},
	}
	p.players[port] = t
	p.stats.Players[port] = ps
	p.ports = append(p.ports, port)
	slices.Sort(p.ports)
	return t
}

// Add учитывает очередной кадр
func (p *Pipeline) Add(f *slp.Frame) {
	if p.finished || f == nil {
		return
	}
	p.frames++
	p.lastFrame = f.Index
	p.frameHits = p.frameHits[:0]

	ports := make([]int, 0, len(f.Post))
	for port := range f.Post {
		if port >= 1 && port <= 4 {
			ports = append(ports, port)
		}
	}
	slices.Sort(ports)

	for _, port := range ports {
		pre, hasPre := f.Pre[port]
		p.observe(f.Index, p.track(port), pre, hasPre, f.Post[port])
	}
	p.correlate(f.Index)
}

func (p *Pipeline) observe(idx int32, t *playerTrack, pre slp.PreFrame, hasPre bool, post slp.PostFrame) {
	ps := t.stats
	if ps.DamageTaken == nil {
		ps.DamageTaken = new(float64)
	}
	if ps.DamageDealt == nil {
		ps.DamageDealt = new(float64)
	}

	if p.table.IsDeath(post.ActionState) {
		t.hasDeathState = true
		t.lastDeathAt = idx
	}

	if t.hasPrev {
		if post.Stocks < t.prev.Stocks {
			p.stockLost(idx, t, post)
		}
		if delta := float64(post.Percent - t.prev.Percent); delta > 0 {
			p.damage(idx, t, post, delta)
		}
		if post.ActionState != t.prev.ActionState {
			ps.ActionCount++
		}
	}

	if hasPre && t.hasPrevPre {
		pressed := pre.PhysicalButtons &^ t.prevPre.PhysicalButtons
		ps.InputCount += bits.OnesCount16(pressed)
	}

	entered := func(state uint16) bool {
		return post.ActionState == state && (!t.hasPrev || t.prev.ActionState != state)
	}
	if entered(p.table.CliffCatch) {
		ps.LedgeGrabCount++
	}
	if entered(p.table.EscapeAir) {
		ps.AirDodgeCount++
	}

	t.technique = t.technique.Update(t, idx, post)
	t.dashDance.update(t, idx, post)
	t.lCancel.update(t, idx, pre, hasPre, post)

	stocks := int(post.Stocks)
	ps.Stocks = &stocks

	t.prev = post
	t.hasPrev = true
	if hasPre {
		t.prevPre = pre
		t.hasPrevPre = true
	}
}

// stockLost засчитывает смерть на каждой потере стока. Событие kill только
// при death state рядом с потерей, иначе stock_lost без убийцы.
func (p *Pipeline) stockLost(idx int32, t *playerTrack, post slp.PostFrame) {
	inDeath := p.table.IsDeath(post.ActionState) ||
		(t.hasDeathState && idx-t.lastDeathAt <= int32(p.th.DeathStateWindow))

	t.hasHitTaken = false
	t.comboHits = 0
	t.stats.DeathCount++

	if !inDeath {
		p.emit(EventStockLost, idx, intPtr(t.port), map[string]any{
			"stocks_remaining": int(post.Stocks),
		})
		return
	}

	killer := post.LastHitByPort()
	if killer == 0 || killer == t.port {
		killer = t.prev.LastHitByPort()
	}

	details := map[string]any{
		"victim":           t.port,
		"stocks_remaining": int(post.Stocks),
	}
	var player *int
	if k, ok := p.players[killer]; ok && killer != t.port {
		k.stats.KillCount++
		player = intPtr(killer)
	}
	p.emit(EventKill, idx, player, details)

	if !p.firstKill {
		p.firstKill = true
		p.emit(EventFirstBlood, idx, player, map[string]any{"victim": t.port})
	}
}

// damage учитывает рост процентов и регистрирует попадание
func (p *Pipeline) damage(idx int32, t *playerTrack, post slp.PostFrame, delta float64) {
	*t.stats.DamageTaken += delta

	attacker := post.LastHitByPort()
	a, ok := p.players[attacker]
	if !ok || attacker == t.port {
		return
	}
	if a.stats.DamageDealt == nil {
		a.stats.DamageDealt = new(float64)
	}
	*a.stats.DamageDealt += delta

	continuation := t.hasHitTaken && t.lastHitBy == attacker &&
		idx-t.lastHitAt <= int32(p.th.NeutralResetWindow)
	h := &hit{
		frame:        idx,
		attacker:     attacker,
		victim:       t.port,
		damage:       delta,
		continuation: continuation,
		victimBusy:   p.table.IsAttacking(t.prev.ActionState),
	}

	if h.continuation && t.comboOwner == attacker {
		t.comboHits++
	} else {
		t.comboHits = 1
		t.comboOwner = attacker
	}
	if t.comboHits > a.stats.LongestCombo {
		a.stats.LongestCombo = t.comboHits
	}

	t.hasHitTaken = true
	t.lastHitAt = idx
	t.lastHitBy = attacker
	p.frameHits = append(p.frameHits, h)
}

// correlate сопоставляет встречные попадания и классифицирует те,
// для которых окно размена уже истекло
func (p *Pipeline) correlate(idx int32) {
	window := int32(p.th.TradeWindow)

	for _, h := range p.frameHits {
		for _, g := range p.pending {
			if g.resolved || g.attacker != h.victim || g.victim != h.attacker || h.frame-g.frame > window {
				continue
			}
			p.trade(g, h)
			break
		}
		if !h.resolved {
			p.pending = append(p.pending, h)
		}
	}

	kept := p.pending[:0]
	for _, g := range p.pending {
		if g.resolved {
			continue
		}
		if idx-g.frame > window {
			p.classify(g)
			continue
		}
		kept = append(kept, g)
	}
	p.pending = kept
}

func (p *Pipeline) trade(first, second *hit) {
	first.resolved = true
	second.resolved = true
	p.players[first.attacker].stats.TradeCount++
	p.players[second.attacker].stats.TradeCount++

	p.emit(EventTrade, second.frame, nil, map[string]any{
		"ports":  []int{first.attacker, second.attacker},
		"damage": map[int]float64{first.attacker: first.damage, second.attacker: second.damage},
	})

	var winner, loser *hit
	switch {
	case first.damage > second.damage:
		winner, loser = first, second
	case second.damage > first.damage:
		winner, loser = second, first
	default:
		return
	}
	p.players[winner.attacker].stats.BeneficialTradeCount++
	p.emit(EventBeneficialTrade, second.frame, intPtr(winner.attacker), map[string]any{
		"opponent":     loser.attacker,
		"damage_dealt": winner.damage,
		"damage_taken": loser.damage,
	})
}

// classify одиночное попадание: продолжение комбо, counter hit или выигранная нейтраль
func (p *Pipeline) classify(h *hit) {
	h.resolved = true
	if h.continuation {
		return
	}
	a := p.players[h.attacker].stats
	a.OpeningCount++
	details := map[string]any{"victim": h.victim, "damage": h.damage}
	p.emit(EventOpening, h.frame, intPtr(h.attacker), details)

	if h.victimBusy {
		a.CounterHitCount++
		p.emit(EventCounterHit, h.frame, intPtr(h.attacker), map[string]any{"victim": h.victim})
		return
	}
	a.NeutralWinCount++
	p.emit(EventNeutralWin, h.frame, intPtr(h.attacker), map[string]any{"victim": h.victim})
}

func (p *Pipeline) emit(kind EventKind, frame int32, player *int, details map[string]any) {
	p.stats.Events = append(p.stats.Events, GameEvent{Type: kind, Frame: frame, Player: player, Details: details})
}

// Finish закрывает свёртку: победитель, способ завершения, длительность.
// end и md могут быть nil.
func (p *Pipeline) Finish(end *slp.GameEnd, md *slp.Metadata) *Statistics {
	if p.finished {
		return p.stats
	}
	p.finished = true

	for _, g := range p.pending {
		if !g.resolved {
			p.classify(g)
		}
	}
	p.pending = nil

	s := p.stats
	s.TotalFrames = p.frames
	if secs, ok := md.DurationSeconds(); ok {
		s.DurationSeconds = secs
	} else if p.th.TickRate > 0 {
		s.DurationSeconds = float64(p.frames) / p.th.TickRate
	}

	if minutes := s.DurationSeconds / 60; minutes > 0 {
		for _, ps := range s.Players {
			ps.InputsPerMinute = float64(ps.InputCount) / minutes
		}
	}

	var alive []int
	for _, port := range p.ports {
		if st := s.Players[port].Stocks; st != nil && *st > 0 {
			alive = append(alive, port)
		}
	}
	if len(alive) == 1 {
		s.Winner = intPtr(alive[0])
	}

	details := map[string]any{}
	if end != nil {
		method := end.Method
		s.GameEndMethod = &method
		details["method"] = method.String()
		if end.LRASInitiator != 0 {
			s.LRASInitiator = intPtr(end.LRASInitiator)
			details["lras_initiator"] = end.LRASInitiator
		}
	}
	if p.frames > 0 || end != nil {
		p.emit(EventGameEnd, p.lastFrame, s.Winner, details)
	}
	return s
}

// Compute прогоняет свёртку по готовой последовательности кадров
func Compute(settings *slp.Settings, frames []*slp.Frame, end *slp.GameEnd, md *slp.Metadata, th Thresholds) *Statistics {
	p := NewPipeline(settings, th)
	for _, f := range frames {
		p.Add(f)
	}
	return p.Finish(end, md)
}
