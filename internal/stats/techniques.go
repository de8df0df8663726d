package stats

import (
	"math"

	"github.com/annel0/slp-replay/internal/slp"
)

// techniqueState состояние автомата распознавания wavedash/waveland
type techniqueState interface {
	Update(t *playerTrack, idx int32, post slp.PostFrame) techniqueState
}

// groundState нет незавершённой техники
type groundState struct{}

func (s groundState) Update(t *playerTrack, idx int32, post slp.PostFrame) techniqueState {
	if t.hasPrev && t.prev.ActionState == post.ActionState {
		return s
	}
	switch post.ActionState {
	case t.table.KneeBend:
		return &jumpSquatState{since: idx}
	case t.table.EscapeAir:
		return &airDodgeState{since: idx}
	}
	return s
}

// jumpSquatState присед перед прыжком
type jumpSquatState struct {
	since int32
}

func (s *jumpSquatState) Update(t *playerTrack, idx int32, post slp.PostFrame) techniqueState {
	if idx-s.since > int32(t.th.WavedashJumpSquatWindow) {
		return groundState{}.Update(t, idx, post)
	}
	switch post.ActionState {
	case t.table.EscapeAir:
		return &airDodgeState{since: idx, fromJumpSquat: true}
	case t.table.KneeBend:
		if t.prev.ActionState != t.table.KneeBend {
			return &jumpSquatState{since: idx}
		}
	}
	return s
}

// airDodgeState ждём посадку в special landing
type airDodgeState struct {
	since         int32
	fromJumpSquat bool
}

func (s *airDodgeState) Update(t *playerTrack, idx int32, post slp.PostFrame) techniqueState {
	if idx-s.since > int32(t.th.WavedashLandingWindow) {
		return groundState{}.Update(t, idx, post)
	}
	if post.ActionState != t.table.LandingSpecial {
		if post.ActionState == t.table.KneeBend {
			return &jumpSquatState{since: idx}
		}
		return s
	}

	if t.horizontalSpeed(post) >= t.th.WavedashMinVelocity {
		if s.fromJumpSquat {
			t.stats.WavedashCount++
		} else {
			t.stats.WavelandCount++
		}
	}
	return groundState{}
}

// horizontalSpeed модуль горизонтальной скорости; без полей скорости по смещению позиции
func (t *playerTrack) horizontalSpeed(post slp.PostFrame) float32 {
	if v, ok := post.Velocity(); ok {
		return float32(math.Abs(float64(v.X)))
	}
	if !t.hasPrev {
		return 0
	}
	return float32(math.Abs(float64(post.X - t.prev.X)))
}

// dashDanceTracker считает смены направления в dash/turn
type dashDanceTracker struct {
	reversals []int32
}

func (d *dashDanceTracker) update(t *playerTrack, idx int32, post slp.PostFrame) {
	if !t.table.IsDashing(post.ActionState) {
		d.reversals = d.reversals[:0]
		return
	}
	if !t.hasPrev || !t.table.IsDashing(t.prev.ActionState) || post.Facing == t.prev.Facing {
		return
	}

	d.reversals = append(d.reversals, idx)
	window := int32(t.th.DashDanceWindow)
	for len(d.reversals) > 0 && idx-d.reversals[0] > window {
		d.reversals = d.reversals[1:]
	}
	if len(d.reversals) >= 2 {
		t.stats.DashDanceCount++
		d.reversals = d.reversals[:0]
	}
}

// lCancelTracker помнит последний тик, где был нажат L/R/Z или аналоговый триггер
type lCancelTracker struct {
	lastInput int32
	hasInput  bool
}

const lCancelButtons = slp.ButtonL | slp.ButtonR | slp.ButtonZ

func (l *lCancelTracker) update(t *playerTrack, idx int32, pre slp.PreFrame, hasPre bool, post slp.PostFrame) {
	if hasPre {
		analog := max(pre.Trigger, pre.PhysicalL, pre.PhysicalR)
		if pre.Pressed(lCancelButtons) || analog >= t.th.LCancelTriggerThreshold {
			l.lastInput = idx
			l.hasInput = true
		}
	}

	if !t.hasPrev || !t.table.IsAerialAttack(t.prev.ActionState) || !t.table.IsAerialLanding(post.ActionState) {
		return
	}

	switch post.LCancelStatus {
	case 1:
		t.stats.LCancelSuccess++
		return
	case 2:
		t.stats.LCancelFail++
		return
	}
	if l.hasInput && idx-l.lastInput <= int32(t.th.LCancelWindow) {
		t.stats.LCancelSuccess++
	} else {
		t.stats.LCancelFail++
	}
}
