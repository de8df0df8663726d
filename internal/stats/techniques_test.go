package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slp-replay/internal/slp"
)

func state(s uint16) func(*slp.PostFrame) {
	return func(p *slp.PostFrame) { p.ActionState = s }
}

func TestTechniques_WavedashAndWaveland(t *testing.T) {
	table := StateTableFor(slp.Version{Major: 3})
	tl := &timeline{}
	tl.until(70)

	// jump squat → air dodge → special landing с горизонтальной скоростью
	for _, idx := range []int32{10, 11, 12} {
		tl.setPostAt(idx, 1, state(table.KneeBend))
	}
	tl.setPostAt(13, 1, state(table.EscapeAir))
	tl.setPostAt(14, 1, func(p *slp.PostFrame) {
		p.ActionState = table.LandingSpecial
		p.HasVelocity = true
		p.SelfGroundVelX = -1.5
	})

	// air dodge без jump squat → waveland
	tl.setPostAt(30, 1, state(table.EscapeAir))
	tl.setPostAt(31, 1, state(table.EscapeAir))
	tl.setPostAt(32, 1, func(p *slp.PostFrame) {
		p.ActionState = table.LandingSpecial
		p.HasVelocity = true
		p.SelfGroundVelX = 1.0
	})

	// посадка почти без скорости даёт просто air dodge
	tl.setPostAt(50, 1, state(table.EscapeAir))
	tl.setPostAt(51, 1, func(p *slp.PostFrame) {
		p.ActionState = table.LandingSpecial
		p.HasVelocity = true
	})

	s := Compute(twoPlayers(), tl.frames, nil, nil, DefaultThresholds())
	ps := s.Players[1]
	assert.Equal(t, 1, ps.WavedashCount)
	assert.Equal(t, 1, ps.WavelandCount)
	assert.Equal(t, 3, ps.AirDodgeCount)
	assert.Equal(t, 0, s.Players[2].WavedashCount)
}

func TestTechniques_LateLandingIsNotWavedash(t *testing.T) {
	table := StateTableFor(slp.Version{Major: 3})
	tl := &timeline{}
	tl.until(40)

	tl.setPostAt(10, 1, state(table.KneeBend))
	for idx := int32(11); idx < 30; idx++ {
		tl.setPostAt(idx, 1, state(table.EscapeAir))
	}
	tl.setPostAt(30, 1, func(p *slp.PostFrame) {
		p.ActionState = table.LandingSpecial
		p.HasVelocity = true
		p.SelfGroundVelX = 2
	})

	s := Compute(twoPlayers(), tl.frames, nil, nil, DefaultThresholds())
	assert.Equal(t, 0, s.Players[1].WavedashCount)
	assert.Equal(t, 0, s.Players[1].WavelandCount)
	assert.Equal(t, 1, s.Players[1].AirDodgeCount)
}

func TestTechniques_DashDanceAndLedgeGrab(t *testing.T) {
	table := StateTableFor(slp.Version{Major: 3})
	tl := &timeline{}
	tl.until(100)

	tl.setPostAt(60, 2, state(table.Dash))
	tl.setPostAt(61, 2, func(p *slp.PostFrame) { p.ActionState = table.Turn; p.Facing = -1 })
	tl.setPostAt(62, 2, func(p *slp.PostFrame) { p.ActionState = table.Dash; p.Facing = -1 })
	tl.setPostAt(63, 2, func(p *slp.PostFrame) { p.ActionState = table.Turn; p.Facing = 1 })

	for _, idx := range []int32{80, 81, 82} {
		tl.setPostAt(idx, 1, state(table.CliffCatch))
	}

	s := Compute(twoPlayers(), tl.frames, nil, nil, DefaultThresholds())
	assert.Equal(t, 1, s.Players[2].DashDanceCount)
	assert.Equal(t, 0, s.Players[1].DashDanceCount)
	assert.Equal(t, 1, s.Players[1].LedgeGrabCount, "удержание края считается одним захватом")
}

func TestTechniques_LCancel(t *testing.T) {
	tl := &timeline{}
	tl.until(160)

	// нажатие L за 4 тика до посадки
	for idx := int32(100); idx <= 104; idx++ {
		tl.setPostAt(idx, 1, state(stateNair))
	}
	tl.setPostAt(105, 1, state(stateNairLag))
	pre := tl.at(101).Pre[1]
	pre.PhysicalButtons = slp.ButtonL
	tl.at(101).Pre[1] = pre

	// без нажатия
	for idx := int32(120); idx <= 124; idx++ {
		tl.setPostAt(idx, 1, state(stateNair))
	}
	tl.setPostAt(125, 1, state(stateNairLag))

	// статус из post-frame важнее эвристики по вводу
	tl.setPostAt(140, 1, state(stateNair))
	tl.setPostAt(141, 1, func(p *slp.PostFrame) { p.ActionState = stateNairLag; p.LCancelStatus = 1 })

	s := Compute(twoPlayers(), tl.frames, nil, nil, DefaultThresholds())
	assert.Equal(t, 2, s.Players[1].LCancelSuccess)
	assert.Equal(t, 1, s.Players[1].LCancelFail)
}

func TestInteractions(t *testing.T) {
	tl := &timeline{}
	tl.until(500)

	// Размен: 1 бьёт 2 на 10% (кадр 200), 2 отвечает на 15% (кадр 202)
	tl.setPost(200, 2, func(p *slp.PostFrame) { p.Percent = 10; p.LastHitBy = 0 })
	tl.setPost(202, 1, func(p *slp.PostFrame) { p.Percent = 15; p.LastHitBy = 1 })

	// Counter hit: 1 атакует на кадре 299, 2 попадает на 300
	tl.setPostAt(299, 1, state(stateJab))
	tl.setPost(300, 1, func(p *slp.PostFrame) { p.Percent = 27 })

	// Комбо из трёх ударов 1 по 2
	tl.setPost(400, 2, func(p *slp.PostFrame) { p.Percent = 20 })
	tl.setPost(410, 2, func(p *slp.PostFrame) { p.Percent = 25 })
	tl.setPost(420, 2, func(p *slp.PostFrame) { p.Percent = 33 })

	s := Compute(twoPlayers(), tl.frames, nil, nil, DefaultThresholds())
	p1, p2 := s.Players[1], s.Players[2]

	assert.Equal(t, 1, p1.TradeCount)
	assert.Equal(t, 1, p2.TradeCount)
	assert.Equal(t, 1, p2.BeneficialTradeCount)
	assert.Equal(t, 0, p1.BeneficialTradeCount)

	assert.Equal(t, 1, p2.OpeningCount)
	assert.Equal(t, 1, p2.CounterHitCount)
	assert.Equal(t, 0, p2.NeutralWinCount)

	assert.Equal(t, 1, p1.OpeningCount)
	assert.Equal(t, 1, p1.NeutralWinCount)
	assert.Equal(t, 3, p1.LongestCombo)

	beneficial := s.EventsOf(EventBeneficialTrade)
	require.Len(t, beneficial, 1)
	assert.Equal(t, int32(202), beneficial[0].Frame)
	assert.Equal(t, 2, *beneficial[0].Player)

	counter := s.EventsOf(EventCounterHit)
	require.Len(t, counter, 1)
	assert.Equal(t, int32(300), counter[0].Frame)

	assert.InDelta(t, 33, *p1.DamageDealt, 1e-6)
	assert.InDelta(t, 27, *p2.DamageDealt, 1e-6)
}

func TestInteractions_EqualTradeHasNoBeneficiary(t *testing.T) {
	tl := &timeline{}
	tl.until(50)
	tl.setPost(20, 2, func(p *slp.PostFrame) { p.Percent = 8; p.LastHitBy = 0 })
	tl.setPost(20, 1, func(p *slp.PostFrame) { p.Percent = 8; p.LastHitBy = 1 })

	s := Compute(twoPlayers(), tl.frames, nil, nil, DefaultThresholds())
	assert.Len(t, s.EventsOf(EventTrade), 1)
	assert.Empty(t, s.EventsOf(EventBeneficialTrade))
	assert.Empty(t, s.EventsOf(EventOpening))
}
