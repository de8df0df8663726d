package stats

import "github.com/annel0/slp-replay/internal/slp"

// EventKind символический тип игрового события
type EventKind string

const (
	EventKill            EventKind = "kill"
	EventStockLost       EventKind = "stock_lost"
	EventFirstBlood      EventKind = "first_blood"
	EventOpening         EventKind = "opening"
	EventNeutralWin      EventKind = "neutral_win"
	EventCounterHit      EventKind = "counter_hit"
	EventTrade           EventKind = "trade"
	EventBeneficialTrade EventKind = "beneficial_trade"
	EventGameEnd         EventKind = "game_end"
)

// GameEvent событие матча
type GameEvent struct {
	Type    EventKind      `json:"type"`
	Frame   int32          `json:"frame"`
	Player  *int           `json:"player,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// PlayerStats счётчики игрока. Stocks и урон nil, пока игрок не встречен в кадрах.
type PlayerStats struct {
	Port      int             `json:"port"`
	Character slp.CharacterID `json:"character"`

	Stocks      *int     `json:"stocks,omitempty"`
	DamageDealt *float64 `json:"damage_dealt,omitempty"`
	DamageTaken *float64 `json:"damage_taken,omitempty"`

	KillCount   int `json:"kill_count"`
	DeathCount  int `json:"death_count"`
	ActionCount int `json:"action_count"`

	InputCount      int     `json:"input_count"`
	InputsPerMinute float64 `json:"inputs_per_minute"`

	LCancelSuccess int `json:"l_cancel_success"`
	LCancelFail    int `json:"l_cancel_fail"`

	AirDodgeCount  int `json:"air_dodge_count"`
	WavedashCount  int `json:"wavedash_count"`
	WavelandCount  int `json:"waveland_count"`
	DashDanceCount int `json:"dash_dance_count"`
	LedgeGrabCount int `json:"ledge_grab_count"`

	OpeningCount         int `json:"opening_count"`
	NeutralWinCount      int `json:"neutral_win_count"`
	CounterHitCount      int `json:"counter_hit_count"`
	TradeCount           int `json:"trade_count"`
	BeneficialTradeCount int `json:"beneficial_trade_count"`
	LongestCombo         int `json:"longest_combo"`
}

// Statistics итог анализа матча
type Statistics struct {
	DurationSeconds float64              `json:"duration_seconds"`
	TotalFrames     int                  `json:"total_frames"`
	Winner          *int                 `json:"winner,omitempty"`
	GameEndMethod   *slp.GameEndMethod   `json:"game_end_method,omitempty"`
	LRASInitiator   *int                 `json:"lras_initiator,omitempty"`
	Players         map[int]*PlayerStats `json:"players"`
	Events          []GameEvent          `json:"events"`
}

// TotalKills сумма убийств всех игроков; отсутствующая статистика считается нулём
func (s *Statistics) TotalKills() int {
	if s == nil {
		return 0
	}
	total := 0
	for _, p := range s.Players {
		if p != nil {
			total += p.KillCount
		}
	}
	return total
}

// EventsOf события заданного типа в порядке появления
func (s *Statistics) EventsOf(kind EventKind) []GameEvent {
	var out []GameEvent
	for _, ev := range s.Events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func intPtr(v int) *int { return &v }
