package stats

import (
	"fmt"

	"github.com/annel0/slp-replay/internal/slp"
)

// Thresholds пороги и окна детекторов. Окна задаются в тиках.
type Thresholds struct {
	TickRate float64 `yaml:"tick_rate" json:"tick_rate"`

	// Посадка в LandingFallSpecial не позже стольких тиков после начала air dodge
	WavedashLandingWindow int `yaml:"wavedash_landing_window" json:"wavedash_landing_window"`
	// Air dodge не позже стольких тиков после jump squat, иначе это waveland
	WavedashJumpSquatWindow int `yaml:"wavedash_jump_squat_window" json:"wavedash_jump_squat_window"`
	// Минимальная горизонтальная скорость в момент посадки
	WavedashMinVelocity float32 `yaml:"wavedash_min_velocity" json:"wavedash_min_velocity"`

	DashDanceWindow int `yaml:"dash_dance_window" json:"dash_dance_window"`

	LCancelWindow           int     `yaml:"l_cancel_window" json:"l_cancel_window"`
	LCancelTriggerThreshold float32 `yaml:"l_cancel_trigger_threshold" json:"l_cancel_trigger_threshold"`

	// Встречные попадания в пределах окна считаются разменом
	TradeWindow int `yaml:"trade_window" json:"trade_window"`
	// Без попаданий столько тиков: следующее попадание открывает новый обмен
	NeutralResetWindow int `yaml:"neutral_reset_window" json:"neutral_reset_window"`
	// Потеря стока засчитывается как смерть, если death state был не раньше стольких тиков назад
	DeathStateWindow int `yaml:"death_state_window" json:"death_state_window"`
}

// Значения по умолчанию
const (
	DefaultTickRate                = slp.TicksPerSecond
	DefaultWavedashLandingWindow   = 5
	DefaultWavedashJumpSquatWindow = 15
	DefaultWavedashMinVelocity     = 0.5
	DefaultDashDanceWindow         = 20
	DefaultLCancelWindow           = 7
	DefaultLCancelTriggerThreshold = 0.3
	DefaultTradeWindow             = 5
	DefaultNeutralResetWindow      = 45
	DefaultDeathStateWindow        = 60
)

// DefaultThresholds пороги по умолчанию
func DefaultThresholds() Thresholds {
	return Thresholds{
		TickRate:                DefaultTickRate,
		WavedashLandingWindow:   DefaultWavedashLandingWindow,
		WavedashJumpSquatWindow: DefaultWavedashJumpSquatWindow,
		WavedashMinVelocity:     DefaultWavedashMinVelocity,
		DashDanceWindow:         DefaultDashDanceWindow,
		LCancelWindow:           DefaultLCancelWindow,
		LCancelTriggerThreshold: DefaultLCancelTriggerThreshold,
		TradeWindow:             DefaultTradeWindow,
		NeutralResetWindow:      DefaultNeutralResetWindow,
		DeathStateWindow:        DefaultDeathStateWindow,
	}
}

// Validate проверяет, что окна неотрицательны, а частота положительна
func (t Thresholds) Validate() error {
	if t.TickRate <= 0 {
		return fmt.Errorf("tick_rate must be positive, got %v", t.TickRate)
	}
	windows := map[string]int{
		"wavedash_landing_window":    t.WavedashLandingWindow,
		"wavedash_jump_squat_window": t.WavedashJumpSquatWindow,
		"dash_dance_window":          t.DashDanceWindow,
		"l_cancel_window":            t.LCancelWindow,
		"trade_window":               t.TradeWindow,
		"neutral_reset_window":       t.NeutralResetWindow,
		"death_state_window":         t.DeathStateWindow,
	}
	for name, v := range windows {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}
	if t.WavedashMinVelocity < 0 || t.LCancelTriggerThreshold < 0 {
		return fmt.Errorf("velocity and trigger thresholds must not be negative")
	}
	return nil
}
