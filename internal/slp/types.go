package slp

import "time"

// PreFrame ввод и состояние игрока до обновления кадра
type PreFrame struct {
	Frame           int32   `json:"frame"`
	Port            int     `json:"port"`
	RandomSeed      uint32  `json:"random_seed"`
	ActionState     uint16  `json:"action_state"`
	X               float32 `json:"x"`
	Y               float32 `json:"y"`
	Facing          float32 `json:"facing"`
	JoystickX       float32 `json:"joystick_x"`
	JoystickY       float32 `json:"joystick_y"`
	CStickX         float32 `json:"cstick_x"`
	CStickY         float32 `json:"cstick_y"`
	Trigger         float32 `json:"trigger"`
	Buttons         uint32  `json:"buttons"`
	PhysicalButtons uint16  `json:"physical_buttons"`
	PhysicalL       float32 `json:"physical_l"`
	PhysicalR       float32 `json:"physical_r"`
	Percent         float32 `json:"percent"`
	HasPercent      bool    `json:"-"`
}

// Pressed проверяет физическую кнопку
func (p PreFrame) Pressed(mask uint16) bool { return p.PhysicalButtons&mask != 0 }

// PostFrame разрешённое состояние игрока после обновления кадра
type PostFrame struct {
	Frame             int32   `json:"frame"`
	Port              int     `json:"port"`
	InternalCharacter uint8   `json:"internal_character"`
	ActionState       uint16  `json:"action_state"`
	X                 float32 `json:"x"`
	Y                 float32 `json:"y"`
	Facing            float32 `json:"facing"`
	Percent           float32 `json:"percent"`
	ShieldSize        float32 `json:"shield_size"`
	LastAttackLanded  uint8   `json:"last_attack_landed"`
	ComboCount        uint8   `json:"combo_count"`
	// LastHitBy индекс слота (0-3) последнего ударившего; другие значения: нет данных
	LastHitBy        uint8   `json:"last_hit_by"`
	Stocks           uint8   `json:"stocks"`
	ActionStateFrame float32 `json:"action_state_frame"`
	StateFlags       [5]byte `json:"state_flags"`
	MiscAS           float32 `json:"misc_as"`
	Airborne         bool    `json:"airborne"`
	LastGroundID     uint16  `json:"last_ground_id"`
	JumpsRemaining   uint8   `json:"jumps_remaining"`
	// LCancelStatus 0: нет данных, 1: успех, 2: провал
	LCancelStatus   uint8   `json:"l_cancel_status"`
	HurtboxStatus   uint8   `json:"hurtbox_status"`
	SelfAirVelX     float32 `json:"self_air_vel_x"`
	SelfVelY        float32 `json:"self_vel_y"`
	AttackVelX      float32 `json:"attack_vel_x"`
	AttackVelY      float32 `json:"attack_vel_y"`
	SelfGroundVelX  float32 `json:"self_ground_vel_x"`
	HasVelocity     bool    `json:"-"`
	HitlagRemaining float32 `json:"hitlag_remaining"`
	AnimationIndex  uint32  `json:"animation_index"`
}

// LastHitByPort порт последнего ударившего, 0 если неизвестен
func (p PostFrame) LastHitByPort() int {
	if p.LastHitBy < 4 {
		return int(p.LastHitBy) + 1
	}
	return 0
}

// Position координаты игрока
type Position struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Velocity скорость игрока за тик
type Velocity struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Velocity суммарная скорость; ok=false для версий без полей скорости
func (p PostFrame) Velocity() (Velocity, bool) {
	if !p.HasVelocity {
		return Velocity{}, false
	}
	x := p.SelfAirVelX
	if !p.Airborne {
		x = p.SelfGroundVelX
	}
	return Velocity{X: x + p.AttackVelX, Y: p.SelfVelY + p.AttackVelY}, true
}

// Frame один тик симуляции после разрешения откатов.
// Pre и Post никогда не nil.
type Frame struct {
	Index      int32             `json:"index"`
	RandomSeed uint32            `json:"random_seed,omitempty"`
	Pre        map[int]PreFrame  `json:"pre"`
	Post       map[int]PostFrame `json:"post"`
	IsRollback bool              `json:"is_rollback"`
}

// NewFrame создаёт пустой кадр
func NewFrame(index int32) *Frame {
	return &Frame{
		Index: index,
		Pre:   make(map[int]PreFrame),
		Post:  make(map[int]PostFrame),
	}
}

// Positions позиции игроков по портам
func (f *Frame) Positions() map[int]Position {
	out := make(map[int]Position, len(f.Post))
	for port, p := range f.Post {
		out[port] = Position{X: p.X, Y: p.Y}
	}
	return out
}

// Velocities скорости игроков по портам (только для версий с полями скорости)
func (f *Frame) Velocities() map[int]Velocity {
	out := make(map[int]Velocity, len(f.Post))
	for port, p := range f.Post {
		if v, ok := p.Velocity(); ok {
			out[port] = v
		}
	}
	return out
}

// Animations action state игроков по портам
func (f *Frame) Animations() map[int]uint16 {
	out := make(map[int]uint16, len(f.Post))
	for port, p := range f.Post {
		out[port] = p.ActionState
	}
	return out
}

// PlayerType тип слота
type PlayerType uint8

const (
	PlayerHuman PlayerType = 0
	PlayerCPU   PlayerType = 1
	PlayerDemo  PlayerType = 2
	PlayerEmpty PlayerType = 3
)

func (t PlayerType) String() string {
	switch t {
	case PlayerHuman:
		return "human"
	case PlayerCPU:
		return "cpu"
	case PlayerDemo:
		return "demo"
	case PlayerEmpty:
		return "empty"
	}
	return "unknown"
}

func (t PlayerType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Player один участник
type Player struct {
	Port          int         `json:"port"`
	Character     CharacterID `json:"character"`
	HasCharacter  bool        `json:"-"`
	Type          PlayerType  `json:"type"`
	Tag           string      `json:"tag"`
	ControllerFix string      `json:"controller_fix"`
	StartStocks   uint8       `json:"start_stocks"`
	Costume       uint8       `json:"costume"`
	TeamID        uint8       `json:"team_id"`
	DisplayName   string      `json:"display_name,omitempty"`
	ConnectCode   string      `json:"connect_code,omitempty"`
}

// Validate проверяет инварианты игрока
func (p Player) Validate() error {
	if p.Port < 1 || p.Port > 4 {
		return &ValidationError{Entity: "player", Reason: ReasonPortRange, Port: p.Port, Detail: "port must be in [1,4]"}
	}
	if !p.HasCharacter {
		return &ValidationError{Entity: "player", Reason: ReasonCharacterMissing, Port: p.Port}
	}
	if p.Type > PlayerDemo {
		return &ValidationError{Entity: "player", Reason: ReasonPlayerType, Port: p.Port, Detail: p.Type.String()}
	}
	return nil
}

// Settings конфигурация матча
type Settings struct {
	Version           Version  `json:"version"`
	Players           []Player `json:"players"`
	IsTeams           bool     `json:"is_teams"`
	ItemSpawnBehavior int8     `json:"item_spawn_behavior"`
	SelfDestructScore int8     `json:"self_destruct_score"`
	Stage             StageID  `json:"stage"`
	TimerSeconds      uint32   `json:"timer_seconds"`
	IsPAL             bool     `json:"is_pal"`
	IsFrozenPS        bool     `json:"is_frozen_ps"`
	MajorScene        uint8    `json:"major_scene"`
	MinorScene        uint8    `json:"minor_scene"`
	RandomSeed        uint32   `json:"random_seed"`
}

// Validate проверяет количество игроков, уникальность портов и каждого игрока
func (s *Settings) Validate() error {
	if n := len(s.Players); n < 1 || n > 4 {
		return &ValidationError{Entity: "settings", Reason: ReasonPlayerCount, Detail: "player count must be in [1,4]"}
	}
	seen := make(map[int]bool, len(s.Players))
	for _, p := range s.Players {
		if err := p.Validate(); err != nil {
			return &ValidationError{Entity: "settings", Reason: ReasonPlayer, Port: p.Port, Err: err}
		}
		if seen[p.Port] {
			return &ValidationError{Entity: "settings", Reason: ReasonDuplicatePort, Port: p.Port}
		}
		seen[p.Port] = true
	}
	return nil
}

// Player ищет игрока по порту
func (s *Settings) Player(port int) (Player, bool) {
	for _, p := range s.Players {
		if p.Port == port {
			return p, true
		}
	}
	return Player{}, false
}

// Ports порты участников в порядке слотов
func (s *Settings) Ports() []int {
	out := make([]int, 0, len(s.Players))
	for _, p := range s.Players {
		out = append(out, p.Port)
	}
	return out
}

// Console платформа записи
type Console string

const (
	ConsoleDolphin    Console = "dolphin"
	ConsoleNetwork    Console = "network"
	ConsoleNintendont Console = "nintendont"
)

// MetadataPlayer данные игрока из блока metadata
type MetadataPlayer struct {
	NetplayName string         `json:"netplay_name,omitempty"`
	ConnectCode string         `json:"connect_code,omitempty"`
	Characters  map[int]uint32 `json:"characters,omitempty"`
}

// Metadata происхождение записи
type Metadata struct {
	StartAt     *time.Time             `json:"start_at,omitempty"`
	LastFrame   *int32                 `json:"last_frame,omitempty"`
	PlayedOn    Console                `json:"played_on,omitempty"`
	ConsoleNick string                 `json:"console_nick,omitempty"`
	Duration    *float64               `json:"duration,omitempty"`
	Version     string                 `json:"version,omitempty"`
	Players     map[int]MetadataPlayer `json:"players,omitempty"`
}

// TicksPerSecond фиксированная частота симуляции
const TicksPerSecond = 60.0

// DurationSeconds явная длительность, иначе lastFrame/60, иначе неизвестно
func (m *Metadata) DurationSeconds() (float64, bool) {
	if m == nil {
		return 0, false
	}
	if m.Duration != nil {
		return *m.Duration, true
	}
	if m.LastFrame != nil {
		return float64(*m.LastFrame) / TicksPerSecond, true
	}
	return 0, false
}
