package slp

import "fmt"

// Command код события в потоке raw
type Command byte

const (
	CmdMessageSplitter Command = 0x10
	CmdEventPayloads   Command = 0x35
	CmdGameStart       Command = 0x36
	CmdPreFrameUpdate  Command = 0x37
	CmdPostFrameUpdate Command = 0x38
	CmdGameEnd         Command = 0x39
	CmdFrameStart      Command = 0x3A
	CmdItemUpdate      Command = 0x3B
	CmdFrameBookend    Command = 0x3C
	CmdGeckoList       Command = 0x3D
)

func (c Command) String() string {
	switch c {
	case CmdMessageSplitter:
		return "MessageSplitter"
	case CmdEventPayloads:
		return "EventPayloads"
	case CmdGameStart:
		return "GameStart"
	case CmdPreFrameUpdate:
		return "PreFrameUpdate"
	case CmdPostFrameUpdate:
		return "PostFrameUpdate"
	case CmdGameEnd:
		return "GameEnd"
	case CmdFrameStart:
		return "FrameStart"
	case CmdItemUpdate:
		return "ItemUpdate"
	case CmdFrameBookend:
		return "FrameBookend"
	case CmdGeckoList:
		return "GeckoList"
	}
	return fmt.Sprintf("Command(0x%02x)", byte(c))
}

// Event типизированное событие потока
type Event interface {
	Command() Command
	// StreamOffset абсолютная позиция кода команды в потоке
	StreamOffset() int64
}

type eventHeader struct {
	Offset int64 `json:"-"`
}

func (h eventHeader) StreamOffset() int64 { return h.Offset }

// GameStart тело события начала игры. Раскодируется DecodeSettings.
type GameStart struct {
	eventHeader
	Payload []byte
}

func (*GameStart) Command() Command { return CmdGameStart }

// FrameEvent общее для событий, привязанных к кадру
type FrameEvent interface {
	Event
	FrameIndex() int32
}

// PreFrameUpdate ввод игрока и состояние до обновления кадра
type PreFrameUpdate struct {
	eventHeader
	PreFrame
	IsFollower bool
}

func (*PreFrameUpdate) Command() Command    { return CmdPreFrameUpdate }
func (e *PreFrameUpdate) FrameIndex() int32 { return e.Frame }

// PostFrameUpdate итоговое состояние игрока после обновления кадра
type PostFrameUpdate struct {
	eventHeader
	PostFrame
	IsFollower bool
}

func (*PostFrameUpdate) Command() Command    { return CmdPostFrameUpdate }
func (e *PostFrameUpdate) FrameIndex() int32 { return e.Frame }

// FrameStart начало кадра (3.0.0+)
type FrameStart struct {
	eventHeader
	Frame      int32
	RandomSeed uint32
}

func (*FrameStart) Command() Command    { return CmdFrameStart }
func (e *FrameStart) FrameIndex() int32 { return e.Frame }

// FrameBookend конец кадра (3.0.0+). LatestFinalized есть с 3.7.0.
type FrameBookend struct {
	eventHeader
	Frame           int32
	LatestFinalized int32
	HasFinalized    bool
}

func (*FrameBookend) Command() Command    { return CmdFrameBookend }
func (e *FrameBookend) FrameIndex() int32 { return e.Frame }

// GameEndMethod способ завершения игры
type GameEndMethod uint8

const (
	EndUnresolved GameEndMethod = 0
	EndTime       GameEndMethod = 1
	EndGame       GameEndMethod = 2
	EndResolved   GameEndMethod = 3
	EndNoContest  GameEndMethod = 7
)

func (m GameEndMethod) String() string {
	switch m {
	case EndUnresolved:
		return "unresolved"
	case EndTime:
		return "time"
	case EndGame:
		return "game"
	case EndResolved:
		return "resolved"
	case EndNoContest:
		return "no_contest"
	}
	return fmt.Sprintf("method(%d)", uint8(m))
}

func (m GameEndMethod) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// GameEnd завершение игры
type GameEnd struct {
	eventHeader
	Method GameEndMethod
	// LRASInitiator порт игрока, нажавшего L+R+A+Start; 0 если нет
	LRASInitiator int
}

func (*GameEnd) Command() Command { return CmdGameEnd }

// UnknownEvent событие с известным размером, но без декодера
type UnknownEvent struct {
	eventHeader
	Code Command
}

func (e *UnknownEvent) Command() Command { return e.Code }

// Кнопки физического контроллера (pre-frame 0x31)
const (
	ButtonDPadLeft  uint16 = 0x0001
	ButtonDPadRight uint16 = 0x0002
	ButtonDPadDown  uint16 = 0x0004
	ButtonDPadUp    uint16 = 0x0008
	ButtonZ         uint16 = 0x0010
	ButtonR         uint16 = 0x0020
	ButtonL         uint16 = 0x0040
	ButtonA         uint16 = 0x0100
	ButtonB         uint16 = 0x0200
	ButtonX         uint16 = 0x0400
	ButtonY         uint16 = 0x0800
	ButtonStart     uint16 = 0x1000
)

func portFromIndex(idx uint8) int { return int(idx) + 1 }

func decodePreFrame(offset int64, payload []byte) *PreFrameUpdate {
	c := NewCursor(payload)
	ev := &PreFrameUpdate{eventHeader: eventHeader{Offset: offset}}
	ev.Frame = c.Int32At(0x01)
	ev.Port = portFromIndex(c.Uint8At(0x05))
	ev.IsFollower = c.BoolAt(0x06)
	ev.RandomSeed = c.Uint32At(0x07)
	ev.ActionState = c.Uint16At(0x0B)
	ev.X = c.Float32At(0x0D)
	ev.Y = c.Float32At(0x11)
	ev.Facing = c.Float32At(0x15)
	ev.JoystickX = c.Float32At(0x19)
	ev.JoystickY = c.Float32At(0x1D)
	ev.CStickX = c.Float32At(0x21)
	ev.CStickY = c.Float32At(0x25)
	ev.Trigger = c.Float32At(0x29)
	ev.Buttons = c.Uint32At(0x2D)
	ev.PhysicalButtons = c.Uint16At(0x31)
	ev.PhysicalL = c.Float32At(0x33)
	ev.PhysicalR = c.Float32At(0x37)
	if c.Has(0x3C, 4) {
		ev.Percent = c.Float32At(0x3C)
		ev.HasPercent = true
	}
	return ev
}

func decodePostFrame(offset int64, payload []byte) *PostFrameUpdate {
	c := NewCursor(payload)
	ev := &PostFrameUpdate{eventHeader: eventHeader{Offset: offset}}
	ev.Frame = c.Int32At(0x01)
	ev.Port = portFromIndex(c.Uint8At(0x05))
	ev.IsFollower = c.BoolAt(0x06)
	ev.InternalCharacter = c.Uint8At(0x07)
	ev.ActionState = c.Uint16At(0x08)
	ev.X = c.Float32At(0x0A)
	ev.Y = c.Float32At(0x0E)
	ev.Facing = c.Float32At(0x12)
	ev.Percent = c.Float32At(0x16)
	ev.ShieldSize = c.Float32At(0x1A)
	ev.LastAttackLanded = c.Uint8At(0x1E)
	ev.ComboCount = c.Uint8At(0x1F)
	ev.LastHitBy = c.Uint8At(0x20)
	ev.Stocks = c.Uint8At(0x21)
	ev.ActionStateFrame = c.Float32At(0x22)
	if c.Has(0x26, 5) {
		copy(ev.StateFlags[:], payload[0x26:0x2B])
	}
	ev.MiscAS = c.Float32At(0x2B)
	ev.Airborne = c.BoolAt(0x2F)
	ev.LastGroundID = c.Uint16At(0x30)
	ev.JumpsRemaining = c.Uint8At(0x32)
	ev.LCancelStatus = c.Uint8At(0x33)
	ev.HurtboxStatus = c.Uint8At(0x34)
	if c.Has(0x35, 20) {
		ev.HasVelocity = true
		ev.SelfAirVelX = c.Float32At(0x35)
		ev.SelfVelY = c.Float32At(0x39)
		ev.AttackVelX = c.Float32At(0x3D)
		ev.AttackVelY = c.Float32At(0x41)
		ev.SelfGroundVelX = c.Float32At(0x45)
	}
	ev.HitlagRemaining = c.Float32At(0x49)
	ev.AnimationIndex = c.Uint32At(0x4D)
	return ev
}

func decodeFrameStart(offset int64, payload []byte) *FrameStart {
	c := NewCursor(payload)
	return &FrameStart{
		eventHeader: eventHeader{Offset: offset},
		Frame:       c.Int32At(0x01),
		RandomSeed:  c.Uint32At(0x05),
	}
}

func decodeFrameBookend(offset int64, payload []byte) *FrameBookend {
	c := NewCursor(payload)
	ev := &FrameBookend{
		eventHeader: eventHeader{Offset: offset},
		Frame:       c.Int32At(0x01),
	}
	if c.Has(0x05, 4) {
		ev.LatestFinalized = c.Int32At(0x05)
		ev.HasFinalized = true
	}
	return ev
}

func decodeGameEnd(offset int64, payload []byte) *GameEnd {
	c := NewCursor(payload)
	ev := &GameEnd{
		eventHeader: eventHeader{Offset: offset},
		Method:      GameEndMethod(c.Uint8At(0x01)),
	}
	if c.Has(0x02, 1) {
		if idx := c.Int8At(0x02); idx >= 0 && idx < 4 {
			ev.LRASInitiator = int(idx) + 1
		}
	}
	return ev
}
