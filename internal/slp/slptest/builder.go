// Package slptest собирает синтетические записи .slp для тестов.
// Смещения полей записаны здесь независимо от декодера.
package slptest

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	"golang.org/x/text/encoding/japanese"
)

// Коды событий
const (
	CodeMessageSplitter byte = 0x10
	CodeEventPayloads   byte = 0x35
	CodeGameStart       byte = 0x36
	CodePre             byte = 0x37
	CodePost            byte = 0x38
	CodeGameEnd         byte = 0x39
	CodeFrameStart      byte = 0x3A
	CodeItem            byte = 0x3B
	CodeBookend         byte = 0x3C
)

// Размеры тел событий без байта кода
const (
	GameStartSize  = 0x249
	PreSize        = 0x3F
	PostSize       = 0x50
	GameEndSize    = 0x02
	FrameStartSize = 0x0C
	ItemSize       = 0x2A
	BookendSize    = 0x08
	bookendLegacy  = 0x04
)

// PlayerSpec один слот в game start
type PlayerSpec struct {
	Port        int
	Character   uint8
	Type        uint8 // 0 human, 1 cpu, 2 demo, 3 empty
	Stocks      uint8
	Costume     uint8
	Team        uint8
	Tag         string
	DisplayName string
	ConnectCode string
	// DashbackFix и ShieldDropFix: 1 UCF, 2 Dween
	DashbackFix   uint32
	ShieldDropFix uint32
}

// PreSpec поля pre-frame update
type PreSpec struct {
	Follower        bool
	Seed            uint32
	ActionState     uint16
	X, Y            float32
	Facing          float32
	JoystickX       float32
	JoystickY       float32
	Trigger         float32
	Buttons         uint32
	PhysicalButtons uint16
	PhysicalL       float32
	PhysicalR       float32
	Percent         float32
}

// PostSpec поля post-frame update
type PostSpec struct {
	Follower         bool
	Character        uint8
	ActionState      uint16
	X, Y             float32
	Facing           float32
	Percent          float32
	Shield           float32
	LastAttackLanded uint8
	Combo            uint8
	LastHitBy        uint8 // индекс слота, 6: нет
	Stocks           uint8
	ActionFrame      float32
	Airborne         bool
	JumpsRemaining   uint8
	LCancel          uint8
	SelfAirVelX      float32
	SelfVelY         float32
	SelfGroundVelX   float32
}

// Builder накапливает события и собирает контейнер
type Builder struct {
	Version  [3]byte
	Stage    uint16
	IsTeams  bool
	Timer    uint32
	Seed     uint32
	Players  []PlayerSpec
	Metadata map[string]any
	// MetadataTail пишется после raw как есть, вместо Metadata
	MetadataTail []byte
	// UnboundedRaw пишет длину raw равной 0 (запись не финализирована)
	UnboundedRaw bool
	// Sizes переопределяет таблицу размеров; nil-значение удаляет код
	Sizes map[byte]int

	events bytes.Buffer
}

// New создаёт сборщик с двумя игроками по 4 стока
func New(major, minor, build byte) *Builder {
	return &Builder{
		Version: [3]byte{major, minor, build},
		Stage:   31,
		Timer:   480,
		Players: []PlayerSpec{
			{Port: 1, Character: 2, Stocks: 4, Tag: "AAA"},
			{Port: 2, Character: 20, Stocks: 4, Tag: "BBB"},
		},
	}
}

func (b *Builder) atLeast(major, minor byte) bool {
	if b.Version[0] != major {
		return b.Version[0] > major
	}
	return b.Version[1] >= minor
}

func (b *Builder) bookendSize() int {
	if b.atLeast(3, 7) {
		return BookendSize
	}
	return bookendLegacy
}

func (b *Builder) sizeTable() map[byte]int {
	t := map[byte]int{
		CodeGameStart:  GameStartSize,
		CodePre:        PreSize,
		CodePost:       PostSize,
		CodeGameEnd:    GameEndSize,
		CodeFrameStart: FrameStartSize,
		CodeItem:       ItemSize,
		CodeBookend:    b.bookendSize(),
	}
	for code, size := range b.Sizes {
		if size < 0 {
			delete(t, code)
			continue
		}
		t[code] = size
	}
	return t
}

// GameStartBody тело game start вместе с байтом кода
func (b *Builder) GameStartBody() []byte {
	p := make([]byte, GameStartSize+1)
	p[0] = CodeGameStart
	copy(p[1:4], b.Version[:])
	if b.IsTeams {
		p[0x0D] = 1
	}
	binary.BigEndian.PutUint16(p[0x13:], b.Stage)
	binary.BigEndian.PutUint32(p[0x15:], b.Timer)
	binary.BigEndian.PutUint32(p[0x13D:], b.Seed)

	for slot := 0; slot < 4; slot++ {
		base := 0x65 + 0x24*slot
		p[base+1] = 3
	}
	for _, pl := range b.Players {
		slot := pl.Port - 1
		if slot < 0 || slot > 3 {
			continue
		}
		base := 0x65 + 0x24*slot
		p[base] = pl.Character
		p[base+1] = pl.Type
		p[base+2] = pl.Stocks
		p[base+3] = pl.Costume
		p[base+9] = pl.Team
		binary.BigEndian.PutUint32(p[0x141+8*slot:], pl.DashbackFix)
		binary.BigEndian.PutUint32(p[0x145+8*slot:], pl.ShieldDropFix)
		putSJIS(p[0x161+0x10*slot:0x161+0x10*(slot+1)], pl.Tag)
		putSJIS(p[0x1A5+0x1F*slot:0x1A5+0x1F*(slot+1)], pl.DisplayName)
		putSJIS(p[0x221+0x0A*slot:0x221+0x0A*(slot+1)], pl.ConnectCode)
	}
	return p
}

func putSJIS(dst []byte, s string) {
	if s == "" {
		return
	}
	enc, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(s))
	if err != nil {
		enc = []byte(s)
	}
	copy(dst, enc)
}

// Event добавляет произвольное событие (тело без байта кода)
func (b *Builder) Event(code byte, body []byte) *Builder {
	b.events.WriteByte(code)
	b.events.Write(body)
	return b
}

// Pre добавляет pre-frame update
func (b *Builder) Pre(frame int32, port int, s PreSpec) *Builder {
	p := make([]byte, PreSize+1)
	p[0] = CodePre
	binary.BigEndian.PutUint32(p[0x01:], uint32(frame))
	p[0x05] = byte(port - 1)
	p[0x06] = boolByte(s.Follower)
	binary.BigEndian.PutUint32(p[0x07:], s.Seed)
	binary.BigEndian.PutUint16(p[0x0B:], s.ActionState)
	putF32(p[0x0D:], s.X)
	putF32(p[0x11:], s.Y)
	putF32(p[0x15:], s.Facing)
	putF32(p[0x19:], s.JoystickX)
	putF32(p[0x1D:], s.JoystickY)
	putF32(p[0x29:], s.Trigger)
	binary.BigEndian.PutUint32(p[0x2D:], s.Buttons)
	binary.BigEndian.PutUint16(p[0x31:], s.PhysicalButtons)
	putF32(p[0x33:], s.PhysicalL)
	putF32(p[0x37:], s.PhysicalR)
	putF32(p[0x3C:], s.Percent)
	return b.Event(CodePre, p[1:])
}

// Post добавляет post-frame update
func (b *Builder) Post(frame int32, port int, s PostSpec) *Builder {
	p := make([]byte, PostSize+1)
	p[0] = CodePost
	binary.BigEndian.PutUint32(p[0x01:], uint32(frame))
	p[0x05] = byte(port - 1)
	p[0x06] = boolByte(s.Follower)
	p[0x07] = s.Character
	binary.BigEndian.PutUint16(p[0x08:], s.ActionState)
	putF32(p[0x0A:], s.X)
	putF32(p[0x0E:], s.Y)
	putF32(p[0x12:], s.Facing)
	putF32(p[0x16:], s.Percent)
	putF32(p[0x1A:], s.Shield)
	p[0x1E] = s.LastAttackLanded
	p[0x1F] = s.Combo
	p[0x20] = s.LastHitBy
	p[0x21] = s.Stocks
	putF32(p[0x22:], s.ActionFrame)
	p[0x2F] = boolByte(s.Airborne)
	p[0x32] = s.JumpsRemaining
	p[0x33] = s.LCancel
	putF32(p[0x35:], s.SelfAirVelX)
	putF32(p[0x39:], s.SelfVelY)
	putF32(p[0x45:], s.SelfGroundVelX)
	return b.Event(CodePost, p[1:])
}

// FrameStart добавляет начало кадра
func (b *Builder) FrameStart(frame int32, seed uint32) *Builder {
	p := make([]byte, FrameStartSize)
	binary.BigEndian.PutUint32(p[0x00:], uint32(frame))
	binary.BigEndian.PutUint32(p[0x04:], seed)
	return b.Event(CodeFrameStart, p)
}

// Bookend добавляет конец кадра; finalized пишется только для 3.7.0+
func (b *Builder) Bookend(frame, finalized int32) *Builder {
	p := make([]byte, b.bookendSize())
	binary.BigEndian.PutUint32(p[0x00:], uint32(frame))
	if len(p) >= 8 {
		binary.BigEndian.PutUint32(p[0x04:], uint32(finalized))
	}
	return b.Event(CodeBookend, p)
}

// Item добавляет item update (декодер его пропускает)
func (b *Builder) Item(frame int32) *Builder {
	p := make([]byte, ItemSize)
	binary.BigEndian.PutUint32(p[0x00:], uint32(frame))
	return b.Event(CodeItem, p)
}

// GameEnd добавляет завершение игры; lras: индекс слота или -1
func (b *Builder) GameEnd(method byte, lras int8) *Builder {
	return b.Event(CodeGameEnd, []byte{method, byte(lras)})
}

// Tick добавляет полный кадр: pre и post для каждого порта и bookend
func (b *Builder) Tick(frame int32, posts map[int]PostSpec) *Builder {
	ports := make([]int, 0, len(posts))
	for port := range posts {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	for _, port := range ports {
		post := posts[port]
		b.Pre(frame, port, PreSpec{ActionState: post.ActionState, X: post.X, Y: post.Y, Facing: post.Facing, Percent: post.Percent})
		b.Post(frame, port, post)
	}
	return b.Bookend(frame, frame)
}

// RawStream поток raw без контейнера
func (b *Builder) RawStream() []byte {
	var out bytes.Buffer
	sizes := b.sizeTable()
	codes := make([]int, 0, len(sizes))
	for code := range sizes {
		codes = append(codes, int(code))
	}
	sort.Ints(codes)

	out.WriteByte(CodeEventPayloads)
	out.WriteByte(byte(1 + 3*len(codes)))
	for _, code := range codes {
		out.WriteByte(byte(code))
		var sz [2]byte
		binary.BigEndian.PutUint16(sz[:], uint16(sizes[byte(code)]))
		out.Write(sz[:])
	}
	out.Write(b.GameStartBody())
	out.Write(b.events.Bytes())
	return out.Bytes()
}

// Bytes полный UBJSON-контейнер с raw и metadata
func (b *Builder) Bytes() []byte {
	raw := b.RawStream()
	var out bytes.Buffer
	out.Write([]byte{'{', 'U', 0x03, 'r', 'a', 'w', '[', '$', 'U', '#', 'l'})
	var n [4]byte
	if !b.UnboundedRaw {
		binary.BigEndian.PutUint32(n[:], uint32(len(raw)))
	}
	out.Write(n[:])
	out.Write(raw)
	if b.MetadataTail != nil {
		out.Write(b.MetadataTail)
		return out.Bytes()
	}
	if b.Metadata != nil {
		writeKey(&out, "metadata")
		writeValue(&out, b.Metadata)
	}
	out.WriteByte('}')
	return out.Bytes()
}

func writeKey(w *bytes.Buffer, key string) {
	w.WriteByte('U')
	w.WriteByte(byte(len(key)))
	w.WriteString(key)
}

func writeValue(w *bytes.Buffer, v any) {
	switch x := v.(type) {
	case string:
		w.WriteByte('S')
		w.WriteByte('U')
		w.WriteByte(byte(len(x)))
		w.WriteString(x)
	case int:
		w.WriteByte('l')
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(int32(x)))
		w.Write(n[:])
	case float64:
		w.WriteByte('D')
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], math.Float64bits(x))
		w.Write(n[:])
	case bool:
		if x {
			w.WriteByte('T')
		} else {
			w.WriteByte('F')
		}
	case map[string]any:
		w.WriteByte('{')
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeKey(w, k)
			writeValue(w, x[k])
		}
		w.WriteByte('}')
	default:
		w.WriteByte('Z')
	}
}

func putF32(dst []byte, v float32) {
	binary.BigEndian.PutUint32(dst, math.Float32bits(v))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
