package slp

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/width"
)

// Смещения блока game start (от кода команды)
const (
	gsVersion         = 0x01
	gsIsTeams         = 0x0D
	gsItemSpawn       = 0x10
	gsSelfDestruct    = 0x11
	gsStage           = 0x13
	gsTimer           = 0x15
	gsPlayerBlock     = 0x65
	gsPlayerStride    = 0x24
	gsRandomSeed      = 0x13D
	gsControllerFix   = 0x141
	gsControllerFixSz = 0x08

	// минимальная длина: версия + блок game info
	gsMinLength = gsRandomSeed
)

// Слот игрока внутри блока game info
const (
	slotCharacter = 0x00
	slotType      = 0x01
	slotStocks    = 0x02
	slotCostume   = 0x03
	slotTeamID    = 0x09
)

// DecodeVersion читает версию формата из тела game start
func DecodeVersion(gs *GameStart) (Version, error) {
	c := NewCursor(gs.Payload)
	if !c.Has(gsVersion, 4) {
		return Version{}, newDecodeError(KindTruncatedStream, gs.Offset, CmdGameStart, "game start too short for version")
	}
	return Version{
		Major: c.Uint8At(gsVersion),
		Minor: c.Uint8At(gsVersion + 1),
		Build: c.Uint8At(gsVersion + 2),
	}, nil
}

// DecodeSettings раскодирует game start в Settings.
// Фатальная ошибка возвращается для неподдерживаемой версии или обрезанного блока,
// нарушения инвариантов списком нефатальных ошибок.
func DecodeSettings(gs *GameStart) (*Settings, []error, error) {
	version, err := DecodeVersion(gs)
	if err != nil {
		return nil, nil, err
	}
	if !version.Supported() {
		return nil, nil, newDecodeError(KindUnsupportedVersion, gs.Offset, CmdGameStart,
			"format version %s not implemented (max major %d)", version, MaxSupportedMajor)
	}

	c := NewCursor(gs.Payload)
	if c.Len() < gsMinLength {
		return nil, nil, newDecodeError(KindTruncatedStream, gs.Offset, CmdGameStart,
			"game start is %d bytes, need at least %d", c.Len(), gsMinLength)
	}

	s := &Settings{
		Version:           version,
		IsTeams:           c.BoolAt(gsIsTeams),
		ItemSpawnBehavior: c.Int8At(gsItemSpawn),
		SelfDestructScore: c.Int8At(gsSelfDestruct),
		Stage:             StageID(c.Uint16At(gsStage)),
		TimerSeconds:      c.Uint32At(gsTimer),
		RandomSeed:        c.Uint32At(gsRandomSeed),
	}

	if off, _, ok := version.fieldAt(fieldPAL, 0); ok {
		s.IsPAL = c.BoolAt(off)
	}
	if off, _, ok := version.fieldAt(fieldFrozenPS, 0); ok {
		s.IsFrozenPS = c.BoolAt(off)
	}
	if off, _, ok := version.fieldAt(fieldScene, 0); ok {
		s.MinorScene = c.Uint8At(off)
		s.MajorScene = c.Uint8At(off + 1)
	}

	for slot := 0; slot < 4; slot++ {
		base := gsPlayerBlock + gsPlayerStride*slot
		if !c.Has(base, gsPlayerStride) {
			break
		}
		ptype := PlayerType(c.Uint8At(base + slotType))
		if ptype == PlayerEmpty {
			continue
		}
		p := Player{
			Port:          slot + 1,
			Character:     CharacterID(c.Uint8At(base + slotCharacter)),
			HasCharacter:  true,
			Type:          ptype,
			StartStocks:   c.Uint8At(base + slotStocks),
			Costume:       c.Uint8At(base + slotCostume),
			TeamID:        c.Uint8At(base + slotTeamID),
			ControllerFix: controllerFix(c, slot),
		}
		if off, size, ok := version.fieldAt(fieldNametag, slot); ok {
			p.Tag = decodeShiftJIS(c.BytesAt(off, size))
		}
		if off, size, ok := version.fieldAt(fieldDisplayName, slot); ok {
			p.DisplayName = decodeShiftJIS(c.BytesAt(off, size))
		}
		if off, size, ok := version.fieldAt(fieldConnectCode, slot); ok {
			p.ConnectCode = decodeShiftJIS(c.BytesAt(off, size))
		}
		s.Players = append(s.Players, p)
	}

	var errs []error
	if err := s.Validate(); err != nil {
		errs = append(errs, err)
	}
	return s, errs, nil
}

// controllerFix метка фикса контроллера по флагам dashback/shield drop
func controllerFix(c *Cursor, slot int) string {
	off := gsControllerFix + gsControllerFixSz*slot
	if !c.Has(off, gsControllerFixSz) {
		return "None"
	}
	dashback := c.Uint32At(off)
	shieldDrop := c.Uint32At(off + 4)
	if dashback != shieldDrop {
		return "Mixed"
	}
	switch dashback {
	case 1:
		return "UCF"
	case 2:
		return "Dween"
	}
	return "None"
}

// decodeShiftJIS декодирует строку фиксированной ширины: обрезает по NUL,
// переводит полноширинные символы в обычные и убирает пробелы по краям.
func decodeShiftJIS(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(raw)
	if err != nil {
		decoded = raw
	}
	s := width.Narrow.String(string(decoded))
	s = strings.Map(func(r rune) rune {
		if r == '\uFFFD' || r < 0x20 {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
