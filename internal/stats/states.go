package stats

import "github.com/annel0/slp-replay/internal/slp"

// StateRange закрытый диапазон кодов action state
type StateRange struct {
	Min uint16 `json:"min"`
	Max uint16 `json:"max"`
}

// Contains проверяет попадание в диапазон
func (r StateRange) Contains(state uint16) bool {
	return state >= r.Min && state <= r.Max
}

// StateTable коды action state, на которые опираются детекторы
type StateTable struct {
	Death          StateRange
	Damage         StateRange
	GroundAttack   StateRange
	AerialAttack   StateRange
	AerialLanding  StateRange
	Guard          StateRange
	SpecialMin     uint16
	KneeBend       uint16
	EscapeAir      uint16
	LandingSpecial uint16
	Dash           uint16
	Turn           uint16
	CliffCatch     uint16
}

// Коды общие для всех версий формата, начиная с 0.1.0
var defaultStateTable = StateTable{
	Death:          StateRange{Min: 0x000, Max: 0x00A},
	Damage:         StateRange{Min: 0x04B, Max: 0x05B},
	GroundAttack:   StateRange{Min: 0x02C, Max: 0x040},
	AerialAttack:   StateRange{Min: 0x041, Max: 0x045},
	AerialLanding:  StateRange{Min: 0x046, Max: 0x04A},
	Guard:          StateRange{Min: 0x0B2, Max: 0x0B6},
	SpecialMin:     0x155,
	KneeBend:       0x018,
	EscapeAir:      0x0EC,
	LandingSpecial: 0x02B,
	Dash:           0x014,
	Turn:           0x012,
	CliffCatch:     0x0FC,
}

// stateTables таблицы по major-версии формата
var stateTables = map[uint8]StateTable{
	0: defaultStateTable,
	1: defaultStateTable,
	2: defaultStateTable,
	3: defaultStateTable,
}

// StateTableFor таблица кодов для версии записи
func StateTableFor(v slp.Version) StateTable {
	if t, ok := stateTables[v.Major]; ok {
		return t
	}
	return defaultStateTable
}

func (t StateTable) IsDeath(s uint16) bool         { return t.Death.Contains(s) }
func (t StateTable) IsDamaged(s uint16) bool       { return t.Damage.Contains(s) }
func (t StateTable) IsAerialAttack(s uint16) bool  { return t.AerialAttack.Contains(s) }
func (t StateTable) IsAerialLanding(s uint16) bool { return t.AerialLanding.Contains(s) }
func (t StateTable) IsShielding(s uint16) bool     { return t.Guard.Contains(s) }
func (t StateTable) IsDashing(s uint16) bool       { return s == t.Dash || s == t.Turn }

// IsAttacking атака с земли, в воздухе или спецприём
func (t StateTable) IsAttacking(s uint16) bool {
	return t.GroundAttack.Contains(s) || t.AerialAttack.Contains(s) || s >= t.SpecialMin
}
