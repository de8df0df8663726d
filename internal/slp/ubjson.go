package slp

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Минимальный декодер UBJSON для блока metadata.
// Числа приводятся к int64/float64, объекты к map[string]any, массивы к []any.
// Вход недоверенный: длины сверяются с остатком буфера, вложенность ограничена.

const (
	// maxUBJSONDepth вложенность контейнеров; в metadata её не больше 4
	maxUBJSONDepth = 64
	// maxZeroWidthCount предел для типизированных контейнеров из Z/T/F,
	// элементы которых не занимают байт
	maxZeroWidthCount = 4096
)

type ubjsonDecoder struct {
	buf   []byte
	off   int
	base  int64
	depth int
}

func (d *ubjsonDecoder) errorf(format string, args ...any) error {
	return &MetadataError{Offset: d.base + int64(d.off), Msg: fmt.Sprintf(format, args...)}
}

func (d *ubjsonDecoder) remaining() int { return len(d.buf) - d.off }

func (d *ubjsonDecoder) next() (byte, error) {
	if d.off >= len(d.buf) {
		return 0, d.errorf("unexpected end")
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *ubjsonDecoder) take(n int) ([]byte, error) {
	if n < 0 || n > d.remaining() {
		return nil, d.errorf("need %d bytes, have %d", n, d.remaining())
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *ubjsonDecoder) value() (any, error) {
	for {
		m, err := d.next()
		if err != nil {
			return nil, err
		}
		if m == 'N' {
			continue
		}
		return d.valueOf(m)
	}
}

func (d *ubjsonDecoder) valueOf(marker byte) (any, error) {
	switch marker {
	case 'Z':
		return nil, nil
	case 'T':
		return true, nil
	case 'F':
		return false, nil
	case 'i', 'U', 'I', 'l', 'L':
		return d.integer(marker)
	case 'd':
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case 'D':
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case 'C':
		b, err := d.next()
		return string(rune(b)), err
	case 'S', 'H':
		return d.str()
	case '[', '{':
		if d.depth >= maxUBJSONDepth {
			return nil, d.errorf("containers nested deeper than %d", maxUBJSONDepth)
		}
		d.depth++
		defer func() { d.depth-- }()
		if marker == '[' {
			return d.array()
		}
		return d.object()
	}
	return nil, d.errorf("unknown marker %q", marker)
}

func (d *ubjsonDecoder) integer(marker byte) (int64, error) {
	switch marker {
	case 'i':
		b, err := d.next()
		return int64(int8(b)), err
	case 'U':
		b, err := d.next()
		return int64(b), err
	case 'I':
		b, err := d.take(2)
		if err != nil {
			return 0, err
		}
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case 'l':
		b, err := d.take(4)
		if err != nil {
			return 0, err
		}
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case 'L':
		b, err := d.take(8)
		if err != nil {
			return 0, err
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	}
	return 0, d.errorf("%q is not an integer marker", marker)
}

// count неотрицательное число из маркера длины; с остатком буфера не сверяется
func (d *ubjsonDecoder) count() (int64, error) {
	m, err := d.next()
	if err != nil {
		return 0, err
	}
	n, err := d.integer(m)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, d.errorf("negative length %d", n)
	}
	return n, nil
}

// length длина байтовой строки: не больше остатка буфера
func (d *ubjsonDecoder) length() (int, error) {
	n, err := d.count()
	if err != nil {
		return 0, err
	}
	if n > int64(d.remaining()) {
		return 0, d.errorf("length %d exceeds %d remaining bytes", n, d.remaining())
	}
	return int(n), nil
}

func (d *ubjsonDecoder) str() (string, error) {
	n, err := d.length()
	if err != nil {
		return "", err
	}
	b, err := d.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func zeroWidth(typ byte) bool {
	return typ == 'Z' || typ == 'T' || typ == 'F'
}

// containerHeader читает необязательные '$' (тип) и '#' (количество).
// Каждый элемент, кроме Z/T/F, занимает хотя бы байт, поэтому count
// не может превышать остаток буфера.
func (d *ubjsonDecoder) containerHeader() (typ byte, count int, err error) {
	count = -1
	if d.off < len(d.buf) && d.buf[d.off] == '$' {
		d.off++
		if typ, err = d.next(); err != nil {
			return
		}
		if typ == 'N' {
			return 0, 0, d.errorf("no-op is not a container type")
		}
	}
	if d.off < len(d.buf) && d.buf[d.off] == '#' {
		d.off++
		n, cerr := d.count()
		if cerr != nil {
			return 0, 0, cerr
		}
		switch {
		case zeroWidth(typ) && n > maxZeroWidthCount:
			return 0, 0, d.errorf("%d elements of type %q exceed limit %d", n, typ, maxZeroWidthCount)
		case !zeroWidth(typ) && n > int64(d.remaining()):
			return 0, 0, d.errorf("%d elements exceed %d remaining bytes", n, d.remaining())
		}
		count = int(n)
	} else if typ != 0 {
		return 0, 0, d.errorf("typed container without count")
	}
	return
}

func (d *ubjsonDecoder) element(typ byte) (any, error) {
	if typ != 0 {
		return d.valueOf(typ)
	}
	return d.value()
}

func (d *ubjsonDecoder) array() (any, error) {
	typ, count, err := d.containerHeader()
	if err != nil {
		return nil, err
	}
	// Оптимизированный массив байт: отдаём срез как есть
	if typ == 'U' && count >= 0 {
		b, err := d.take(count)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	out := make([]any, 0, max(count, 0))
	for i := 0; count < 0 || i < count; i++ {
		if count < 0 {
			if d.off >= len(d.buf) {
				return nil, d.errorf("unterminated array")
			}
			if d.buf[d.off] == ']' {
				d.off++
				break
			}
		}
		v, err := d.element(typ)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *ubjsonDecoder) object() (any, error) {
	typ, count, err := d.containerHeader()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for i := 0; count < 0 || i < count; i++ {
		if count < 0 {
			if d.off >= len(d.buf) {
				return nil, d.errorf("unterminated object")
			}
			if d.buf[d.off] == '}' {
				d.off++
				break
			}
		}
		key, err := d.str()
		if err != nil {
			return nil, err
		}
		v, err := d.element(typ)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// Утилиты для чтения разобранного дерева с мягкой обработкой отсутствующих ключей

func ubjObject(v any, key string) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	child, _ := m[key].(map[string]any)
	return child
}

func ubjString(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

func ubjInt(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func ubjFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
