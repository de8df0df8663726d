package slp

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBody чтение за границей тела события
var ErrShortBody = errors.New("read past end of event body")

// Cursor последовательный big-endian читатель поверх тела одного события.
// Смещения совпадают с документацией формата: байт 0: код команды.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor создаёт курсор над неизменяемым буфером
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Len полная длина буфера
func (c *Cursor) Len() int { return len(c.buf) }

// Offset текущая позиция
func (c *Cursor) Offset() int { return c.off }

// Remaining сколько байт осталось
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

// Seek переходит на абсолютное смещение внутри тела
func (c *Cursor) Seek(off int) *Cursor {
	c.off = off
	return c
}

// Has проверяет, что поле [off, off+n) целиком лежит в теле.
// Используется для полей, появившихся в поздних версиях формата.
func (c *Cursor) Has(off, n int) bool {
	return off >= 0 && off+n <= len(c.buf)
}

func (c *Cursor) take(n int) ([]byte, error) {
	if c.off < 0 || c.off+n > len(c.buf) {
		return nil, ErrShortBody
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *Cursor) Uint8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) Int8() (int8, error) {
	v, err := c.Uint8()
	return int8(v), err
}

func (c *Cursor) Bool() (bool, error) {
	v, err := c.Uint8()
	return v != 0, err
}

func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *Cursor) Int32() (int32, error) {
	v, err := c.Uint32()
	return int32(v), err
}

func (c *Cursor) Float32() (float32, error) {
	v, err := c.Uint32()
	return math.Float32frombits(v), err
}

// Bytes возвращает срез длины n без копирования
func (c *Cursor) Bytes(n int) ([]byte, error) {
	return c.take(n)
}

// Опциональные поля: значение по умолчанию, если поля нет в теле.

func (c *Cursor) Uint8At(off int) uint8 {
	if !c.Has(off, 1) {
		return 0
	}
	return c.buf[off]
}

func (c *Cursor) Int8At(off int) int8 { return int8(c.Uint8At(off)) }

func (c *Cursor) BoolAt(off int) bool { return c.Uint8At(off) != 0 }

func (c *Cursor) Uint16At(off int) uint16 {
	if !c.Has(off, 2) {
		return 0
	}
	return binary.BigEndian.Uint16(c.buf[off:])
}

func (c *Cursor) Uint32At(off int) uint32 {
	if !c.Has(off, 4) {
		return 0
	}
	return binary.BigEndian.Uint32(c.buf[off:])
}

func (c *Cursor) Int32At(off int) int32 { return int32(c.Uint32At(off)) }

func (c *Cursor) Float32At(off int) float32 {
	return math.Float32frombits(c.Uint32At(off))
}

// BytesAt копия поля фиксированной ширины, nil если поля нет
func (c *Cursor) BytesAt(off, n int) []byte {
	if !c.Has(off, n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, c.buf[off:off+n])
	return out
}
