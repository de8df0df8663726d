package slp

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует фатальные ошибки разбора потока
type ErrorKind int

const (
	KindTruncatedStream ErrorKind = iota + 1
	KindUnknownEventSize
	KindUnsupportedVersion
	KindInvalidContainer
)

func (k ErrorKind) String() string {
	switch k {
	case KindTruncatedStream:
		return "TruncatedStream"
	case KindUnknownEventSize:
		return "UnknownEventSize"
	case KindUnsupportedVersion:
		return "UnsupportedVersion"
	case KindInvalidContainer:
		return "InvalidContainer"
	default:
		return "Unknown"
	}
}

// Сентинелы для errors.Is: errors.Is(err, slp.ErrTruncatedStream)
var (
	ErrTruncatedStream    = &DecodeError{Kind: KindTruncatedStream}
	ErrUnknownEventSize   = &DecodeError{Kind: KindUnknownEventSize}
	ErrUnsupportedVersion = &DecodeError{Kind: KindUnsupportedVersion}
	ErrInvalidContainer   = &DecodeError{Kind: KindInvalidContainer}
)

// DecodeError фатальная ошибка: байтовому потоку больше нельзя доверять.
// Offset абсолютная позиция в исходном потоке.
type DecodeError struct {
	Kind   ErrorKind
	Offset int64
	Code   Command
	Msg    string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s at offset %d (event 0x%02x): %s", e.Kind, e.Offset, byte(e.Code), msg)
	}
	return fmt.Sprintf("%s at offset %d: %s", e.Kind, e.Offset, msg)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is сравнивает только вид ошибки, чтобы работали сентинелы
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newDecodeError(kind ErrorKind, offset int64, code Command, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Offset: offset, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// IsFatal сообщает, прерывает ли ошибка разбор целиком
func IsFatal(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// FrameGapError фиксирует разрыв в индексах закрытых кадров. Не фатальна.
type FrameGapError struct {
	Prev int32
	Next int32
}

func (e *FrameGapError) Error() string {
	return fmt.Sprintf("FrameGap: frame %d followed by frame %d (%d missing)", e.Prev, e.Next, e.Next-e.Prev-1)
}

// StaleFrameError событие пришло для уже закрытого кадра (откат глубже окна). Не фатальна.
type StaleFrameError struct {
	Frame      int32
	LastClosed int32
	Port       int
}

func (e *StaleFrameError) Error() string {
	return fmt.Sprintf("FrameGap: late update for frame %d (port %d) after frame %d was closed", e.Frame, e.Port, e.LastClosed)
}

// ValidationReason конкретная причина провала структурной проверки
type ValidationReason int

const (
	ReasonPlayerCount ValidationReason = iota + 1
	ReasonDuplicatePort
	ReasonPlayer
	ReasonPortRange
	ReasonCharacterMissing
	ReasonPlayerType
)

func (r ValidationReason) String() string {
	switch r {
	case ReasonPlayerCount:
		return "players-count"
	case ReasonDuplicatePort:
		return "duplicate-port"
	case ReasonPlayer:
		return "player-validity"
	case ReasonPortRange:
		return "port-range"
	case ReasonCharacterMissing:
		return "character-missing"
	case ReasonPlayerType:
		return "player-type"
	default:
		return "unknown"
	}
}

// ValidationError сущность раскодирована, но нарушает инвариант. Не фатальна:
// сущность остаётся в результате с полями по умолчанию.
type ValidationError struct {
	Entity string
	Reason ValidationReason
	Port   int
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	s := fmt.Sprintf("ValidationError: %s %s", e.Entity, e.Reason)
	if e.Port != 0 {
		s += fmt.Sprintf(" (port %d)", e.Port)
	}
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ValidationError) Unwrap() error { return e.Err }

// MetadataError блок metadata повреждён. Не фатальна: settings и кадры уже
// разобраны, Game остаётся без Metadata. Offset абсолютная позиция в потоке.
type MetadataError struct {
	Offset int64
	Msg    string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata at offset %d: %s", e.Offset, e.Msg)
}
