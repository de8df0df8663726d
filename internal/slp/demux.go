package slp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"iter"
)

// Заголовок UBJSON-контейнера: {"raw": [$U#l <int32 длина> ...
var rawHeader = []byte{'{', 'U', 0x03, 'r', 'a', 'w', '[', '$', 'U', '#', 'l'}

// Demuxer делит поток raw на типизированные события по таблице размеров.
// В памяти держится только тело текущего события.
type Demuxer struct {
	src       Source
	sizes     map[Command]int
	container bool
	rawStart  int64
	rawEnd    int64 // -1: длина raw не записана, читаем до конца
	ended     bool
	err       error
	scratch   []byte
	pending   []byte // байты, прочитанные из хвоста metadata при неизвестной длине raw
}

// NewDemuxer читает заголовок контейнера и таблицу размеров событий
func NewDemuxer(src Source) (*Demuxer, error) {
	d := &Demuxer{src: src, rawEnd: -1, sizes: make(map[Command]int)}

	first, err := src.ReadN(1)
	if err != nil {
		return nil, newDecodeError(KindTruncatedStream, 0, 0, "empty stream")
	}

	switch {
	case first[0] == rawHeader[0]:
		if err := d.readContainerHeader(); err != nil {
			return nil, err
		}
		code, err := src.ReadN(1)
		if err != nil {
			return nil, newDecodeError(KindTruncatedStream, src.Offset(), 0, "no events after container header")
		}
		if err := d.readPayloadSizes(Command(code[0])); err != nil {
			return nil, err
		}
	case Command(first[0]) == CmdEventPayloads:
		// Голый поток raw без контейнера
		d.rawStart = 0
		if err := d.readPayloadSizes(CmdEventPayloads); err != nil {
			return nil, err
		}
	default:
		return nil, newDecodeError(KindInvalidContainer, 0, 0, "unrecognised leading byte 0x%02x", first[0])
	}
	return d, nil
}

func (d *Demuxer) readContainerHeader() error {
	rest, err := d.src.ReadN(len(rawHeader) - 1 + 4)
	if err != nil {
		return newDecodeError(KindTruncatedStream, d.src.Offset(), 0, "container header: %v", err)
	}
	if !bytes.Equal(rest[:len(rawHeader)-1], rawHeader[1:]) {
		return newDecodeError(KindInvalidContainer, 1, 0, "missing raw element")
	}
	length := int32(binary.BigEndian.Uint32(rest[len(rawHeader)-1:]))
	d.container = true
	d.rawStart = d.src.Offset()
	if length > 0 {
		d.rawEnd = d.rawStart + int64(length)
	}
	return nil
}

// readPayloadSizes разбирает событие 0x35: u8 размер, затем тройки (код, u16 длина)
func (d *Demuxer) readPayloadSizes(code Command) error {
	offset := d.src.Offset() - 1
	if code != CmdEventPayloads {
		return newDecodeError(KindInvalidContainer, offset, code, "first event must be EventPayloads")
	}
	sz, err := d.src.ReadN(1)
	if err != nil {
		return newDecodeError(KindTruncatedStream, offset, code, "missing payload table size")
	}
	size := int(sz[0])
	if size < 1 || (size-1)%3 != 0 {
		return newDecodeError(KindInvalidContainer, offset, code, "payload table size %d is not 1+3n", size)
	}
	table, err := d.src.ReadN(size - 1)
	if err != nil {
		return newDecodeError(KindTruncatedStream, offset, code, "payload table: declared %d bytes", size-1)
	}
	for i := 0; i+3 <= len(table); i += 3 {
		d.sizes[Command(table[i])] = int(binary.BigEndian.Uint16(table[i+1 : i+3]))
	}
	d.sizes[CmdEventPayloads] = size
	return nil
}

// PayloadSizes копия таблицы размеров (без байта кода)
func (d *Demuxer) PayloadSizes() map[Command]int {
	out := make(map[Command]int, len(d.sizes))
	for k, v := range d.sizes {
		out[k] = v
	}
	return out
}

// Next возвращает следующее событие или io.EOF в конце raw.
// ItemUpdate и коды без декодера пропускаются.
func (d *Demuxer) Next() (Event, error) {
	if d.err != nil {
		return nil, d.err
	}
	for {
		if d.ended {
			return nil, io.EOF
		}
		if d.rawEnd >= 0 && d.src.Offset() >= d.rawEnd {
			d.ended = true
			return nil, io.EOF
		}

		offset := d.src.Offset()
		b, err := d.src.ReadN(1)
		if errors.Is(err, io.EOF) {
			d.ended = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, d.fail(newDecodeError(KindTruncatedStream, offset, 0, "reading event code: %v", err))
		}
		code := Command(b[0])

		size, known := d.sizes[code]
		if !known {
			// При неизвестной длине raw конец потока событий: начало ключа metadata
			if d.container && d.rawEnd < 0 && code == 'U' {
				d.pending = []byte{'U'}
				d.ended = true
				return nil, io.EOF
			}
			return nil, d.fail(newDecodeError(KindUnknownEventSize, offset, code, "event code not in payload size table"))
		}
		if d.rawEnd >= 0 && offset+1+int64(size) > d.rawEnd {
			return nil, d.fail(newDecodeError(KindTruncatedStream, offset, code,
				"declared %d bytes, raw section ends %d bytes later", size, d.rawEnd-offset-1))
		}
		body, err := d.src.ReadN(size)
		if err != nil {
			return nil, d.fail(newDecodeError(KindTruncatedStream, offset, code,
				"declared %d bytes, stream ended first", size))
		}

		d.scratch = append(d.scratch[:0], byte(code))
		d.scratch = append(d.scratch, body...)
		payload := d.scratch

		switch code {
		case CmdGameStart:
			return &GameStart{eventHeader: eventHeader{Offset: offset}, Payload: bytes.Clone(payload)}, nil
		case CmdPreFrameUpdate:
			return decodePreFrame(offset, payload), nil
		case CmdPostFrameUpdate:
			return decodePostFrame(offset, payload), nil
		case CmdFrameStart:
			return decodeFrameStart(offset, payload), nil
		case CmdFrameBookend:
			return decodeFrameBookend(offset, payload), nil
		case CmdGameEnd:
			return decodeGameEnd(offset, payload), nil
		default:
			// ItemUpdate, GeckoList, MessageSplitter и будущие коды
			continue
		}
	}
}

func (d *Demuxer) fail(err *DecodeError) error {
	d.err = err
	return err
}

// Events ленивая последовательность событий; останавливается на первой ошибке
func (d *Demuxer) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := d.Next()
			if err == io.EOF {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// SkipEvents перематывает до конца raw. При известной длине raw события не разбираются.
func (d *Demuxer) SkipEvents() error {
	if d.err != nil {
		return d.err
	}
	if d.rawEnd >= 0 && !d.ended {
		if rest := d.rawEnd - d.src.Offset(); rest > 0 {
			if err := d.src.Skip(rest); err != nil {
				return d.fail(newDecodeError(KindTruncatedStream, d.src.Offset(), 0, "raw section shorter than declared"))
			}
		}
		d.ended = true
		return nil
	}
	for {
		if _, err := d.Next(); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Metadata читает хвостовой блок metadata. Вызывается после io.EOF от Next.
func (d *Demuxer) Metadata() (*Metadata, error) {
	if !d.container {
		return nil, nil
	}
	if !d.ended {
		if err := d.SkipEvents(); err != nil {
			return nil, err
		}
	}
	base := d.src.Offset() - int64(len(d.pending))
	tail, err := d.src.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(d.pending) > 0 {
		tail = append(append([]byte{}, d.pending...), tail...)
		d.pending = nil
	}
	return DecodeMetadataAt(tail, base)
}
