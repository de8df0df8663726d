package slp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Source источник байт реплея с семантикой "прочитать следующие N байт или конец потока".
// Срез, возвращённый ReadN, действителен только до следующего вызова.
type Source interface {
	// ReadN возвращает ровно n байт; io.EOF если поток исчерпан до начала чтения,
	// io.ErrUnexpectedEOF если байт меньше, чем n.
	ReadN(n int) ([]byte, error)
	// Skip пропускает n байт
	Skip(n int64) error
	// ReadAll дочитывает остаток потока
	ReadAll() ([]byte, error)
	// Offset абсолютная позиция в (распакованном) потоке
	Offset() int64
	Close() error
}

var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	gzipMagic = []byte{0x1F, 0x8B}
)

// bufferSource нулевое копирование поверх неизменяемого буфера
type bufferSource struct {
	data []byte
	off  int
}

// NewBufferSource создаёт источник поверх целого файла в памяти
func NewBufferSource(data []byte) Source {
	return &bufferSource{data: data}
}

func (s *bufferSource) ReadN(n int) ([]byte, error) {
	if s.off >= len(s.data) {
		if n == 0 {
			return nil, nil
		}
		return nil, io.EOF
	}
	if s.off+n > len(s.data) {
		s.off = len(s.data)
		return nil, io.ErrUnexpectedEOF
	}
	b := s.data[s.off : s.off+n]
	s.off += n
	return b, nil
}

func (s *bufferSource) Skip(n int64) error {
	if int64(s.off)+n > int64(len(s.data)) {
		s.off = len(s.data)
		return io.ErrUnexpectedEOF
	}
	s.off += int(n)
	return nil
}

func (s *bufferSource) ReadAll() ([]byte, error) {
	b := s.data[s.off:]
	s.off = len(s.data)
	return b, nil
}

func (s *bufferSource) Offset() int64 { return int64(s.off) }

func (s *bufferSource) Close() error { return nil }

// streamSource читает из io.Reader, держа в памяти только одно тело события
type streamSource struct {
	r       *bufio.Reader
	off     int64
	scratch []byte
	closer  func() error
}

// NewStreamSource создаёт источник поверх потока (файл, сеть, распаковщик)
func NewStreamSource(r io.Reader) Source {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64<<10)
	}
	return &streamSource{r: br}
}

func (s *streamSource) ReadN(n int) ([]byte, error) {
	if cap(s.scratch) < n {
		s.scratch = make([]byte, n)
	}
	buf := s.scratch[:n]
	read, err := io.ReadFull(s.r, buf)
	s.off += int64(read)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *streamSource) Skip(n int64) error {
	skipped, err := io.CopyN(io.Discard, s.r, n)
	s.off += skipped
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (s *streamSource) ReadAll() ([]byte, error) {
	b, err := io.ReadAll(s.r)
	s.off += int64(len(b))
	return b, err
}

func (s *streamSource) Offset() int64 { return s.off }

func (s *streamSource) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// OpenBytes возвращает источник для файла в памяти, при необходимости распаковывая zstd/gzip
func OpenBytes(data []byte) (Source, error) {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, &DecodeError{Kind: KindInvalidContainer, Msg: "corrupt zstd stream", Err: err}
		}
		return NewBufferSource(raw), nil
	case bytes.HasPrefix(data, gzipMagic):
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &DecodeError{Kind: KindInvalidContainer, Msg: "corrupt gzip header", Err: err}
		}
		defer gz.Close()
		raw, err := io.ReadAll(gz)
		if err != nil {
			return nil, &DecodeError{Kind: KindInvalidContainer, Msg: "corrupt gzip stream", Err: err}
		}
		return NewBufferSource(raw), nil
	}
	return NewBufferSource(data), nil
}

// OpenReader возвращает потоковый источник, при необходимости распаковывая zstd/gzip.
// Источник нужно закрыть.
func OpenReader(r io.Reader) (Source, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	head, _ := br.Peek(len(zstdMagic))

	switch {
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		src := NewStreamSource(dec).(*streamSource)
		src.closer = func() error {
			dec.Close()
			return nil
		}
		return src, nil
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, &DecodeError{Kind: KindInvalidContainer, Msg: "corrupt gzip header", Err: err}
		}
		src := NewStreamSource(gz).(*streamSource)
		src.closer = gz.Close
		return src, nil
	}
	return NewStreamSource(br), nil
}
