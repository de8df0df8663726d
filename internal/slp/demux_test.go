package slp

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slp-replay/internal/slp/slptest"
)

const containerHeaderLen = 15

// длина события 0x35 для стандартной таблицы сборщика (7 кодов)
const payloadTableLen = 2 + 7*3

func collectEvents(t *testing.T, d *Demuxer) []Event {
	t.Helper()
	var out []Event
	for ev, err := range d.Events() {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestDemuxer_ContainerEvents(t *testing.T) {
	b := slptest.New(3, 7, 0)
	b.FrameStart(-123, 42)
	b.Tick(-123, map[int]slptest.PostSpec{1: {Stocks: 4}, 2: {Stocks: 4}})
	b.Item(-123)
	b.GameEnd(2, -1)

	d, err := NewDemuxer(NewBufferSource(b.Bytes()))
	require.NoError(t, err)

	sizes := d.PayloadSizes()
	assert.Equal(t, slptest.PreSize, sizes[CmdPreFrameUpdate])
	assert.Equal(t, slptest.BookendSize, sizes[CmdFrameBookend])

	events := collectEvents(t, d)
	var codes []Command
	for _, ev := range events {
		codes = append(codes, ev.Command())
	}
	// ItemUpdate пропущен
	assert.Equal(t, []Command{
		CmdGameStart, CmdFrameStart,
		CmdPreFrameUpdate, CmdPostFrameUpdate,
		CmdPreFrameUpdate, CmdPostFrameUpdate,
		CmdFrameBookend, CmdGameEnd,
	}, codes)

	gs := events[0].(*GameStart)
	assert.Equal(t, int64(containerHeaderLen+payloadTableLen), gs.StreamOffset())
	assert.Len(t, gs.Payload, slptest.GameStartSize+1)

	fs := events[1].(*FrameStart)
	assert.Equal(t, int32(-123), fs.Frame)
	assert.Equal(t, uint32(42), fs.RandomSeed)

	post := events[3].(*PostFrameUpdate)
	assert.Equal(t, 1, post.Port)
	assert.Equal(t, uint8(4), post.Stocks)

	be := events[6].(*FrameBookend)
	assert.True(t, be.HasFinalized)
	assert.Equal(t, int32(-123), be.LatestFinalized)

	end := events[7].(*GameEnd)
	assert.Equal(t, EndGame, end.Method)
	assert.Equal(t, 0, end.LRASInitiator)

	// после конца raw Next стабильно отдаёт EOF
	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDemuxer_BareRawStream(t *testing.T) {
	b := slptest.New(2, 0, 1)
	b.Pre(0, 1, slptest.PreSpec{ActionState: 0x0E, PhysicalButtons: ButtonL})
	b.Post(0, 1, slptest.PostSpec{ActionState: 0x0E, Percent: 12.5})

	d, err := NewDemuxer(NewBufferSource(b.RawStream()))
	require.NoError(t, err)
	events := collectEvents(t, d)
	require.Len(t, events, 3)

	pre := events[1].(*PreFrameUpdate)
	assert.True(t, pre.Pressed(ButtonL), "кнопка L должна быть нажата")
	assert.InDelta(t, 12.5, events[2].(*PostFrameUpdate).Percent, 1e-6)

	md, err := d.Metadata()
	require.NoError(t, err)
	assert.Nil(t, md, "у голого потока нет metadata")
}

func TestDemuxer_UnknownEventSize(t *testing.T) {
	b := slptest.New(3, 0, 0)
	b.Event(0x40, []byte{1, 2, 3})

	d, err := NewDemuxer(NewBufferSource(b.Bytes()))
	require.NoError(t, err)

	_, err = d.Next()
	require.NoError(t, err)
	_, err = d.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownEventSize)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, int64(containerHeaderLen+payloadTableLen+1+slptest.GameStartSize), de.Offset)
	assert.Equal(t, Command(0x40), de.Code)
	assert.True(t, IsFatal(err))

	// ошибка липкая: поток больше не читается
	_, again := d.Next()
	assert.Equal(t, err, again)
}

func TestDemuxer_TruncatedStream(t *testing.T) {
	b := slptest.New(3, 0, 0)
	b.Pre(0, 1, slptest.PreSpec{})
	b.Post(0, 1, slptest.PostSpec{})
	raw := b.RawStream()
	lastEvent := int64(len(raw) - (slptest.PostSize + 1))
	raw = raw[:len(raw)-10]

	d, err := NewDemuxer(NewBufferSource(raw))
	require.NoError(t, err)

	var fatal error
	for _, err := range d.Events() {
		if err != nil {
			fatal = err
		}
	}
	require.Error(t, fatal)
	assert.ErrorIs(t, fatal, ErrTruncatedStream)

	var de *DecodeError
	require.ErrorAs(t, fatal, &de)
	assert.Equal(t, lastEvent, de.Offset)
	assert.Equal(t, CmdPostFrameUpdate, de.Code)
}

func TestDemuxer_TruncatedByRawLength(t *testing.T) {
	b := slptest.New(3, 0, 0)
	b.Pre(0, 1, slptest.PreSpec{})
	data := b.Bytes()
	// длина raw на 5 байт меньше реальной: последнее событие выходит за границу
	data[containerHeaderLen-1] -= 5

	d, err := NewDemuxer(NewBufferSource(data))
	require.NoError(t, err)
	_, err = d.Next()
	require.NoError(t, err)
	_, err = d.Next()
	assert.ErrorIs(t, err, ErrTruncatedStream)
}

func TestDemuxer_InvalidContainer(t *testing.T) {
	_, err := NewDemuxer(NewBufferSource([]byte("not a replay")))
	assert.ErrorIs(t, err, ErrInvalidContainer)

	_, err = NewDemuxer(NewBufferSource(nil))
	assert.ErrorIs(t, err, ErrTruncatedStream)
}

func TestDemuxer_Metadata(t *testing.T) {
	b := slptest.New(3, 9, 0)
	b.Metadata = map[string]any{
		"startAt":     "2023-04-01T18:30:00Z",
		"lastFrame":   3600,
		"playedOn":    "dolphin",
		"consoleNick": "Living Room",
		"players": map[string]any{
			"0": map[string]any{
				"names":      map[string]any{"netplay": "Alice", "code": "ALI#123"},
				"characters": map[string]any{"2": 3723},
			},
		},
	}
	b.Tick(0, map[int]slptest.PostSpec{1: {}, 2: {}})

	d, err := NewDemuxer(NewBufferSource(b.Bytes()))
	require.NoError(t, err)

	// события не читаем: Metadata перематывает raw сама
	md, err := d.Metadata()
	require.NoError(t, err)
	require.NotNil(t, md)

	require.NotNil(t, md.StartAt)
	assert.Equal(t, 2023, md.StartAt.Year())
	require.NotNil(t, md.LastFrame)
	assert.Equal(t, int32(3600), *md.LastFrame)
	assert.Equal(t, ConsoleDolphin, md.PlayedOn)
	assert.Equal(t, "Living Room", md.ConsoleNick)
	assert.Equal(t, "ALI#123", md.Players[1].ConnectCode)
	assert.Equal(t, uint32(3723), md.Players[1].Characters[2])

	secs, ok := md.DurationSeconds()
	assert.True(t, ok)
	assert.InDelta(t, 60.0, secs, 1e-9)
}

func TestDemuxer_UnboundedRawWithMetadata(t *testing.T) {
	b := slptest.New(3, 0, 0)
	b.UnboundedRaw = true
	b.Metadata = map[string]any{"playedOn": "nintendont"}
	b.Tick(0, map[int]slptest.PostSpec{1: {}})

	d, err := NewDemuxer(NewBufferSource(b.Bytes()))
	require.NoError(t, err)
	events := collectEvents(t, d)
	assert.Len(t, events, 4)

	md, err := d.Metadata()
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, ConsoleNintendont, md.PlayedOn)
}

func TestDemuxer_CorruptMetadataOffset(t *testing.T) {
	b := slptest.New(3, 0, 0)
	b.Tick(0, map[int]slptest.PostSpec{1: {}})
	raw := b.RawStream()
	b.MetadataTail = []byte("U\x08metadata{U\x01xSL\x7f\xff\xff\xff\xff\xff\xff\xf0}}")

	d, err := NewDemuxer(NewBufferSource(b.Bytes()))
	require.NoError(t, err)
	md, err := d.Metadata()
	assert.Nil(t, md)

	var me *MetadataError
	require.ErrorAs(t, err, &me)
	// 15 байт заголовка контейнера, raw, затем ключ и начало объекта
	assert.Greater(t, me.Offset, int64(15+len(raw)))
	assert.False(t, IsFatal(err))
}

func TestOpenBytes_Compressed(t *testing.T) {
	b := slptest.New(3, 0, 0)
	b.Tick(0, map[int]slptest.PostSpec{1: {}, 2: {}})
	plain := b.Bytes()

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zstdData := enc.EncodeAll(plain, nil)
	require.NoError(t, enc.Close())

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err = w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	for name, data := range map[string][]byte{"plain": plain, "zstd": zstdData, "gzip": gz.Bytes()} {
		t.Run(name+"/bytes", func(t *testing.T) {
			src, err := OpenBytes(data)
			require.NoError(t, err)
			d, err := NewDemuxer(src)
			require.NoError(t, err)
			assert.Len(t, collectEvents(t, d), 6)
		})
		t.Run(name+"/reader", func(t *testing.T) {
			src, err := OpenReader(bytes.NewReader(data))
			require.NoError(t, err)
			defer src.Close()
			d, err := NewDemuxer(src)
			require.NoError(t, err)
			assert.Len(t, collectEvents(t, d), 6)
		})
	}
}
