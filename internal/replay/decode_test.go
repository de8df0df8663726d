package replay

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slp-replay/internal/slp"
	"github.com/annel0/slp-replay/internal/slp/slptest"
	"github.com/annel0/slp-replay/internal/stats"
)

const deadDown = 0x00

// scriptedGame 2 игрока по 4 стока; на кадре 900 игрок 2 теряет сток от игрока 1
func scriptedGame() *slptest.Builder {
	b := slptest.New(3, 9, 0)
	b.Metadata = map[string]any{
		"startAt":   "2024-02-10T12:00:00Z",
		"lastFrame": 1000,
		"playedOn":  "network",
	}
	for i := int32(0); i <= 1000; i++ {
		p1 := slptest.PostSpec{ActionState: 0x0E, Stocks: 4, LastHitBy: 6}
		p2 := slptest.PostSpec{ActionState: 0x0E, Stocks: 4, LastHitBy: 6}
		if i >= 900 {
			p2.Stocks = 3
		}
		if i == 900 {
			p2.ActionState = deadDown
			p2.LastHitBy = 0
		}
		b.Tick(i, map[int]slptest.PostSpec{1: p1, 2: p2})
	}
	b.GameEnd(2, -1)
	return b
}

func TestDecode_ScriptedKill(t *testing.T) {
	g, err := DecodeBytes(context.Background(), scriptedGame().Bytes(), DefaultOptions())
	require.NoError(t, err)
	require.True(t, g.Valid())

	assert.Equal(t, "3.9.0", g.Version)
	assert.Len(t, g.Frames, 1001)
	assert.Equal(t, 1001, g.FrameCount)
	assert.Zero(t, g.RollbackFrames)
	assert.Empty(t, g.ParsingErrors)

	s := g.Statistics
	require.NotNil(t, s)
	assert.Equal(t, 1, s.Players[1].KillCount)
	assert.Equal(t, 1, s.Players[2].DeathCount)

	kills := s.EventsOf(stats.EventKill)
	require.Len(t, kills, 1)
	assert.Equal(t, int32(900), kills[0].Frame)
	require.NotNil(t, kills[0].Player)
	assert.Equal(t, 1, *kills[0].Player)

	require.NotNil(t, s.GameEndMethod)
	assert.Equal(t, slp.EndGame, *s.GameEndMethod)
	// длительность из metadata: lastFrame / 60
	assert.InDelta(t, 1000.0/60.0, s.DurationSeconds, 1e-9)

	require.NotNil(t, g.Metadata)
	assert.Equal(t, slp.ConsoleNetwork, g.Metadata.PlayedOn)

	f, ok := g.Frame(900)
	require.True(t, ok)
	assert.Equal(t, uint8(3), f.Post[2].Stocks)
}

func TestDecode_SelectiveParsing(t *testing.T) {
	data := scriptedGame().Bytes()
	ctx := context.Background()

	t.Run("frames without statistics", func(t *testing.T) {
		g, err := DecodeBytes(ctx, data, Options{DecodeFrames: true, ComputeStatistics: false})
		require.NoError(t, err)
		assert.Nil(t, g.Statistics)
		require.Len(t, g.Frames, 1001)
		assert.Len(t, g.Frames[500].Post, 2, "кадры заполнены полностью")
		assert.Len(t, g.Frames[500].Pre, 2)
	})

	t.Run("statistics without frames", func(t *testing.T) {
		g, err := DecodeBytes(ctx, data, Options{DecodeFrames: false, ComputeStatistics: true})
		require.NoError(t, err)
		assert.Empty(t, g.Frames)
		require.NotNil(t, g.Statistics)
		assert.Equal(t, 1001, g.Statistics.TotalFrames)
		assert.Equal(t, 1, g.Statistics.TotalKills())
	})

	t.Run("settings and metadata only", func(t *testing.T) {
		g, err := DecodeBytes(ctx, data, Options{})
		require.NoError(t, err)
		assert.True(t, g.Valid())
		assert.Empty(t, g.Frames)
		assert.Nil(t, g.Statistics)
		require.NotNil(t, g.Metadata)
		require.NotNil(t, g.Metadata.LastFrame)
		assert.Equal(t, int32(1000), *g.Metadata.LastFrame)
	})
}

func TestDecode_RecoverableErrors(t *testing.T) {
	b := slptest.New(3, 0, 0)
	b.Players[1].Type = 7 // неизвестный тип слота
	b.Tick(0, map[int]slptest.PostSpec{1: {Stocks: 4}})
	b.Tick(1, map[int]slptest.PostSpec{1: {Stocks: 4}})
	b.Tick(5, map[int]slptest.PostSpec{1: {Stocks: 4}})

	g, err := DecodeBytes(context.Background(), b.Bytes(), DefaultOptions())
	require.NoError(t, err, "восстановимые ошибки не прерывают разбор")
	assert.Equal(t, []int32{0, 1, 5}, []int32{g.Frames[0].Index, g.Frames[1].Index, g.Frames[2].Index})

	require.Len(t, g.ParsingErrors, 2)
	assert.Contains(t, g.ParsingErrors[0], "player-validity")
	assert.Contains(t, g.ParsingErrors[1], "FrameGap")
}

func TestDecode_CorruptMetadataIsRecoverable(t *testing.T) {
	tails := map[string][]byte{
		"huge string length": []byte("U\x08metadata{U\x01xSL\x7f\xff\xff\xff\xff\xff\xff\xf0}}"),
		"zero width array":   []byte("U\x08metadata{U\x01a[$Z#l\x01\x00\x00\x00}}"),
	}
	for name, tail := range tails {
		t.Run(name, func(t *testing.T) {
			b := scriptedGame()
			b.MetadataTail = tail

			g, err := DecodeBytes(context.Background(), b.Bytes(), DefaultOptions())
			require.NoError(t, err)
			require.True(t, g.Valid())
			assert.Nil(t, g.Metadata)
			assert.Len(t, g.Frames, 1001, "кадры разобраны несмотря на хвост")
			require.NotEmpty(t, g.ParsingErrors)
			assert.Contains(t, g.ParsingErrors[len(g.ParsingErrors)-1], "metadata")
			// без metadata длительность считается по кадрам
			assert.InDelta(t, 1001.0/60.0, g.Statistics.DurationSeconds, 1e-9)
		})
	}
}

func TestDecode_FatalErrorsReturnNoGame(t *testing.T) {
	b := slptest.New(3, 0, 0)
	b.Tick(0, map[int]slptest.PostSpec{1: {}})
	b.Event(0x77, []byte{0})

	g, err := DecodeBytes(context.Background(), b.Bytes(), DefaultOptions())
	assert.Nil(t, g)
	assert.ErrorIs(t, err, slp.ErrUnknownEventSize)

	unsupported := slptest.New(4, 0, 0)
	g, err = DecodeBytes(context.Background(), unsupported.Bytes(), DefaultOptions())
	assert.Nil(t, g)
	assert.ErrorIs(t, err, slp.ErrUnsupportedVersion)
}

func TestStream_StopAfterHundredFrames(t *testing.T) {
	src := slp.NewBufferSource(scriptedGame().Bytes())
	s, err := NewStream(context.Background(), src, Options{DecodeFrames: true})
	require.NoError(t, err)
	assert.Len(t, s.Settings().Players, 2)

	n := 0
	for f, err := range s.Frames() {
		require.NoError(t, err)
		assert.Equal(t, int32(n), f.Index)
		n++
		if n == 101 {
			break
		}
	}
	assert.Equal(t, 101, n)
	assert.Less(t, src.Offset(), int64(len(scriptedGame().Bytes())/2), "остаток потока не прочитан")
}

func TestStream_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewStream(ctx, slp.NewBufferSource(scriptedGame().Bytes()), DefaultOptions())
	require.NoError(t, err)

	_, err = s.Next()
	require.NoError(t, err)
	cancel()
	_, err = s.Next()
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Finish()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeReader_Compressed(t *testing.T) {
	plain := scriptedGame().Bytes()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	g, err := DecodeReader(context.Background(), &buf, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, g.Frames, 1001)
	assert.Equal(t, 1, g.Statistics.TotalKills())
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.slp")
	require.NoError(t, os.WriteFile(path, scriptedGame().Bytes(), 0o644))

	g, err := DecodeFile(context.Background(), path, Options{ComputeStatistics: true})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Statistics.TotalKills())

	_, err = DecodeFile(context.Background(), filepath.Join(dir, "missing.slp"), DefaultOptions())
	assert.Error(t, err)
}

func TestGame_Summary(t *testing.T) {
	g, err := DecodeBytes(context.Background(), scriptedGame().Bytes(), DefaultOptions())
	require.NoError(t, err)
	sum := g.Summary()
	assert.Empty(t, sum.Frames)
	assert.Len(t, g.Frames, 1001, "оригинал не меняется")
	assert.Equal(t, g.Statistics, sum.Statistics)
}
