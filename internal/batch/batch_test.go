package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slp-replay/internal/replay"
	"github.com/annel0/slp-replay/internal/slp/slptest"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.slp"), nil)
	writeFile(t, filepath.Join(dir, "a.SLP"), nil)
	writeFile(t, filepath.Join(dir, "c.slp.zst"), nil)
	writeFile(t, filepath.Join(dir, "notes.txt"), nil)
	writeFile(t, filepath.Join(dir, "sub", "d.slp"), nil)
	explicit := filepath.Join(t.TempDir(), "raw.bin")
	writeFile(t, explicit, nil)

	files, err := Discover([]string{dir, explicit}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.SLP"),
		filepath.Join(dir, "b.slp"),
		filepath.Join(dir, "c.slp.zst"),
		explicit,
	}, files)

	files, err = Discover([]string{dir}, true)
	require.NoError(t, err)
	assert.Contains(t, files, filepath.Join(dir, "sub", "d.slp"))

	_, err = Discover([]string{filepath.Join(dir, "missing")}, false)
	assert.Error(t, err)
}

func TestRun_OrderAndIsolation(t *testing.T) {
	files := []string{"slow", "bad", "fast"}
	var inFlight, peak atomic.Int32

	decode := func(ctx context.Context, path string) (*replay.Game, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		switch path {
		case "slow":
			time.Sleep(20 * time.Millisecond)
		case "bad":
			return nil, errors.New("truncated")
		}
		return &replay.Game{Version: path}, nil
	}

	results, err := Run(context.Background(), files, 2, decode)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "slow", results[0].Game.Version)
	assert.EqualError(t, results[1].Err, "truncated")
	assert.Nil(t, results[1].Game)
	assert.Equal(t, "fast", results[2].Game.Version)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, []string{"a", "b"}, 1, func(context.Context, string) (*replay.Game, error) {
		return &replay.Game{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_DecodesFiles(t *testing.T) {
	dir := t.TempDir()
	b := slptest.New(3, 9, 0)
	for i := int32(0); i < 10; i++ {
		b.Tick(i, map[int]slptest.PostSpec{1: {Stocks: 4}, 2: {Stocks: 4}})
	}
	writeFile(t, filepath.Join(dir, "ok.slp"), b.Bytes())
	writeFile(t, filepath.Join(dir, "broken.slp"), []byte("not a replay"))

	files, err := Discover([]string{dir}, false)
	require.NoError(t, err)
	results, err := Run(context.Background(), files, 4, FileDecoder(replay.DefaultOptions()))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Error(t, results[0].Err, "broken.slp идёт первым")
	require.NoError(t, results[1].Err)
	assert.Equal(t, 10, results[1].Game.FrameCount)
}
