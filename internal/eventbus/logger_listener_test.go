package eventbus

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slp-replay/internal/logging"
)

func TestLogReplayEvent_Levels(t *testing.T) {
	var buf bytes.Buffer
	restore := logging.SetDefaultLogger(logging.NewWriterLogger("test", &buf, logging.INFO))
	defer restore()

	decoded, err := NewEnvelope(TypeReplayDecoded, "test", ReplayDecoded{GameID: "g-1", Name: "game.slp", Version: "3.9.0", TotalFrames: 1001})
	require.NoError(t, err)
	failed, err := NewEnvelope(TypeReplayFailed, "test", ReplayFailed{Name: "bad.slp", Hash: "0123456789abcdef", Error: "unknown event size"})
	require.NoError(t, err)
	dup, err := NewEnvelope(TypeReplayDecoded, "test", ReplayDecoded{GameID: "g-2", Duplicate: true})
	require.NoError(t, err)

	logReplayEvent(context.Background(), decoded)
	logReplayEvent(context.Background(), failed)
	logReplayEvent(context.Background(), dup)

	out := buf.String()
	assert.Contains(t, out, "g-1")
	assert.Contains(t, out, "frames=1001")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abcdef", "хеш укорочен")
	assert.NotContains(t, out, "g-2", "повторы пишутся только в debug")
}
