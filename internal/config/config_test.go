package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slp-replay/internal/stats"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("SLP_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Parse.DecodeFrames)
	assert.True(t, cfg.Parse.ComputeStatistics)
	assert.Equal(t, stats.DefaultThresholds(), cfg.Thresholds)
	assert.Equal(t, DefaultRESTPort, cfg.Server.GetRESTPort())
	assert.Equal(t, int64(DefaultMaxUploadMB)<<20, cfg.Server.GetMaxUploadBytes())
}

func TestLoad_PartialOverrides(t *testing.T) {
	path := writeConfig(t, `
parse:
  decode_frames: false
thresholds:
  trade_window: 8
batch:
  workers: 3
cache:
  redis_url: localhost:6379
  default_ttl: 5m
server:
  rest_port: 9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Parse.DecodeFrames)
	assert.True(t, cfg.Parse.ComputeStatistics, "отсутствующий ключ сохраняет значение по умолчанию")
	assert.Equal(t, 8, cfg.Thresholds.TradeWindow)
	assert.Equal(t, stats.DefaultThresholds().NeutralResetWindow, cfg.Thresholds.NeutralResetWindow)
	assert.Equal(t, 3, cfg.Batch.Workers)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisURL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 9000, cfg.Server.GetRESTPort())

	opts := cfg.Options()
	assert.False(t, opts.DecodeFrames)
	require.NotNil(t, opts.Thresholds)
	assert.Equal(t, 8, opts.Thresholds.TradeWindow)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  rest_port: 9000\n")
	t.Setenv("SLP_CONFIG", path)
	t.Setenv("SLP_REST_PORT", "9100")
	t.Setenv("SLP_BATCH_WORKERS", "6")
	t.Setenv("SLP_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("SLP_WEBHOOK_URLS", "http://a.example/hook,http://b.example/hook")
	t.Setenv("SLP_OTEL_SAMPLE_RATIO", "0.25")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.GetRESTPort())
	assert.Equal(t, 6, cfg.Batch.Workers)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.EventBus.URL)
	assert.Equal(t, []string{"http://a.example/hook", "http://b.example/hook"}, cfg.Webhooks.URLs)
	assert.True(t, cfg.Webhooks.Enabled())
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-9)
	assert.Equal(t, "slp-replay", cfg.Telemetry.ServiceName)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "parse: [1, 2"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "thresholds:\n  tick_rate: 0\n"))
	assert.ErrorContains(t, err, "thresholds")

	_, err = Load(writeConfig(t, "batch:\n  workers: -1\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "auth:\n  required: true\n"))
	assert.ErrorContains(t, err, "auth.secret")

	_, err = Load(writeConfig(t, "telemetry:\n  sample_ratio: 2\n"))
	assert.ErrorContains(t, err, "sample_ratio")
}
