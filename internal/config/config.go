// Package config загружает YAML-конфигурацию с переопределением из окружения.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/annel0/slp-replay/internal/auth"
	"github.com/annel0/slp-replay/internal/batch"
	"github.com/annel0/slp-replay/internal/cache"
	"github.com/annel0/slp-replay/internal/eventbus"
	"github.com/annel0/slp-replay/internal/notify"
	"github.com/annel0/slp-replay/internal/observability"
	"github.com/annel0/slp-replay/internal/replay"
	"github.com/annel0/slp-replay/internal/stats"
	"github.com/annel0/slp-replay/internal/storage"
)

// Config корневая структура конфигурации
type Config struct {
	Parse      ParseConfig             `yaml:"parse"`
	Thresholds stats.Thresholds        `yaml:"thresholds"`
	Batch      batch.Config            `yaml:"batch"`
	Storage    storage.StorageConfig   `yaml:"storage"`
	Cache      cache.CacheConfig       `yaml:"cache"`
	EventBus   eventbus.EventBusConfig `yaml:"eventbus"`
	Server     ServerConfig            `yaml:"server"`
	Auth       auth.Config             `yaml:"auth"`
	Webhooks   notify.Config           `yaml:"webhooks"`
	Telemetry  observability.Config    `yaml:"telemetry"`
	Log        LogConfig               `yaml:"log"`
}

// ParseConfig выборочный разбор
type ParseConfig struct {
	DecodeFrames      bool `yaml:"decode_frames" env:"SLP_DECODE_FRAMES"`
	ComputeStatistics bool `yaml:"compute_statistics" env:"SLP_COMPUTE_STATISTICS"`
	MaxOpenFrames     int  `yaml:"max_open_frames" env:"SLP_MAX_OPEN_FRAMES"`
}

type ServerConfig struct {
	RESTPort int `yaml:"rest_port" env:"SLP_REST_PORT"`
	// MaxUploadMB предел тела POST /api/replays
	MaxUploadMB int `yaml:"max_upload_mb" env:"SLP_MAX_UPLOAD_MB"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"SLP_LOG_LEVEL"`
}

// Значения по умолчанию для портов и лимитов
const (
	DefaultRESTPort    = 8088
	DefaultMaxUploadMB = 32
)

// GetRESTPort порт REST API с fallback
func (s *ServerConfig) GetRESTPort() int {
	if s.RESTPort > 0 {
		return s.RESTPort
	}
	return DefaultRESTPort
}

// GetMaxUploadBytes
func (s *ServerConfig) GetMaxUploadBytes() int64 {
	mb := s.MaxUploadMB
	if mb <= 0 {
		mb = DefaultMaxUploadMB
	}
	return int64(mb) << 20
}

// Default конфигурация без файла
func Default() Config {
	return Config{
		Parse:      ParseConfig{DecodeFrames: true, ComputeStatistics: true},
		Thresholds: stats.DefaultThresholds(),
		Storage:    storage.StorageConfig{Path: "data"},
		Telemetry:  observability.Config{ServiceName: "slp-replay", SampleRatio: 1},
		Log:        LogConfig{Level: "info"},
	}
}

// Options опции разбора с порогами из конфигурации
func (c *Config) Options() replay.Options {
	th := c.Thresholds
	return replay.Options{
		DecodeFrames:      c.Parse.DecodeFrames,
		ComputeStatistics: c.Parse.ComputeStatistics,
		Thresholds:        &th,
		MaxOpenFrames:     c.Parse.MaxOpenFrames,
	}
}

// Validate
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if c.Batch.Workers < 0 {
		return errors.New("batch.workers must be >= 0")
	}
	if c.Auth.Required && c.Auth.Secret == "" {
		return errors.New("auth.required needs auth.secret: tokens would not survive a restart")
	}
	if c.Parse.MaxOpenFrames < 0 {
		return errors.New("parse.max_open_frames must be >= 0")
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.sample_ratio %.2f out of [0, 1]", r)
	}
	return nil
}

// Load читает YAML поверх Default, затем применяет переменные окружения.
// Если path == "", берётся SLP_CONFIG; без файла остаются значения по умолчанию.
// Ключи, отсутствующие в файле, сохраняют значения по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SLP_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
