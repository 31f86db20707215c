// Package config owns the delivery layer's runtime configuration surface.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/togglectl/internal/engine"
	"github.com/danmuck/togglectl/internal/protocol/frame"
	"github.com/danmuck/togglectl/internal/protocol/session"
	"github.com/danmuck/togglectl/internal/queue"
)

var ErrInvalidConfig = errors.New("config: invalid config")

// Config is the TOML-facing shape. Durations are milliseconds so the file
// stays plain integers.
type Config struct {
	QueueDepth       int    `toml:"queue_depth"`
	OverflowPolicy   string `toml:"overflow_policy"`
	EnqueueTimeoutMS int64  `toml:"enqueue_timeout_ms"`

	MaxAttempts      int     `toml:"max_attempts"`
	BackoffBaseMS    int64   `toml:"backoff_base_ms"`
	JitterFrac       float64 `toml:"jitter_frac"`
	OverallTimeoutMS int64   `toml:"overall_timeout_ms"`
	ReuseSession     bool    `toml:"reuse_session"`

	CacheCapacity int   `toml:"cache_capacity"`
	CacheTTLMS    int64 `toml:"cache_ttl_ms"`

	MaxFrameBytes    uint32 `toml:"max_frame_bytes"`
	ConnectTimeoutMS int64  `toml:"connect_timeout_ms"`
	SendTimeoutMS    int64  `toml:"send_timeout_ms"`
	RecvTimeoutMS    int64  `toml:"recv_timeout_ms"`
}

func Default() Config {
	return Config{
		QueueDepth:       32,
		OverflowPolicy:   string(queue.OverflowReject),
		EnqueueTimeoutMS: 1000,
		MaxAttempts:      2,
		BackoffBaseMS:    250,
		JitterFrac:       0.2,
		OverallTimeoutMS: 30_000,
		CacheCapacity:    1000,
		CacheTTLMS:       (5 * time.Minute).Milliseconds(),
		MaxFrameBytes:    256 * 1024,
		ConnectTimeoutMS: 5000,
		SendTimeoutMS:    5000,
		RecvTimeoutMS:    10_000,
	}
}

// Load reads path, fills unset fields from defaults, and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.QueueDepth <= 0 {
		return fmt.Errorf("%w: queue_depth must be positive", ErrInvalidConfig)
	}
	if _, err := queue.ParsePolicy(c.OverflowPolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.OverflowPolicy == string(queue.OverflowBlock) && c.EnqueueTimeoutMS <= 0 {
		return fmt.Errorf("%w: block overflow requires enqueue_timeout_ms", ErrInvalidConfig)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.BackoffBaseMS <= 0 {
		return fmt.Errorf("%w: backoff_base_ms must be positive", ErrInvalidConfig)
	}
	if c.JitterFrac < 0 || c.JitterFrac >= 1 {
		return fmt.Errorf("%w: jitter_frac must be in [0,1)", ErrInvalidConfig)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("%w: cache_capacity must be positive", ErrInvalidConfig)
	}
	if c.CacheTTLMS <= 0 {
		return fmt.Errorf("%w: cache_ttl_ms must be positive", ErrInvalidConfig)
	}
	if c.MaxFrameBytes == 0 {
		return fmt.Errorf("%w: max_frame_bytes must be positive", ErrInvalidConfig)
	}
	if c.ConnectTimeoutMS <= 0 || c.SendTimeoutMS <= 0 || c.RecvTimeoutMS <= 0 {
		return fmt.Errorf("%w: per-phase timeouts must be positive", ErrInvalidConfig)
	}
	return nil
}

// EngineConfig converts the file shape into the engine's typed config.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxAttempts: c.MaxAttempts,
		Backoff: engine.BackoffConfig{
			Base:       time.Duration(c.BackoffBaseMS) * time.Millisecond,
			JitterFrac: c.JitterFrac,
		},
		QueueDepth:     c.QueueDepth,
		Overflow:       queue.OverflowPolicy(c.OverflowPolicy),
		EnqueueTimeout: time.Duration(c.EnqueueTimeoutMS) * time.Millisecond,
		OverallTimeout: time.Duration(c.OverallTimeoutMS) * time.Millisecond,
		ReuseSession:   c.ReuseSession,
		Session: session.Config{
			ConnectTimeout: time.Duration(c.ConnectTimeoutMS) * time.Millisecond,
			SendTimeout:    time.Duration(c.SendTimeoutMS) * time.Millisecond,
			RecvTimeout:    time.Duration(c.RecvTimeoutMS) * time.Millisecond,
			Limits:         frame.Limits{MaxPayloadBytes: c.MaxFrameBytes},
		},
	}
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMS) * time.Millisecond
}
