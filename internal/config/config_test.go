package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/togglectl/internal/queue"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "togglectl.toml")
	body := `
queue_depth = 8
overflow_policy = "drop_oldest"
max_attempts = 3
backoff_base_ms = 100
jitter_frac = 0.1
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.QueueDepth != 8 {
		t.Fatalf("queue_depth=%d", cfg.QueueDepth)
	}
	if cfg.OverflowPolicy != string(queue.OverflowDropOldest) {
		t.Fatalf("overflow_policy=%q", cfg.OverflowPolicy)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("max_attempts=%d", cfg.MaxAttempts)
	}
	// Untouched fields keep defaults.
	if cfg.CacheCapacity != 1000 {
		t.Fatalf("cache_capacity=%d", cfg.CacheCapacity)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cfg := Default()
	cfg.OverflowPolicy = "lossy"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidateRejectsJitterOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.JitterFrac = 1.0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidateBlockPolicyRequiresTimeout(t *testing.T) {
	cfg := Default()
	cfg.OverflowPolicy = string(queue.OverflowBlock)
	cfg.EnqueueTimeoutMS = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestEngineConfigConversion(t *testing.T) {
	cfg := Default()
	ec := cfg.EngineConfig()
	if ec.Backoff.Base != 250*time.Millisecond {
		t.Fatalf("backoff base=%v", ec.Backoff.Base)
	}
	if ec.Session.RecvTimeout != 10*time.Second {
		t.Fatalf("recv timeout=%v", ec.Session.RecvTimeout)
	}
	if err := ec.Validate(); err != nil {
		t.Fatalf("converted engine config must validate: %v", err)
	}
	if cfg.CacheTTL() != 5*time.Minute {
		t.Fatalf("cache ttl=%v", cfg.CacheTTL())
	}
}
