package engine

import (
	"math/rand"
	"testing"
	"time"
)

func TestNextDelayNoJitterIsLinear(t *testing.T) {
	cfg := BackoffConfig{Base: 250 * time.Millisecond}
	for k := 1; k <= 5; k++ {
		want := time.Duration(k) * 250 * time.Millisecond
		if got := NextDelay(cfg, k, nil); got != want {
			t.Fatalf("attempt %d: got=%v want=%v", k, got, want)
		}
	}
}

func TestNextDelayJitterStaysWithinBounds(t *testing.T) {
	cfg := BackoffConfig{Base: 100 * time.Millisecond, JitterFrac: 0.25}
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		for k := 1; k <= 6; k++ {
			got := NextDelay(cfg, k, rng)
			lo := time.Duration(float64(cfg.Base) * float64(k) * (1 - cfg.JitterFrac))
			hi := time.Duration(float64(cfg.Base) * float64(k) * (1 + cfg.JitterFrac))
			if got < lo || got > hi {
				t.Fatalf("seed=%d attempt=%d: delay %v outside [%v, %v]", seed, k, got, lo, hi)
			}
		}
	}
}

func TestNextDelayDegenerateInputs(t *testing.T) {
	if got := NextDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Fatalf("zero base should yield zero delay, got %v", got)
	}
	cfg := BackoffConfig{Base: 100 * time.Millisecond}
	if got := NextDelay(cfg, 0, nil); got != 100*time.Millisecond {
		t.Fatalf("attempt floor should clamp to 1, got %v", got)
	}
}
