package engine

import (
	"math/rand"
	"time"
)

// BackoffConfig defines retry pacing between attempts of one command.
type BackoffConfig struct {
	// Base is the delay unit; the pause after attempt k is Base*k before
	// jitter.
	Base time.Duration
	// JitterFrac bounds the random perturbation: the final delay lies in
	// [Base*k*(1-JitterFrac), Base*k*(1+JitterFrac)]. Zero disables jitter.
	JitterFrac float64
}

// NextDelay returns the pause taken after attempt k fails (1-based). Growth
// is linear in the attempt number; jitter spreads retries so fleets of
// devices don't hammer in lockstep.
func NextDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.Base <= 0 {
		return 0
	}
	delay := float64(cfg.Base) * float64(attempt)
	if cfg.JitterFrac > 0 && rng != nil {
		delay *= 1 + cfg.JitterFrac*(2*rng.Float64()-1)
	}
	return time.Duration(delay)
}
