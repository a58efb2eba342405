package shared

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultInitial     = time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxDelay    = 10 * time.Second
	DefaultJitter      = 300 * time.Millisecond
)

// BackoffConfig is the retry policy for automatic reconnection. It is passed
// by value and never mutated once a session holds it.
type BackoffConfig struct {
	Initial     time.Duration
	MaxAttempts int
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      time.Duration
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:     DefaultInitial,
		MaxAttempts: DefaultMaxAttempts,
		Multiplier:  DefaultMultiplier,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

// NormalizeBackoff fills unset fields with defaults. MaxAttempts is left alone
// when zero so callers can disable reconnection entirely; negative is zero.
func NormalizeBackoff(cfg BackoffConfig) BackoffConfig {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInitial
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.Initial {
		cfg.MaxDelay = cfg.Initial
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return cfg
}

// BaseDelay is the deterministic part of the delay for the given attempt,
// starting at 1.
func BaseDelay(attempt int, cfg BackoffConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(cfg.Initial) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if d > float64(cfg.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return cfg.MaxDelay
	}
	return minDuration(time.Duration(d), cfg.MaxDelay)
}

// ComputeDelay returns BaseDelay plus uniform jitter in [0, cfg.Jitter).
func ComputeDelay(attempt int, cfg BackoffConfig) time.Duration {
	d := BaseDelay(attempt, cfg)
	if cfg.Jitter > 0 {
		d += rand.N(cfg.Jitter)
	}
	return d
}

// ShouldRetry reports whether another reconnect attempt is allowed. Clean
// closures are never retried.
func ShouldRetry(attempts int, clean bool, cfg BackoffConfig) bool {
	return !clean && attempts < cfg.MaxAttempts
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
