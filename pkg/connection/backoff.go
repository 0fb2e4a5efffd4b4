package connection

import (
	"math/rand/v2"
	"time"
)

// Backoff defaults.
const (
	// InitialBackoff is the first delay.
	InitialBackoff = 2 * time.Second

	// MaxBackoff caps the base delay.
	MaxBackoff = 5 * time.Minute

	// BackoffMultiplier is the growth factor per attempt.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of the base delay.
	JitterFactor = 0.25
)

// BackoffConfig customizes a Backoff.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64

	// Rand returns a value in [0, 1). Defaults to math/rand/v2, which is
	// safe from any goroutine.
	Rand func() float64
}

// Backoff calculates exponential delays with jitter. It is not safe for
// concurrent use.
type Backoff struct {
	current    time.Duration
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	rand       func() float64
	attempts   int
}

// NewBackoff creates a backoff with the default settings.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Jitter: JitterFactor})
}

// NewBackoffWithConfig creates a backoff with custom settings. Zero values
// take the defaults except Jitter, where zero disables jitter.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}

	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rand:       cfg.Rand,
	}
}

// Next returns the next delay with jitter and advances the base.
func (b *Backoff) Next() time.Duration {
	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset returns the base to its initial value.
func (b *Backoff) Reset() {
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Current returns the current base delay without jitter.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Jitter returns a random extra delay in [0, d*factor).
func (b *Backoff) Jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || d <= 0 {
		return 0
	}
	return time.Duration(float64(d) * factor * b.rand())
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	return d + b.Jitter(d, b.jitter)
}
