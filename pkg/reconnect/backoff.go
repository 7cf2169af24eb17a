// Package reconnect computes the delay between reconnection attempts of a
// stream client and tracks the attempt counter.
package reconnect

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// Default backoff parameters.
const (
	// DefaultBaseDelay is the delay before the first retry, without jitter.
	DefaultBaseDelay = 2000 * time.Millisecond

	// DefaultMultiplier is the per-attempt growth factor.
	DefaultMultiplier = 1.5

	// DefaultMaxExponent caps the exponent; attempts beyond it reuse the same base.
	DefaultMaxExponent = 5

	// DefaultMaxDelay caps the base delay before jitter is added.
	DefaultMaxDelay = 30 * time.Second

	// DefaultJitter is the exclusive upper bound of the uniform jitter.
	DefaultJitter = 1000 * time.Millisecond
)

// RandomSource provides random values for jitter calculation.
// Allows injection of deterministic sources for testing.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource is the default random source using math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// PolicyConfig overrides the backoff parameters. Zero fields use defaults.
type PolicyConfig struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxExponent int
	MaxDelay    time.Duration
	Jitter      time.Duration

	// Random is the jitter source. If nil, DefaultRandomSource is used.
	Random RandomSource
}

func (c *PolicyConfig) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.MaxExponent <= 0 {
		c.MaxExponent = DefaultMaxExponent
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	} else if c.Jitter == 0 {
		c.Jitter = DefaultJitter
	}
	if c.Random == nil {
		c.Random = DefaultRandomSource
	}
}

// Policy computes reconnection delays.
//
// The delay for a failure observed at attempt count a is:
//
//	min(BaseDelay * Multiplier^min(a, MaxExponent), MaxDelay) + random[0, Jitter)
//
// With defaults this is min(2000ms * 1.5^min(a,5), 30000ms) + [0, 1000)ms, so
// the sequence grows from ~2s to ~15s and then stays flat.
type Policy struct {
	config PolicyConfig
}

// NewPolicy creates a policy with default parameters and the given random
// source. If random is nil, DefaultRandomSource is used.
func NewPolicy(random RandomSource) *Policy {
	return NewPolicyWithConfig(PolicyConfig{Random: random})
}

// NewPolicyWithConfig creates a policy with custom parameters.
func NewPolicyWithConfig(config PolicyConfig) *Policy {
	config.applyDefaults()
	return &Policy{config: config}
}

// Delay returns the backoff delay including jitter. attempt is the counter
// value at the time of the failure; negative values are treated as 0.
func (p *Policy) Delay(attempt int) time.Duration {
	jitter := time.Duration(p.config.Random.Float64() * float64(p.config.Jitter))
	return p.MinDelay(attempt) + jitter
}

// MinDelay returns the delay without jitter.
func (p *Policy) MinDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > p.config.MaxExponent {
		attempt = p.config.MaxExponent
	}

	base := float64(p.config.BaseDelay) * math.Pow(p.config.Multiplier, float64(attempt))
	if base > float64(p.config.MaxDelay) {
		base = float64(p.config.MaxDelay)
	}
	return time.Duration(base)
}

// MaxDelay returns the exclusive upper bound of Delay for the attempt.
func (p *Policy) MaxDelay(attempt int) time.Duration {
	return p.MinDelay(attempt) + p.config.Jitter
}

// Counter is the reconnect attempt counter. It increments on every failure
// and resets on a successful connection. Safe for concurrent use.
type Counter struct {
	n atomic.Int64
}

// Value returns the current attempt count.
func (c *Counter) Value() int {
	return int(c.n.Load())
}

// Increment records a failure and returns the new count.
func (c *Counter) Increment() int {
	return int(c.n.Add(1))
}

// Reset sets the count back to zero.
func (c *Counter) Reset() {
	c.n.Store(0)
}
