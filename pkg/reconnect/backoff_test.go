package reconnect

import (
	"math"
	"testing"
	"time"
)

// mockRandomSource returns a fixed value for deterministic testing.
type mockRandomSource struct {
	value float64
}

func (m mockRandomSource) Float64() float64 {
	return m.value
}

func TestPolicyBaseSequence(t *testing.T) {
	expected := []struct {
		attempt int
		minMs   float64
	}{
		{0, 2000},
		{1, 3000},
		{2, 4500},
		{3, 6750},
		{4, 10125},
		{5, 15187.5},
		{6, 15187.5},
		{50, 15187.5},
	}

	p := NewPolicy(mockRandomSource{value: 0})

	for _, tc := range expected {
		got := float64(p.Delay(tc.attempt)) / float64(time.Millisecond)
		if math.Abs(got-tc.minMs) > 0.001 {
			t.Errorf("Delay(%d) = %vms, want %vms", tc.attempt, got, tc.minMs)
		}
	}
}

func TestPolicyBounds(t *testing.T) {
	p := NewPolicy(nil)

	for attempt := 0; attempt <= 20; attempt++ {
		exp := attempt
		if exp > 5 {
			exp = 5
		}
		lower := time.Duration(2000 * math.Pow(1.5, float64(exp)) * float64(time.Millisecond))
		upper := lower + time.Second

		for i := 0; i < 200; i++ {
			d := p.Delay(attempt)
			if d < lower || d >= upper {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v)", attempt, d, lower, upper)
			}
			if d > 31*time.Second {
				t.Fatalf("Delay(%d) = %v exceeds 31s", attempt, d)
			}
		}
	}
}

func TestPolicyJitter(t *testing.T) {
	p := NewPolicy(mockRandomSource{value: 0.5})

	if got, want := p.Delay(0), 2500*time.Millisecond; got != want {
		t.Errorf("Delay(0) with 0.5 jitter = %v, want %v", got, want)
	}
	if got, want := p.MaxDelay(0), 3000*time.Millisecond; got != want {
		t.Errorf("MaxDelay(0) = %v, want %v", got, want)
	}
}

func TestPolicyNegativeAttempt(t *testing.T) {
	p := NewPolicy(mockRandomSource{value: 0})
	if got := p.Delay(-3); got != DefaultBaseDelay {
		t.Errorf("Delay(-3) = %v, want %v", got, DefaultBaseDelay)
	}
}

func TestPolicyCap(t *testing.T) {
	p := NewPolicyWithConfig(PolicyConfig{
		BaseDelay:   10 * time.Second,
		Multiplier:  2,
		MaxExponent: 10,
		MaxDelay:    30 * time.Second,
		Random:      mockRandomSource{value: 0},
	})

	if got := p.Delay(4); got != 30*time.Second {
		t.Errorf("Delay(4) = %v, want capped 30s", got)
	}
}

func TestPolicyCustomConfig(t *testing.T) {
	p := NewPolicyWithConfig(PolicyConfig{
		BaseDelay: 10 * time.Millisecond,
		Jitter:    5 * time.Millisecond,
		Random:    mockRandomSource{value: 0},
	})

	if got := p.Delay(0); got != 10*time.Millisecond {
		t.Errorf("Delay(0) = %v, want 10ms", got)
	}
	if got := p.MaxDelay(1); got != 20*time.Millisecond {
		t.Errorf("MaxDelay(1) = %v, want 20ms", got)
	}
}

func TestCounter(t *testing.T) {
	var c Counter

	if c.Value() != 0 {
		t.Fatalf("Value() = %d, want 0", c.Value())
	}
	c.Increment()
	if got := c.Increment(); got != 2 {
		t.Errorf("Increment() = %d, want 2", got)
	}
	c.Reset()
	if c.Value() != 0 {
		t.Errorf("Value() after Reset = %d, want 0", c.Value())
	}
}
