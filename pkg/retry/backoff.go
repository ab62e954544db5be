package retry

import (
	"fmt"
	"math"
	"time"
)

// Policy controls how many attempts a call gets and how long to wait between them.
type Policy struct {
	// MaxRetries is the total attempt budget, including the first attempt.
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      5,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
	}
}

// Validate rejects settings that would make the delay formula meaningless.
func (p Policy) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("retry: max retries must be >= 1, got %d", p.MaxRetries)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry: delays must not be negative")
	}
	if p.ExponentialBase < 1 {
		return fmt.Errorf("retry: exponential base must be >= 1, got %v", p.ExponentialBase)
	}
	return nil
}

// Delay returns min(MaxDelay, BaseDelay * ExponentialBase^attempt) for a
// 0-indexed attempt, without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	base := p.ExponentialBase
	if base < 1 {
		base = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(base, float64(attempt))
	// Pow overflows to +Inf long before the cap matters.
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// JitteredDelay applies full jitter when enabled: the result is uniform in
// [0, Delay(attempt)). rnd must return values in [0, 1).
func (p Policy) JitteredDelay(attempt int, rnd func() float64) time.Duration {
	d := p.Delay(attempt)
	if !p.Jitter || d <= 0 || rnd == nil {
		return d
	}
	j := time.Duration(rnd() * float64(d))
	if j >= d {
		j = d - 1
	}
	if j < 0 {
		j = 0
	}
	return j
}
