package voiceapi

import (
	"math"
	"math/rand"
	"time"
)

// ReconnectPolicy controls how the event channel re-establishes its websocket
// after a drop. The original platform client reconnected immediately and
// unconditionally, which turns a persistent outage into a tight dial loop;
// the policy here bounds that with exponential backoff and an optional
// attempt budget that ends in StateFailed.
type ReconnectPolicy struct {
	// MaxAttempts is the number of consecutive failed reconnect attempts
	// after which the channel gives up and enters StateFailed.
	// 0 means retry forever. The counter resets on every successful connect.
	MaxAttempts int

	// BaseDelay is the delay before the first reconnect attempt.
	// Default: 500 milliseconds
	BaseDelay time.Duration

	// MaxDelay caps the delay between attempts.
	// Default: 30 seconds
	MaxDelay time.Duration

	// Multiplier is the exponential backoff factor applied per attempt.
	// Default: 2.0
	Multiplier float64

	// Jitter adds randomness to delays to avoid thundering herd when many
	// clients reconnect at once. Value between 0.0 and 1.0. Default: 0.2
	Jitter float64
}

// DefaultReconnectPolicy returns a sensible default reconnect policy:
// unlimited attempts with capped exponential backoff and 20% jitter.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 0,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

func (p ReconnectPolicy) validate() error {
	if p.MaxAttempts < 0 {
		return NewConfigError("Reconnect.MaxAttempts", "", "cannot be negative")
	}
	if p.BaseDelay < 0 {
		return NewConfigError("Reconnect.BaseDelay", p.BaseDelay.String(), "cannot be negative")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return NewConfigError("Reconnect.Jitter", "", "must be between 0.0 and 1.0")
	}
	return nil
}

// withDefaults fills zero fields with the default policy values so a zero
// Config keeps reconnecting out of the box.
func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	def := DefaultReconnectPolicy()
	if p.BaseDelay == 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter == 0 {
		p.Jitter = def.Jitter
	}
	return p
}

// delay computes the backoff before reconnect attempt n (0-based) with
// exponential growth, a hard cap and symmetric jitter.
func (p ReconnectPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))

	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		jitter := d * p.Jitter
		d += (rand.Float64()*2 - 1) * jitter
	}

	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// exhausted reports whether attempt (1-based count of consecutive failures)
// has spent the attempt budget.
func (p ReconnectPolicy) exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts > p.MaxAttempts
}
