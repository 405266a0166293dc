package webhook

import (
	"time"

	"automation-engine/internal/common/utils"
)

const maxDuration = time.Duration(1<<63 - 1)

// Backoff computes retry delays for failed deliveries.
//
// The delay before retry n (n = attempts made so far) is
//
//	base·2^(n-1) + jitter,  jitter uniform in [0, JitterFactor·base·2^(n-1))
//
// With JitterFactor < 1 the largest possible delay after attempt n is below
// the smallest possible delay after attempt n+1, so successive delays grow
// strictly. Max, when set, caps the delay after jitter is added.
type Backoff struct {
	JitterFactor float64
	Max          time.Duration
	Jitter       utils.JitterSource
}

// DefaultBackoff uses 20% jitter, a one day cap and crypto randomness.
func DefaultBackoff() Backoff {
	return Backoff{JitterFactor: 0.2, Max: 24 * time.Hour, Jitter: utils.CryptoJitter}
}

// Base returns the delay before jitter.
func (b Backoff) Base(backoffSeconds, attempt int) time.Duration {
	if backoffSeconds <= 0 || attempt <= 0 {
		return 0
	}
	d := time.Duration(backoffSeconds) * time.Second
	for i := 1; i < attempt; i++ {
		if d > maxDuration/4 {
			// Saturate well before overflow; jitter still fits.
			return maxDuration / 4
		}
		d *= 2
	}
	return d
}

// Delay returns the delay before the next attempt after attempt attempts.
func (b Backoff) Delay(backoffSeconds, attempt int) time.Duration {
	base := b.Base(backoffSeconds, attempt)
	delay := base

	factor := b.JitterFactor
	if factor >= 1 {
		factor = 0.99
	}
	if factor > 0 && b.Jitter != nil {
		if spread := time.Duration(float64(base) * factor); spread > 0 {
			delay += b.Jitter(spread)
		}
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}
