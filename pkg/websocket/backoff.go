package websocket

import (
	"math/rand"
	"time"
)

const defaultJitterCeiling = time.Second

// DefaultBackoff provides conservative reconnect defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:           300 * time.Millisecond,
		Max:           10 * time.Second,
		JitterCeiling: defaultJitterCeiling,
	}
}

func (b Backoff) isZero() bool {
	return b.Min == 0 && b.Max == 0 && b.JitterCeiling == 0 && !b.AllowOverMax && b.Rand == nil
}

func (b Backoff) bounds() (time.Duration, time.Duration) {
	min := b.Min
	if min < 0 {
		min = 0
	}
	max := b.Max
	if max < min {
		max = min
	}
	return min, max
}

// Base returns the exponential term min(Max, Min*2^attempt) for the given attempt (0-based).
func (b Backoff) Base(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	min, max := b.bounds()

	wait := min
	for i := 0; i < attempt; i++ {
		next := wait * 2
		if next > max || next < wait {
			return max
		}
		wait = next
	}
	if wait > max {
		return max
	}
	return wait
}

// Next returns the jittered delay for the given attempt (0-based).
// Jitter is uniform in [0, min(JitterCeiling, Base/4)).
func (b Backoff) Next(attempt int) time.Duration {
	exp := b.Base(attempt)
	_, max := b.bounds()

	bound := exp / 4
	ceiling := b.JitterCeiling
	if ceiling < 0 {
		ceiling = 0
	}
	if ceiling < bound {
		bound = ceiling
	}

	wait := exp
	if bound > 0 {
		random := b.Rand
		if random == nil {
			random = rand.Float64
		}
		wait += time.Duration(random() * float64(bound))
	}

	if !b.AllowOverMax && wait > max {
		wait = max
	}
	return wait
}
