package togglekit

import (
	"math"
	"math/rand"
	"time"
)

// backoffStrategy calculates retry delays. Attempt starts at 1 for the
// first retry.
type backoffStrategy interface {
	NextInterval(attempt int) time.Duration
}

// exponentialBackoff implements exponential backoff with jitter. Jitter
// spreads retries from many client instances so a recovering service is not
// hit by a synchronized wave.
type exponentialBackoff struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	jitterFactor    float64
}

func (e exponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.initialInterval
	if initial == 0 {
		initial = time.Second
	}
	maxInterval := e.maxInterval
	if maxInterval == 0 {
		maxInterval = 30 * time.Second
	}
	multiplier := e.multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))

	if e.jitterFactor > 0 {
		delta := interval * e.jitterFactor
		interval = interval - delta + rand.Float64()*2*delta
	}

	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}
	return time.Duration(interval)
}
