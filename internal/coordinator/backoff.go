package coordinator

import (
	"context"
	"math"
	mrand "math/rand/v2"
	"time"
)

const maxShift = 32

// exponential computes base * 2^attempt with overflow protection.
// Negative attempts count as zero.
func exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}
	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(multiplier)
}

// fullJitter returns a random duration in [0, delay). The "Full Jitter"
// strategy spreads concurrent retries instead of synchronizing them.
func fullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(mrand.Int64N(int64(delay)))
}

// sleepContext waits for d but returns early if the context ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
