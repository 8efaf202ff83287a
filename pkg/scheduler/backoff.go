package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// backoffForAttempt returns the deterministic retry delay for the
// k-th retry attempt (0-indexed): 100ms, 200ms, 400ms, ... — base *
// 2^k — using cenkalti/backoff/v4's exponential generator with
// randomization disabled so the sequence is exact, not jittered.
func backoffForAttempt(base time.Duration, k int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i <= k; i++ {
		d = b.NextBackOff()
	}
	return d
}
