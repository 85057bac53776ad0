package scheduler

import "time"

// retryDelay computes the wait before retrying a failed attempt:
// base * 2^(attemptNum-1). The attempt limit bounds total backoff, so no
// explicit cap is applied.
func retryDelay(base time.Duration, attemptNum int) time.Duration {
	if attemptNum < 1 {
		attemptNum = 1
	}
	return base << (attemptNum - 1)
}
