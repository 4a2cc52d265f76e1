package taskqueue

import (
	"time"

	"medscribe/internal/config"
)

// Backoff returns the delay before the attempt following attempt:
// initial * 2^(attempt-1), capped at the policy maximum.
func Backoff(policy config.RetryPolicy, attempt int) time.Duration {
	delay := policy.InitialBackoff()
	if delay <= 0 {
		return 0
	}
	ceiling := policy.MaxBackoff()
	for i := 1; i < attempt; i++ {
		delay *= 2
		if ceiling > 0 && delay >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && delay > ceiling {
		return ceiling
	}
	return delay
}

// maxAttempts treats a non-positive policy as a single attempt.
func maxAttempts(policy config.RetryPolicy) int {
	if policy.MaxAttempts < 1 {
		return 1
	}
	return policy.MaxAttempts
}
