package fetch

import "time"

// RetryPolicy governs attempt budgets and backoff for the worker routine.
// Backoff is deterministic (base doubled per attempt, capped) so the total
// sleep across a retry sequence is predictable.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the extractor's observed failure behavior:
// three attempts with a short doubling delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// ShouldRetry decides whether another attempt is warranted after attempt
// (1-based) failed with the given classified error.
func (p RetryPolicy) ShouldRetry(derr *DownloadError, attempt int) bool {
	if derr == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	return derr.Kind.Retryable()
}

// Backoff returns the delay before the attempt following attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
