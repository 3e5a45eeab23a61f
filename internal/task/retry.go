package task

import "time"

// Backoff strategies for RetryPolicy.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// RetryPolicy decides whether a failed attempt is redelivered.
type RetryPolicy struct {
	// MaxRetries is the number of redeliveries after the first attempt.
	MaxRetries int
	// Delay is the wait before the first redelivery.
	Delay time.Duration
	// Backoff is BackoffFixed or BackoffExponential.
	Backoff string
	// MaxDelay caps exponential delays; zero means uncapped.
	MaxDelay time.Duration
}

// Decision is the policy's verdict for one failed attempt.
type Decision struct {
	Retry bool
	After time.Duration
}

// DefaultRetryPolicy returns three fixed 60s retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Delay:      60 * time.Second,
		Backoff:    BackoffFixed,
		MaxDelay:   10 * time.Minute,
	}
}

// Decide returns the decision after the given 1-based attempt failed.
func (p RetryPolicy) Decide(attempt int) Decision {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > p.MaxRetries {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, After: p.delay(attempt)}
}

// Exhausted reports whether attempt is beyond the last allowed attempt.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxRetries+1
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff != BackoffExponential {
		return p.Delay
	}

	d := p.Delay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
