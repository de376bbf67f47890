package quarantine

import "time"

// RetryPolicy configures the exponential backoff used wherever a
// filesystem operation (a rename, a delete) might transiently fail
// because another process briefly holds the path open — an AV
// self-scan, or a writer application that hasn't released its handle
// yet.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy mirrors config.Default()'s atomic_move_* values,
// for callers (mainly tests) that don't derive a policy from a loaded
// configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

// RetryWithBackoff invokes fn until it succeeds or policy's retry
// budget is exhausted, doubling the delay between attempts up to
// MaxDelay. The quarantine store's atomic move and the action
// executor's direct-delete path share this helper so that "quarantine
// impossible" and "delete impossible" back off on identical knobs.
func RetryWithBackoff(policy RetryPolicy, fn func() error) error {
	delay := policy.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
			if delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}
		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
