package apiclient

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy controls how failed requests are re-attempted.
type RetryPolicy struct {
	MaxAttempts  int           // total attempts including the first; values below 1 mean 1
	InitialDelay time.Duration // wait after the first failure
	Multiplier   float64       // growth factor per failure; below 1 means 2
	MaxDelay     time.Duration // zero means uncapped
	Retryable    func(error) bool
	Sleep        func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy makes 3 attempts, waiting 1s then 2s, and retries only
// transport failures, 408, 429 and 5xx.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		Retryable:    DefaultRetryable,
	}
}

// NoRetry makes exactly one attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// DefaultRetryable skips errors that cannot succeed on a second try:
// cancellation, 401, open circuit, client errors and non-JSON 2xx bodies.
func DefaultRetryable(err error) bool {
	if err == nil || isFinal(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// RetryAll retries every failure except cancellation, 401 and an open
// circuit.
func RetryAll(err error) bool {
	return err != nil && !isFinal(err)
}

func isFinal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrCircuitOpen)
}

// Delay returns the wait after the given failed attempt (1-based):
// InitialDelay, InitialDelay×Multiplier, ...
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	m := p.Multiplier
	if m < 1 {
		m = 2
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(m, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) shouldRetry(err error) bool {
	if p.Retryable == nil {
		return DefaultRetryable(err)
	}
	return p.Retryable(err)
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
