package service

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy controls how many times a step is attempted and how long to wait in between.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) normalize(defaults RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaults.InitialBackoff
	}
	if p.MaximumBackoff <= 0 {
		p.MaximumBackoff = defaults.MaximumBackoff
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = p.InitialBackoff
	}
	return p
}

// backoff returns the wait before the given retry (1-based), doubling up to MaximumBackoff.
func (p RetryPolicy) backoff(retry int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.MaximumBackoff {
			return p.MaximumBackoff
		}
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func(attempt int) error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if werr := sleep(ctx, p.backoff(attempt)); werr != nil {
			return werr
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.MaxAttempts, err)
}

func sleep(ctx context.Context, d time.Duration) error {
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
