// Package ratelimit provides the shared request pacing and retry primitive
// used by the catalog client and the price scraper.
package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Kind classifies a failure for retry purposes. The classification is decided
// once, where the failure is observed, and carried on the error itself.
type Kind int

const (
	// KindTransient marks failures worth retrying: network errors, timeouts,
	// rate-limit responses.
	KindTransient Kind = iota
	// KindFatal marks failures that retrying cannot fix: malformed responses,
	// authentication errors.
	KindFatal
)

// ClassifiedError wraps an error with its retry classification.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: KindTransient, Err: err}
}

// Fatal wraps err as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: KindFatal, Err: err}
}

// IsTransient reports whether err is marked retryable. Context cancellation
// and unclassified errors are not retried.
func IsTransient(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind == KindTransient
	}
	return false
}

// Limiter enforces a minimum interval between successive calls. The only
// state is the last-call timestamp; a zero-interval limiter never blocks.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewLimiter returns a limiter enforcing the given inter-call interval.
func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

// Throttle blocks until at least the configured interval has elapsed since
// the previous call, or until ctx is done.
func (l *Limiter) Throttle(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	wait := l.interval - now.Sub(l.last)
	if wait <= 0 {
		l.last = now
		l.mu.Unlock()
		return nil
	}
	prev := l.last
	slot := now.Add(wait)
	l.last = slot
	l.mu.Unlock()

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		// give the unused slot back unless a later caller reserved past it
		l.mu.Lock()
		if l.last.Equal(slot) {
			l.last = prev
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Policy retries transient failures with exponential backoff plus jitter.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// NewPolicy returns a retry policy with sane floors applied.
func NewPolicy(maxAttempts int, backoff time.Duration) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}
	return Policy{MaxAttempts: maxAttempts, Backoff: backoff, MaxBackoff: 30 * time.Second}
}

// Execute invokes op, retrying transient failures up to MaxAttempts. Fatal
// and unclassified failures propagate immediately; the last transient error
// is returned when attempts are exhausted.
func (p Policy) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, attempt); err != nil {
				return err
			}
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (p Policy) sleep(ctx context.Context, attempt int) error {
	backoff := p.Backoff * time.Duration(1<<(attempt-1))
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}
	// full jitter: anywhere between half and full backoff
	backoff = backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
	select {
	case <-time.After(backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
