// Package retry runs an operation under a bounded attempt policy with linear
// backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// ErrExhausted is wrapped around the last attempt error once MaxAttempts is reached.
var ErrExhausted = errors.New("retries exhausted")

// Policy controls Do. The zero value makes one attempt.
type Policy struct {
	MaxAttempts int           // total attempts including the first; <1 means 1
	BaseDelay   time.Duration // wait before attempt n+1 is n*BaseDelay
	Jitter      bool          // add up to BaseDelay/2 random extra wait
	MaxWait     time.Duration // cap on a server-provided Retry-After hint; 0 = 60s
	// Retryable reports whether err should be retried. nil retries every
	// error except context cancellation.
	Retryable func(error) bool
}

// Default is three attempts, 1s then 2s apart.
var Default = Policy{MaxAttempts: 3, BaseDelay: time.Second}

// AfterHinter is implemented by errors that carry a server wait hint (Retry-After).
type AfterHinter interface {
	RetryAfter() time.Duration
}

// Backoff returns the wait after a failed attempt (1-based) with error err.
func (p Policy) Backoff(attempt int, err error) time.Duration {
	d := time.Duration(attempt) * p.BaseDelay
	if p.Jitter && p.BaseDelay > 0 {
		d += time.Duration(rand.Int63n(int64(p.BaseDelay/2 + 1)))
	}
	var h AfterHinter
	if errors.As(err, &h) {
		max := p.MaxWait
		if max <= 0 {
			max = 60 * time.Second
		}
		if hint := min(h.RetryAfter(), max); hint > d {
			d = hint
		}
	}
	return d
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Do calls fn until it succeeds, returns a non-retryable error, ctx ends, or
// MaxAttempts is reached. attempt is 1-based. It returns the number of
// attempts made. After the ceiling the error wraps both ErrExhausted and the
// last attempt error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				err = cerr
			}
			return attempt - 1, err
		}
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !p.retryable(err) {
			return attempt, err
		}
		if attempt == max {
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}
		t := time.NewTimer(p.Backoff(attempt, err))
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, err
		case <-t.C:
		}
	}
	return max, err
}

// ParseRetryAfter parses a Retry-After header (seconds or HTTP-date) capped at max.
func ParseRetryAfter(s string, max time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		return min(time.Duration(sec)*time.Second, max)
	}
	t, err := time.Parse(time.RFC1123, s)
	if err != nil {
		return 0
	}
	until := time.Until(t)
	if until <= 0 {
		return 0
	}
	return min(until, max)
}
