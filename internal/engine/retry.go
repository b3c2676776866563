package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"devmatch/internal/metrics"
)

// backoff is exponential backoff with jitter for transaction retries.
type backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64

	attempt int
}

func newBackoff(initial time.Duration) *backoff {
	if initial <= 0 {
		initial = 10 * time.Millisecond
	}
	return &backoff{
		Initial:    initial,
		Max:        initial * 32,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Next returns the next delay and increments the attempt counter.
func (b *backoff) Next() time.Duration {
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(b.attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay = delay + (rand.Float64()*2-1)*jitterRange
	}
	if delay < 0 {
		delay = float64(b.Initial)
	}
	b.attempt++
	return time.Duration(delay)
}

// isTransient reports whether err is a lock conflict that a fresh
// transaction may not hit.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// withRetry runs fn until it succeeds, fails with a non-transient error, or
// the retry budget is spent. Exhaustion is reported as exhausted.
func (e Engine) withRetry(ctx context.Context, op string, exhausted *Error, fn func() error) error {
	maxRetries := 0
	var initial time.Duration
	if e.Config != nil {
		maxRetries = e.Config.Assignment.MaxRetries
		initial = e.Config.Assignment.RetryBackoff
	}
	b := newBackoff(initial)
	for attempt := 0; ; attempt++ {
		err := fn()
		if !isTransient(err) {
			return err
		}
		if attempt >= maxRetries {
			e.log().Warn("transaction retries exhausted", zap.String("operation", op), zap.Int("attempts", attempt+1), zap.Error(err))
			return &Error{Kind: exhausted.Kind, Message: exhausted.Message, Details: map[string]any{"operation": op, "retryable": true}}
		}
		metrics.TxRetriesTotal.WithLabelValues(op).Inc()
		delay := b.Next()
		e.log().Warn("transient conflict, retrying", zap.String("operation", op), zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
