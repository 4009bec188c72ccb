package accessmgr

import (
	"context"
	"errors"
	log "log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff up to 5 retries.
// If retries are exhausted, gaveUpTask is invoked (when not nil) and the final error is returned.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(1 * time.Second)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), task); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// RetryFixed executes task up to count+1 times with a fixed interval between
// attempts, retrying only while IsTransient(err) holds. Application errors
// surface unchanged on the first occurrence.
func RetryFixed(ctx context.Context, count int, interval time.Duration, task func(ctx context.Context) error) error {
	b := retry.NewConstant(interval)
	return retry.Do(ctx, retry.WithMaxRetries(uint64(count), b), func(ctx context.Context) error {
		err := task(ctx)
		if err != nil && IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// IsTransient reports whether the error is a transient transport failure
// (connect or timeout class). Validation and not-found style application
// errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Module errors carry application semantics, never retried.
	var e Error
	if errors.As(err, &e) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	// Last-resort heuristic for wrapped transport errors across platforms.
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "i/o timeout")
}
