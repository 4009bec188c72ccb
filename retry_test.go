package accessmgr

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryFixedRetriesTransientOnly(t *testing.T) {
	ctx := context.Background()

	// Transient failures are retried until the budget runs out.
	attempts := 0
	err := RetryFixed(ctx, 2, time.Millisecond, func(ctx context.Context) error {
		attempts++
		return errors.New("dial tcp 127.0.0.1:80: connection refused")
	})
	if err == nil {
		t.Fatal("exhausted retry must surface the error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want initial try plus 2 retries", attempts)
	}

	// Application errors surface on the first attempt.
	attempts = 0
	err = RetryFixed(ctx, 2, time.Millisecond, func(ctx context.Context) error {
		attempts++
		return NewError(UserNotFoundError, "no such user", "ghost")
	})
	if CodeOf(err) != UserNotFoundError {
		t.Errorf("error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, application errors are never retried", attempts)
	}

	// Transient failure that heals.
	attempts = 0
	err = RetryFixed(ctx, 3, time.Millisecond, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("read tcp: i/o timeout")
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Errorf("err=%v attempts=%d, want success on second try", err, attempts)
	}
}

func TestRetryReportsGivingUp(t *testing.T) {
	ctx := context.Background()

	gaveUp := false
	err := Retry(ctx, func(ctx context.Context) error { return nil },
		func(ctx context.Context) { gaveUp = true })
	if err != nil {
		t.Fatalf("Retry on success returned %v", err)
	}
	if gaveUp {
		t.Error("gave-up task ran despite success")
	}

	// A non-retryable error ends the attempt loop immediately and still
	// reports giving up.
	attempts := 0
	err = Retry(ctx, func(ctx context.Context) error {
		attempts++
		return NewError(ServiceUnavailableError, "storage offline")
	}, func(ctx context.Context) { gaveUp = true })
	if CodeOf(err) != ServiceUnavailableError {
		t.Errorf("error = %v, expected ServiceUnavailableError", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, non-retryable errors end the loop", attempts)
	}
	if !gaveUp {
		t.Error("gave-up task not invoked")
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if IsTransient(context.Canceled) || IsTransient(context.DeadlineExceeded) {
		t.Error("context cancellation must not be retried")
	}
	if IsTransient(NewError(ServiceUnavailableError, "tripped")) {
		t.Error("module errors carry application semantics")
	}
	if !IsTransient(errors.New("dial tcp: connection refused")) {
		t.Error("connection refused is transient")
	}
	if !IsTransient(errors.New("read tcp: i/o timeout")) {
		t.Error("i/o timeout is transient")
	}
	if IsTransient(errors.New("json: cannot unmarshal")) {
		t.Error("decode failures are not transient")
	}
}
