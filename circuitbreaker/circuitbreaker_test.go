package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Expected wrapped failure, got %v", err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("Expected open state after %d failures", 2)
	}

	if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_RecoversAfterResetTimeout(t *testing.T) {
	cb := New(1, 10*time.Millisecond)
	ctx := context.Background()

	if err := cb.Execute(ctx, func() error { return errBoom }); err == nil {
		t.Fatal("Expected failure")
	}
	if cb.State() != StateOpen {
		t.Fatal("Expected open state")
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("Expected half-open probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Error("Expected closed state after successful probe")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(3, time.Minute)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errBoom })
	cb.Execute(ctx, func() error { return errBoom })
	cb.Execute(ctx, func() error { return nil })
	cb.Execute(ctx, func() error { return errBoom })
	cb.Execute(ctx, func() error { return errBoom })

	if cb.State() != StateClosed {
		t.Error("Expected breaker to stay closed when failures never reach the threshold in a row")
	}
}
