package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("test")

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.(string) != "ok" {
		t.Errorf("unexpected result: %v", result)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig("test", CircuitBreakerConfig{
		MaxFailures:          2,
		Timeout:              time.Minute,
		HalfOpenMaxSuccesses: 1,
	})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		if _, err := cb.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		}); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}

	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		t.Fatal("function must not run while circuit is open")
		return nil, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if cb.State() != "open" {
		t.Errorf("expected state open, got %s", cb.State())
	}
}

func TestCircuitBreakerRespectsContext(t *testing.T) {
	cb := NewCircuitBreaker("test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func() (interface{}, error) {
		t.Fatal("function must not run with cancelled context")
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
