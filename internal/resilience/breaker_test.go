package resilience

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream failed")

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	err := b.Execute(func() error {
		t.Fatal("call executed while open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(2, time.Minute)

	b.Execute(func() error { return errUpstream }) //nolint:errcheck
	b.Execute(func() error { return nil })         //nolint:errcheck
	b.Execute(func() error { return errUpstream }) //nolint:errcheck

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	b.Execute(func() error { return errUpstream }) //nolint:errcheck
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	// Before the cooldown elapses, calls are rejected.
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}

	// After the cooldown a failed probe reopens immediately.
	clock = clock.Add(2 * time.Minute)
	if err := b.Execute(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state after failed probe = %v, want open", b.State())
	}

	// A successful probe closes the circuit.
	clock = clock.Add(2 * time.Minute)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after good probe = %v, want closed", b.State())
	}
}
