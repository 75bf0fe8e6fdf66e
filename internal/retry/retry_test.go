package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayFor_Fixed(t *testing.T) {
	p := Fixed(3, 10*time.Millisecond)
	for n := uint(0); n < 5; n++ {
		if d := p.DelayFor(n); d != 10*time.Millisecond {
			t.Fatalf("n=%d delay=%s", n, d)
		}
	}
}

func TestDelayFor_ExponentialCapped(t *testing.T) {
	p := Exponential(5, 100*time.Millisecond, time.Second)
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if d := p.DelayFor(uint(i)); d != w {
			t.Fatalf("n=%d delay=%s want %s", i, d, w)
		}
	}
}

func TestDo_SucceedsOnKthAttempt(t *testing.T) {
	p := Fixed(3, time.Millisecond)
	calls := 0
	retries := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	}, func(uint, error) { retries++ })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 2 || retries != 1 {
		t.Fatalf("calls=%d retries=%d", calls, retries)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	p := Fixed(4, time.Millisecond)
	calls := 0
	boom := errors.New("boom")
	err := p.Do(context.Background(), func(context.Context) error { calls++; return boom }, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestDo_AbortStopsEarly(t *testing.T) {
	p := Fixed(5, time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error { calls++; return Abort(nil) }, nil)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestDo_ZeroAttemptsMeansOnce(t *testing.T) {
	calls := 0
	_ = Policy{}.Do(context.Background(), func(context.Context) error { calls++; return errors.New("x") }, nil)
	if calls != 1 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Fixed(3, 50*time.Millisecond)
	err := p.Do(ctx, func(context.Context) error { return errors.New("x") }, nil)
	if err == nil {
		t.Fatalf("expected error on canceled context")
	}
}
