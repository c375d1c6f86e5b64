package ratelimit

import "testing"

func TestConnectionLimiter_CapAndRelease(t *testing.T) {
	l := NewConnectionLimiter(2)

	if !l.Acquire() || !l.Acquire() {
		t.Fatalf("expected acquires up to the cap to succeed")
	}
	if l.Acquire() {
		t.Fatalf("expected acquire beyond the cap to fail")
	}
	if got := l.Open(); got != 2 {
		t.Fatalf("open=%d, want 2", got)
	}

	l.Release()
	if !l.Acquire() {
		t.Fatalf("expected released slot to be reusable")
	}
}

func TestConnectionLimiter_ZeroCapacityIsUnlimited(t *testing.T) {
	l := NewConnectionLimiter(0)

	for i := 0; i < 100; i++ {
		if !l.Acquire() {
			t.Fatalf("expected unlimited limiter to always allow (i=%d)", i)
		}
	}
}

func TestConnectionLimiter_ReleaseNeverGoesNegative(t *testing.T) {
	l := NewConnectionLimiter(1)

	l.Release()
	if got := l.Open(); got != 0 {
		t.Fatalf("open=%d, want 0", got)
	}
	if !l.Acquire() {
		t.Fatalf("expected acquire after spurious release")
	}
	if l.Acquire() {
		t.Fatalf("spurious release must not widen the cap")
	}
}
