package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(2, 1)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of 2 should pass")
	}
	if l.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !l.Allow("b") {
		t.Error("keys are independent")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Error("one token should refill after a second")
	}
}

func TestLimiterDisabled(t *testing.T) {
	var nilLimiter *Limiter
	if !nilLimiter.Allow("x") || !New(0, 0).Allow("x") {
		t.Error("disabled limiters always allow")
	}
}

func TestLimiterPrunesIdleKeys(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(1, 1)
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(2 * time.Minute)
	l.Allow("b")
	if l.Len() != 1 {
		t.Errorf("idle key not pruned, len=%d", l.Len())
	}
}
