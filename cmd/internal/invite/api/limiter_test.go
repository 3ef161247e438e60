package api

import (
	"testing"
	"time"
)

func TestKeyedLimiter_Window(t *testing.T) {
	t.Parallel()

	l := newKeyedLimiter(2, 10*time.Second)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if ok, _ := l.Allow("1.2.3.4", base); !ok {
		t.Fatalf("first event must pass")
	}
	if ok, _ := l.Allow("1.2.3.4", base.Add(time.Second)); !ok {
		t.Fatalf("second event must pass")
	}
	ok, retry := l.Allow("1.2.3.4", base.Add(2*time.Second))
	if ok {
		t.Fatalf("third event must be limited")
	}
	if retry != 8*time.Second {
		t.Fatalf("expected retry-after 8s, got %s", retry)
	}

	if ok, _ := l.Allow("5.6.7.8", base.Add(2*time.Second)); !ok {
		t.Fatalf("other keys are independent")
	}
	if ok, _ := l.Allow("1.2.3.4", base.Add(11*time.Second)); !ok {
		t.Fatalf("event after the window must pass")
	}
}

func TestKeyedLimiter_Disabled(t *testing.T) {
	t.Parallel()

	l := newKeyedLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow("k", time.Now()); !ok {
			t.Fatalf("disabled limiter must always allow")
		}
	}
}

func TestKeyedLimiter_SweepsIdleKeys(t *testing.T) {
	t.Parallel()

	l := newKeyedLimiter(1, time.Second)
	base := time.Now()
	for i := 0; i < maxLimiterKeys; i++ {
		l.Allow(string(rune('a'+i%26))+time.Duration(i).String(), base)
	}
	l.Allow("fresh", base.Add(2*time.Second))

	l.mu.Lock()
	n := len(l.events)
	l.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected idle keys swept, got %d keys", n)
	}
}
