package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(limit, window)
	l.now = clock.Now
	return l, clock
}

// TestLimiter_AdmitUpToLimit verifies that exactly limit admissions succeed
// within one window and the next attempt is rejected.
func TestLimiter_AdmitUpToLimit(t *testing.T) {
	l, clock := newTestLimiter(60, time.Minute)

	for i := 0; i < 60; i++ {
		if !l.Admit("10.0.0.1") {
			t.Fatalf("Admit() #%d = false, want true", i+1)
		}
		clock.Advance(100 * time.Millisecond) // 60 admissions in 6s, well inside the window
	}
	if l.Admit("10.0.0.1") {
		t.Error("Admit() #61 = true, want false")
	}
}

// TestLimiter_WindowSlides verifies that a new admission succeeds once the
// window slides past the oldest recorded admission.
func TestLimiter_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)

	if !l.Admit("c") || !l.Admit("c") {
		t.Fatal("initial admissions failed")
	}
	if l.Admit("c") {
		t.Fatal("Admit() over limit = true, want false")
	}

	clock.Advance(61 * time.Second)
	if !l.Admit("c") {
		t.Error("Admit() after window slid = false, want true")
	}
}

// TestLimiter_RejectionNotRecorded verifies that rejected attempts do not
// extend the window: hammering a full window does not delay recovery.
func TestLimiter_RejectionNotRecorded(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)

	if !l.Admit("c") {
		t.Fatal("first Admit() = false, want true")
	}
	for i := 0; i < 10; i++ {
		clock.Advance(5 * time.Second)
		if l.Admit("c") {
			t.Fatalf("Admit() while window full = true, want false")
		}
	}

	// 50s of rejected attempts later, the single recorded admission ages out
	// at the 60s mark regardless.
	clock.Advance(11 * time.Second)
	if !l.Admit("c") {
		t.Error("Admit() after original admission aged out = false, want true")
	}
}

// TestLimiter_ClientIndependence verifies that admissions for one client
// never affect another client's window.
func TestLimiter_ClientIndependence(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	if !l.Admit("a") {
		t.Fatal("Admit(a) = false, want true")
	}
	if l.Admit("a") {
		t.Fatal("second Admit(a) = true, want false")
	}
	if !l.Admit("b") {
		t.Error("Admit(b) = false, want true: client b has its own window")
	}
}

// TestLimiter_Sweep verifies that idle client windows are discarded after the
// idle TTL while active clients are retained.
func TestLimiter_Sweep(t *testing.T) {
	l, clock := newTestLimiter(10, time.Minute)
	l.SetIdleTTL(5 * time.Minute)

	for i := 0; i < 100; i++ {
		l.Admit(fmt.Sprintf("client-%d", i))
	}
	if got := l.Clients(); got != 100 {
		t.Fatalf("Clients() = %d, want 100", got)
	}

	clock.Advance(6 * time.Minute)
	l.Admit("client-0") // refresh one client

	l.Sweep()
	if got := l.Clients(); got != 1 {
		t.Errorf("Clients() after sweep = %d, want 1", got)
	}
	if !l.Admit("client-5") {
		t.Error("Admit() for swept client = false, want true: window restarts empty")
	}
}
