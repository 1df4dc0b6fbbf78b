package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(perMinute, perHour int) (*Limiter, *time.Time) {
	l := New(perMinute, perHour)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowWithinMinuteLimit(t *testing.T) {
	l, _ := newTestLimiter(3, 100)
	for i := 0; i < 3; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("client-a") {
		t.Fatal("4th request inside a minute should be denied")
	}
	// Other clients are unaffected.
	if !l.Allow("client-b") {
		t.Fatal("independent client should be allowed")
	}
}

func TestMinuteWindowSlides(t *testing.T) {
	l, now := newTestLimiter(2, 100)
	if !l.Allow("c") || !l.Allow("c") {
		t.Fatal("initial requests denied")
	}
	if l.Allow("c") {
		t.Fatal("over minute limit")
	}
	*now = now.Add(61 * time.Second)
	if !l.Allow("c") {
		t.Fatal("request after the window slid should be allowed")
	}
}

func TestHourLimit(t *testing.T) {
	l, now := newTestLimiter(100, 5)
	for i := 0; i < 5; i++ {
		if !l.Allow("c") {
			t.Fatalf("request %d denied", i+1)
		}
		*now = now.Add(2 * time.Minute) // stay under the minute limit
	}
	if l.Allow("c") {
		t.Fatal("6th request inside an hour should be denied")
	}
	*now = now.Add(time.Hour)
	if !l.Allow("c") {
		t.Fatal("request after an hour should be allowed")
	}
}

func TestStaleClientsEvicted(t *testing.T) {
	l, now := newTestLimiter(10, 10)
	l.Allow("old-client")
	*now = now.Add(2 * time.Hour)
	l.Allow("new-client")
	// Checking any key evicts that key's stale stamps; old-client's entry
	// disappears on its next check.
	l.Allow("old-client")

	l.mu.Lock()
	defer l.mu.Unlock()
	if stamps := l.clients["old-client"]; len(stamps) != 1 {
		t.Fatalf("stale stamps not evicted: %v", stamps)
	}
}
