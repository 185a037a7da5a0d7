package limitedhttp

import (
	"testing"
	"time"
)

func TestWindow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(2, time.Second)

	if !w.Allow(base) || !w.Allow(base.Add(100*time.Millisecond)) {
		t.Fatal("first two events should fit")
	}
	if w.Allow(base.Add(200 * time.Millisecond)) {
		t.Fatal("third event within the window should not fit")
	}
	if got := w.Delay(base.Add(200 * time.Millisecond)); got != 800*time.Millisecond {
		t.Fatalf("Delay = %s, want 800ms", got)
	}
	if got := w.Remaining(base.Add(500 * time.Millisecond)); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}
	if got := w.Reset(base.Add(500 * time.Millisecond)); !got.Equal(base.Add(time.Second)) {
		t.Fatalf("Reset = %s", got)
	}

	// the first event leaves the window exactly one second later
	if !w.Allow(base.Add(time.Second)) {
		t.Fatal("event after expiry should fit")
	}
	if w.Empty(base.Add(1500 * time.Millisecond)) {
		t.Fatal("window should still hold events")
	}
	if !w.Empty(base.Add(3 * time.Second)) {
		t.Fatal("window should be empty")
	}
}

func TestWindowLargeLimit(t *testing.T) {
	w := NewWindow(1<<30, time.Second)
	if cap(w.starts) > preallocCap {
		t.Fatalf("cap = %d, want at most %d", cap(w.starts), preallocCap)
	}
	now := time.Now()
	for i := 0; i < 3*preallocCap; i++ {
		if !w.Allow(now) {
			t.Fatalf("event %d should fit", i)
		}
	}
	if got := w.Remaining(now); got != 1<<30-3*preallocCap {
		t.Fatalf("Remaining = %d", got)
	}
}
