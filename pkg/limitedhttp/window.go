package limitedhttp

import "time"

// Window is a sliding-window counter: at most Limit events within any span
// of Size. It is not safe for concurrent use.
type Window struct {
	limit  int
	size   time.Duration
	starts []time.Time
}

// preallocCap bounds the initial timestamp buffer; larger limits grow it on demand.
const preallocCap = 64

// NewWindow returns a window admitting limit events per size.
func NewWindow(limit int, size time.Duration) *Window {
	return &Window{
		limit:  limit,
		size:   size,
		starts: make([]time.Time, 0, min(limit, preallocCap)),
	}
}

// Limit returns the number of events allowed per window.
func (w *Window) Limit() int { return w.limit }

func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.size)
	i := 0
	for i < len(w.starts) && !w.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.starts = append(w.starts[:0], w.starts[i:]...)
	}
}

// Delay returns how long to wait before another event fits. Zero means now.
func (w *Window) Delay(now time.Time) time.Duration {
	w.prune(now)
	if len(w.starts) < w.limit {
		return 0
	}
	return w.starts[0].Add(w.size).Sub(now)
}

// Record registers an event at now.
func (w *Window) Record(now time.Time) {
	w.starts = append(w.starts, now)
}

// Allow records an event if one fits and reports whether it did.
func (w *Window) Allow(now time.Time) bool {
	if w.Delay(now) > 0 {
		return false
	}
	w.Record(now)
	return true
}

// Remaining returns how many events still fit at now.
func (w *Window) Remaining(now time.Time) int {
	w.prune(now)
	return max(w.limit-len(w.starts), 0)
}

// Reset returns when the oldest event in the window expires.
func (w *Window) Reset(now time.Time) time.Time {
	w.prune(now)
	if len(w.starts) == 0 {
		return now
	}
	return w.starts[0].Add(w.size)
}

// Empty reports whether no event remains in the window at now.
func (w *Window) Empty(now time.Time) bool {
	w.prune(now)
	return len(w.starts) == 0
}
