package alert

import (
	"sync"
	"time"
)

type historyKey struct {
	orderNo string
	kind    Kind
}

// History remembers when each order last raised each kind of alert.
type History struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[historyKey]time.Time
}

// NewHistory suppresses repeats of the same order and kind for window.
func NewHistory(window time.Duration) *History {
	if window <= 0 {
		window = time.Hour
	}
	return &History{window: window, seen: make(map[historyKey]time.Time)}
}

// Duplicate reports whether an alert for orderNo and kind fired less than the window before now.
func (h *History) Duplicate(orderNo string, kind Kind, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duplicate(historyKey{orderNo, kind}, now)
}

func (h *History) duplicate(k historyKey, now time.Time) bool {
	last, ok := h.seen[k]
	return ok && now.Sub(last) < h.window
}

// Admit records the alert and returns true unless it is a duplicate.
func (h *History) Admit(orderNo string, kind Kind, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := historyKey{orderNo, kind}
	if h.duplicate(k, now) {
		return false
	}
	h.seen[k] = now
	return true
}

// Prune forgets entries older than keep and returns how many were removed.
func (h *History) Prune(now time.Time, keep time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := now.Add(-keep)
	removed := 0
	for k, at := range h.seen {
		if at.Before(cutoff) {
			delete(h.seen, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}
