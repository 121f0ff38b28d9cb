// Package materialize orchestrates expansion of stored events into the
// derived instance store and keeps that materialization consistent as
// events change.
package materialize

import (
	"sync"
	"time"
)

// RangeTracker records the window for which the instance store is
// currently complete, plus a dirty flag. It is an explicitly owned
// component passed into the materializer, never a process-wide
// singleton; its lifetime follows the owning store session.
type RangeTracker struct {
	mu    sync.Mutex
	min   time.Time
	max   time.Time
	valid bool
	dirty bool
}

// NewRangeTracker creates a tracker with no materialized range.
func NewRangeTracker() *RangeTracker {
	return &RangeTracker{dirty: true}
}

// NeedsExpansion reports whether a query over the closed window
// [begin, end] can be served from existing instances, returning true
// when the tracker is dirty or the window escapes the tracked bounds.
func (t *RangeTracker) NeedsExpansion(begin, end time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dirty || !t.valid {
		return true
	}
	return begin.Before(t.min) || end.After(t.max)
}

// RecordExpanded extends the tracked bounds to include [begin, end]
// and clears the dirty flag. Callers must have actually expanded the
// union of the old bounds and the new window; the materializer always
// expands that union so no gap can hide between them.
func (t *RangeTracker) RecordExpanded(begin, end time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid {
		t.min, t.max = begin, end
		t.valid = true
	} else {
		if begin.Before(t.min) {
			t.min = begin
		}
		if end.After(t.max) {
			t.max = end
		}
	}
	t.dirty = false
}

// Clear forgets the bounds and marks the tracker dirty: the next query
// re-expands from scratch. Used after bulk or ambiguous mutations and
// after timezone changes.
func (t *RangeTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.valid = false
	t.dirty = true
}

// MarkDirty keeps the bounds but forces re-expansion on the next
// query.
func (t *RangeTracker) MarkDirty() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dirty = true
}

// Bounds returns the tracked window; ok is false when no range is
// tracked.
func (t *RangeTracker) Bounds() (min, max time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid {
		return time.Time{}, time.Time{}, false
	}
	return t.min, t.max, true
}

// expandWindow widens a requested window to the union with the tracked
// bounds, so RecordExpanded never creates a coverage gap. Dirty bounds
// are still unioned in: they must be re-expanded, not silently
// re-recorded as clean.
func (t *RangeTracker) expandWindow(begin, end time.Time) (time.Time, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid {
		return begin, end
	}
	if t.min.Before(begin) {
		begin = t.min
	}
	if t.max.After(end) {
		end = t.max
	}
	return begin, end
}
