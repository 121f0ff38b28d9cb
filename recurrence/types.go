// Package recurrence expands stored event definitions into concrete
// occurrences within a bounded window and resolves recurrence
// exceptions onto them.
package recurrence

import (
	"errors"
	"time"

	"github.com/jhenriksen/calcache/store"
)

var (
	// ErrInvalidRecurrenceRule is returned when an event's RRULE or
	// EXRULE cannot be parsed or contradicts its frequency.
	ErrInvalidRecurrenceRule = errors.New("invalid recurrence rule")
	// ErrExpansionLimit is returned when expanding a single event
	// exceeds the configured occurrence cap.
	ErrExpansionLimit = errors.New("expansion limit exceeded")
)

// Occurrence is one generated occurrence of an event. Event points at
// the owning event, or at the overriding exception event once
// exceptions have been resolved, so callers can denormalize display
// fields from the right record.
type Occurrence struct {
	Event *store.Event
	Begin time.Time
	End   time.Time
}

// Overlaps reports whether the occurrence intersects the closed window
// [begin, end].
func (o Occurrence) Overlaps(begin, end time.Time) bool {
	return !o.Begin.After(end) && !o.End.Before(begin)
}
