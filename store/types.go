package store

import (
	"fmt"
	"time"

	"github.com/samber/mo"

	"github.com/jhenriksen/calcache/caltime"
)

// Error types
type ErrorType string

const (
	ErrNotFound      ErrorType = "not_found"
	ErrAlreadyExists ErrorType = "already_exists"
	ErrInvalidInput  ErrorType = "invalid_input"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a storage not-found error.
func IsNotFound(err error) bool {
	se, ok := err.(*Error)
	return ok && se.Type == ErrNotFound
}

// EventStatus marks an event as live or canceled. Canceled exception
// events suppress the master occurrence they reference.
type EventStatus int

const (
	StatusConfirmed EventStatus = iota
	StatusCanceled
)

// EventClass is the tagged kind of an event, decided once when the
// record is loaded instead of re-inspecting nullable fields at every
// call site.
type EventClass int

const (
	// ClassSingle is a plain one-shot event.
	ClassSingle EventClass = iota
	// ClassRecurring has an RRULE and/or RDATE set.
	ClassRecurring
	// ClassException overrides or cancels one occurrence of a
	// recurring master, identified by OriginalID and
	// OriginalInstanceTime.
	ClassException
)

// String provides a human-readable representation of the EventClass.
func (c EventClass) String() string {
	switch c {
	case ClassRecurring:
		return "Recurring"
	case ClassException:
		return "Exception"
	default:
		return "Single"
	}
}

// Event is a stored event definition. It is the source of truth from
// which instances are derived; instances are never authoritative.
type Event struct {
	ID         string
	CalendarID string

	// Display payload, opaque to the expansion core. Copies are
	// denormalized into instances at materialization time.
	Summary     string
	Description string
	Location    string

	// DtStart is the absolute start instant. For all-day events it is
	// anchored at UTC midnight of the start date.
	DtStart time.Time

	// Exactly one of DtEnd and Duration is authoritative: DtEnd for
	// non-recurring events, Duration (RFC 5545 DUR-VALUE) for
	// recurring ones.
	DtEnd    mo.Option[time.Time]
	Duration string

	AllDay bool

	// Timezone is the IANA zone the event's wall-clock times live in.
	// UTC for all-day events.
	Timezone string

	// Recurrence fields; empty string means absent.
	RRule  string
	RDate  string
	ExRule string
	ExDate string

	// Exception linkage, set only on recurrence-exception events.
	OriginalID           string
	OriginalInstanceTime mo.Option[time.Time]
	OriginalAllDay       bool

	Status EventStatus

	// LastDate is the end of the last possible occurrence, maintained
	// on write. None for open-ended recurrences; used by the
	// candidate-window predicate so events entirely outside a query
	// window are skipped cheaply.
	LastDate mo.Option[time.Time]
}

// Class returns the tagged kind of the event.
func (e *Event) Class() EventClass {
	switch {
	case e.OriginalID != "" && e.OriginalInstanceTime.IsPresent():
		return ClassException
	case e.RRule != "" || e.RDate != "":
		return ClassRecurring
	default:
		return ClassSingle
	}
}

// Recurs reports whether the event generates more than a single
// occurrence on its own.
func (e *Event) Recurs() bool {
	return e.Class() == ClassRecurring
}

// EventLocation resolves the event's timezone, falling back to UTC for
// all-day events and unset zones.
func (e *Event) EventLocation() *time.Location {
	if e.AllDay || e.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// OccurrenceDuration returns the length applied to each generated
// occurrence: the explicit Duration when present, otherwise the
// DtEnd-DtStart span, otherwise one day for all-day events and zero
// for timed ones.
func (e *Event) OccurrenceDuration() (time.Duration, error) {
	if e.Duration != "" {
		return caltime.ParseDuration(e.Duration)
	}
	if end, ok := e.DtEnd.Get(); ok {
		return end.Sub(e.DtStart), nil
	}
	if e.AllDay {
		return 24 * time.Hour, nil
	}
	return 0, nil
}

// EndInstant returns the end of the event's own first occurrence.
func (e *Event) EndInstant() (time.Time, error) {
	if end, ok := e.DtEnd.Get(); ok {
		return end, nil
	}
	d, err := e.OccurrenceDuration()
	if err != nil {
		return time.Time{}, err
	}
	return e.DtStart.Add(d), nil
}

// geometryFields collects everything that changes instance shape.
// Title, location and description edits are excluded on purpose: they
// only refresh denormalized copies, never the geometry.
func geometryFields(e *Event) [13]any {
	return [13]any{
		e.DtStart.UnixMilli(),
		e.DtEnd.OrElse(time.Time{}).UnixMilli(),
		e.Duration,
		e.AllDay,
		e.Timezone,
		e.RRule,
		e.RDate,
		e.ExRule,
		e.ExDate,
		e.Status,
		e.OriginalID,
		e.OriginalInstanceTime.OrElse(time.Time{}).UnixMilli(),
		e.OriginalAllDay,
	}
}

// GeometryChanged reports whether an update to an event can change the
// set or shape of its materialized instances.
func GeometryChanged(before, after *Event) bool {
	if before == nil || after == nil {
		return true
	}
	return geometryFields(before) != geometryFields(after)
}

// Instance is one concrete derived occurrence of an event. Rows are
// keyed (EventID, Begin) and are disposable: the instance store is a
// cache, reconstructable at any time by re-expanding the owning
// events.
type Instance struct {
	EventID string
	Begin   time.Time
	End     time.Time

	// StartDay and EndDay are Julian days in the materializer's
	// display zone; the busy aggregator's secondary index.
	StartDay int
	EndDay   int

	AllDay bool

	// Denormalized display fields from the owning (or overriding
	// exception) event.
	Summary  string
	Location string
}

// Overlaps reports whether the instance intersects the closed window
// [begin, end].
func (in Instance) Overlaps(begin, end time.Time) bool {
	return !in.Begin.After(end) && !in.End.Before(begin)
}
