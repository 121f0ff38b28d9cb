package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"

	"github.com/jhenriksen/calcache/store"
)

// Engine expands events into occurrences. The zero value is not
// usable; construct with New or NewWithConfig.
type Engine struct {
	cfg Config
}

// New creates an engine with DefaultConfig.
func New() *Engine {
	return NewWithConfig(DefaultConfig)
}

// NewWithConfig creates an engine with custom tuning.
func NewWithConfig(cfg Config) *Engine {
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = DefaultConfig.MaxOccurrences
	}
	return &Engine{cfg: cfg}
}

// Expand generates the ordered occurrence set of a single event
// intersecting the closed window [windowBegin, windowEnd].
//
// Timed events expand in their own timezone, so a fixed local
// wall-clock time recurs at the correct instant across DST boundaries;
// all-day events expand in UTC civil dates. COUNT is honored from the
// rule's own start: occurrences before the window are skipped but
// still consume the count. An event without recurrence fields yields
// exactly its DTSTART occurrence when it intersects the window.
func (e *Engine) Expand(ev *store.Event, windowBegin, windowEnd time.Time) ([]Occurrence, error) {
	dur, err := ev.OccurrenceDuration()
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}

	if ev.Class() != store.ClassRecurring {
		end := ev.DtStart.Add(dur)
		occ := Occurrence{Event: ev, Begin: ev.DtStart, End: end}
		if !occ.Overlaps(windowBegin, windowEnd) {
			return nil, nil
		}
		return []Occurrence{occ}, nil
	}

	set, err := e.buildSet(ev)
	if err != nil {
		return nil, err
	}

	loc := ev.EventLocation()
	starts := set.Between(windowBegin.In(loc), windowEnd.In(loc), true)
	if len(starts) > e.cfg.MaxOccurrences {
		return nil, fmt.Errorf("event %s generated %d occurrences: %w",
			ev.ID, len(starts), ErrExpansionLimit)
	}

	// rrule-go sets carry a single rule, so EXRULE is applied here by
	// subtracting its own expansion over the same window.
	excluded, err := e.exruleStarts(ev, windowBegin, windowEnd)
	if err != nil {
		return nil, err
	}

	occs := make([]Occurrence, 0, len(starts))
	var prev time.Time
	for i, start := range starts {
		// DTSTART injected as an RDATE can collide with the first
		// rule occurrence; drop exact duplicates.
		if i > 0 && start.Equal(prev) {
			continue
		}
		prev = start
		if _, drop := excluded[start.UnixMilli()]; drop {
			continue
		}
		occs = append(occs, Occurrence{
			Event: ev,
			Begin: start,
			End:   start.Add(dur),
		})
	}
	return occs, nil
}

// exruleStarts expands the event's EXRULE over the window, keyed by
// epoch ms for instant-equality matching against generated starts.
func (e *Engine) exruleStarts(ev *store.Event, windowBegin, windowEnd time.Time) (map[int64]struct{}, error) {
	if ev.ExRule == "" {
		return nil, nil
	}
	loc := ev.EventLocation()
	xr, err := rrule.StrToRRule(ev.ExRule)
	if err != nil {
		return nil, fmt.Errorf("event %s exrule: %w: %v", ev.ID, ErrInvalidRecurrenceRule, err)
	}
	xr.DTStart(ev.DtStart.In(loc))

	excluded := make(map[int64]struct{})
	for _, t := range xr.Between(windowBegin.In(loc), windowEnd.In(loc), true) {
		excluded[t.UnixMilli()] = struct{}{}
	}
	return excluded, nil
}

// Cursor returns a finite, restartable iterator over the same
// occurrence sequence Expand produces.
func (e *Engine) Cursor(ev *store.Event, windowBegin, windowEnd time.Time) (*Cursor, error) {
	occs, err := e.Expand(ev, windowBegin, windowEnd)
	if err != nil {
		return nil, err
	}
	return newCursor(occs), nil
}

// buildSet assembles the rrule set for a recurring event, with DTSTART
// pinned to the event's own timezone.
func (e *Engine) buildSet(ev *store.Event) (*rrule.Set, error) {
	loc := ev.EventLocation()
	dtstart := ev.DtStart.In(loc)

	set := &rrule.Set{}
	set.DTStart(dtstart)

	if ev.RRule != "" {
		r, err := rrule.StrToRRule(ev.RRule)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w: %v", ev.ID, ErrInvalidRecurrenceRule, err)
		}
		r.DTStart(dtstart)
		set.RRule(r)
	} else {
		// RDATE-only recurrence: DTSTART itself is an occurrence.
		set.RDate(dtstart)
	}

	for _, t := range parseDateList(ev.RDate, loc) {
		set.RDate(t.In(loc))
	}

	for _, t := range parseDateList(ev.ExDate, loc) {
		set.ExDate(t.In(loc))
	}

	return set, nil
}

// Validate checks an event's recurrence fields and duration without
// expanding it. Mutation paths call this so a malformed rule surfaces
// to the caller that introduced it instead of failing a later
// expansion pass.
func Validate(ev *store.Event) error {
	if _, err := ev.OccurrenceDuration(); err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}
	if ev.RRule != "" {
		if _, err := rrule.StrToRRule(ev.RRule); err != nil {
			return fmt.Errorf("event %s: %w: %v", ev.ID, ErrInvalidRecurrenceRule, err)
		}
	}
	if ev.ExRule != "" {
		if _, err := rrule.StrToRRule(ev.ExRule); err != nil {
			return fmt.Errorf("event %s exrule: %w: %v", ev.ID, ErrInvalidRecurrenceRule, err)
		}
	}
	return nil
}

// LastInstant computes the end instant of the event's last possible
// occurrence, or None when the recurrence is open-ended. Stores use it
// to maintain the LastDate pruning column; EXDATE/EXRULE are ignored
// on purpose since LastInstant only needs to be an upper bound.
func LastInstant(ev *store.Event) (mo.Option[time.Time], error) {
	dur, err := ev.OccurrenceDuration()
	if err != nil {
		return mo.None[time.Time](), err
	}

	if ev.Class() != store.ClassRecurring {
		return mo.Some(ev.DtStart.Add(dur)), nil
	}

	loc := ev.EventLocation()
	last := ev.DtStart

	if ev.RRule != "" {
		r, err := rrule.StrToRRule(ev.RRule)
		if err != nil {
			return mo.None[time.Time](), fmt.Errorf("event %s: %w: %v", ev.ID, ErrInvalidRecurrenceRule, err)
		}
		r.DTStart(ev.DtStart.In(loc))

		switch {
		case r.OrigOptions.Count > 0:
			all := r.All()
			if len(all) > 0 {
				last = maxTime(last, all[len(all)-1])
			}
		case !r.OrigOptions.Until.IsZero():
			if t := r.Before(r.OrigOptions.Until, true); !t.IsZero() {
				last = maxTime(last, t)
			}
		default:
			return mo.None[time.Time](), nil
		}
	}

	for _, t := range parseDateList(ev.RDate, loc) {
		last = maxTime(last, t)
	}

	return mo.Some(last.Add(dur)), nil
}

// parseDateList decodes a comma-separated RDATE/EXDATE value. Entries
// may be UTC date-times ("20080502T000000Z"), floating date-times
// interpreted in loc, or bare dates anchored at local midnight.
// Unparseable entries are dropped, matching how exception dates behave
// for malformed masters: never fatal.
func parseDateList(value string, loc *time.Location) []time.Time {
	if value == "" {
		return nil
	}

	var out []time.Time
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if t, err := time.Parse("20060102T150405Z", part); err == nil {
			out = append(out, t)
			continue
		}
		if t, err := time.ParseInLocation("20060102T150405", part, loc); err == nil {
			out = append(out, t)
			continue
		}
		if t, err := time.ParseInLocation("20060102", part, loc); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
