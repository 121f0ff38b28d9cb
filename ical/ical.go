// Package ical converts between go-ical VEVENT components and stored
// event records, covering the recurrence subset the expansion engine
// understands: DTSTART/DTEND/DURATION, all-day DATE values, RRULE,
// RDATE, EXRULE, EXDATE, RECURRENCE-ID overrides and STATUS
// cancellation. It is an adapter, not a general interoperability
// layer.
package ical

import (
	"fmt"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/samber/mo"

	"github.com/jhenriksen/calcache/store"
)

const (
	propRecurrenceID  = "RECURRENCE-ID"
	propExceptionRule = "EXRULE"
	paramValue        = "VALUE"
	paramTZID         = "TZID"

	statusCancelled = "CANCELLED"

	dateTimeUTCFormat = "20060102T150405Z"
	dateFormat        = "20060102"
)

// EventsFromCalendar extracts every VEVENT of a parsed calendar into
// event records for the given calendar id.
func EventsFromCalendar(cal *goical.Calendar, calendarID string) ([]*store.Event, error) {
	var events []*store.Event
	for _, child := range cal.Children {
		if child.Name != goical.CompEvent {
			continue
		}
		ev, err := EventFromComponent(child, calendarID)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// EventFromComponent converts one VEVENT component into an event
// record. Override components (RECURRENCE-ID) become exception events
// keyed by the master's UID.
func EventFromComponent(comp *goical.Component, calendarID string) (*store.Event, error) {
	if comp.Name != goical.CompEvent {
		return nil, fmt.Errorf("component %s is not a VEVENT", comp.Name)
	}

	uidProp := comp.Props.Get(goical.PropUID)
	if uidProp == nil || uidProp.Value == "" {
		return nil, fmt.Errorf("VEVENT is missing UID")
	}

	dtstartProp := comp.Props.Get(goical.PropDateTimeStart)
	if dtstartProp == nil {
		return nil, fmt.Errorf("VEVENT %s is missing DTSTART", uidProp.Value)
	}

	ev := &store.Event{
		ID:         uidProp.Value,
		CalendarID: calendarID,
		AllDay:     isDateOnly(dtstartProp),
	}

	if p := comp.Props.Get(goical.PropSummary); p != nil {
		ev.Summary = p.Value
	}
	if p := comp.Props.Get(goical.PropDescription); p != nil {
		ev.Description = p.Value
	}
	if p := comp.Props.Get(goical.PropLocation); p != nil {
		ev.Location = p.Value
	}
	if p := comp.Props.Get(goical.PropStatus); p != nil && strings.EqualFold(p.Value, statusCancelled) {
		ev.Status = store.StatusCanceled
	}

	loc := time.UTC
	if tzid := firstParam(dtstartProp, paramTZID); tzid != "" && !ev.AllDay {
		parsed, err := time.LoadLocation(tzid)
		if err != nil {
			return nil, fmt.Errorf("VEVENT %s: unknown TZID %q: %w", ev.ID, tzid, err)
		}
		loc = parsed
		ev.Timezone = tzid
	} else {
		ev.Timezone = "UTC"
	}

	start, err := comp.Props.DateTime(goical.PropDateTimeStart, loc)
	if err != nil {
		return nil, fmt.Errorf("VEVENT %s: bad DTSTART: %w", ev.ID, err)
	}
	if ev.AllDay {
		// All-day dates anchor at UTC midnight regardless of any zone
		// the parser applied.
		y, m, d := start.Date()
		start = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	ev.DtStart = start

	if p := comp.Props.Get(goical.PropRecurrenceRule); p != nil {
		ev.RRule = p.Value
	}
	ev.RDate = joinPropValues(comp, goical.PropRecurrenceDates)
	ev.ExDate = joinPropValues(comp, goical.PropExceptionDates)
	if p := comp.Props.Get(propExceptionRule); p != nil {
		ev.ExRule = p.Value
	}

	if err := applyEnd(comp, ev, loc); err != nil {
		return nil, err
	}

	if p := comp.Props.Get(propRecurrenceID); p != nil && p.Value != "" {
		orig, origAllDay, err := parseDateTimeValue(p.Value, firstParam(p, paramValue), loc)
		if err != nil {
			return nil, fmt.Errorf("VEVENT %s: bad RECURRENCE-ID: %w", ev.ID, err)
		}
		ev.OriginalID = uidProp.Value
		ev.OriginalInstanceTime = mo.Some(orig)
		ev.OriginalAllDay = origAllDay
		// Exceptions share the master's UID on the wire; give the
		// record its own identity.
		ev.ID = fmt.Sprintf("%s#%d", uidProp.Value, orig.UnixMilli())
	}

	return ev, nil
}

// applyEnd resolves DTEND vs DURATION following the authority rule:
// recurring events carry a duration, single events carry an end
// instant. A missing end defaults to one day for all-day events and a
// zero-length occurrence for timed ones.
func applyEnd(comp *goical.Component, ev *store.Event, loc *time.Location) error {
	if p := comp.Props.Get(goical.PropDuration); p != nil {
		ev.Duration = p.Value
		return nil
	}

	if comp.Props.Get(goical.PropDateTimeEnd) != nil {
		end, err := comp.Props.DateTime(goical.PropDateTimeEnd, loc)
		if err != nil {
			return fmt.Errorf("VEVENT %s: bad DTEND: %w", ev.ID, err)
		}
		if ev.AllDay {
			y, m, d := end.Date()
			end = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
		if ev.Recurs() {
			ev.Duration = formatDuration(end.Sub(ev.DtStart))
		} else {
			ev.DtEnd = mo.Some(end)
		}
		return nil
	}

	if ev.AllDay {
		if ev.Recurs() {
			ev.Duration = "P1D"
		} else {
			ev.DtEnd = mo.Some(ev.DtStart.AddDate(0, 0, 1))
		}
		return nil
	}
	if ev.Recurs() {
		ev.Duration = "PT0S"
	} else {
		ev.DtEnd = mo.Some(ev.DtStart)
	}
	return nil
}

// ComponentFromEvent converts an event record back into a VEVENT
// component.
func ComponentFromEvent(ev *store.Event) *goical.Component {
	comp := &goical.Component{
		Name:  goical.CompEvent,
		Props: make(goical.Props),
	}

	uid := ev.ID
	if ev.OriginalID != "" {
		uid = ev.OriginalID
	}
	setValue(comp, goical.PropUID, uid)

	if ev.Summary != "" {
		setValue(comp, goical.PropSummary, ev.Summary)
	}
	if ev.Description != "" {
		setValue(comp, goical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		setValue(comp, goical.PropLocation, ev.Location)
	}
	if ev.Status == store.StatusCanceled {
		setValue(comp, goical.PropStatus, statusCancelled)
	}

	setDateTime(comp, goical.PropDateTimeStart, ev.DtStart, ev.AllDay)
	if ev.Duration != "" {
		setValue(comp, goical.PropDuration, ev.Duration)
	} else if end, ok := ev.DtEnd.Get(); ok {
		setDateTime(comp, goical.PropDateTimeEnd, end, ev.AllDay)
	}

	if ev.RRule != "" {
		setValue(comp, goical.PropRecurrenceRule, ev.RRule)
	}
	if ev.RDate != "" {
		setValue(comp, goical.PropRecurrenceDates, ev.RDate)
	}
	if ev.ExRule != "" {
		setValue(comp, propExceptionRule, ev.ExRule)
	}
	if ev.ExDate != "" {
		setValue(comp, goical.PropExceptionDates, ev.ExDate)
	}

	if orig, ok := ev.OriginalInstanceTime.Get(); ok {
		setDateTime(comp, propRecurrenceID, orig, ev.OriginalAllDay)
	}

	return comp
}

// Helpers

func isDateOnly(prop *goical.Prop) bool {
	return strings.EqualFold(firstParam(prop, paramValue), "DATE")
}

func firstParam(prop *goical.Prop, name string) string {
	if prop.Params == nil {
		return ""
	}
	values := prop.Params[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// joinPropValues merges repeated RDATE/EXDATE properties into one
// comma-separated list, the storage representation.
func joinPropValues(comp *goical.Component, name string) string {
	props := comp.Props[name]
	if len(props) == 0 {
		return ""
	}
	values := make([]string, 0, len(props))
	for _, p := range props {
		if p.Value != "" {
			values = append(values, p.Value)
		}
	}
	return strings.Join(values, ",")
}

func parseDateTimeValue(value, valueParam string, loc *time.Location) (t time.Time, dateOnly bool, err error) {
	if strings.EqualFold(valueParam, "DATE") {
		t, err = time.Parse(dateFormat, value)
		if err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		return t, true, err
	}
	if t, err = time.Parse(dateTimeUTCFormat, value); err == nil {
		return t, false, nil
	}
	if t, err = time.ParseInLocation("20060102T150405", value, loc); err == nil {
		return t, false, nil
	}
	t, err = time.Parse(dateFormat, value)
	if err == nil {
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return t, true, nil
	}
	return time.Time{}, false, err
}

func setValue(comp *goical.Component, name, value string) {
	prop := goical.NewProp(name)
	prop.Value = value
	comp.Props.Set(prop)
}

func setDateTime(comp *goical.Component, name string, t time.Time, dateOnly bool) {
	prop := goical.NewProp(name)
	if dateOnly {
		prop.Value = t.UTC().Format(dateFormat)
		prop.Params = goical.Params{paramValue: []string{"DATE"}}
	} else {
		prop.Value = t.UTC().Format(dateTimeUTCFormat)
	}
	comp.Props.Set(prop)
}

// formatDuration renders a fixed duration as an RFC 5545 DUR-VALUE.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	if secs%86400 == 0 && secs > 0 {
		return fmt.Sprintf("P%dD", secs/86400)
	}
	return fmt.Sprintf("PT%dS", secs)
}
