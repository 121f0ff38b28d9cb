package ical

import (
	"strings"
	"testing"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhenriksen/calcache/store"
)

func decodeCalendar(t *testing.T, lines []string) *goical.Calendar {
	t.Helper()
	raw := strings.Join(lines, "\r\n") + "\r\n"
	cal, err := goical.NewDecoder(strings.NewReader(raw)).Decode()
	require.NoError(t, err)
	return cal
}

func TestEventFromComponent_TimedRecurring(t *testing.T) {
	cal := decodeCalendar(t, []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:standup",
		"DTSTART;TZID=America/Los_Angeles:20260302T093000",
		"DURATION:PT15M",
		"RRULE:FREQ=DAILY;BYDAY=MO,TU,WE,TH,FR",
		"EXDATE:20260304T093000",
		"SUMMARY:Standup",
		"LOCATION:Room 2",
		"END:VEVENT",
		"END:VCALENDAR",
	})

	events, err := EventsFromCalendar(cal, "cal")
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "standup", ev.ID)
	assert.Equal(t, "cal", ev.CalendarID)
	assert.Equal(t, "Standup", ev.Summary)
	assert.Equal(t, "Room 2", ev.Location)
	assert.Equal(t, "America/Los_Angeles", ev.Timezone)
	assert.Equal(t, "FREQ=DAILY;BYDAY=MO,TU,WE,TH,FR", ev.RRule)
	assert.Equal(t, "20260304T093000", ev.ExDate)
	assert.Equal(t, "PT15M", ev.Duration)
	assert.False(t, ev.AllDay)
	assert.Equal(t, store.ClassRecurring, ev.Class())

	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	assert.True(t, ev.DtStart.Equal(time.Date(2026, 3, 2, 9, 30, 0, 0, loc)))
}

func TestEventFromComponent_AllDay(t *testing.T) {
	cal := decodeCalendar(t, []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:holiday",
		"DTSTART;VALUE=DATE:20260315",
		"DTEND;VALUE=DATE:20260316",
		"SUMMARY:Holiday",
		"END:VEVENT",
		"END:VCALENDAR",
	})

	events, err := EventsFromCalendar(cal, "cal")
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.True(t, ev.AllDay)
	assert.Equal(t, "UTC", ev.Timezone)
	assert.True(t, ev.DtStart.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
	end, ok := ev.DtEnd.Get()
	require.True(t, ok)
	assert.True(t, end.Equal(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)))
}

func TestEventFromComponent_RecurringDtendBecomesDuration(t *testing.T) {
	cal := decodeCalendar(t, []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:weekly",
		"DTSTART:20260302T100000Z",
		"DTEND:20260302T113000Z",
		"RRULE:FREQ=WEEKLY",
		"END:VEVENT",
		"END:VCALENDAR",
	})

	events, err := EventsFromCalendar(cal, "cal")
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "PT5400S", ev.Duration)
	assert.True(t, ev.DtEnd.IsAbsent())
}

func TestEventFromComponent_Exception(t *testing.T) {
	cal := decodeCalendar(t, []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:standup",
		"RECURRENCE-ID:20260306T173000Z",
		"DTSTART:20260306T220000Z",
		"DTEND:20260306T221500Z",
		"SUMMARY:Standup (moved)",
		"END:VEVENT",
		"END:VCALENDAR",
	})

	events, err := EventsFromCalendar(cal, "cal")
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, store.ClassException, ev.Class())
	assert.Equal(t, "standup", ev.OriginalID)
	assert.NotEqual(t, "standup", ev.ID)

	orig, ok := ev.OriginalInstanceTime.Get()
	require.True(t, ok)
	assert.True(t, orig.Equal(time.Date(2026, 3, 6, 17, 30, 0, 0, time.UTC)))
}

func TestEventFromComponent_CanceledStatus(t *testing.T) {
	cal := decodeCalendar(t, []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:gone",
		"DTSTART:20260306T220000Z",
		"STATUS:CANCELLED",
		"END:VEVENT",
		"END:VCALENDAR",
	})

	events, err := EventsFromCalendar(cal, "cal")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, store.StatusCanceled, events[0].Status)
}

func TestEventFromComponent_MissingUID(t *testing.T) {
	comp := &goical.Component{Name: goical.CompEvent, Props: make(goical.Props)}
	prop := goical.NewProp(goical.PropDateTimeStart)
	prop.Value = "20260306T220000Z"
	comp.Props.Set(prop)

	_, err := EventFromComponent(comp, "cal")
	assert.Error(t, err)
}

func TestComponentFromEvent_RoundTrip(t *testing.T) {
	orig := time.Date(2026, 3, 6, 17, 30, 0, 0, time.UTC)
	ev := &store.Event{
		ID:                   "standup#1772040600000",
		CalendarID:           "cal",
		Summary:              "Standup (moved)",
		DtStart:              time.Date(2026, 3, 6, 22, 0, 0, 0, time.UTC),
		DtEnd:                mo.Some(time.Date(2026, 3, 6, 22, 15, 0, 0, time.UTC)),
		Timezone:             "UTC",
		OriginalID:           "standup",
		OriginalInstanceTime: mo.Some(orig),
	}

	comp := ComponentFromEvent(ev)
	assert.Equal(t, goical.CompEvent, comp.Name)
	assert.Equal(t, "standup", comp.Props.Get(goical.PropUID).Value)
	assert.Equal(t, "20260306T220000Z", comp.Props.Get(goical.PropDateTimeStart).Value)
	assert.Equal(t, "20260306T173000Z", comp.Props.Get(propRecurrenceID).Value)

	back, err := EventFromComponent(comp, "cal")
	require.NoError(t, err)
	assert.Equal(t, ev.OriginalID, back.OriginalID)
	assert.True(t, back.DtStart.Equal(ev.DtStart))
	gotOrig, ok := back.OriginalInstanceTime.Get()
	require.True(t, ok)
	assert.True(t, gotOrig.Equal(orig))
}

func TestComponentFromEvent_AllDay(t *testing.T) {
	ev := &store.Event{
		ID:         "holiday",
		CalendarID: "cal",
		Summary:    "Holiday",
		DtStart:    time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		DtEnd:      mo.Some(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)),
		AllDay:     true,
		Timezone:   "UTC",
	}

	comp := ComponentFromEvent(ev)
	start := comp.Props.Get(goical.PropDateTimeStart)
	assert.Equal(t, "20260315", start.Value)
	assert.Equal(t, []string{"DATE"}, start.Params[paramValue])
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{90 * time.Minute, "PT5400S"},
		{24 * time.Hour, "P1D"},
		{48 * time.Hour, "P2D"},
		{0, "PT0S"},
		{-time.Hour, "PT0S"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatDuration(tt.d))
	}
}
