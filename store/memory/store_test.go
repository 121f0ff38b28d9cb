package memory

import (
	"context"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhenriksen/calcache/store"
)

func event(id, calendarID string, start time.Time) *store.Event {
	return &store.Event{
		ID:         id,
		CalendarID: calendarID,
		Summary:    "event " + id,
		DtStart:    start,
		DtEnd:      mo.Some(start.Add(time.Hour)),
		Timezone:   "UTC",
	}
}

func instance(eventID string, begin time.Time, startDay int) store.Instance {
	return store.Instance{
		EventID:  eventID,
		Begin:    begin,
		End:      begin.Add(time.Hour),
		StartDay: startDay,
		EndDay:   startDay,
		Summary:  "event " + eventID,
	}
}

func TestEventCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	ev := event("a", "cal1", base)
	require.NoError(t, s.PutEvent(ctx, ev))

	got, err := s.GetEvent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "event a", got.Summary)

	// Returned records are copies; mutating one must not leak back.
	got.Summary = "mutated"
	again, err := s.GetEvent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "event a", again.Summary)

	// Replace.
	ev.Summary = "renamed"
	require.NoError(t, s.PutEvent(ctx, ev))
	got, err = s.GetEvent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Summary)

	require.NoError(t, s.DeleteEvent(ctx, "a"))
	_, err = s.GetEvent(ctx, "a")
	assert.True(t, store.IsNotFound(err))
	assert.True(t, store.IsNotFound(s.DeleteEvent(ctx, "a")))
}

func TestPutEvent_RequiresID(t *testing.T) {
	s := New()
	err := s.PutEvent(context.Background(), &store.Event{})
	require.Error(t, err)
	se, ok := err.(*store.Error)
	require.True(t, ok)
	assert.Equal(t, store.ErrInvalidInput, se.Type)
}

func TestListCalendarEvents(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutEvent(ctx, event("b", "cal1", base.Add(time.Hour))))
	require.NoError(t, s.PutEvent(ctx, event("a", "cal1", base)))
	require.NoError(t, s.PutEvent(ctx, event("c", "cal2", base)))

	events, err := s.ListCalendarEvents(ctx, "cal1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "b", events[1].ID)
}

func TestListCandidates(t *testing.T) {
	ctx := context.Background()
	s := New()

	begin := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	// Starts before window, ended before window: pruned.
	past := event("past", "cal", begin.AddDate(0, -1, 0))
	past.LastDate = mo.Some(begin.Add(-time.Hour))
	require.NoError(t, s.PutEvent(ctx, past))

	// Starts after window end: pruned.
	future := event("future", "cal", end.Add(time.Hour))
	require.NoError(t, s.PutEvent(ctx, future))

	// Open-ended recurrence from the past: kept.
	open := event("open", "cal", begin.AddDate(0, -1, 0))
	open.DtEnd = mo.None[time.Time]()
	open.Duration = "PT1H"
	open.RRule = "FREQ=DAILY"
	require.NoError(t, s.PutEvent(ctx, open))

	// Ends inside the window: kept.
	ending := event("ending", "cal", begin.AddDate(0, -1, 0))
	ending.LastDate = mo.Some(begin.Add(48 * time.Hour))
	require.NoError(t, s.PutEvent(ctx, ending))

	// Starts exactly at window end: kept (closed window).
	edge := event("edge", "cal", end)
	require.NoError(t, s.PutEvent(ctx, edge))

	events, err := s.ListCandidates(ctx, begin, end)
	require.NoError(t, err)

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	assert.ElementsMatch(t, []string{"open", "ending", "edge"}, ids)
}

func TestListExceptions(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	master := event("master", "cal", base)
	master.DtEnd = mo.None[time.Time]()
	master.Duration = "PT1H"
	master.RRule = "FREQ=DAILY;COUNT=10"
	require.NoError(t, s.PutEvent(ctx, master))

	ex := event("master#1", "cal", base.AddDate(0, 0, 1).Add(2*time.Hour))
	ex.OriginalID = "master"
	ex.OriginalInstanceTime = mo.Some(base.AddDate(0, 0, 1))
	require.NoError(t, s.PutEvent(ctx, ex))

	require.NoError(t, s.PutEvent(ctx, event("unrelated", "cal", base)))

	exceptions, err := s.ListExceptions(ctx, "master")
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, "master#1", exceptions[0].ID)
}

func TestDeleteCalendarEvents(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutEvent(ctx, event("a", "cal1", base)))
	require.NoError(t, s.PutEvent(ctx, event("b", "cal1", base)))
	require.NoError(t, s.PutEvent(ctx, event("c", "cal2", base)))

	removed, err := s.DeleteCalendarEvents(ctx, "cal1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, removed)

	_, err = s.GetEvent(ctx, "a")
	assert.True(t, store.IsNotFound(err))
	_, err = s.GetEvent(ctx, "c")
	assert.NoError(t, err)
}

func TestReplaceInstances_ScopedToOwners(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceInstances(ctx, []string{"a"}, []store.Instance{
		instance("a", base, 100),
		instance("a", base.AddDate(0, 0, 1), 101),
	}))
	require.NoError(t, s.ReplaceInstances(ctx, []string{"b"}, []store.Instance{
		instance("b", base, 100),
	}))

	// Re-expanding a replaces only a's rows.
	require.NoError(t, s.ReplaceInstances(ctx, []string{"a"}, []store.Instance{
		instance("a", base.AddDate(0, 0, 2), 102),
	}))

	out, err := s.ListInstances(ctx, base.AddDate(0, 0, -1), base.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].EventID)
	assert.Equal(t, "a", out[1].EventID)
}

func TestListInstances_ClosedWindowOverlap(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceInstances(ctx, []string{"a"}, []store.Instance{
		instance("a", base, 100),
	}))

	tests := []struct {
		name     string
		begin    time.Time
		end      time.Time
		expected int
	}{
		{"containing", base.Add(-time.Hour), base.Add(2 * time.Hour), 1},
		{"window end touches begin", base.Add(-time.Hour), base, 1},
		{"window begin touches end", base.Add(time.Hour), base.Add(2 * time.Hour), 1},
		{"before", base.Add(-2 * time.Hour), base.Add(-time.Hour), 0},
		{"after", base.Add(2 * time.Hour), base.Add(3 * time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := s.ListInstances(ctx, tt.begin, tt.end)
			require.NoError(t, err)
			assert.Len(t, out, tt.expected)
		})
	}
}

func TestListInstancesByDay(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	multi := instance("a", base, 100)
	multi.EndDay = 102
	require.NoError(t, s.ReplaceInstances(ctx, []string{"a", "b"}, []store.Instance{
		multi,
		instance("b", base.AddDate(0, 0, 5), 105),
	}))

	out, err := s.ListInstancesByDay(ctx, 101, 103)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].EventID)

	out, err = s.ListInstancesByDay(ctx, 103, 105)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].EventID)
}

func TestClearInstances(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceInstances(ctx, []string{"a"}, []store.Instance{
		instance("a", base, 100),
	}))
	require.NoError(t, s.ClearInstances(ctx))

	out, err := s.ListInstances(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUpdateDisplayFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceInstances(ctx, []string{"a", "b"}, []store.Instance{
		instance("a", base, 100),
		instance("a", base.AddDate(0, 0, 1), 101),
		instance("b", base, 100),
	}))

	ev := event("a", "cal", base)
	ev.Summary = "renamed"
	ev.Location = "Room 5"
	require.NoError(t, s.UpdateDisplayFields(ctx, ev))

	out, err := s.ListInstances(ctx, base.Add(-time.Hour), base.AddDate(0, 0, 2))
	require.NoError(t, err)
	for _, in := range out {
		if in.EventID == "a" {
			assert.Equal(t, "renamed", in.Summary)
			assert.Equal(t, "Room 5", in.Location)
		} else {
			assert.Equal(t, "event b", in.Summary)
		}
	}
}
