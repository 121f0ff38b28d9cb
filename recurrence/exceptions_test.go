package recurrence

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhenriksen/calcache/store"
)

func masterOccurrences(t *testing.T) (*store.Event, []Occurrence) {
	t.Helper()
	master := recurringEvent("master",
		time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		"PT1H", "FREQ=DAILY;COUNT=5", "UTC")

	occs, err := New().Expand(master,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, occs, 5)
	return master, occs
}

func exceptionFor(masterID string, origTime time.Time) *store.Event {
	return &store.Event{
		ID:                   masterID + "#" + origTime.Format("20060102T150405Z"),
		CalendarID:           "cal",
		DtStart:              origTime,
		DtEnd:                mo.Some(origTime.Add(time.Hour)),
		Timezone:             "UTC",
		OriginalID:           masterID,
		OriginalInstanceTime: mo.Some(origTime),
	}
}

func TestResolveExceptions_CanceledSuppresses(t *testing.T) {
	master, occs := masterOccurrences(t)

	ex := exceptionFor(master.ID, occs[2].Begin)
	ex.Status = store.StatusCanceled

	res := ResolveExceptions(occs, []*store.Event{ex})
	require.Len(t, res.Occurrences, 4)
	require.Len(t, res.Replaced, 1)
	assert.True(t, res.Replaced[0].Equal(occs[2].Begin))
	for _, occ := range res.Occurrences {
		assert.False(t, occ.Begin.Equal(occs[2].Begin))
	}
}

func TestResolveExceptions_OverrideReplacesGeometry(t *testing.T) {
	master, occs := masterOccurrences(t)

	// The Wednesday occurrence moves to the afternoon and doubles in
	// length.
	origTime := occs[2].Begin
	ex := exceptionFor(master.ID, origTime)
	ex.DtStart = origTime.Add(5 * time.Hour)
	ex.DtEnd = mo.Some(ex.DtStart.Add(2 * time.Hour))

	res := ResolveExceptions(occs, []*store.Event{ex})
	require.Len(t, res.Occurrences, 5)

	var found *Occurrence
	for i := range res.Occurrences {
		if res.Occurrences[i].Event.ID == ex.ID {
			found = &res.Occurrences[i]
		}
		assert.False(t, res.Occurrences[i].Begin.Equal(origTime),
			"original occurrence should be gone")
	}
	require.NotNil(t, found)
	assert.True(t, found.Begin.Equal(origTime.Add(5*time.Hour)))
	assert.Equal(t, 2*time.Hour, found.End.Sub(found.Begin))
}

func TestResolveExceptions_UnmatchedStaysStandalone(t *testing.T) {
	master, occs := masterOccurrences(t)

	// Points at an instance time the rule no longer generates.
	ex := exceptionFor(master.ID, time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))

	res := ResolveExceptions(occs, []*store.Event{ex})
	require.Len(t, res.Occurrences, 6)
	assert.Empty(t, res.Replaced)
	last := res.Occurrences[len(res.Occurrences)-1]
	assert.Equal(t, ex.ID, last.Event.ID)
	assert.True(t, last.Begin.Equal(ex.DtStart))
}

func TestResolveExceptions_SortedByBegin(t *testing.T) {
	master, occs := masterOccurrences(t)

	// Move the last occurrence before the first.
	ex := exceptionFor(master.ID, occs[4].Begin)
	ex.DtStart = occs[0].Begin.Add(-2 * time.Hour)
	ex.DtEnd = mo.Some(ex.DtStart.Add(time.Hour))

	res := ResolveExceptions(occs, []*store.Event{ex})
	require.Len(t, res.Occurrences, 5)
	assert.Equal(t, ex.ID, res.Occurrences[0].Event.ID)
	for i := 1; i < len(res.Occurrences); i++ {
		assert.False(t, res.Occurrences[i].Begin.Before(res.Occurrences[i-1].Begin))
	}
}

func TestResolveExceptions_Idempotent(t *testing.T) {
	master, occs := masterOccurrences(t)

	canceled := exceptionFor(master.ID, occs[1].Begin)
	canceled.Status = store.StatusCanceled
	moved := exceptionFor(master.ID, occs[3].Begin)
	moved.DtStart = occs[3].Begin.Add(3 * time.Hour)
	moved.DtEnd = mo.Some(moved.DtStart.Add(time.Hour))
	exceptions := []*store.Event{canceled, moved}

	first := ResolveExceptions(occs, exceptions)
	second := ResolveExceptions(occs, exceptions)

	require.Equal(t, len(first.Occurrences), len(second.Occurrences))
	for i := range first.Occurrences {
		assert.Equal(t, first.Occurrences[i].Event.ID, second.Occurrences[i].Event.ID)
		assert.True(t, first.Occurrences[i].Begin.Equal(second.Occurrences[i].Begin))
	}
}

func TestResolveExceptions_MalformedExceptionIgnored(t *testing.T) {
	_, occs := masterOccurrences(t)

	// No OriginalInstanceTime: nothing to match, nothing added.
	ex := &store.Event{
		ID:         "dangling",
		CalendarID: "cal",
		DtStart:    occs[0].Begin,
		OriginalID: "master",
	}

	res := ResolveExceptions(occs, []*store.Event{ex})
	assert.Len(t, res.Occurrences, 5)
	assert.Empty(t, res.Replaced)
}
