package recurrence

import (
	"sort"
	"time"

	"github.com/jhenriksen/calcache/store"
)

// Resolution is the outcome of applying a recurrence set's exception
// events to its master's generated occurrences.
type Resolution struct {
	// Occurrences is the final set, ordered by start instant.
	Occurrences []Occurrence
	// Replaced lists the original instance times that were suppressed
	// or overridden.
	Replaced []time.Time
}

// ResolveExceptions maps exception events onto the master's generated
// occurrences by original-instance-time matching.
//
// A matched canceled exception removes its occurrence; a matched
// override removes it and contributes the exception's own geometry
// instead. An exception whose OriginalInstanceTime matches no
// generated occurrence is materialized standalone at its own DTSTART
// rather than silently dropped, which keeps detached exceptions
// visible (e.g. after a later UNTIL edit removed their target from the
// rule). Resolution is a pure function of its inputs, so reapplying
// the same exception set is idempotent.
func ResolveExceptions(occurrences []Occurrence, exceptions []*store.Event) Resolution {
	res := Resolution{
		Occurrences: make([]Occurrence, len(occurrences)),
	}
	copy(res.Occurrences, occurrences)

	for _, ex := range exceptions {
		origTime, ok := ex.OriginalInstanceTime.Get()
		if !ok {
			// Not a well-formed exception; nothing to match against.
			continue
		}

		idx := -1
		for i, occ := range res.Occurrences {
			if occ.Begin.Equal(origTime) && occ.Event.ID != ex.ID {
				idx = i
				break
			}
		}

		if idx >= 0 {
			res.Occurrences = append(res.Occurrences[:idx], res.Occurrences[idx+1:]...)
			res.Replaced = append(res.Replaced, origTime)
			if ex.Status == store.StatusCanceled {
				continue
			}
		}

		if occ, ok := exceptionOccurrence(ex); ok {
			res.Occurrences = append(res.Occurrences, occ)
		}
	}

	sort.Slice(res.Occurrences, func(i, j int) bool {
		return res.Occurrences[i].Begin.Before(res.Occurrences[j].Begin)
	})
	return res
}

// exceptionOccurrence builds the replacement occurrence carried by an
// exception event's own DTSTART/DTEND.
func exceptionOccurrence(ex *store.Event) (Occurrence, bool) {
	end, err := ex.EndInstant()
	if err != nil {
		return Occurrence{}, false
	}
	return Occurrence{Event: ex, Begin: ex.DtStart, End: end}, true
}
