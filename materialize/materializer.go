package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jhenriksen/calcache/caltime"
	"github.com/jhenriksen/calcache/recurrence"
	"github.com/jhenriksen/calcache/store"
)

// Options configures a Materializer.
type Options struct {
	// Timezone is the display zone used for Julian-day bucketing of
	// instances; defaults to UTC.
	Timezone *time.Location
	// Engine overrides the recurrence engine; defaults to
	// recurrence.New().
	Engine *recurrence.Engine
	// Strategy selects how invalidating mutations are handled;
	// defaults to TargetedStrategy.
	Strategy InvalidationStrategy
	// Logger receives expansion warnings; defaults to slog.Default().
	Logger *slog.Logger
}

// Materializer guarantees the instance store is valid and complete for
// requested windows, expanding only events whose own span intersects
// the window. All mutations and expanding reads are serialized through
// one write lock over {events, instances, tracker}; reads served
// entirely from materialized instances share a read lock.
type Materializer struct {
	mu       sync.RWMutex
	st       store.Store
	engine   *recurrence.Engine
	tracker  *RangeTracker
	strategy InvalidationStrategy
	loc      *time.Location
	logger   *slog.Logger
}

// New creates a materializer over the given store and range tracker.
func New(st store.Store, tracker *RangeTracker, opts Options) *Materializer {
	if tracker == nil {
		tracker = NewRangeTracker()
	}
	m := &Materializer{
		st:       st,
		engine:   opts.Engine,
		tracker:  tracker,
		strategy: opts.Strategy,
		loc:      opts.Timezone,
		logger:   opts.Logger,
	}
	if m.engine == nil {
		m.engine = recurrence.New()
	}
	if m.strategy == nil {
		m.strategy = TargetedStrategy{}
	}
	if m.loc == nil {
		m.loc = time.UTC
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Timezone returns the display zone used for day bucketing.
func (m *Materializer) Timezone() *time.Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loc
}

// SetTimezone switches the display zone and invalidates everything:
// day buckets are zone-dependent, so the whole derived store is
// rebuilt lazily on the next query. The caller wiring a timezone
// update broadcast goes through here so it serializes with in-flight
// expansion.
func (m *Materializer) SetTimezone(ctx context.Context, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loc = loc
	if err := m.st.ClearInstances(ctx); err != nil {
		return err
	}
	m.tracker.Clear()
	return nil
}

// EnsureRange guarantees the instance store is complete for the closed
// window [begin, end], expanding whatever the tracker reports as
// missing. A second call with no intervening mutation is a no-op.
func (m *Materializer) EnsureRange(ctx context.Context, begin, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureRangeLocked(ctx, begin, end)
}

func (m *Materializer) ensureRangeLocked(ctx context.Context, begin, end time.Time) error {
	if !m.tracker.NeedsExpansion(begin, end) {
		return nil
	}

	// Expand the union of the request and any tracked bounds so the
	// recorded range never contains an unexpanded gap.
	expBegin, expEnd := m.tracker.expandWindow(begin, end)

	candidates, err := m.st.ListCandidates(ctx, expBegin, expEnd)
	if err != nil {
		return fmt.Errorf("failed to list candidate events: %w", err)
	}

	sets, err := m.buildSets(ctx, candidates)
	if err != nil {
		return err
	}

	var errs []error
	for _, set := range sets {
		if err := m.expandSet(ctx, set, expBegin, expEnd); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		// Partial results stay queryable, but the window is not
		// recorded as complete so the next query retries.
		return errors.Join(errs...)
	}

	m.tracker.RecordExpanded(expBegin, expEnd)
	return nil
}

// QueryInstances returns the materialized instances overlapping the
// closed window [begin, end], ordered by begin. Rows already
// materialized remain readable even when expansion reports an error.
func (m *Materializer) QueryInstances(ctx context.Context, begin, end time.Time) ([]store.Instance, error) {
	expErr := m.EnsureRange(ctx, begin, end)

	m.mu.RLock()
	defer m.mu.RUnlock()

	instances, err := m.st.ListInstances(ctx, begin, end)
	if err != nil {
		return nil, err
	}
	return instances, expErr
}

// recSet groups one master event (possibly missing) with the exception
// events referencing it.
type recSet struct {
	masterID   string
	master     *store.Event
	exceptions []*store.Event
}

// buildSets groups candidate events into recurrence sets. Exceptions
// pull in their master even when the master itself was pruned from the
// candidate list, so an in-window exception of an out-of-window master
// still materializes.
func (m *Materializer) buildSets(ctx context.Context, candidates []*store.Event) ([]*recSet, error) {
	byMaster := make(map[string]*recSet)
	var order []string

	add := func(id string, master *store.Event) *recSet {
		set, ok := byMaster[id]
		if !ok {
			set = &recSet{masterID: id, master: master}
			byMaster[id] = set
			order = append(order, id)
		} else if set.master == nil {
			set.master = master
		}
		return set
	}

	var exceptionMasters []string
	for _, ev := range candidates {
		if ev.Class() == store.ClassException {
			exceptionMasters = append(exceptionMasters, ev.OriginalID)
			continue
		}
		add(ev.ID, ev)
	}

	for _, masterID := range exceptionMasters {
		if _, ok := byMaster[masterID]; ok {
			continue
		}
		master, err := m.st.GetEvent(ctx, masterID)
		if err != nil && !store.IsNotFound(err) {
			return nil, fmt.Errorf("failed to load master event %s: %w", masterID, err)
		}
		add(masterID, master)
	}

	for _, id := range order {
		set := byMaster[id]
		exceptions, err := m.st.ListExceptions(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load exceptions of %s: %w", id, err)
		}
		set.exceptions = exceptions
	}

	sets := make([]*recSet, 0, len(order))
	for _, id := range order {
		sets = append(sets, byMaster[id])
	}
	return sets, nil
}

// expandSet re-materializes one recurrence set over [begin, end],
// replacing only rows owned by the set's events. A malformed rule
// excludes the master (with a warning) without failing the pass;
// ErrExpansionLimit propagates to the caller.
func (m *Materializer) expandSet(ctx context.Context, set *recSet, begin, end time.Time) error {
	ownerIDs := []string{set.masterID}
	for _, ex := range set.exceptions {
		ownerIDs = append(ownerIDs, ex.ID)
	}

	var occurrences []recurrence.Occurrence
	if set.master != nil && set.master.Status != store.StatusCanceled {
		occs, err := m.engine.Expand(set.master, begin, end)
		switch {
		case errors.Is(err, recurrence.ErrExpansionLimit):
			return err
		case err != nil:
			// Malformed rule or duration; surfaced at mutation time,
			// skipped here so unrelated events still materialize.
			m.logger.Warn("excluding event from expansion",
				"event", set.masterID, "err", err)
		default:
			occurrences = occs
		}
	}

	res := recurrence.ResolveExceptions(occurrences, set.exceptions)

	instances := make([]store.Instance, 0, len(res.Occurrences))
	for _, occ := range res.Occurrences {
		instances = append(instances, m.instanceFor(occ))
	}
	return m.st.ReplaceInstances(ctx, ownerIDs, instances)
}

// expandSets re-materializes the recurrence sets the given event ids
// belong to, over the currently tracked bounds. Ids of deleted events
// simply have their rows dropped.
func (m *Materializer) expandSets(ctx context.Context, eventIDs []string, begin, end time.Time) error {
	done := make(map[string]struct{})

	for _, id := range eventIDs {
		ev, err := m.st.GetEvent(ctx, id)
		if store.IsNotFound(err) {
			if derr := m.st.DeleteInstances(ctx, []string{id}); derr != nil {
				return derr
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load event %s: %w", id, err)
		}

		masterID := id
		master := ev
		if ev.Class() == store.ClassException {
			masterID = ev.OriginalID
			master, err = m.st.GetEvent(ctx, masterID)
			if store.IsNotFound(err) {
				master = nil
			} else if err != nil {
				return fmt.Errorf("failed to load master event %s: %w", masterID, err)
			}
		}
		if _, ok := done[masterID]; ok {
			continue
		}
		done[masterID] = struct{}{}

		exceptions, err := m.st.ListExceptions(ctx, masterID)
		if err != nil {
			return fmt.Errorf("failed to load exceptions of %s: %w", masterID, err)
		}

		set := &recSet{masterID: masterID, master: master, exceptions: exceptions}
		if err := m.expandSet(ctx, set, begin, end); err != nil {
			return err
		}
	}
	return nil
}

func (m *Materializer) instanceFor(occ recurrence.Occurrence) store.Instance {
	startDay := caltime.JulianDay(occ.Begin, m.loc)
	return store.Instance{
		EventID:  occ.Event.ID,
		Begin:    occ.Begin,
		End:      occ.End,
		StartDay: startDay,
		EndDay:   m.endDayFor(startDay, occ.Begin, occ.End),
		AllDay:   occ.Event.AllDay,
		Summary:  occ.Event.Summary,
		Location: occ.Event.Location,
	}
}

// endDayFor computes the last Julian day an instance covers. Ends that
// fall exactly on a bucket boundary (midnight, the all-day exclusive
// end convention) do not bleed into the next day.
func (m *Materializer) endDayFor(startDay int, begin, end time.Time) int {
	if end.After(begin) {
		end = end.Add(-time.Millisecond)
	}
	day := caltime.JulianDay(end, m.loc)
	if day < startDay {
		return startDay
	}
	return day
}

// Mutation hooks. The platform layer invokes these synchronously on
// every event change so stale geometry is invalidated immediately, not
// on the next query.

// EventInserted stores a new event and invalidates its recurrence set.
// A malformed recurrence rule is reported to the caller; the event is
// stored but excluded from materialization until fixed.
func (m *Materializer) EventInserted(ctx context.Context, ev *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ruleErr := recurrence.Validate(ev)
	m.applyLastDate(ev)
	if err := m.st.PutEvent(ctx, ev); err != nil {
		return err
	}

	ids, err := m.affectedIDs(ctx, ev)
	if err != nil {
		return err
	}
	if err := m.strategy.Invalidate(ctx, m, ids); err != nil {
		return err
	}
	return ruleErr
}

// EventUpdated stores the new version of an event. Geometry-affecting
// changes invalidate the recurrence set; pure display edits only
// refresh the denormalized instance copies.
func (m *Materializer) EventUpdated(ctx context.Context, ev *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before, err := m.st.GetEvent(ctx, ev.ID)
	if err != nil && !store.IsNotFound(err) {
		return err
	}

	ruleErr := recurrence.Validate(ev)
	m.applyLastDate(ev)
	if err := m.st.PutEvent(ctx, ev); err != nil {
		return err
	}

	if before != nil && !store.GeometryChanged(before, ev) {
		return m.st.UpdateDisplayFields(ctx, ev)
	}

	ids, err := m.affectedIDs(ctx, ev)
	if err != nil {
		return err
	}
	if before != nil && before.Class() == store.ClassException && before.OriginalID != ev.OriginalID {
		// Re-linked exception: the old master's set changes shape too.
		ids = append(ids, before.OriginalID)
	}
	if err := m.strategy.Invalidate(ctx, m, ids); err != nil {
		return err
	}
	return ruleErr
}

// EventDeleted removes an event and its instances unconditionally, and
// re-expands what is left of its recurrence set.
func (m *Materializer) EventDeleted(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, err := m.st.GetEvent(ctx, id)
	if err != nil {
		return err
	}

	ids, err := m.affectedIDs(ctx, ev)
	if err != nil {
		return err
	}
	if err := m.st.DeleteEvent(ctx, id); err != nil {
		return err
	}
	if err := m.st.DeleteInstances(ctx, []string{id}); err != nil {
		return err
	}
	return m.strategy.Invalidate(ctx, m, ids)
}

// CalendarDeleted cascades a calendar deletion to all its events and
// their instances.
func (m *Materializer) CalendarDeleted(ctx context.Context, calendarID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, err := m.st.DeleteCalendarEvents(ctx, calendarID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := m.st.DeleteInstances(ctx, ids); err != nil {
		return err
	}
	return m.strategy.Invalidate(ctx, m, ids)
}

// affectedIDs resolves the full recurrence set an event belongs to:
// the master plus every exception referencing it.
func (m *Materializer) affectedIDs(ctx context.Context, ev *store.Event) ([]string, error) {
	masterID := ev.ID
	if ev.Class() == store.ClassException {
		masterID = ev.OriginalID
	}

	ids := []string{ev.ID}
	if masterID != ev.ID {
		ids = append(ids, masterID)
	}

	exceptions, err := m.st.ListExceptions(ctx, masterID)
	if err != nil {
		return nil, err
	}
	for _, ex := range exceptions {
		if ex.ID != ev.ID {
			ids = append(ids, ex.ID)
		}
	}
	return ids, nil
}

// applyLastDate maintains the pruning column from the event's last
// possible occurrence; unknowable (open-ended or malformed) stays
// None so the candidate predicate keeps the event.
func (m *Materializer) applyLastDate(ev *store.Event) {
	last, err := recurrence.LastInstant(ev)
	if err != nil {
		ev.LastDate = last // None
		return
	}
	ev.LastDate = last
}
