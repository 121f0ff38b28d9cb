package materialize

import (
	"context"
)

// InvalidationStrategy decides how the materialized state reacts to a
// geometry-affecting event mutation. Both implementations must produce
// identical query results; they differ only in how much work happens
// eagerly.
type InvalidationStrategy interface {
	// Invalidate is called under the materializer's write lock with
	// the ids of the affected recurrence set (master plus exceptions,
	// or a lone event).
	Invalidate(ctx context.Context, m *Materializer, eventIDs []string) error
}

// FullWipeStrategy discards the whole instance store and the tracked
// range on every invalidating mutation; everything is rebuilt lazily
// on the next query.
type FullWipeStrategy struct{}

func (FullWipeStrategy) Invalidate(ctx context.Context, m *Materializer, _ []string) error {
	if err := m.st.ClearInstances(ctx); err != nil {
		return err
	}
	m.tracker.Clear()
	return nil
}

// TargetedStrategy removes only the affected recurrence set's rows and
// immediately re-expands that set over the currently tracked bounds,
// leaving instances of unrelated events and the tracked range intact.
type TargetedStrategy struct{}

func (TargetedStrategy) Invalidate(ctx context.Context, m *Materializer, eventIDs []string) error {
	min, max, ok := m.tracker.Bounds()
	if !ok {
		// Nothing materialized yet; dropping the rows is enough.
		return m.st.DeleteInstances(ctx, eventIDs)
	}
	return m.expandSets(ctx, eventIDs, min, max)
}
