// Package memory provides a map-backed implementation of the store
// interfaces for testing and small embedded deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jhenriksen/calcache/store"
)

// Store implements store.Store using in-memory maps.
type Store struct {
	mu        sync.RWMutex
	events    map[string]*store.Event
	instances map[string]store.Instance // key: eventID/beginMillis
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		events:    make(map[string]*store.Event),
		instances: make(map[string]store.Instance),
	}
}

func instanceKey(eventID string, begin time.Time) string {
	return fmt.Sprintf("%s/%d", eventID, begin.UnixMilli())
}

// Event operations

func (s *Store) GetEvent(_ context.Context, id string) (*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, &store.Error{
			Type:    store.ErrNotFound,
			Message: "event not found",
		}
	}

	clone := *ev
	return &clone, nil
}

func (s *Store) ListCalendarEvents(_ context.Context, calendarID string) ([]*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*store.Event
	for _, ev := range s.events {
		if ev.CalendarID == calendarID {
			clone := *ev
			events = append(events, &clone)
		}
	}
	sortEvents(events)
	return events, nil
}

func (s *Store) ListCandidates(_ context.Context, begin, end time.Time) ([]*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*store.Event
	for _, ev := range s.events {
		if ev.DtStart.After(end) {
			continue
		}
		if last, ok := ev.LastDate.Get(); ok && last.Before(begin) {
			continue
		}
		clone := *ev
		events = append(events, &clone)
	}
	sortEvents(events)
	return events, nil
}

func (s *Store) ListExceptions(_ context.Context, originalID string) ([]*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*store.Event
	for _, ev := range s.events {
		if ev.OriginalID == originalID {
			clone := *ev
			events = append(events, &clone)
		}
	}
	sortEvents(events)
	return events, nil
}

func (s *Store) PutEvent(_ context.Context, ev *store.Event) error {
	if ev == nil || ev.ID == "" {
		return &store.Error{
			Type:    store.ErrInvalidInput,
			Message: "event id is required",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *ev
	s.events[ev.ID] = &clone
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return &store.Error{
			Type:    store.ErrNotFound,
			Message: "event not found",
		}
	}
	delete(s.events, id)
	return nil
}

func (s *Store) DeleteCalendarEvents(_ context.Context, calendarID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, ev := range s.events {
		if ev.CalendarID == calendarID {
			removed = append(removed, id)
			delete(s.events, id)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// Instance operations

func (s *Store) ReplaceInstances(_ context.Context, eventIDs []string, instances []store.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		owned[id] = struct{}{}
	}
	for key, in := range s.instances {
		if _, ok := owned[in.EventID]; ok {
			delete(s.instances, key)
		}
	}
	for _, in := range instances {
		s.instances[instanceKey(in.EventID, in.Begin)] = in
	}
	return nil
}

func (s *Store) DeleteInstances(_ context.Context, eventIDs []string) error {
	return s.ReplaceInstances(context.Background(), eventIDs, nil)
}

func (s *Store) ClearInstances(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances = make(map[string]store.Instance)
	return nil
}

func (s *Store) ListInstances(_ context.Context, begin, end time.Time) ([]store.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Instance
	for _, in := range s.instances {
		if in.Overlaps(begin, end) {
			out = append(out, in)
		}
	}
	sortInstances(out)
	return out, nil
}

func (s *Store) ListInstancesByDay(_ context.Context, startDay, endDay int) ([]store.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Instance
	for _, in := range s.instances {
		if in.StartDay <= endDay && in.EndDay >= startDay {
			out = append(out, in)
		}
	}
	sortInstances(out)
	return out, nil
}

func (s *Store) UpdateDisplayFields(_ context.Context, ev *store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, in := range s.instances {
		if in.EventID == ev.ID {
			in.Summary = ev.Summary
			in.Location = ev.Location
			s.instances[key] = in
		}
	}
	return nil
}

func sortEvents(events []*store.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].DtStart.Equal(events[j].DtStart) {
			return events[i].DtStart.Before(events[j].DtStart)
		}
		return events[i].ID < events[j].ID
	})
}

func sortInstances(instances []store.Instance) {
	sort.Slice(instances, func(i, j int) bool {
		if !instances[i].Begin.Equal(instances[j].Begin) {
			return instances[i].Begin.Before(instances[j].Begin)
		}
		return instances[i].EventID < instances[j].EventID
	})
}
