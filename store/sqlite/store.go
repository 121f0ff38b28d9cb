// Package sqlite provides a SQLite-backed implementation of the store
// interfaces. The instances table is a derived cache keyed
// (event_id, begin_ms); the events table carries the candidate-window
// index on (dtstart, last_date) so expansion can prune events entirely
// outside a query window without loading them.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/mo"

	"github.com/jhenriksen/calcache/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store implements store.Store using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// New creates a new SQLite store at the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		calendar_id TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		dtstart INTEGER NOT NULL,
		dtend INTEGER,
		duration TEXT NOT NULL DEFAULT '',
		all_day BOOLEAN NOT NULL DEFAULT FALSE,
		timezone TEXT NOT NULL DEFAULT '',
		rrule TEXT NOT NULL DEFAULT '',
		rdate TEXT NOT NULL DEFAULT '',
		exrule TEXT NOT NULL DEFAULT '',
		exdate TEXT NOT NULL DEFAULT '',
		original_id TEXT NOT NULL DEFAULT '',
		original_instance_time INTEGER,
		original_all_day BOOLEAN NOT NULL DEFAULT FALSE,
		status INTEGER NOT NULL DEFAULT 0,
		last_date INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_events_calendar
		ON events(calendar_id);

	-- Candidate pruning (hot path): dtstart <= window end AND
	-- (last_date IS NULL OR last_date >= window begin)
	CREATE INDEX IF NOT EXISTS idx_events_window
		ON events(dtstart, last_date);

	CREATE INDEX IF NOT EXISTS idx_events_original
		ON events(original_id) WHERE original_id != '';

	-- Derived instance rows; never a source of truth.
	CREATE TABLE IF NOT EXISTS instances (
		event_id TEXT NOT NULL,
		begin_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		start_day INTEGER NOT NULL,
		end_day INTEGER NOT NULL,
		all_day BOOLEAN NOT NULL DEFAULT FALSE,
		display_json TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (event_id, begin_ms)
	);

	CREATE INDEX IF NOT EXISTS idx_instances_range
		ON instances(begin_ms, end_ms);

	-- Secondary index for the busy aggregator's day scans.
	CREATE INDEX IF NOT EXISTS idx_instances_day
		ON instances(start_day, end_day);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROW MAPPING
// =============================================================================

type eventRow struct {
	ID                   string        `db:"id"`
	CalendarID           string        `db:"calendar_id"`
	Summary              string        `db:"summary"`
	Description          string        `db:"description"`
	Location             string        `db:"location"`
	DtStart              int64         `db:"dtstart"`
	DtEnd                sql.NullInt64 `db:"dtend"`
	Duration             string        `db:"duration"`
	AllDay               bool          `db:"all_day"`
	Timezone             string        `db:"timezone"`
	RRule                string        `db:"rrule"`
	RDate                string        `db:"rdate"`
	ExRule               string        `db:"exrule"`
	ExDate               string        `db:"exdate"`
	OriginalID           string        `db:"original_id"`
	OriginalInstanceTime sql.NullInt64 `db:"original_instance_time"`
	OriginalAllDay       bool          `db:"original_all_day"`
	Status               int           `db:"status"`
	LastDate             sql.NullInt64 `db:"last_date"`
}

type instanceRow struct {
	EventID     string `db:"event_id"`
	BeginMs     int64  `db:"begin_ms"`
	EndMs       int64  `db:"end_ms"`
	StartDay    int    `db:"start_day"`
	EndDay      int    `db:"end_day"`
	AllDay      bool   `db:"all_day"`
	DisplayJSON string `db:"display_json"`
}

// displayFields is the denormalized payload serialized into
// display_json.
type displayFields struct {
	Summary  string `json:"summary"`
	Location string `json:"location"`
}

func toEventRow(ev *store.Event) eventRow {
	row := eventRow{
		ID:             ev.ID,
		CalendarID:     ev.CalendarID,
		Summary:        ev.Summary,
		Description:    ev.Description,
		Location:       ev.Location,
		DtStart:        ev.DtStart.UnixMilli(),
		Duration:       ev.Duration,
		AllDay:         ev.AllDay,
		Timezone:       ev.Timezone,
		RRule:          ev.RRule,
		RDate:          ev.RDate,
		ExRule:         ev.ExRule,
		ExDate:         ev.ExDate,
		OriginalID:     ev.OriginalID,
		OriginalAllDay: ev.OriginalAllDay,
		Status:         int(ev.Status),
	}
	if t, ok := ev.DtEnd.Get(); ok {
		row.DtEnd = sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
	}
	if t, ok := ev.OriginalInstanceTime.Get(); ok {
		row.OriginalInstanceTime = sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
	}
	if t, ok := ev.LastDate.Get(); ok {
		row.LastDate = sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
	}
	return row
}

func fromEventRow(row eventRow) *store.Event {
	ev := &store.Event{
		ID:             row.ID,
		CalendarID:     row.CalendarID,
		Summary:        row.Summary,
		Description:    row.Description,
		Location:       row.Location,
		DtStart:        time.UnixMilli(row.DtStart).UTC(),
		Duration:       row.Duration,
		AllDay:         row.AllDay,
		Timezone:       row.Timezone,
		RRule:          row.RRule,
		RDate:          row.RDate,
		ExRule:         row.ExRule,
		ExDate:         row.ExDate,
		OriginalID:     row.OriginalID,
		OriginalAllDay: row.OriginalAllDay,
		Status:         store.EventStatus(row.Status),
	}
	if row.DtEnd.Valid {
		ev.DtEnd = mo.Some(time.UnixMilli(row.DtEnd.Int64).UTC())
	}
	if row.OriginalInstanceTime.Valid {
		ev.OriginalInstanceTime = mo.Some(time.UnixMilli(row.OriginalInstanceTime.Int64).UTC())
	}
	if row.LastDate.Valid {
		ev.LastDate = mo.Some(time.UnixMilli(row.LastDate.Int64).UTC())
	}
	return ev
}

func toInstanceRow(in store.Instance) (instanceRow, error) {
	payload, err := json.Marshal(displayFields{
		Summary:  in.Summary,
		Location: in.Location,
	})
	if err != nil {
		return instanceRow{}, fmt.Errorf("failed to marshal display fields: %w", err)
	}
	return instanceRow{
		EventID:     in.EventID,
		BeginMs:     in.Begin.UnixMilli(),
		EndMs:       in.End.UnixMilli(),
		StartDay:    in.StartDay,
		EndDay:      in.EndDay,
		AllDay:      in.AllDay,
		DisplayJSON: string(payload),
	}, nil
}

func fromInstanceRow(row instanceRow) store.Instance {
	var display displayFields
	_ = json.Unmarshal([]byte(row.DisplayJSON), &display)
	return store.Instance{
		EventID:  row.EventID,
		Begin:    time.UnixMilli(row.BeginMs).UTC(),
		End:      time.UnixMilli(row.EndMs).UTC(),
		StartDay: row.StartDay,
		EndDay:   row.EndDay,
		AllDay:   row.AllDay,
		Summary:  display.Summary,
		Location: display.Location,
	}
}

// =============================================================================
// EVENT SOURCE
// =============================================================================

const eventColumns = `id, calendar_id, summary, description, location, dtstart, dtend,
	duration, all_day, timezone, rrule, rdate, exrule, exdate,
	original_id, original_instance_time, original_all_day, status, last_date`

func (s *Store) GetEvent(ctx context.Context, id string) (*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row eventRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return nil, &store.Error{Type: store.ErrNotFound, Message: "event not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query event: %w", err)
	}
	return fromEventRow(row), nil
}

func (s *Store) ListCalendarEvents(ctx context.Context, calendarID string) ([]*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE calendar_id = ? ORDER BY dtstart, id",
		calendarID)
}

func (s *Store) ListCandidates(ctx context.Context, begin, end time.Time) ([]*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE dtstart <= ? AND (last_date IS NULL OR last_date >= ?)
		 ORDER BY dtstart, id`,
		end.UnixMilli(), begin.UnixMilli())
}

func (s *Store) ListExceptions(ctx context.Context, originalID string) ([]*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE original_id = ? ORDER BY dtstart, id",
		originalID)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]*store.Event, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	events := make([]*store.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, fromEventRow(row))
	}
	return events, nil
}

func (s *Store) PutEvent(ctx context.Context, ev *store.Event) error {
	if ev == nil || ev.ID == "" {
		return &store.Error{Type: store.ErrInvalidInput, Message: "event id is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := toEventRow(ev)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (:id, :calendar_id, :summary, :description, :location, :dtstart, :dtend,
			:duration, :all_day, :timezone, :rrule, :rdate, :exrule, :exdate,
			:original_id, :original_instance_time, :original_all_day, :status, :last_date)
		ON CONFLICT(id) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			summary = excluded.summary,
			description = excluded.description,
			location = excluded.location,
			dtstart = excluded.dtstart,
			dtend = excluded.dtend,
			duration = excluded.duration,
			all_day = excluded.all_day,
			timezone = excluded.timezone,
			rrule = excluded.rrule,
			rdate = excluded.rdate,
			exrule = excluded.exrule,
			exdate = excluded.exdate,
			original_id = excluded.original_id,
			original_instance_time = excluded.original_instance_time,
			original_all_day = excluded.original_all_day,
			status = excluded.status,
			last_date = excluded.last_date
	`, row)
	if err != nil {
		return fmt.Errorf("failed to put event: %w", err)
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &store.Error{Type: store.ErrNotFound, Message: "event not found"}
	}
	return nil
}

func (s *Store) DeleteCalendarEvents(ctx context.Context, calendarID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT id FROM events WHERE calendar_id = ? ORDER BY id", calendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE calendar_id = ?", calendarID); err != nil {
		return nil, fmt.Errorf("failed to delete calendar events: %w", err)
	}
	return ids, nil
}

// =============================================================================
// INSTANCE SINK
// =============================================================================

func (s *Store) ReplaceInstances(ctx context.Context, eventIDs []string, instances []store.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(eventIDs) > 0 {
		query, args, err := sqlx.In("DELETE FROM instances WHERE event_id IN (?)", eventIDs)
		if err != nil {
			return fmt.Errorf("failed to build delete query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to delete prior instances: %w", err)
		}
	}

	for _, in := range instances {
		row, err := toInstanceRow(in)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO instances (event_id, begin_ms, end_ms, start_day, end_day, all_day, display_json)
			VALUES (:event_id, :begin_ms, :end_ms, :start_day, :end_day, :all_day, :display_json)
			ON CONFLICT(event_id, begin_ms) DO UPDATE SET
				end_ms = excluded.end_ms,
				start_day = excluded.start_day,
				end_day = excluded.end_day,
				all_day = excluded.all_day,
				display_json = excluded.display_json
		`, row); err != nil {
			return fmt.Errorf("failed to insert instance: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) DeleteInstances(ctx context.Context, eventIDs []string) error {
	return s.ReplaceInstances(ctx, eventIDs, nil)
}

func (s *Store) ClearInstances(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM instances"); err != nil {
		return fmt.Errorf("failed to clear instances: %w", err)
	}
	return nil
}

func (s *Store) ListInstances(ctx context.Context, begin, end time.Time) ([]store.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryInstances(ctx, `
		SELECT event_id, begin_ms, end_ms, start_day, end_day, all_day, display_json
		FROM instances
		WHERE begin_ms <= ? AND end_ms >= ?
		ORDER BY begin_ms, event_id
	`, end.UnixMilli(), begin.UnixMilli())
}

func (s *Store) ListInstancesByDay(ctx context.Context, startDay, endDay int) ([]store.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryInstances(ctx, `
		SELECT event_id, begin_ms, end_ms, start_day, end_day, all_day, display_json
		FROM instances
		WHERE start_day <= ? AND end_day >= ?
		ORDER BY begin_ms, event_id
	`, endDay, startDay)
}

func (s *Store) queryInstances(ctx context.Context, query string, args ...any) ([]store.Instance, error) {
	var rows []instanceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	instances := make([]store.Instance, 0, len(rows))
	for _, row := range rows {
		instances = append(instances, fromInstanceRow(row))
	}
	return instances, nil
}

func (s *Store) UpdateDisplayFields(ctx context.Context, ev *store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(displayFields{
		Summary:  ev.Summary,
		Location: ev.Location,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal display fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE instances SET display_json = ? WHERE event_id = ?",
		string(payload), ev.ID)
	if err != nil {
		return fmt.Errorf("failed to update display fields: %w", err)
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"instances", "events"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
