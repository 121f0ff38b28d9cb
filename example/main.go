// Command example runs the instance cache as a small HTTP service with
// a few seeded events.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/samber/mo"

	"github.com/jhenriksen/calcache/materialize"
	"github.com/jhenriksen/calcache/recurrence"
	"github.com/jhenriksen/calcache/server"
	"github.com/jhenriksen/calcache/store"
	"github.com/jhenriksen/calcache/store/memory"
	"github.com/jhenriksen/calcache/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (created on first run)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("unknown timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	var st store.Store
	if cfg.DBPath != "" {
		sqliteStore, err := sqlite.New(cfg.DBPath)
		if err != nil {
			logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		st = sqliteStore
	} else {
		st = memory.New()
	}

	engine := recurrence.NewWithConfig(recurrence.Config{MaxOccurrences: cfg.MaxOccurrences})
	mat := materialize.New(st, materialize.NewRangeTracker(), materialize.Options{
		Timezone: loc,
		Engine:   engine,
		Logger:   logger,
	})

	ctx := context.Background()
	if err := seedEvents(ctx, mat, loc); err != nil {
		logger.Error("failed to seed events", "error", err)
		os.Exit(1)
	}

	if cfg.RefreshCron != "" && *configPath != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.RefreshCron, func() {
			refreshTimezone(ctx, mat, *configPath, logger)
		})
		if err != nil {
			logger.Error("bad refresh schedule", "schedule", cfg.RefreshCron, "error", err)
			os.Exit(1)
		}
		c.Start()
		defer c.Stop()
	}

	h := server.NewHandler(st, mat, logger)
	logger.Info("listening", "addr", cfg.Listen, "timezone", loc.String())
	if err := http.ListenAndServe(cfg.Listen, h.Routes()); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// refreshTimezone re-reads the config file and switches the display
// zone when it changed, wiping the derived day bucketing.
func refreshTimezone(ctx context.Context, mat *materialize.Materializer, path string, logger *slog.Logger) {
	cfg, err := LoadConfig(path)
	if err != nil {
		logger.Warn("refresh: failed to reload config", "error", err)
		return
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("refresh: unknown timezone", "timezone", cfg.Timezone, "error", err)
		return
	}
	if loc.String() == mat.Timezone().String() {
		return
	}
	logger.Info("switching display timezone", "from", mat.Timezone().String(), "to", loc.String())
	if err := mat.SetTimezone(ctx, loc); err != nil {
		logger.Warn("refresh: timezone switch failed", "error", err)
	}
}

// seedEvents inserts a small demo calendar: a daily standup, one moved
// occurrence, and an all-day holiday.
func seedEvents(ctx context.Context, mat *materialize.Materializer, loc *time.Location) error {
	const calendarID = "demo"

	standupID := uuid.NewString()
	standupStart := time.Date(2026, time.March, 2, 9, 30, 0, 0, loc)
	standup := &store.Event{
		ID:         standupID,
		CalendarID: calendarID,
		Summary:    "Daily standup",
		Location:   "Room 2",
		DtStart:    standupStart,
		Duration:   "PT15M",
		Timezone:   loc.String(),
		RRule:      "FREQ=DAILY;BYDAY=MO,TU,WE,TH,FR",
	}
	if err := mat.EventInserted(ctx, standup); err != nil {
		return err
	}

	// The Friday standup moves to the afternoon.
	movedFrom := time.Date(2026, time.March, 6, 9, 30, 0, 0, loc)
	moved := &store.Event{
		ID:                   uuid.NewString(),
		CalendarID:           calendarID,
		Summary:              "Daily standup (moved)",
		DtStart:              time.Date(2026, time.March, 6, 14, 0, 0, 0, loc),
		DtEnd:                mo.Some(time.Date(2026, time.March, 6, 14, 15, 0, 0, loc)),
		Timezone:             loc.String(),
		OriginalID:           standupID,
		OriginalInstanceTime: mo.Some(movedFrom),
	}
	if err := mat.EventInserted(ctx, moved); err != nil {
		return err
	}

	holiday := &store.Event{
		ID:         uuid.NewString(),
		CalendarID: calendarID,
		Summary:    "Spring holiday",
		DtStart:    time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC),
		DtEnd:      mo.Some(time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)),
		AllDay:     true,
		Timezone:   "UTC",
	}
	return mat.EventInserted(ctx, holiday)
}
