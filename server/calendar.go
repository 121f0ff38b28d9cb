package server

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/go-chi/chi/v5"

	calical "github.com/jhenriksen/calcache/ical"
	"github.com/jhenriksen/calcache/recurrence"
)

const prodID = "-//calcache//NONSGML v1.0//EN"

// ExportCalendar streams every event of a calendar as one iCalendar
// document.
func (h *Handler) ExportCalendar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := h.store.ListCalendarEvents(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list calendar events", "calendar", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list calendar events", err)
		return
	}

	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropProductID, prodID)
	cal.Props.SetText(goical.PropVersion, "2.0")

	now := time.Now().UTC()
	for _, ev := range events {
		comp := calical.ComponentFromEvent(ev)
		comp.Props.SetDateTime(goical.PropDateTimeStamp, now)
		cal.Children = append(cal.Children, comp)
	}

	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		h.logger.Error("failed to encode calendar", "calendar", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to encode calendar", err)
		return
	}

	w.Header().Set(headerContentType, mimeTypeCalendar)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Imported int      `json:"imported"`
	Rejected []string `json:"rejected,omitempty"`
}

// ImportCalendar parses an iCalendar stream and runs every VEVENT
// through the insert-or-update path. Events with malformed recurrence
// rules are stored but listed as rejected, matching the single-event
// endpoint.
func (h *Handler) ImportCalendar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cal, err := goical.NewDecoder(r.Body).Decode()
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed iCalendar stream", err)
		return
	}

	events, err := calical.EventsFromCalendar(cal, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid VEVENT", err)
		return
	}

	result := ImportResult{}
	for _, ev := range events {
		var hookErr error
		if _, getErr := h.store.GetEvent(r.Context(), ev.ID); getErr == nil {
			hookErr = h.mat.EventUpdated(r.Context(), ev)
		} else {
			hookErr = h.mat.EventInserted(r.Context(), ev)
		}
		switch {
		case hookErr == nil:
			result.Imported++
		case errors.Is(hookErr, recurrence.ErrInvalidRecurrenceRule):
			result.Rejected = append(result.Rejected, ev.ID)
		default:
			h.logger.Error("failed to import event", "id", ev.ID, "error", hookErr)
			writeError(w, http.StatusInternalServerError, "failed to import event", hookErr)
			return
		}
	}
	writeJSON(w, http.StatusOK, result)
}
