package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jhenriksen/calcache/caltime"
	"github.com/jhenriksen/calcache/internal/xml/freebusy"
	"github.com/jhenriksen/calcache/recurrence"
)

// GetInstances serves the materialized instances overlapping the
// closed window given by the start and end query parameters (RFC
// 3339). Rows already materialized are still returned when expansion
// of some event failed; the failure is logged.
func (h *Handler) GetInstances(w http.ResponseWriter, r *http.Request) {
	begin, end, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window", err)
		return
	}

	instances, err := h.mat.QueryInstances(r.Context(), begin, end)
	if err != nil {
		if errors.Is(err, recurrence.ErrExpansionLimit) {
			writeError(w, http.StatusUnprocessableEntity, "expansion limit exceeded", err)
			return
		}
		h.logger.Warn("expansion incomplete", "error", err)
	}
	writeJSON(w, http.StatusOK, instanceDTOs(instances))
}

// GetBusy serves per-day busy bitmaps as JSON. The span is given
// either as startDay (Julian) or start (YYYY-MM-DD in the display
// zone), plus days.
func (h *Handler) GetBusy(w http.ResponseWriter, r *http.Request) {
	loc := h.mat.Timezone()

	startDay, err := parseStartDay(r, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start", err)
		return
	}
	numDays := 1
	if raw := r.URL.Query().Get("days"); raw != "" {
		numDays, err = strconv.Atoi(raw)
		if err != nil || numDays <= 0 {
			writeError(w, http.StatusBadRequest, "invalid days", fmt.Errorf("days must be a positive integer"))
			return
		}
	}

	days, err := h.mat.BusyBits(r.Context(), startDay, numDays)
	if err != nil {
		if errors.Is(err, recurrence.ErrExpansionLimit) {
			writeError(w, http.StatusUnprocessableEntity, "expansion limit exceeded", err)
			return
		}
		h.logger.Error("busy aggregation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "busy aggregation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, dayBusyDTOs(days, loc))
}

// PostBusyReport answers a busy-query XML body with the busy-report
// document.
func (h *Handler) PostBusyReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	req, err := freebusy.ParseRequest(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid busy-query", err)
		return
	}

	loc := h.mat.Timezone()
	startDay, numDays := req.Days(loc)

	days, err := h.mat.BusyBits(r.Context(), startDay, numDays)
	if err != nil {
		h.logger.Error("busy report failed", "error", err)
		writeError(w, http.StatusInternalServerError, "busy report failed", err)
		return
	}

	doc := freebusy.BuildResponse(days, loc)
	w.Header().Set(headerContentType, mimeTypeXML)
	w.WriteHeader(http.StatusOK)
	if _, err := doc.WriteTo(w); err != nil {
		h.logger.Warn("failed to write busy report", "error", err)
	}
}

// TimezoneDTO carries the display zone name.
type TimezoneDTO struct {
	Timezone string `json:"timezone"`
}

// GetTimezone reports the current display zone.
func (h *Handler) GetTimezone(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TimezoneDTO{Timezone: h.mat.Timezone().String()})
}

// PutTimezone switches the display zone, invalidating all day
// bucketing.
func (h *Handler) PutTimezone(w http.ResponseWriter, r *http.Request) {
	var dto TimezoneDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", err)
		return
	}

	loc, err := time.LoadLocation(dto.Timezone)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown timezone", err)
		return
	}

	if err := h.mat.SetTimezone(r.Context(), loc); err != nil {
		h.logger.Error("failed to switch timezone", "timezone", dto.Timezone, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to switch timezone", err)
		return
	}
	writeJSON(w, http.StatusOK, TimezoneDTO{Timezone: loc.String()})
}

func parseWindow(r *http.Request) (begin, end time.Time, err error) {
	q := r.URL.Query()
	begin, err = time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad start: %w", err)
	}
	end, err = time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad end: %w", err)
	}
	if end.Before(begin) {
		return time.Time{}, time.Time{}, fmt.Errorf("end precedes start")
	}
	return begin, end, nil
}

func parseStartDay(r *http.Request, loc *time.Location) (int, error) {
	q := r.URL.Query()
	if raw := q.Get("startDay"); raw != "" {
		return strconv.Atoi(raw)
	}
	raw := q.Get("start")
	if raw == "" {
		return 0, fmt.Errorf("start or startDay is required")
	}
	t, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return 0, err
	}
	return caltime.JulianDay(t, loc), nil
}

func dayDate(julianDay int, loc *time.Location) string {
	return caltime.DayStart(julianDay, loc).Format("2006-01-02")
}
