package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jhenriksen/calcache/recurrence"
	"github.com/jhenriksen/calcache/store"
)

// GetEvent returns the stored event definition.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ev, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "event not found", nil)
			return
		}
		h.logger.Error("failed to load event", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load event", err)
		return
	}
	writeJSON(w, http.StatusOK, eventDTO(ev))
}

// PutEvent inserts or updates an event. The id in the path wins over
// any id in the body. A malformed recurrence rule stores the event but
// returns 422 so the caller learns the rule is dead.
func (h *Handler) PutEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var dto EventDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event body", err)
		return
	}
	dto.ID = id

	ev, err := dto.toEvent()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event", err)
		return
	}
	if ev.DtStart.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid event", errors.New("dtstart is required"))
		return
	}

	_, getErr := h.store.GetEvent(r.Context(), id)
	exists := getErr == nil
	if getErr != nil && !store.IsNotFound(getErr) {
		h.logger.Error("failed to check event", "id", id, "error", getErr)
		writeError(w, http.StatusInternalServerError, "failed to check event", getErr)
		return
	}

	var hookErr error
	if exists {
		hookErr = h.mat.EventUpdated(r.Context(), ev)
	} else {
		hookErr = h.mat.EventInserted(r.Context(), ev)
	}
	if hookErr != nil {
		if errors.Is(hookErr, recurrence.ErrInvalidRecurrenceRule) {
			// Stored, but excluded from materialization.
			writeError(w, http.StatusUnprocessableEntity, "invalid recurrence rule", hookErr)
			return
		}
		h.logger.Error("failed to store event", "id", id, "error", hookErr)
		writeError(w, http.StatusInternalServerError, "failed to store event", hookErr)
		return
	}

	status := http.StatusCreated
	if exists {
		status = http.StatusOK
	}
	writeJSON(w, status, eventDTO(ev))
}

// DeleteEvent removes an event; deleting a recurring master also drops
// the instances of its exceptions.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.mat.EventDeleted(r.Context(), id); err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "event not found", nil)
			return
		}
		h.logger.Error("failed to delete event", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCalendar removes every event of a calendar and their
// instances.
func (h *Handler) DeleteCalendar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.mat.CalendarDeleted(r.Context(), id); err != nil {
		h.logger.Error("failed to delete calendar", "calendar", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete calendar", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
