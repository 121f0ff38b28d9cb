// Package server exposes the materialized instance store over HTTP:
// instance queries, busy reports, event mutations and iCalendar
// import/export.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	jsoniter "github.com/json-iterator/go"

	"github.com/jhenriksen/calcache/materialize"
	"github.com/jhenriksen/calcache/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	headerContentType = "Content-Type"

	mimeTypeJSON     = "application/json"
	mimeTypeXML      = "application/xml; charset=utf-8"
	mimeTypeCalendar = "text/calendar; charset=utf-8"
)

// Handler serves the instance query surface over one materializer and
// its backing store.
type Handler struct {
	store  store.Store
	mat    *materialize.Materializer
	logger *slog.Logger
}

// NewHandler creates a handler. A nil logger falls back to
// slog.Default.
func NewHandler(st store.Store, mat *materialize.Materializer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: st, mat: mat, logger: logger}
}

// Routes builds the router:
//
//	GET    /instances                 materialized instances in a window
//	GET    /busy                      per-day busy bitmaps (JSON)
//	POST   /busy/report               busy-query XML report
//	GET    /events/{id}               stored event definition
//	PUT    /events/{id}               insert or update an event
//	DELETE /events/{id}               delete an event
//	GET    /calendars/{id}/export     calendar as iCalendar
//	POST   /calendars/{id}/import     import an iCalendar stream
//	DELETE /calendars/{id}            delete a calendar's events
//	GET    /timezone                  current display zone
//	PUT    /timezone                  switch the display zone
func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/instances", h.GetInstances)
	r.Get("/busy", h.GetBusy)
	r.Post("/busy/report", h.PostBusyReport)

	r.Route("/events", func(r chi.Router) {
		r.Get("/{id}", h.GetEvent)
		r.Put("/{id}", h.PutEvent)
		r.Delete("/{id}", h.DeleteEvent)
	})

	r.Route("/calendars", func(r chi.Router) {
		r.Get("/{id}/export", h.ExportCalendar)
		r.Post("/{id}/import", h.ImportCalendar)
		r.Delete("/{id}", h.DeleteCalendar)
	})

	r.Get("/timezone", h.GetTimezone)
	r.Put("/timezone", h.PutTimezone)

	return r
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set(headerContentType, mimeTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
