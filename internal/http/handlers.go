package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"eventsnap/internal/middleware"
	"eventsnap/internal/repo"
	"eventsnap/internal/services/events"
	"eventsnap/internal/services/export"
	"eventsnap/internal/services/pipeline"
	"eventsnap/internal/services/queue"
	"eventsnap/internal/services/stream"
)

// EventsHandler handles extraction, event history and job requests
type EventsHandler struct {
	pipeline *pipeline.Service
	store    repo.EventStore
	queue    *queue.Queue
	quotaOn  bool
	now      func() time.Time
}

type HandlerOptions struct {
	Pipeline *pipeline.Service
	Store    repo.EventStore
	Queue    *queue.Queue
	// QuotaEnabled is reported by GET /quota.
	QuotaEnabled bool
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(opts HandlerOptions) *EventsHandler {
	return &EventsHandler{
		pipeline: opts.Pipeline,
		store:    opts.Store,
		queue:    opts.Queue,
		quotaOn:  opts.QuotaEnabled,
		now:      time.Now,
	}
}

// RegisterRoutes registers all API routes. Streaming routes are kept out of
// the request timeout.
func (h *EventsHandler) RegisterRoutes(r chi.Router, requestTimeout time.Duration) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events/parse/stream", h.ParseStream)
		r.Get("/jobs/events", h.JobFeed)

		r.Group(func(r chi.Router) {
			if requestTimeout > 0 {
				r.Use(chimiddleware.Timeout(requestTimeout))
			}

			r.Post("/events/parse", h.Parse)
			r.Post("/events/dedupe", h.Dedupe)
			r.Get("/events/export", h.ExportStored)
			r.Post("/events/export", h.Export)
			r.Get("/events/search", h.Search)

			r.Get("/events", h.List)
			r.Post("/events", h.Save)
			r.Delete("/events", h.Clear)
			r.Put("/events/{id}", h.Update)
			r.Delete("/events/{id}", h.Delete)

			r.Post("/urls/detect", h.DetectURLs)
			r.Post("/urls/scrape", h.Scrape)

			r.Post("/jobs", h.SubmitJob)
			r.Get("/jobs", h.ListJobs)
			r.Delete("/jobs", h.ClearJobs)
			r.Get("/jobs/{id}", h.GetJob)
			r.Delete("/jobs/{id}", h.CancelJob)

			r.Get("/quota", h.Quota)
		})
	})
}

// Parse extracts a single event
func (h *EventsHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	e, err := h.pipeline.Parse(r.Context(), middleware.ClientIP(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EventResponse{Event: *e})
}

// ParseStream runs a batch extraction and streams the events in chunks.
// Failures before the first frame are plain JSON errors; later ones arrive
// as an error frame.
func (h *EventsHandler) ParseStream(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	x, err := h.pipeline.Batch(r.Context(), middleware.ClientIP(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := stream.Write(r.Context(), w, x); err != nil {
		log.Debug().Err(err).Msg("Event stream ended early")
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Dedupe merges duplicates within the posted list
func (h *EventsHandler) Dedupe(w http.ResponseWriter, r *http.Request) {
	var req EventsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out := events.Deduplicate(req.Events)
	if out == nil {
		out = []events.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: out, Total: len(out)})
}

func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.GetAllEvents(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventsResponse(list))
}

func (h *EventsHandler) Search(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.SearchEvents(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventsResponse(list))
}

// Save stores one or many events. The posted events are deduplicated
// against each other first.
func (h *EventsHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req EventsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Events) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeValidation, "at least one event is required")
		return
	}

	list := make([]events.CalendarEvent, len(req.Events))
	for i, e := range req.Events {
		list[i] = h.fillDefaults(e)
	}
	list = events.Deduplicate(list)

	if err := h.store.SaveEvents(r.Context(), list); err != nil {
		writeError(w, r, err)
		return
	}

	log.Info().Int("received", len(req.Events)).Int("saved", len(list)).Msg("Saved events")
	writeJSON(w, http.StatusCreated, newEventsResponse(list))
}

func (h *EventsHandler) fillDefaults(e events.CalendarEvent) events.CalendarEvent {
	if e.ID == "" {
		e.ID = events.NewID()
	}
	if e.Created.IsZero() {
		e.Created = h.now().UTC()
	}
	if e.Source == "" {
		e.Source = events.SourceText
	}
	return e
}

// Update replaces a stored event
func (h *EventsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var e events.CalendarEvent
	if err := decodeJSON(w, r, &e); err != nil {
		writeError(w, r, err)
		return
	}
	e.ID = chi.URLParam(r, "id")
	e = h.fillDefaults(e)

	if err := events.Validate([]events.CalendarEvent{e}); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.UpdateEvent(r.Context(), e); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EventResponse{Event: e})
}

func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear removes the whole event history
func (h *EventsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearHistory(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	log.Info().Msg("Cleared event history")
	w.WriteHeader(http.StatusNoContent)
}

// Export renders the posted events as an iCalendar file
func (h *EventsHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Events) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeValidation, "at least one event is required")
		return
	}
	h.writeICS(w, r, req.Events, export.Options{
		CalendarName:       req.CalendarName,
		IncludeAttachments: req.IncludeAttachments,
	})
}

// ExportStored renders the stored history as an iCalendar file
func (h *EventsHandler) ExportStored(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.GetAllEvents(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	opts := export.Options{CalendarName: r.URL.Query().Get("calendarName")}
	if v := r.URL.Query().Get("attachments"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid attachments value")
			return
		}
		opts.IncludeAttachments = include
	}
	h.writeICS(w, r, list, opts)
}

func (h *EventsHandler) writeICS(w http.ResponseWriter, r *http.Request, list []events.CalendarEvent, opts export.Options) {
	opts.Now = h.now
	body, err := export.ICS(list, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Debug().Err(err).Msg("Failed to write export")
	}
}

func (h *EventsHandler) DetectURLs(w http.ResponseWriter, r *http.Request) {
	var req DetectURLsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	det, err := h.pipeline.DetectURLs(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

func (h *EventsHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	results, err := h.pipeline.Scrape(r.Context(), req.URLs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScrapeResponse{Results: results})
}

// Quota reports the caller's remaining extractions for today
func (h *EventsHandler) Quota(w http.ResponseWriter, r *http.Request) {
	st, err := h.pipeline.Quota(r.Context(), middleware.ClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QuotaResponse{Enabled: h.quotaOn, Status: st})
}

func newEventsResponse(list []events.CalendarEvent) EventsResponse {
	if list == nil {
		list = []events.CalendarEvent{}
	}
	return EventsResponse{Events: list, Total: len(list)}
}
