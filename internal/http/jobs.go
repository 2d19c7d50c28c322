package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"eventsnap/internal/middleware"
	"eventsnap/internal/services/pipeline"
	"eventsnap/internal/services/queue"
)

const (
	feedBuffer    = 16
	feedKeepAlive = 15 * time.Second
)

// SubmitJob queues a batch extraction and returns its id
func (h *EventsHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.pipeline.SubmitJob(middleware.ClientIP(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+id)
	writeJSON(w, http.StatusAccepted, JobCreatedResponse{ID: id})
}

func (h *EventsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobsSnapshot(h.queue.Items()))
}

func (h *EventsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	item, ok := h.queue.Get(chi.URLParam(r, "id"))
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// CancelJob cancels a running job or removes any other one
func (h *EventsHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.queue.Remove(id) {
		writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, "job not found")
		return
	}
	log.Info().Str("job_id", id).Msg("Job removed")
	w.WriteHeader(http.StatusNoContent)
}

// ClearJobs drops every finished job
func (h *EventsHandler) ClearJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ClearJobsResponse{Removed: h.queue.ClearCompleted()})
}

// JobFeed streams a full queue snapshot after every change. A client that
// falls behind skips intermediate snapshots; the latest one always arrives.
func (h *EventsHandler) JobFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternal, "Streaming is not supported")
		return
	}

	updates := make(chan []queue.Item, feedBuffer)
	unsubscribe := h.queue.Subscribe(func(items []queue.Item) {
		select {
		case updates <- items:
			return
		default:
		}
		// Full: drop the oldest pending snapshot.
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- items:
		default:
		}
	})
	defer unsubscribe()

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := writeSnapshot(w, h.jobsSnapshot(h.queue.Items())); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(feedKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case items := <-updates:
			if err := writeSnapshot(w, h.jobsSnapshot(items)); err != nil {
				log.Debug().Err(err).Msg("Job feed client went away")
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func (h *EventsHandler) jobsSnapshot(items []queue.Item) JobsResponse {
	stats := make(map[queue.Status]int)
	for _, it := range items {
		stats[it.Status]++
	}
	if items == nil {
		items = []queue.Item{}
	}
	return JobsResponse{Items: items, Stats: stats}
}

func writeSnapshot(w io.Writer, v JobsResponse) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}
