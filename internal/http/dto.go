package http

import (
	"time"

	"eventsnap/internal/services/events"
	"eventsnap/internal/services/queue"
	"eventsnap/internal/services/quota"
	"eventsnap/internal/services/scrape"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorInfo `json:"error"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	ResetAt *time.Time          `json:"resetAt,omitempty"`
	Details []events.FieldError `json:"details,omitempty"`
}

// Common error codes
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeRateLimit    = "RATE_LIMIT"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeNoEventFound = "NO_EVENT_FOUND"
	ErrCodeBatchLimit   = "BATCH_LIMIT"
	ErrCodeNoContent    = "NO_CONTENT"
	ErrCodeUpstream     = "UPSTREAM_ERROR"
	ErrCodeStorage      = "STORAGE_ERROR"
)

// NewErrorResponse creates a new error response
func NewErrorResponse(code, message string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

type EventResponse struct {
	Event events.CalendarEvent `json:"event"`
}

type EventsResponse struct {
	Events []events.CalendarEvent `json:"events"`
	Total  int                    `json:"total"`
}

// EventsRequest carries a list of events for dedupe and save.
type EventsRequest struct {
	Events []events.CalendarEvent `json:"events"`
}

type ExportRequest struct {
	Events             []events.CalendarEvent `json:"events"`
	CalendarName       string                 `json:"calendarName,omitempty"`
	IncludeAttachments bool                   `json:"includeAttachments,omitempty"`
}

type DetectURLsRequest struct {
	Text string `json:"text"`
}

type ScrapeRequest struct {
	URLs []string `json:"urls"`
}

type ScrapeResponse struct {
	Results []scrape.ScrapedContent `json:"results"`
}

type JobCreatedResponse struct {
	ID string `json:"id"`
}

type JobsResponse struct {
	Items []queue.Item         `json:"items"`
	Stats map[queue.Status]int `json:"stats"`
}

type ClearJobsResponse struct {
	Removed int `json:"removed"`
}

type QuotaResponse struct {
	Enabled bool `json:"enabled"`
	quota.Status
}
