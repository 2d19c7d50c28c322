// Package events holds the calendar event model, the conversion from raw
// model output, export validation and the duplicate merge engine.
package events

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is used when the model did not return a title.
const DefaultTitle = "Untitled Event"

// Source identifies where an event was extracted from.
type Source string

const (
	SourceImage Source = "image"
	SourceText  Source = "text"
	SourceURL   Source = "url"
)

// AttachmentType classifies an attachment carried by an event.
type AttachmentType string

const (
	AttachmentOriginalImage AttachmentType = "original-image"
	AttachmentOriginalText  AttachmentType = "original-text"
	AttachmentLLMMetadata   AttachmentType = "llm-metadata"
)

// ParsedEvent is the untrusted output of the model. Every field except
// Confidence may be absent; the model signals uncertainty by omission.
type ParsedEvent struct {
	Title       *string `json:"title,omitempty"`
	StartDate   *string `json:"startDate,omitempty"`
	EndDate     *string `json:"endDate,omitempty"`
	AllDay      *bool   `json:"allDay,omitempty"`
	Location    *string `json:"location,omitempty"`
	Description *string `json:"description,omitempty"`
	URL         *string `json:"url,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// EventAttachment is owned by exactly one CalendarEvent.
type EventAttachment struct {
	ID       string         `json:"id"`
	Filename string         `json:"filename"`
	MimeType string         `json:"mimeType"`
	Data     string         `json:"data"` // base64
	Type     AttachmentType `json:"type"`
	Size     int            `json:"size"`
}

// CalendarEvent is the canonical client-side event.
type CalendarEvent struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	StartDate     time.Time         `json:"startDate"`
	EndDate       time.Time         `json:"endDate"`
	AllDay        bool              `json:"allDay"`
	Location      string            `json:"location,omitempty"`
	Description   string            `json:"description,omitempty"`
	URL           string            `json:"url,omitempty"`
	Timezone      string            `json:"timezone,omitempty"`
	Created       time.Time         `json:"created"`
	Source        Source            `json:"source"`
	OriginalInput string            `json:"originalInput,omitempty"`
	Attachments   []EventAttachment `json:"attachments,omitempty"`
}

// NewID returns an opaque unique token for events and attachments.
func NewID() string {
	return uuid.NewString()
}

// NewAttachment encodes data as an attachment of the given type.
func NewAttachment(filename, mimeType string, typ AttachmentType, data []byte) EventAttachment {
	return EventAttachment{
		ID:       NewID(),
		Filename: filename,
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
		Type:     typ,
		Size:     len(data),
	}
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
