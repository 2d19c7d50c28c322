package llm

import (
	"context"
	"fmt"
	"strings"

	"eventsnap/internal/services/events"
)

// ClientContext is the ambient context the caller sends along so relative
// dates can be anchored.
type ClientContext struct {
	CurrentDateTime string `json:"currentDateTime"`
	Timezone        string `json:"timezone"`
	Locale          string `json:"locale,omitempty"`
}

// Request is the input of a single or batch extraction.
type Request struct {
	Text          string         `json:"text,omitempty"`
	ImageBase64   string         `json:"imageBase64,omitempty"`
	ImageMimeType string         `json:"imageMimeType,omitempty"`
	Instructions  string         `json:"instructions,omitempty"`
	ClientContext *ClientContext `json:"clientContext,omitempty"`
	// AllDay asks for every batch event to be all-day. Callers set it from
	// the user's own instructions, never from fetched content.
	AllDay bool `json:"allDay,omitempty"`
}

// WantsAllDay reports whether the batch prompt carries the all-day directive.
func (r Request) WantsAllDay() bool {
	return r.AllDay || HasAllDayTrigger(r.Instructions)
}

// Validate rejects requests that would send nothing to the model.
func (r Request) Validate() error {
	hasText := strings.TrimSpace(r.Text) != ""
	hasImage := r.ImageBase64 != ""
	if !hasText && !hasImage {
		return fmt.Errorf("%w: text or image is required", events.ErrInvalidInput)
	}
	if hasImage && r.ImageMimeType == "" {
		return fmt.Errorf("%w: image MIME type is required", events.ErrInvalidInput)
	}
	return nil
}

// URLDetection is the model's split of a text into links and prose.
type URLDetection struct {
	URLs          []string `json:"urls"`
	RemainingText string   `json:"remainingText"`
	HasURLs       bool     `json:"hasUrls"`
}

// Extractor turns unstructured input into events.
type Extractor interface {
	// ParseEvent extracts exactly one event.
	ParseEvent(ctx context.Context, req Request) (*events.ParsedEvent, error)

	// ParseEventsBatch returns a lazy chunked sequence of up to MaxBatchEvents events.
	ParseEventsBatch(ctx context.Context, req Request) (*Batch, error)

	// DetectURLs asks the model which parts of text are links worth fetching.
	DetectURLs(ctx context.Context, text string) (*URLDetection, error)
}
