package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"eventsnap/internal/services/events"
)

// record is the serialized form of an event. Dates are kept as ISO strings
// and turned back into times on every read.
type record struct {
	ID            string                   `json:"id"`
	Title         string                   `json:"title"`
	StartDate     string                   `json:"startDate"`
	EndDate       string                   `json:"endDate"`
	AllDay        bool                     `json:"allDay"`
	Location      string                   `json:"location,omitempty"`
	Description   string                   `json:"description,omitempty"`
	URL           string                   `json:"url,omitempty"`
	Timezone      string                   `json:"timezone,omitempty"`
	Created       string                   `json:"created"`
	Source        events.Source            `json:"source"`
	OriginalInput string                   `json:"originalInput,omitempty"`
	Attachments   []events.EventAttachment `json:"attachments,omitempty"`
}

const isoLayout = time.RFC3339Nano

func toRecord(e events.CalendarEvent) record {
	return record{
		ID:            e.ID,
		Title:         e.Title,
		StartDate:     e.StartDate.UTC().Format(isoLayout),
		EndDate:       e.EndDate.UTC().Format(isoLayout),
		AllDay:        e.AllDay,
		Location:      e.Location,
		Description:   e.Description,
		URL:           e.URL,
		Timezone:      e.Timezone,
		Created:       e.Created.UTC().Format(isoLayout),
		Source:        e.Source,
		OriginalInput: e.OriginalInput,
		Attachments:   e.Attachments,
	}
}

func (r record) event() (events.CalendarEvent, error) {
	start, err := time.Parse(isoLayout, r.StartDate)
	if err != nil {
		return events.CalendarEvent{}, fmt.Errorf("event %s: start date: %w", r.ID, err)
	}
	end, err := time.Parse(isoLayout, r.EndDate)
	if err != nil {
		return events.CalendarEvent{}, fmt.Errorf("event %s: end date: %w", r.ID, err)
	}
	created, err := time.Parse(isoLayout, r.Created)
	if err != nil {
		return events.CalendarEvent{}, fmt.Errorf("event %s: created: %w", r.ID, err)
	}
	return events.CalendarEvent{
		ID:            r.ID,
		Title:         r.Title,
		StartDate:     start,
		EndDate:       end,
		AllDay:        r.AllDay,
		Location:      r.Location,
		Description:   r.Description,
		URL:           r.URL,
		Timezone:      r.Timezone,
		Created:       created,
		Source:        r.Source,
		OriginalInput: r.OriginalInput,
		Attachments:   r.Attachments,
	}, nil
}

// MemoryStore keeps the whole history as one serialized document, the way
// a browser keeps it in local storage.
type MemoryStore struct {
	mu   sync.RWMutex
	blob []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) load() ([]record, error) {
	if len(s.blob) == 0 {
		return nil, nil
	}
	var recs []record
	if err := json.Unmarshal(s.blob, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *MemoryStore) store(recs []record) error {
	data, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	s.blob = data
	return nil
}

func (s *MemoryStore) SaveEvents(_ context.Context, list []events.CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load()
	if err != nil {
		return &events.StorageError{Op: "save", Err: err}
	}
	index := make(map[string]int, len(recs))
	for i, r := range recs {
		index[r.ID] = i
	}
	for _, e := range list {
		if e.ID == "" {
			e.ID = events.NewID()
		}
		if i, ok := index[e.ID]; ok {
			recs[i] = toRecord(e)
			continue
		}
		index[e.ID] = len(recs)
		recs = append(recs, toRecord(e))
	}
	if err := s.store(recs); err != nil {
		return &events.StorageError{Op: "save", Err: err}
	}
	return nil
}

func (s *MemoryStore) GetAllEvents(_ context.Context) ([]events.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, err := s.hydrate()
	if err != nil {
		return nil, &events.StorageError{Op: "load", Err: err}
	}
	sortByStart(list)
	return list, nil
}

func (s *MemoryStore) UpdateEvent(_ context.Context, e events.CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load()
	if err != nil {
		return &events.StorageError{Op: "update", Err: err}
	}
	for i, r := range recs {
		if r.ID == e.ID {
			recs[i] = toRecord(e)
			if err := s.store(recs); err != nil {
				return &events.StorageError{Op: "update", Err: err}
			}
			return nil
		}
	}
	return events.ErrNotFound
}

func (s *MemoryStore) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load()
	if err != nil {
		return &events.StorageError{Op: "delete", Err: err}
	}
	for i, r := range recs {
		if r.ID == id {
			recs = append(recs[:i], recs[i+1:]...)
			if err := s.store(recs); err != nil {
				return &events.StorageError{Op: "delete", Err: err}
			}
			return nil
		}
	}
	return events.ErrNotFound
}

func (s *MemoryStore) ClearHistory(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = nil
	return nil
}

func (s *MemoryStore) SearchEvents(_ context.Context, query string) ([]events.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all, err := s.hydrate()
	if err != nil {
		return nil, &events.StorageError{Op: "search", Err: err}
	}
	var out []events.CalendarEvent
	for _, e := range all {
		if matches(e, query) {
			out = append(out, e)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) hydrate() ([]events.CalendarEvent, error) {
	recs, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]events.CalendarEvent, 0, len(recs))
	for _, r := range recs {
		e, err := r.event()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
