package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"eventsnap/internal/repo"
	"eventsnap/internal/services/events"
)

const readConcurrency = 4

// Loader imports events from JSON exports into the event store.
type Loader struct {
	store repo.EventStore
	now   func() time.Time
}

// Result summarizes an import.
type Result struct {
	Files      int `json:"files"`
	Read       int `json:"read"`
	Invalid    int `json:"invalid"`
	Duplicates int `json:"duplicates"`
	Saved      int `json:"saved"`
}

func NewLoader(store repo.EventStore) *Loader {
	return &Loader{store: store, now: time.Now}
}

// Load imports a single file or every .json file under a directory. Events
// that fail validation are skipped; duplicates within the import and of
// events already stored are merged away.
func (l *Loader) Load(ctx context.Context, path string) (Result, error) {
	files, err := jsonFiles(path)
	if err != nil {
		return Result{}, err
	}

	perFile := make([][]events.CalendarEvent, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, f := range files {
		g.Go(func() error {
			list, err := LoadFile(f)
			if err != nil {
				return err
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			perFile[i] = list
			log.Info().Str("file", f).Int("events", len(list)).Msg("Read events file")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Files: len(files)}
	var valid []events.CalendarEvent
	for _, list := range perFile {
		for _, e := range list {
			res.Read++
			if err := events.Validate([]events.CalendarEvent{e}); err != nil {
				res.Invalid++
				log.Warn().Err(err).Str("event_id", e.ID).Msg("Skipping invalid event")
				continue
			}
			valid = append(valid, l.normalize(e))
		}
	}

	existing, err := l.store.GetAllEvents(ctx)
	if err != nil {
		return res, err
	}

	deduped := events.Deduplicate(valid)
	fresh := make([]events.CalendarEvent, 0, len(deduped))
	for _, e := range deduped {
		if duplicateOfAny(e, existing) {
			continue
		}
		fresh = append(fresh, e)
	}
	res.Duplicates = len(valid) - len(fresh)

	if err := l.store.SaveEvents(ctx, fresh); err != nil {
		return res, err
	}
	res.Saved = len(fresh)

	log.Info().
		Int("files", res.Files).
		Int("read", res.Read).
		Int("invalid", res.Invalid).
		Int("duplicates", res.Duplicates).
		Int("saved", res.Saved).
		Msg("Import finished")
	return res, nil
}

// LoadFile decodes a JSON file holding either an array of events or an
// object with an "events" array.
func LoadFile(path string) ([]events.CalendarEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Events []events.CalendarEvent `json:"events"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode JSON from %s: %w", path, err)
		}
		return wrapped.Events, nil
	}

	var list []events.CalendarEvent
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to decode JSON from %s: %w", path, err)
	}
	return list, nil
}

func (l *Loader) normalize(e events.CalendarEvent) events.CalendarEvent {
	if e.ID == "" {
		e.ID = events.NewID()
	}
	if e.Created.IsZero() {
		e.Created = l.now()
	}
	if e.Source == "" {
		e.Source = events.SourceText
	}
	return e
}

func duplicateOfAny(e events.CalendarEvent, list []events.CalendarEvent) bool {
	for _, other := range list {
		if other.ID == e.ID || events.IsDuplicate(e, other) {
			return true
		}
	}
	return false
}

func jsonFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(p), ".json") {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", path, err)
	}
	return files, nil
}
