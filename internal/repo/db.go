package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"eventsnap/internal/services/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	start_date     TIMESTAMPTZ NOT NULL,
	end_date       TIMESTAMPTZ NOT NULL,
	all_day        BOOLEAN NOT NULL DEFAULT FALSE,
	location       TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	timezone       TEXT NOT NULL DEFAULT '',
	created        TIMESTAMPTZ NOT NULL,
	source         TEXT NOT NULL,
	original_input TEXT NOT NULL DEFAULT '',
	attachments    JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS events_start_date_idx ON events (start_date);
`

const eventColumns = `id, title, start_date, end_date, all_day, location, description, url,
	timezone, created, source, original_input, attachments`

const upsertEvent = `
INSERT INTO events (` + eventColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	start_date = EXCLUDED.start_date,
	end_date = EXCLUDED.end_date,
	all_day = EXCLUDED.all_day,
	location = EXCLUDED.location,
	description = EXCLUDED.description,
	url = EXCLUDED.url,
	timezone = EXCLUDED.timezone,
	source = EXCLUDED.source,
	original_input = EXCLUDED.original_input,
	attachments = EXCLUDED.attachments`

const updateEvent = `
UPDATE events SET
	title = $2, start_date = $3, end_date = $4, all_day = $5, location = $6,
	description = $7, url = $8, timezone = $9, source = $10,
	original_input = $11, attachments = $12
WHERE id = $1`

// PostgresStore is the EventStore backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and creates the schema if needed.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Info().Msg("Postgres connection established")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func eventArgs(e events.CalendarEvent) ([]any, error) {
	attachments := e.Attachments
	if attachments == nil {
		attachments = []events.EventAttachment{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}
	return []any{
		e.ID, e.Title, e.StartDate, e.EndDate, e.AllDay, e.Location, e.Description,
		e.URL, e.Timezone, e.Created, string(e.Source), e.OriginalInput, string(data),
	}, nil
}

func (s *PostgresStore) SaveEvents(ctx context.Context, list []events.CalendarEvent) error {
	if len(list) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range list {
		if e.ID == "" {
			e.ID = events.NewID()
		}
		args, err := eventArgs(e)
		if err != nil {
			return &events.StorageError{Op: "save", Err: err}
		}
		batch.Queue(upsertEvent, args...)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return &events.StorageError{Op: "save", Err: err}
	}
	log.Debug().Int("count", len(list)).Msg("Saved events")
	return nil
}

func (s *PostgresStore) GetAllEvents(ctx context.Context) ([]events.CalendarEvent, error) {
	list, err := s.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY start_date, created`)
	if err != nil {
		return nil, &events.StorageError{Op: "load", Err: err}
	}
	return list, nil
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, e events.CalendarEvent) error {
	args, err := eventArgs(e)
	if err != nil {
		return &events.StorageError{Op: "update", Err: err}
	}
	// created never changes
	args = append(args[:9:9], args[10:]...)
	tag, err := s.pool.Exec(ctx, updateEvent, args...)
	if err != nil {
		return &events.StorageError{Op: "update", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return &events.StorageError{Op: "delete", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ClearHistory(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM events`); err != nil {
		return &events.StorageError{Op: "clear", Err: err}
	}
	return nil
}

func (s *PostgresStore) SearchEvents(ctx context.Context, query string) ([]events.CalendarEvent, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return s.GetAllEvents(ctx)
	}
	pattern := "%" + likeEscaper.Replace(q) + "%"
	list, err := s.query(ctx, `SELECT `+eventColumns+` FROM events
		WHERE title ILIKE $1 OR location ILIKE $1 OR description ILIKE $1
		ORDER BY start_date, created`, pattern)
	if err != nil {
		return nil, &events.StorageError{Op: "search", Err: err}
	}
	return list, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]events.CalendarEvent, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEvent)
}

func scanEvent(row pgx.CollectableRow) (events.CalendarEvent, error) {
	var (
		e           events.CalendarEvent
		source      string
		attachments []byte
	)
	err := row.Scan(
		&e.ID, &e.Title, &e.StartDate, &e.EndDate, &e.AllDay, &e.Location, &e.Description,
		&e.URL, &e.Timezone, &e.Created, &source, &e.OriginalInput, &attachments,
	)
	if err != nil {
		return events.CalendarEvent{}, err
	}
	e.Source = events.Source(source)
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &e.Attachments); err != nil {
			return events.CalendarEvent{}, fmt.Errorf("decode attachments of %s: %w", e.ID, err)
		}
		if len(e.Attachments) == 0 {
			e.Attachments = nil
		}
	}
	return e, nil
}
