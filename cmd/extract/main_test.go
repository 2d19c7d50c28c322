package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsnap/internal/services/events"
	"eventsnap/internal/services/llm"
	"eventsnap/internal/services/stream"
)

const fullStream = `data: {"events":[{"title":"Board Meeting","startDate":"2024-03-15T14:00:00Z","endDate":"2024-03-15T15:00:00Z","confidence":0.9},{"title":"board meeting","startDate":"2024-03-15T14:03:00Z","endDate":"2024-03-15T15:00:00Z","location":"Room 4","confidence":0.8}],"chunkIndex":0,"isComplete":false}

: keepalive

data: {"events":[{"title":"Offsite","startDate":"2024-03-20","endDate":"2024-03-20","allDay":true,"confidence":0.7}],"chunkIndex":1,"isComplete":false}

data: {"events":[],"chunkIndex":2,"isComplete":true}

`

func streamServer(t *testing.T, status int, body string, got *llm.Request) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, streamPath, r.URL.Path)
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		if status == http.StatusOK {
			w.Header().Set("Content-Type", stream.ContentType)
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_PrintsDeduplicatedJSON(t *testing.T) {
	var sent llm.Request
	srv := streamServer(t, http.StatusOK, fullStream, &sent)

	var out bytes.Buffer
	err := run(context.Background(), []string{"-server", srv.URL, "-tz", "Europe/Berlin", "board", "meeting"}, strings.NewReader(""), &out)
	require.NoError(t, err)

	assert.Equal(t, "board meeting", sent.Text)
	require.NotNil(t, sent.ClientContext)
	assert.Equal(t, "Europe/Berlin", sent.ClientContext.Timezone)

	var list []events.CalendarEvent
	require.NoError(t, json.Unmarshal(out.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "Room 4", list[0].Location)
	assert.True(t, list[1].AllDay)
}

func TestRun_ReadsStdinAndWritesICS(t *testing.T) {
	var sent llm.Request
	srv := streamServer(t, http.StatusOK, fullStream, &sent)
	path := filepath.Join(t.TempDir(), "out.ics")

	var out bytes.Buffer
	err := run(context.Background(), []string{"-server", srv.URL, "-ics", path}, strings.NewReader("meeting notes\n"), &out)
	require.NoError(t, err)
	assert.Empty(t, out.String())
	assert.Equal(t, "meeting notes\n", sent.Text)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN:VCALENDAR")
	assert.Contains(t, string(data), "SUMMARY:Offsite")
}

func TestRun_IncompleteStream(t *testing.T) {
	truncated := strings.Split(fullStream, "data: {\"events\":[],")[0]
	srv := streamServer(t, http.StatusOK, truncated, nil)

	err := run(context.Background(), []string{"-server", srv.URL, "x"}, strings.NewReader(""), io.Discard)
	assert.ErrorIs(t, err, stream.ErrIncompleteStream)
	assert.ErrorContains(t, err, "after 3 event(s)")
}

func TestRun_ErrorFrame(t *testing.T) {
	srv := streamServer(t, http.StatusOK, "data: {\"error\":\"no event found\"}\n\n", nil)

	err := run(context.Background(), []string{"-server", srv.URL, "x"}, strings.NewReader(""), io.Discard)
	var se *stream.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "no event found", se.Message)
}

func TestRun_ServerError(t *testing.T) {
	srv := streamServer(t, http.StatusTooManyRequests, `{"error":{"code":"RATE_LIMIT","message":"daily limit reached"}}`, nil)

	err := run(context.Background(), []string{"-server", srv.URL, "x"}, strings.NewReader(""), io.Discard)
	assert.ErrorContains(t, err, "RATE_LIMIT: daily limit reached")
}

func TestRun_NoText(t *testing.T) {
	err := run(context.Background(), []string{"-server", "http://127.0.0.1:1"}, strings.NewReader("  \n"), io.Discard)
	assert.EqualError(t, err, "no text given")
}
