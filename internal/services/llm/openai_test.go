package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsnap/internal/services/events"
)

// fakeModel serves chat completions that answer with a fixed tool call.
type fakeModel struct {
	mu       sync.Mutex
	requests []map[string]any
	status   int
	noTool   bool
	args     string
}

func (f *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	status, noTool, args := f.status, f.noTool, f.args
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error":{"message":"upstream exploded","type":"server_error"}}`)
		return
	}

	name := ""
	if tc, ok := req["tool_choice"].(map[string]any); ok {
		if fn, ok := tc["function"].(map[string]any); ok {
			name, _ = fn["name"].(string)
		}
	}
	message := map[string]any{"role": "assistant", "content": nil}
	if !noTool {
		message["tool_calls"] = []any{map[string]any{
			"id":   "call_1",
			"type": "function",
			"function": map[string]any{
				"name":      name,
				"arguments": args,
			},
		}}
	} else {
		message["content"] = "I think there is a meeting."
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1718010000,
		"model":   "test-model",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "tool_calls",
			"message":       message,
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func (f *fakeModel) lastRequest(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests, "model was never called")
	return f.requests[len(f.requests)-1]
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestClient(t *testing.T, fm *fakeModel) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(fm)
	t.Cleanup(srv.Close)
	c, err := NewOpenAIClient("test-key", "test-model", srv.URL+"/v1/")
	require.NoError(t, err)
	return c
}

// userContent returns the content parts of the single user message.
func userContent(t *testing.T, req map[string]any) []any {
	t.Helper()
	msgs, ok := req["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	parts, ok := msg["content"].([]any)
	require.True(t, ok, "content should be a list of parts")
	return parts
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClient("", "", "")
	assert.Error(t, err)
}

func TestParseEvent_ResolvesTomorrow(t *testing.T) {
	fm := &fakeModel{args: `{"title":"Team meeting","startDate":"2024-06-11T15:00:00","location":"Conference Room A","confidence":0.92}`}
	c := newTestClient(t, fm)

	req := Request{
		Text: "Team meeting tomorrow at 3pm in Conference Room A",
		ClientContext: &ClientContext{
			CurrentDateTime: "2024-06-10T09:00:00Z",
			Timezone:        "America/New_York",
		},
	}
	parsed, err := c.ParseEvent(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Team meeting", *parsed.Title)
	assert.Equal(t, 0.92, parsed.Confidence)

	sent := fm.lastRequest(t)
	assert.Equal(t, "test-model", sent["model"])
	tools := sent["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "extract_event", fn["name"])
	choice := sent["tool_choice"].(map[string]any)
	assert.Equal(t, "function", choice["type"])
	assert.Equal(t, "extract_event", choice["function"].(map[string]any)["name"])

	parts := userContent(t, sent)
	require.Len(t, parts, 1)
	text := parts[0].(map[string]any)["text"].(string)
	assert.Contains(t, text, "Today: 2024-06-10 (Monday)")
	assert.Contains(t, text, "Tomorrow: 2024-06-11 (Tuesday)")
	assert.Contains(t, text, "America/New_York")
	assert.Contains(t, text, req.Text)

	ev := events.FromParsed(*parsed, events.ConvertOptions{ClientTimezone: "America/New_York"})
	ny, _ := time.LoadLocation("America/New_York")
	assert.Equal(t, "2024-06-11", ev.StartDate.In(ny).Format("2006-01-02"))
	assert.False(t, ev.AllDay)
}

func TestParseEvent_ImageOnlyStillSendsInstructions(t *testing.T) {
	fm := &fakeModel{args: `{"title":"Flyer gig","startDate":"2024-07-01T20:00:00"}`}
	c := newTestClient(t, fm)

	parsed, err := c.ParseEvent(context.Background(), Request{ImageBase64: "aGVsbG8=", ImageMimeType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, defaultConfidence, parsed.Confidence, "missing confidence defaults to 0.5")

	parts := userContent(t, fm.lastRequest(t))
	require.Len(t, parts, 2)
	first := parts[0].(map[string]any)
	assert.Equal(t, "text", first["type"])
	assert.Contains(t, first["text"], "extract_event")
	second := parts[1].(map[string]any)
	assert.Equal(t, "image_url", second["type"])
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", second["image_url"].(map[string]any)["url"])
}

func TestParseEvent_InvalidInput(t *testing.T) {
	fm := &fakeModel{}
	c := newTestClient(t, fm)

	_, err := c.ParseEvent(context.Background(), Request{})
	assert.ErrorIs(t, err, events.ErrInvalidInput)

	_, err = c.ParseEvent(context.Background(), Request{ImageBase64: "aGVsbG8="})
	assert.ErrorIs(t, err, events.ErrInvalidInput)
	assert.Zero(t, fm.calls(), "invalid input must not reach the model")
}

func TestParseEvent_NoEventFound(t *testing.T) {
	fm := &fakeModel{args: `{"location":"somewhere","confidence":0}`}
	c := newTestClient(t, fm)

	_, err := c.ParseEvent(context.Background(), Request{Text: "hello there"})
	assert.ErrorIs(t, err, events.ErrNoEventFound)
}

func TestParseEvent_TransportErrors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		c := newTestClient(t, &fakeModel{status: http.StatusInternalServerError})
		_, err := c.ParseEvent(context.Background(), Request{Text: "x"})
		var terr *events.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "extract_event", terr.Op)
	})

	t.Run("missing tool call", func(t *testing.T) {
		c := newTestClient(t, &fakeModel{noTool: true})
		_, err := c.ParseEvent(context.Background(), Request{Text: "x"})
		var terr *events.TransportError
		require.ErrorAs(t, err, &terr)
		assert.ErrorIs(t, err, errNoToolCall)
	})

	t.Run("malformed arguments", func(t *testing.T) {
		c := newTestClient(t, &fakeModel{args: `{"title":`})
		_, err := c.ParseEvent(context.Background(), Request{Text: "x"})
		var terr *events.TransportError
		assert.ErrorAs(t, err, &terr)
	})
}

func batchArgs(n int, extra string) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"title":"Session %d","startDate":"2024-06-%02dT10:00:00"%s}`, i+1, (i%28)+1, extra)
	}
	return fmt.Sprintf(`{"events":[%s],"totalCount":%d,"confidence":0.8}`, strings.Join(items, ","), n)
}

func TestParseEventsBatch_ChunksLazily(t *testing.T) {
	fm := &fakeModel{args: batchArgs(7, "")}
	c := newTestClient(t, fm)

	batch, err := c.ParseEventsBatch(context.Background(), Request{Text: "conference schedule"})
	require.NoError(t, err)
	assert.Zero(t, fm.calls(), "the model is called on the first Next")

	var sizes []int
	var titles []string
	for {
		chunk, ok, err := batch.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		sizes = append(sizes, len(chunk))
		for _, ev := range chunk {
			titles = append(titles, *ev.Title)
		}
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
	require.Len(t, titles, 7)
	for i, title := range titles {
		assert.Equal(t, fmt.Sprintf("Session %d", i+1), title)
	}
	assert.Equal(t, 1, fm.calls())
	assert.Equal(t, 0.8, batch.Result().Confidence)

	sent := fm.lastRequest(t)
	assert.Equal(t, "extract_events", sent["tool_choice"].(map[string]any)["function"].(map[string]any)["name"])
}

func TestParseEventsBatch_AllDayTrigger(t *testing.T) {
	fm := &fakeModel{args: batchArgs(2, `,"allDay":true`)}
	c := newTestClient(t, fm)

	batch, err := c.ParseEventsBatch(context.Background(), Request{
		Text:         "Workshop 9am-5pm on June 3 and June 4",
		Instructions: "import as all-day",
	})
	require.NoError(t, err)
	list, err := batch.Drain(context.Background())
	require.NoError(t, err)
	for _, ev := range list {
		require.NotNil(t, ev.AllDay)
		assert.True(t, *ev.AllDay)
	}

	text := userContent(t, fm.lastRequest(t))[0].(map[string]any)["text"].(string)
	assert.Contains(t, text, "ALL-DAY MODE IS ON")
}

func TestParseEventsBatch_AllDayComesFromInstructions(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want bool
	}{
		{"phrase in content only", Request{Text: "Expo 2024. Full-day pass includes lunch."}, false},
		{"explicit flag", Request{Text: "Expo 2024", AllDay: true}, true},
		{"phrase in instructions", Request{Text: "Expo 2024", Instructions: "whole day please"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fm := &fakeModel{args: batchArgs(1, "")}
			c := newTestClient(t, fm)

			batch, err := c.ParseEventsBatch(context.Background(), tc.req)
			require.NoError(t, err)
			_, err = batch.Drain(context.Background())
			require.NoError(t, err)

			text := userContent(t, fm.lastRequest(t))[0].(map[string]any)["text"].(string)
			if tc.want {
				assert.Contains(t, text, "ALL-DAY MODE IS ON")
			} else {
				assert.NotContains(t, text, "ALL-DAY MODE IS ON")
			}
		})
	}
}

func TestParseEventsBatch_Errors(t *testing.T) {
	t.Run("empty events", func(t *testing.T) {
		c := newTestClient(t, &fakeModel{args: `{"events":[],"totalCount":0,"confidence":0.1}`})
		batch, err := c.ParseEventsBatch(context.Background(), Request{Text: "nothing"})
		require.NoError(t, err)
		_, ok, err := batch.Next(context.Background())
		assert.False(t, ok)
		assert.ErrorIs(t, err, events.ErrNoEventFound)
	})

	t.Run("over the cap", func(t *testing.T) {
		c := newTestClient(t, &fakeModel{args: batchArgs(MaxBatchEvents+1, "")})
		batch, err := c.ParseEventsBatch(context.Background(), Request{Text: "a lot"})
		require.NoError(t, err)
		_, err = batch.Drain(context.Background())
		assert.ErrorIs(t, err, events.ErrBatchLimitExceeded)
	})

	t.Run("invalid input", func(t *testing.T) {
		c := newTestClient(t, &fakeModel{})
		_, err := c.ParseEventsBatch(context.Background(), Request{Text: "   "})
		assert.ErrorIs(t, err, events.ErrInvalidInput)
	})
}

func TestDetectURLs(t *testing.T) {
	fm := &fakeModel{args: `{"urls":["https://example.com/gig"," "],"remainingText":"Check this out","hasUrls":true}`}
	c := newTestClient(t, fm)

	det, err := c.DetectURLs(context.Background(), "Check this out https://example.com/gig")
	require.NoError(t, err)
	assert.True(t, det.HasURLs)
	assert.Equal(t, []string{"https://example.com/gig"}, det.URLs)
	assert.Equal(t, "Check this out", det.RemainingText)
}

func TestDetectURLs_NoneFound(t *testing.T) {
	fm := &fakeModel{args: `{"urls":[],"remainingText":"","hasUrls":true}`}
	c := newTestClient(t, fm)

	det, err := c.DetectURLs(context.Background(), "Dinner at 7")
	require.NoError(t, err)
	assert.False(t, det.HasURLs)
	assert.Equal(t, "Dinner at 7", det.RemainingText)

	det, err = c.DetectURLs(context.Background(), "  ")
	require.NoError(t, err)
	assert.False(t, det.HasURLs)
	assert.Equal(t, 1, fm.calls(), "blank text skips the model")
}
