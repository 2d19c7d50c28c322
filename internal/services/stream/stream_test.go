package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsnap/internal/services/events"
	"eventsnap/internal/services/llm"
)

func parsedEvents(n int) []events.ParsedEvent {
	list := make([]events.ParsedEvent, n)
	for i := range list {
		list[i] = events.ParsedEvent{Title: events.StringPtr(fmt.Sprintf("event %d", i)), Confidence: 0.9}
	}
	return list
}

// failingSource yields good chunks, then fails.
type failingSource struct {
	chunks [][]events.ParsedEvent
	err    error
}

func (s *failingSource) Next(context.Context) ([]events.ParsedEvent, bool, error) {
	if len(s.chunks) == 0 {
		return nil, false, s.err
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, true, nil
}

func TestWriteThenCollect_RoundTrip(t *testing.T) {
	src := parsedEvents(7)
	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, llm.StaticBatch(src, llm.ChunkSize)))

	wire := buf.String()
	assert.Equal(t, 4, strings.Count(wire, "\n\n"), "three chunks and a terminating frame")
	assert.True(t, strings.HasSuffix(wire, `data: {"events":[],"chunkIndex":3,"isComplete":true}`+"\n\n"))

	var indexes []int
	got, err := Collect(iotest.OneByteReader(&buf), func(f Frame) {
		indexes = append(indexes, f.ChunkIndex)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, indexes)
	assert.Equal(t, src, got)
}

func TestCollect_IncompleteStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, llm.StaticBatch(parsedEvents(6), llm.ChunkSize)))

	// Cut the terminating frame off.
	wire := buf.String()
	cut := strings.LastIndex(wire, "data: ")
	truncated := wire[:cut]

	got, err := Collect(strings.NewReader(truncated), nil)
	assert.ErrorIs(t, err, ErrIncompleteStream)
	assert.Len(t, got, 6, "partial results are kept")
}

func TestCollect_HalfWrittenFrameIsIncomplete(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, llm.StaticBatch(parsedEvents(3), llm.ChunkSize)))
	wire := buf.String()

	got, err := Collect(strings.NewReader(wire[:len(wire)-5]), nil)
	assert.ErrorIs(t, err, ErrIncompleteStream)
	assert.Len(t, got, 3)
}

func TestWrite_SourceErrorAfterPartialResults(t *testing.T) {
	src := &failingSource{
		chunks: [][]events.ParsedEvent{parsedEvents(3)},
		err:    errors.New("model exploded"),
	}
	var buf bytes.Buffer
	err := Write(context.Background(), &buf, src)
	assert.EqualError(t, err, "model exploded")

	var seen int
	got, err := Collect(&buf, func(Frame) { seen++ })
	var serr *StreamError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "model exploded", serr.Message)
	assert.Equal(t, 1, seen)
	assert.Len(t, got, 3)
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteError(&buf, "quota exhausted"))
	assert.Equal(t, "data: {\"error\":\"quota exhausted\"}\n\n", buf.String())
}

func TestDecoder_IgnoresCommentsAndCRLF(t *testing.T) {
	wire := ": keepalive\n\n" +
		"event: chunk\r\ndata: {\"events\":[{\"title\":\"a\",\"confidence\":1}],\"chunkIndex\":0,\"isComplete\":false}\r\n\n" +
		"data: {\"events\":[],\"chunkIndex\":1,\"isComplete\":true}\n\n"

	got, err := Collect(strings.NewReader(wire), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", *got[0].Title)
}

func TestDecoder_RejectsIndexRegression(t *testing.T) {
	wire := "data: {\"events\":[],\"chunkIndex\":1,\"isComplete\":false}\n\n" +
		"data: {\"events\":[],\"chunkIndex\":1,\"isComplete\":false}\n\n"

	dec := NewDecoder(strings.NewReader(wire))
	_, err := dec.Next()
	require.NoError(t, err)
	_, err = dec.Next()
	assert.ErrorContains(t, err, "chunk index")
}

func TestDecoder_EOF(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	_, err := dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWrite_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	err := Write(ctx, &buf, llm.StaticBatch(parsedEvents(3), llm.ChunkSize))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}
