// Package stream carries chunked extraction results over a request/response
// channel as server-sent-events style frames and decodes them incrementally.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"eventsnap/internal/services/events"
)

// ContentType is the media type of a frame stream.
const ContentType = "text/event-stream"

const maxFrameSize = 8 << 20

var (
	delimiter  = []byte("\n\n")
	dataPrefix = []byte("data:")
)

// ErrIncompleteStream is returned when the channel closed before the
// terminating frame. Events received so far are returned alongside it.
var ErrIncompleteStream = errors.New("stream ended before completion")

// Frame is one unit on the wire.
type Frame struct {
	Events     []events.ParsedEvent `json:"events,omitempty"`
	ChunkIndex int                  `json:"chunkIndex"`
	IsComplete bool                 `json:"isComplete"`
	Error      string               `json:"error,omitempty"`
}

// frameJSON keeps "events" present (possibly empty) on data frames.
type frameJSON struct {
	Events     []events.ParsedEvent `json:"events"`
	ChunkIndex int                  `json:"chunkIndex"`
	IsComplete bool                 `json:"isComplete"`
}

// StreamError carries the message of an error frame.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return e.Message }

// Source yields chunks in order. ok is false once exhausted.
type Source interface {
	Next(ctx context.Context) (chunk []events.ParsedEvent, ok bool, err error)
}

// Write drains src onto w, one frame per chunk followed by a terminating
// frame. On a source error it writes a single error frame and stops; frames
// already written stand. The returned error is the source or write error.
func Write(ctx context.Context, w io.Writer, src Source) error {
	index := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, ok, err := src.Next(ctx)
		if err != nil {
			log.Warn().Err(err).Int("chunk_index", index).Msg("Stream source failed")
			if werr := writeFrame(w, map[string]string{"error": err.Error()}); werr != nil {
				return werr
			}
			return err
		}
		if !ok {
			return writeFrame(w, frameJSON{Events: []events.ParsedEvent{}, ChunkIndex: index, IsComplete: true})
		}
		if chunk == nil {
			chunk = []events.ParsedEvent{}
		}
		if err := writeFrame(w, frameJSON{Events: chunk, ChunkIndex: index}); err != nil {
			return err
		}
		index++
	}
}

// WriteError writes a lone error frame, for failures before the first chunk.
func WriteError(w io.Writer, msg string) error {
	return writeFrame(w, map[string]string{"error": msg})
}

func writeFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	buf := make([]byte, 0, len(data)+len(dataPrefix)+3)
	buf = append(buf, dataPrefix...)
	buf = append(buf, ' ')
	buf = append(buf, data...)
	buf = append(buf, delimiter...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Decoder reads frames from a byte stream. Frames may arrive split across
// any number of reads.
type Decoder struct {
	scanner *bufio.Scanner
	last    int
	started bool
}

func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	s.Split(splitFrames)
	return &Decoder{scanner: s, last: -1}
}

// splitFrames tokenizes on the blank-line delimiter. A trailing partial frame
// at EOF is dropped: an unterminated frame was never fully sent.
func splitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, delimiter); i >= 0 {
		return i + len(delimiter), data[:i], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// Next returns the next data frame. It returns io.EOF when the stream ends,
// whether or not a complete frame was seen.
func (d *Decoder) Next() (Frame, error) {
	for d.scanner.Scan() {
		payload := framePayload(d.scanner.Bytes())
		if payload == nil {
			continue
		}
		var f Frame
		if err := json.Unmarshal(payload, &f); err != nil {
			return Frame{}, fmt.Errorf("decode frame: %w", err)
		}
		if f.Error == "" && !f.IsComplete {
			if d.started && f.ChunkIndex <= d.last {
				return Frame{}, fmt.Errorf("chunk index went from %d to %d", d.last, f.ChunkIndex)
			}
			d.started = true
			d.last = f.ChunkIndex
		}
		return f, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

// framePayload joins the data lines of one frame. Comment lines and other
// fields are ignored; nil means the frame carried no data.
func framePayload(raw []byte) []byte {
	var payload []byte
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		value := bytes.TrimPrefix(line[len(dataPrefix):], []byte(" "))
		if payload != nil {
			payload = append(payload, '\n')
		}
		payload = append(payload, value...)
	}
	return payload
}

// Collect reads r until the terminating frame and returns all events in
// wire order. onChunk, when set, sees every data frame as it arrives. An
// error frame yields *StreamError; an early end yields the partial events
// and ErrIncompleteStream.
func Collect(r io.Reader, onChunk func(Frame)) ([]events.ParsedEvent, error) {
	dec := NewDecoder(r)
	var all []events.ParsedEvent
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return all, ErrIncompleteStream
		}
		if err != nil {
			return all, err
		}
		if f.Error != "" {
			return all, &StreamError{Message: f.Error}
		}
		if f.IsComplete {
			return all, nil
		}
		all = append(all, f.Events...)
		if onChunk != nil {
			onChunk(f)
		}
	}
}
