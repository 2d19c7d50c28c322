package llm

import (
	"context"
	"sync"

	"eventsnap/internal/services/events"
)

const (
	// ChunkSize is the number of events handed out per chunk.
	ChunkSize = 3
	// MaxBatchEvents caps a single batch extraction.
	MaxBatchEvents = 50
)

// BatchResult is the decoded extract_events tool call.
type BatchResult struct {
	Events     []events.ParsedEvent `json:"events"`
	TotalCount int                  `json:"totalCount"`
	Confidence float64              `json:"confidence"`
}

// Batch is a lazy, finite, non-restartable sequence of event chunks. The
// model is called on the first Next; the complete answer is then sliced
// into chunks. Safe for use by one consumer at a time.
type Batch struct {
	fetch func(ctx context.Context) (*BatchResult, error)
	size  int

	mu      sync.Mutex
	fetched bool
	result  *BatchResult
	pos     int
	index   int
	err     error
}

// NewBatch wraps fetch. size <= 0 uses ChunkSize.
func NewBatch(fetch func(ctx context.Context) (*BatchResult, error), size int) *Batch {
	if size <= 0 {
		size = ChunkSize
	}
	return &Batch{fetch: fetch, size: size}
}

// StaticBatch chunks an already extracted list.
func StaticBatch(list []events.ParsedEvent, size int) *Batch {
	res := &BatchResult{Events: list, TotalCount: len(list)}
	return NewBatch(func(context.Context) (*BatchResult, error) { return res, nil }, size)
}

// Next returns the next chunk. ok is false once the sequence is exhausted
// or failed; a failure is returned once and the sequence stays closed.
func (b *Batch) Next(ctx context.Context) (chunk []events.ParsedEvent, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return nil, false, nil
	}
	if !b.fetched {
		b.fetched = true
		res, err := b.fetch(ctx)
		if err != nil {
			b.err = err
			return nil, false, err
		}
		b.result = res
	}
	if b.result == nil || b.pos >= len(b.result.Events) {
		return nil, false, nil
	}

	end := min(b.pos+b.size, len(b.result.Events))
	chunk = b.result.Events[b.pos:end]
	b.pos = end
	b.index++
	return chunk, true, nil
}

// Result returns the full model answer, or nil before the first Next.
func (b *Batch) Result() *BatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// Chunks returns how many chunks have been handed out so far.
func (b *Batch) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index
}

// Drain consumes the remaining chunks and returns their events in order.
func (b *Batch) Drain(ctx context.Context) ([]events.ParsedEvent, error) {
	var all []events.ParsedEvent
	for {
		chunk, ok, err := b.Next(ctx)
		if err != nil {
			return all, err
		}
		if !ok {
			return all, nil
		}
		all = append(all, chunk...)
	}
}
