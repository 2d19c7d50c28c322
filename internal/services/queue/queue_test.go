package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsnap/internal/services/events"
)

// gate lets a test decide when each processor returns.
type gate struct {
	mu      sync.Mutex
	release map[string]chan result
	started chan string
}

type result struct {
	events []events.CalendarEvent
	err    error
}

func newGate() *gate {
	return &gate{release: make(map[string]chan result), started: make(chan string, 64)}
}

func (g *gate) ch(id string) chan result {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.release[id]
	if !ok {
		c = make(chan result, 1)
		g.release[id] = c
	}
	return c
}

func (g *gate) processor() Processor {
	return func(ctx context.Context, item Item, progress func(int)) ([]events.CalendarEvent, error) {
		g.started <- item.ID
		select {
		case r := <-g.ch(item.ID):
			return r.events, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (g *gate) finish(id string, r result) { g.ch(id) <- r }

func countStatus(items []Item, s Status) int {
	n := 0
	for _, it := range items {
		if it.Status == s {
			n++
		}
	}
	return n
}

func waitStatus(t *testing.T, q *Queue, id string, s Status) Item {
	t.Helper()
	var item Item
	require.Eventually(t, func() bool {
		var ok bool
		item, ok = q.Get(id)
		return ok && item.Status == s
	}, 2*time.Second, 5*time.Millisecond, "item %s never reached %s", id, s)
	return item
}

func newQueue(t *testing.T) *Queue {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	q := New(ctx, Options{})
	t.Cleanup(func() {
		cancel()
		q.Wait()
	})
	return q
}

func TestQueue_AdmissionLimit(t *testing.T) {
	q := newQueue(t)
	g := newGate()

	var ids []string
	for range 5 {
		ids = append(ids, q.Add(TypeText, "x", g.processor(), nil))
	}

	items := q.Items()
	require.Len(t, items, 5)
	assert.Equal(t, 3, countStatus(items, StatusProcessing))
	assert.Equal(t, 2, countStatus(items, StatusQueued))
	for i, id := range ids {
		assert.Equal(t, id, items[i].ID, "submission order is kept")
	}
	assert.Equal(t, StatusQueued, items[3].Status, "FIFO admission")

	g.finish(ids[0], result{events: []events.CalendarEvent{{Title: "a"}}})
	waitStatus(t, q, ids[0], StatusComplete)
	waitStatus(t, q, ids[3], StatusProcessing)

	items = q.Items()
	assert.Equal(t, 3, countStatus(items, StatusProcessing))
	assert.Equal(t, 1, countStatus(items, StatusQueued))
	assert.Equal(t, StatusQueued, items[4].Status)

	for _, id := range ids[1:] {
		g.finish(id, result{})
	}
	for _, id := range ids[1:] {
		waitStatus(t, q, id, StatusComplete)
	}
}

func TestQueue_CompleteRecordsResult(t *testing.T) {
	q := newQueue(t)
	g := newGate()
	id := q.Add(TypeImage, []byte("png"), g.processor(), map[string]string{"filename": "flyer.png"})

	g.finish(id, result{events: []events.CalendarEvent{{Title: "Launch"}}})
	item := waitStatus(t, q, id, StatusComplete)

	assert.Equal(t, 100, item.Progress)
	require.Len(t, item.Result, 1)
	assert.Equal(t, "Launch", item.Result[0].Title)
	assert.Equal(t, "flyer.png", item.Metadata["filename"])
	assert.NotNil(t, item.StartedAt)
	assert.NotNil(t, item.CompletedAt)
	assert.Empty(t, item.Error)
}

func TestQueue_CancelWhileProcessingStaysCancelled(t *testing.T) {
	q := newQueue(t)
	g := newGate()
	id := q.Add(TypeText, "x", g.processor(), nil)
	<-g.started

	assert.True(t, q.Remove(id))
	item, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, item.Status)

	g.finish(id, result{events: []events.CalendarEvent{{Title: "late"}}})
	q.Wait()

	item, _ = q.Get(id)
	assert.Equal(t, StatusCancelled, item.Status, "late success must not overwrite cancellation")
	assert.Empty(t, item.Result)
}

func TestQueue_CancelFreesCapacity(t *testing.T) {
	q := newQueue(t)
	g := newGate()
	var ids []string
	for range 4 {
		ids = append(ids, q.Add(TypeText, "x", g.processor(), nil))
	}
	require.Equal(t, StatusQueued, q.Items()[3].Status)

	q.Remove(ids[1])
	item, _ := q.Get(ids[3])
	assert.Equal(t, StatusProcessing, item.Status)

	for _, id := range ids {
		g.finish(id, result{})
	}
}

func TestQueue_RemoveQueuedItem(t *testing.T) {
	q := New(context.Background(), Options{Concurrency: 1})
	g := newGate()
	first := q.Add(TypeText, "a", g.processor(), nil)
	second := q.Add(TypeText, "b", g.processor(), nil)

	assert.True(t, q.Remove(second))
	_, ok := q.Get(second)
	assert.False(t, ok)
	assert.False(t, q.Remove("missing"))

	g.finish(first, result{})
	waitStatus(t, q, first, StatusComplete)
	q.Wait()
}

func TestQueue_FailureIsolation(t *testing.T) {
	q := newQueue(t)
	g := newGate()
	bad := q.Add(TypeText, "a", g.processor(), nil)
	good := q.Add(TypeText, "b", g.processor(), nil)
	empty := q.Add(TypeText, "c", g.processor(), nil)

	g.finish(bad, result{err: errors.New("model said no")})
	g.finish(good, result{})
	g.finish(empty, result{err: errors.New("")})

	item := waitStatus(t, q, bad, StatusError)
	assert.Equal(t, "model said no", item.Error)
	waitStatus(t, q, good, StatusComplete)
	item = waitStatus(t, q, empty, StatusError)
	assert.Equal(t, "Processing failed", item.Error)
}

func TestQueue_ProcessorPanicBecomesError(t *testing.T) {
	q := newQueue(t)
	id := q.Add(TypeText, "x", func(context.Context, Item, func(int)) ([]events.CalendarEvent, error) {
		panic("kaboom")
	}, nil)

	item := waitStatus(t, q, id, StatusError)
	assert.Contains(t, item.Error, "kaboom")
}

func TestQueue_ProgressClamped(t *testing.T) {
	q := newQueue(t)
	g := newGate()
	id := q.Add(TypeText, "x", g.processor(), nil)

	q.UpdateProgress(id, 150)
	item, _ := q.Get(id)
	assert.Equal(t, 100, item.Progress)

	q.UpdateProgress(id, -4)
	item, _ = q.Get(id)
	assert.Equal(t, 0, item.Progress)

	q.UpdateProgress("missing", 50)

	g.finish(id, result{})
	waitStatus(t, q, id, StatusComplete)
}

func TestQueue_SubscribeReceivesSnapshots(t *testing.T) {
	q := newQueue(t)
	g := newGate()

	var mu sync.Mutex
	var snapshots [][]Item
	unsubscribe := q.Subscribe(func(items []Item) {
		mu.Lock()
		snapshots = append(snapshots, items)
		mu.Unlock()
	})

	id := q.Add(TypeText, "x", g.processor(), nil)

	mu.Lock()
	require.Len(t, snapshots, 2, "one for the add, one for admission")
	assert.Equal(t, StatusQueued, snapshots[0][0].Status)
	assert.Equal(t, StatusProcessing, snapshots[1][0].Status)
	mu.Unlock()

	g.finish(id, result{})
	waitStatus(t, q, id, StatusComplete)

	mu.Lock()
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, StatusComplete, last[0].Status)
	seen := len(snapshots)
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	q.ClearCompleted()

	mu.Lock()
	assert.Len(t, snapshots, seen, "no delivery after unsubscribe")
	mu.Unlock()
}

func TestQueue_ClearCompleted(t *testing.T) {
	q := newQueue(t)
	g := newGate()
	done := q.Add(TypeText, "a", g.processor(), nil)
	failed := q.Add(TypeText, "b", g.processor(), nil)
	running := q.Add(TypeText, "c", g.processor(), nil)

	g.finish(done, result{})
	g.finish(failed, result{err: errors.New("nope")})
	waitStatus(t, q, done, StatusComplete)
	waitStatus(t, q, failed, StatusError)

	assert.Equal(t, 2, q.ClearCompleted())
	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, running, items[0].ID)
	assert.Equal(t, 0, q.ClearCompleted())

	stats := q.Stats()
	assert.Equal(t, 1, stats[StatusProcessing])

	g.finish(running, result{})
}
