// Package queue runs extraction jobs with a fixed admission limit and
// broadcasts a full snapshot of the queue after every change.
package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"eventsnap/internal/services/events"
)

// DefaultConcurrency is the number of jobs allowed in StatusProcessing at once.
const DefaultConcurrency = 3

const fallbackError = "Processing failed"

// ItemType is the kind of payload a job carries.
type ItemType string

const (
	TypeImage ItemType = "image"
	TypeText  ItemType = "text"
)

// Status is the lifecycle state of an item:
// queued -> processing -> complete | error | cancelled.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// Item is a job as seen by subscribers. Payload is opaque to the queue.
type Item struct {
	ID          string                 `json:"id"`
	Type        ItemType               `json:"type"`
	Status      Status                 `json:"status"`
	Progress    int                    `json:"progress"`
	Payload     any                    `json:"-"`
	Result      []events.CalendarEvent `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Created     time.Time              `json:"created"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
	Metadata    map[string]string      `json:"metadata,omitempty"`
}

// Processor does the work of one item. progress may be called any number of
// times with a percentage. The context is the queue's, not the item's:
// cancelling an item does not interrupt its processor.
type Processor func(ctx context.Context, item Item, progress func(pct int)) ([]events.CalendarEvent, error)

// Listener receives the complete list after every mutation. Listeners run
// synchronously in mutation order and must not call back into the Queue.
type Listener func(items []Item)

// Options configure a Queue.
type Options struct {
	Concurrency int
	Now         func() time.Time
}

type entry struct {
	item      Item
	processor Processor
}

// Queue owns its items; nothing outside mutates them.
type Queue struct {
	ctx         context.Context
	concurrency int
	now         func() time.Time

	mu           sync.Mutex
	items        []*entry
	listeners    map[int]Listener
	nextListener int

	// notifyMu is taken before mu is released so snapshots reach listeners
	// in the order the mutations happened.
	notifyMu sync.Mutex

	running sync.WaitGroup
}

// New creates a queue whose processors run with ctx.
func New(ctx context.Context, opts Options) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		ctx:         ctx,
		concurrency: opts.Concurrency,
		now:         opts.Now,
		listeners:   make(map[int]Listener),
	}
}

// Concurrency returns the admission limit.
func (q *Queue) Concurrency() int {
	return q.concurrency
}

// Add enqueues a job and immediately tries to admit it.
func (q *Queue) Add(typ ItemType, payload any, processor Processor, metadata map[string]string) string {
	var meta map[string]string
	if len(metadata) > 0 {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}

	q.mu.Lock()
	e := &entry{
		item: Item{
			ID:       uuid.NewString(),
			Type:     typ,
			Status:   StatusQueued,
			Payload:  payload,
			Created:  q.now(),
			Metadata: meta,
		},
		processor: processor,
	}
	q.items = append(q.items, e)
	id := e.item.ID
	q.publishAndUnlock()

	log.Info().Str("item_id", id).Str("type", string(typ)).Msg("Queue item added")
	q.schedule()
	return id
}

// Remove cancels a processing item or drops any other item. It reports
// whether the item existed.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return false
	}

	e := q.items[idx]
	if e.item.Status == StatusProcessing {
		now := q.now()
		e.item.Status = StatusCancelled
		e.item.CompletedAt = &now
		log.Info().Str("item_id", id).Msg("Queue item cancelled")
	} else {
		q.items = slices.Delete(q.items, idx, idx+1)
		log.Info().Str("item_id", id).Str("status", string(e.item.Status)).Msg("Queue item removed")
	}
	q.publishAndUnlock()

	q.schedule()
	return true
}

// UpdateProgress records advisory progress, clamped to [0, 100]. Unknown
// and finished items are ignored.
func (q *Queue) UpdateProgress(id string, pct int) {
	pct = max(0, min(100, pct))

	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 || q.items[idx].item.Status.Terminal() {
		q.mu.Unlock()
		return
	}
	q.items[idx].item.Progress = pct
	q.publishAndUnlock()
}

// ClearCompleted drops every item in a terminal state and returns how many
// were removed.
func (q *Queue) ClearCompleted() int {
	return q.clear(func(Item) bool { return true })
}

// ClearFinishedBefore drops terminal items that finished before cutoff.
func (q *Queue) ClearFinishedBefore(cutoff time.Time) int {
	return q.clear(func(it Item) bool {
		return it.CompletedAt != nil && it.CompletedAt.Before(cutoff)
	})
}

func (q *Queue) clear(match func(Item) bool) int {
	q.mu.Lock()
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(e *entry) bool {
		return e.item.Status.Terminal() && match(e.item)
	})
	removed := before - len(q.items)
	if removed == 0 {
		q.mu.Unlock()
		return 0
	}
	q.publishAndUnlock()
	return removed
}

// Subscribe registers l and returns a function that unregisters it.
func (q *Queue) Subscribe(l Listener) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextListener
	q.nextListener++
	q.listeners[id] = l
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.listeners, id)
			q.mu.Unlock()
		})
	}
}

// Items returns a snapshot of every item in submission order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Get returns a snapshot of one item.
func (q *Queue) Get(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx := q.indexLocked(id); idx >= 0 {
		return q.items[idx].item, true
	}
	return Item{}, false
}

// Stats counts items per status.
func (q *Queue) Stats() map[Status]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := make(map[Status]int, 5)
	for _, e := range q.items {
		stats[e.item.Status]++
	}
	return stats
}

// Wait blocks until every started processor has returned, including those
// of cancelled items.
func (q *Queue) Wait() {
	q.running.Wait()
}

// schedule admits queued items in FIFO order while capacity allows.
func (q *Queue) schedule() {
	q.mu.Lock()
	active := 0
	for _, e := range q.items {
		if e.item.Status == StatusProcessing {
			active++
		}
	}

	var admitted []Item
	var procs []Processor
	for _, e := range q.items {
		if active >= q.concurrency {
			break
		}
		if e.item.Status != StatusQueued {
			continue
		}
		now := q.now()
		e.item.Status = StatusProcessing
		e.item.StartedAt = &now
		active++
		admitted = append(admitted, e.item)
		procs = append(procs, e.processor)
	}
	if len(admitted) == 0 {
		q.mu.Unlock()
		return
	}
	q.running.Add(len(admitted))
	q.publishAndUnlock()

	for i, item := range admitted {
		log.Debug().Str("item_id", item.ID).Msg("Queue item started")
		go q.run(item, procs[i])
	}
}

func (q *Queue) run(item Item, processor Processor) {
	defer q.running.Done()

	result, err := q.invoke(item, processor)
	q.finish(item.ID, result, err)
}

func (q *Queue) invoke(item Item, processor Processor) (result []events.CalendarEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("item_id", item.ID).Interface("panic", r).Msg("Queue processor panicked")
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return processor(q.ctx, item, func(pct int) { q.UpdateProgress(item.ID, pct) })
}

// finish is the single commit point. An item that is no longer processing
// was cancelled or removed meanwhile and its outcome is discarded.
func (q *Queue) finish(id string, result []events.CalendarEvent, err error) {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 || q.items[idx].item.Status != StatusProcessing {
		q.mu.Unlock()
		log.Debug().Str("item_id", id).Msg("Discarding result of cancelled queue item")
		return
	}

	e := q.items[idx]
	now := q.now()
	e.item.CompletedAt = &now
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = fallbackError
		}
		e.item.Status = StatusError
		e.item.Error = msg
		log.Warn().Str("item_id", id).Err(err).Msg("Queue item failed")
	} else {
		e.item.Status = StatusComplete
		e.item.Progress = 100
		e.item.Result = result
		log.Info().Str("item_id", id).Int("events", len(result)).Msg("Queue item completed")
	}
	q.publishAndUnlock()

	q.schedule()
}

// publishAndUnlock must be called with mu held. It releases mu and delivers
// the current snapshot to every listener.
func (q *Queue) publishAndUnlock() {
	snapshot := q.snapshotLocked()
	listeners := make([]Listener, 0, len(q.listeners))
	ids := make([]int, 0, len(q.listeners))
	for id := range q.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, q.listeners[id])
	}

	q.notifyMu.Lock()
	q.mu.Unlock()
	defer q.notifyMu.Unlock()

	for _, l := range listeners {
		q.deliver(l, snapshot)
	}
}

func (q *Queue) deliver(l Listener, snapshot []Item) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Queue listener panicked")
		}
	}()
	l(snapshot)
}

func (q *Queue) snapshotLocked() []Item {
	out := make([]Item, len(q.items))
	for i, e := range q.items {
		out[i] = e.item
	}
	return out
}

func (q *Queue) indexLocked(id string) int {
	return slices.IndexFunc(q.items, func(e *entry) bool { return e.item.ID == id })
}
