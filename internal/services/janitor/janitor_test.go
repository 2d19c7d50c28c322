package janitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsnap/internal/services/events"
	"eventsnap/internal/services/queue"
)

func TestSweep_RespectsRetention(t *testing.T) {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q := queue.New(context.Background(), queue.Options{Now: func() time.Time { return clock }})
	done := func(context.Context, queue.Item, func(int)) ([]events.CalendarEvent, error) { return nil, nil }

	id := q.Add(queue.TypeText, nil, done, nil)
	require.Eventually(t, func() bool {
		it, _ := q.Get(id)
		return it.Status == queue.StatusComplete
	}, time.Second, 5*time.Millisecond)

	j := New(q, 10*time.Minute)
	j.now = func() time.Time { return clock.Add(5 * time.Minute) }
	assert.Equal(t, 0, j.Sweep(), "still inside retention")

	j.now = func() time.Time { return clock.Add(11 * time.Minute) }
	assert.Equal(t, 1, j.Sweep())
	assert.Empty(t, q.Items())
}

type countingSweeper struct{ calls atomic.Int32 }

func (c *countingSweeper) ClearFinishedBefore(time.Time) int {
	c.calls.Add(1)
	return 0
}

func TestStartStop(t *testing.T) {
	s := &countingSweeper{}
	j := New(s, time.Minute)
	j.Start(5 * time.Millisecond)

	require.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	j.Stop()
	j.Stop()
}
