package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsnap/internal/services/events"
)

func numbered(n int) []events.ParsedEvent {
	list := make([]events.ParsedEvent, n)
	for i := range list {
		list[i] = events.ParsedEvent{Title: events.StringPtr(fmt.Sprintf("e%d", i)), Confidence: 1}
	}
	return list
}

func TestStaticBatch_ChunkSizes(t *testing.T) {
	tests := []struct {
		n     int
		sizes []int
	}{
		{7, []int{3, 3, 1}},
		{6, []int{3, 3}},
		{1, []int{1}},
		{0, nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d events", tt.n), func(t *testing.T) {
			src := numbered(tt.n)
			b := StaticBatch(src, ChunkSize)

			var sizes []int
			var all []events.ParsedEvent
			for {
				chunk, ok, err := b.Next(context.Background())
				require.NoError(t, err)
				if !ok {
					break
				}
				sizes = append(sizes, len(chunk))
				all = append(all, chunk...)
			}
			assert.Equal(t, tt.sizes, sizes)
			assert.Equal(t, len(tt.sizes), b.Chunks())
			if tt.n > 0 {
				assert.Equal(t, src, all)
			}
		})
	}
}

func TestBatch_NotRestartable(t *testing.T) {
	b := StaticBatch(numbered(4), ChunkSize)
	all, err := b.Drain(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 4)

	chunk, ok, err := b.Next(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, chunk)
}

func TestBatch_FetchErrorReturnedOnce(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	b := NewBatch(func(context.Context) (*BatchResult, error) {
		calls++
		return nil, boom
	}, 0)

	_, ok, err := b.Next(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)

	_, ok, err = b.Next(context.Background())
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Nil(t, b.Result())
}

func TestHasAllDayTrigger(t *testing.T) {
	for _, s := range []string{
		"import as all-day",
		"Import as ALL DAY please",
		"make it a single-day thing",
		"full day workshop",
		"whole day",
	} {
		assert.True(t, HasAllDayTrigger(s), s)
	}
	for _, s := range []string{"", "daily standup", "all of the days", "9am to 5pm"} {
		assert.False(t, HasAllDayTrigger(s), s)
	}
}

func TestDateContext(t *testing.T) {
	assert.Empty(t, DateContext(nil))

	dc := DateContext(&ClientContext{CurrentDateTime: "2024-06-16T12:00:00Z", Timezone: "Europe/Berlin", Locale: "de-DE"})
	assert.Contains(t, dc, "Today: 2024-06-16 (Sunday)")
	assert.Contains(t, dc, "Tomorrow: 2024-06-17 (Monday)")
	assert.Contains(t, dc, "Next week starts: 2024-06-17 (Monday)")
	assert.Contains(t, dc, "UTC+02:00")
	assert.Contains(t, dc, "de-DE")

	dc = DateContext(&ClientContext{CurrentDateTime: "2024-06-10T09:00:00Z", Timezone: "Mars/Olympus"})
	assert.Contains(t, dc, "(UTC, UTC+00:00)")
}
