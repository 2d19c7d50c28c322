// Package janitor periodically drops finished jobs from the processing queue
// so it does not grow without bound on a long-running server.
package janitor

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultInterval = 10 * time.Minute

// Sweeper is the part of the queue the janitor needs.
type Sweeper interface {
	ClearFinishedBefore(cutoff time.Time) int
}

type Janitor struct {
	queue     Sweeper
	retention time.Duration
	now       func() time.Time

	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a janitor that removes items finished more than retention ago.
func New(queue Sweeper, retention time.Duration) *Janitor {
	if retention <= 0 {
		retention = DefaultInterval
	}
	return &Janitor{
		queue:     queue,
		retention: retention,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start runs a sweep every interval until Stop is called.
func (j *Janitor) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	j.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-j.ticker.C:
				j.Sweep()
			case <-j.done:
				return
			}
		}
	}()

	log.Info().Dur("interval", interval).Dur("retention", j.retention).Msg("Queue janitor started")
}

// Sweep removes expired items once and returns how many went.
func (j *Janitor) Sweep() int {
	removed := j.queue.ClearFinishedBefore(j.now().Add(-j.retention))
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Swept finished queue items")
	}
	return removed
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		if j.ticker != nil {
			j.ticker.Stop()
		}
		close(j.done)
		log.Info().Msg("Queue janitor stopped")
	})
}
