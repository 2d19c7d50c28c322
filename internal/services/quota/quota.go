// Package quota enforces the daily per-IP extraction limit. Windows are
// calendar days in UTC.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"eventsnap/internal/cache"
	"eventsnap/internal/services/events"
)

const DefaultDailyLimit = 50

// Store keeps one counter per key. Counters vanish after their expiry.
type Store interface {
	Count(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string, expireAt time.Time) (int64, error)
}

// Status is what a caller has left in the current window.
type Status struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

type Quota struct {
	store Store
	limit int
	now   func() time.Time
}

func New(store Store, limit int, now func() time.Time) *Quota {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if now == nil {
		now = time.Now
	}
	return &Quota{store: store, limit: limit, now: now}
}

// Check reports the caller's status and returns *events.RateLimitError when
// the window is used up.
func (q *Quota) Check(ctx context.Context, clientIP string) (Status, error) {
	now := q.now()
	used, err := q.store.Count(ctx, cache.QuotaKey(clientIP, now))
	if err != nil {
		return Status{}, &events.StorageError{Op: "quota check", Err: err}
	}

	st := q.status(int(used), now)
	if st.Remaining == 0 {
		log.Info().Str("client_ip", clientIP).Int("limit", q.limit).Msg("Daily quota exhausted")
		return st, &events.RateLimitError{Limit: q.limit, ResetAt: st.ResetAt}
	}
	return st, nil
}

// Increment records one extraction against the caller's window.
func (q *Quota) Increment(ctx context.Context, clientIP string) (Status, error) {
	now := q.now()
	reset := ResetAt(now)
	used, err := q.store.Incr(ctx, cache.QuotaKey(clientIP, now), reset)
	if err != nil {
		return Status{}, &events.StorageError{Op: "quota increment", Err: err}
	}
	return q.status(int(used), now), nil
}

func (q *Quota) status(used int, now time.Time) Status {
	return Status{
		Limit:     q.limit,
		Used:      used,
		Remaining: max(0, q.limit-used),
		ResetAt:   ResetAt(now),
	}
}

// ResetAt is the next 00:00 UTC after t.
func ResetAt(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// RedisStore keeps counters in Redis so every replica shares them.
type RedisStore struct {
	cache *cache.RedisCache
}

func NewRedisStore(c *cache.RedisCache) *RedisStore {
	return &RedisStore{cache: c}
}

func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	return s.cache.GetInt(ctx, key)
}

func (s *RedisStore) Incr(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	return s.cache.IncrExpireAt(ctx, key, expireAt)
}

type memoryCounter struct {
	n        int64
	expireAt time.Time
}

// MemoryStore is a single-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]memoryCounter
	now      func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{counters: make(map[string]memoryCounter), now: now}
}

func (s *MemoryStore) Count(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok || !s.now().Before(c.expireAt) {
		return 0, nil
	}
	return c.n, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, expireAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, c := range s.counters {
		if !now.Before(c.expireAt) {
			delete(s.counters, k)
		}
	}
	c := s.counters[key]
	c.n++
	c.expireAt = expireAt
	s.counters[key] = c
	return c.n, nil
}
