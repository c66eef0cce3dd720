package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/timex"
)

// SweepInterval is how often Run evicts expired entries.
const SweepInterval = 30 * time.Second

type cacheEntry struct {
	list       []*entity.Entity
	lastUpdate time.Time
}

// ReadThroughCache remembers server-fetched lists for MaxAge. It never
// fetches on its own; callers consult it and fill it.
//
// A zero MaxAge means entries never expire and Run returns immediately.
type ReadThroughCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	maxAge  time.Duration
	clock   timex.Clock
	logger  logging.Logger
}

type Option func(*ReadThroughCache)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c timex.Clock) Option {
	return func(r *ReadThroughCache) { r.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(r *ReadThroughCache) { r.logger = l.With("module", "read_through_cache") }
}

func NewReadThroughCache(maxAge time.Duration, opts ...Option) *ReadThroughCache {
	r := &ReadThroughCache{
		entries: make(map[string]cacheEntry),
		maxAge:  maxAge,
		clock:   timex.System,
		logger:  logging.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *ReadThroughCache) expired(e cacheEntry, now time.Time) bool {
	return r.maxAge > 0 && now.Sub(e.lastUpdate) > r.maxAge
}

// GetCachedList returns a copy of the cached list when present and fresh.
func (r *ReadThroughCache) GetCachedList(typ string) ([]*entity.Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[typ]
	if !ok || r.expired(e, r.clock.Now()) {
		return nil, false
	}
	return entity.CloneList(e.list), true
}

// UpdateList stores list and stamps it with the current time.
func (r *ReadThroughCache) UpdateList(typ string, list []*entity.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[typ] = cacheEntry{list: entity.CloneList(list), lastUpdate: r.clock.Now()}
}

// GetLists partitions types into fresh cached lists and the ones that still
// need a fetch.
func (r *ReadThroughCache) GetLists(types []string) (map[string][]*entity.Entity, []string) {
	cached := make(map[string][]*entity.Entity, len(types))
	var missing []string
	for _, t := range types {
		if list, ok := r.GetCachedList(t); ok {
			cached[t] = list
			continue
		}
		missing = append(missing, t)
	}
	return cached, missing
}

func (r *ReadThroughCache) InvalidateCache(typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, typ)
}

func (r *ReadThroughCache) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]cacheEntry)
}

// Sweep evicts expired entries and returns how many were dropped.
func (r *ReadThroughCache) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	n := 0
	for t, e := range r.entries {
		if r.expired(e, now) {
			delete(r.entries, t)
			n++
		}
	}
	return n
}

// Run sweeps every SweepInterval until ctx is done.
func (r *ReadThroughCache) Run(ctx context.Context) {
	if r.maxAge == 0 {
		return
	}
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug(ctx, "evicted expired lists", "count", n)
			}
		}
	}
}
