// Package viewcache holds the in-memory record collection served to clients.
//
// The collection is owned by Cache and is never patched from a refetch: every
// refetch replaces it wholesale, dropping any local optimistic state. Local
// mutations (analyzing flag, optimistic delete) swap in a modified copy.
package viewcache

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"schemedesk/api/internal/logging"
	"schemedesk/api/internal/metrics"
	"schemedesk/api/internal/record"
)

// Source is the store side of the cache.
type Source interface {
	FetchAll(ctx context.Context) ([]record.Raw, error)
	SubscribeToChanges(fn func()) (unsubscribe func())
}

// State is the per-record reconciliation state.
type State int

const (
	Absent State = iota
	Clean
	Provisional
	Removed
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Provisional:
		return "provisional"
	case Removed:
		return "removed"
	default:
		return "absent"
	}
}

// Change describes one swap of the collection.
type Change struct {
	Generation uint64
	// Refetch is true when the swap came from the store rather than a local mutation.
	Refetch bool
}

type snapshot struct {
	token       uint64
	generation  uint64
	records     []record.Record
	index       map[string]int
	provisional map[string]struct{}
	removed     map[string]struct{}
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		token:       s.token,
		generation:  s.generation + 1,
		records:     make([]record.Record, len(s.records)),
		provisional: make(map[string]struct{}, len(s.provisional)),
		removed:     make(map[string]struct{}, len(s.removed)),
	}
	copy(next.records, s.records)
	for id := range s.provisional {
		next.provisional[id] = struct{}{}
	}
	for id := range s.removed {
		next.removed[id] = struct{}{}
	}
	next.reindex()
	return next
}

func (s *snapshot) reindex() {
	s.index = make(map[string]int, len(s.records))
	for i, r := range s.records {
		s.index[r.ID] = i
	}
}

type Cache struct {
	source     Source
	normalizer *record.Normalizer
	logger     *zap.Logger

	tokens atomic.Uint64

	mu       sync.RWMutex
	current  *snapshot
	watchMu  sync.Mutex
	watchers map[uint64]func(Change)
	nextWID  uint64
}

func New(source Source, normalizer *record.Normalizer, logger *zap.Logger) *Cache {
	return &Cache{
		source:     source,
		normalizer: normalizer,
		logger:     logging.OrNop(logger),
		current: &snapshot{
			index:       map[string]int{},
			provisional: map[string]struct{}{},
			removed:     map[string]struct{}{},
		},
		watchers: make(map[uint64]func(Change)),
	}
}

// NextToken issues a refetch token. Tokens increase with start order.
func (c *Cache) NextToken() uint64 {
	return c.tokens.Add(1)
}

// Refresh refetches the collection. When a refetch that started later has
// already been applied, the result is dropped.
func (c *Cache) Refresh(ctx context.Context) error {
	token := c.NextToken()
	rows, err := c.source.FetchAll(ctx)
	if err != nil {
		metrics.Refetches.WithLabelValues("failed").Inc()
		return err
	}
	if !c.Replace(token, c.normalizer.NormalizeAll(rows)) {
		c.logger.Debug("stale refetch dropped", zap.Uint64("token", token))
	}
	return nil
}

// Replace swaps in records as the whole collection if token is newer than
// the last applied one. It reports whether the swap happened.
func (c *Cache) Replace(token uint64, records []record.Record) bool {
	next := &snapshot{
		token:       token,
		records:     make([]record.Record, len(records)),
		provisional: map[string]struct{}{},
		removed:     map[string]struct{}{},
	}
	copy(next.records, records)
	for i := range next.records {
		next.records[i].IsAnalyzing = false
	}
	next.reindex()

	c.mu.Lock()
	if token <= c.current.token {
		c.mu.Unlock()
		metrics.Refetches.WithLabelValues("stale").Inc()
		return false
	}
	next.generation = c.current.generation + 1
	c.current = next
	c.mu.Unlock()

	metrics.Refetches.WithLabelValues("applied").Inc()
	metrics.CacheRecords.Set(float64(len(records)))
	c.broadcast(Change{Generation: next.generation, Refetch: true})
	return true
}

// MarkAnalyzing sets the cosmetic analyzing flag on id.
func (c *Cache) MarkAnalyzing(id string) bool {
	return c.mutate(id, func(s *snapshot, i int) {
		s.records[i].IsAnalyzing = true
		s.provisional[id] = struct{}{}
	})
}

// ClearAnalyzing reverts MarkAnalyzing. It is a no-op when a refetch has
// already replaced the record.
func (c *Cache) ClearAnalyzing(id string) bool {
	return c.mutate(id, func(s *snapshot, i int) {
		s.records[i].IsAnalyzing = false
		delete(s.provisional, id)
	})
}

// RemoveLocal drops id ahead of a delete. The next refetch decides whether
// it stays gone.
func (c *Cache) RemoveLocal(id string) bool {
	return c.mutate(id, func(s *snapshot, i int) {
		s.records = append(s.records[:i], s.records[i+1:]...)
		delete(s.provisional, id)
		s.removed[id] = struct{}{}
		s.reindex()
	})
}

func (c *Cache) mutate(id string, fn func(s *snapshot, i int)) bool {
	c.mu.Lock()
	i, ok := c.current.index[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	next := c.current.clone()
	fn(next, i)
	c.current = next
	c.mu.Unlock()

	c.broadcast(Change{Generation: next.generation})
	return true
}

func (c *Cache) State(id string) State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.current.removed[id]; ok {
		return Removed
	}
	if _, ok := c.current.index[id]; !ok {
		return Absent
	}
	if _, ok := c.current.provisional[id]; ok {
		return Provisional
	}
	return Clean
}

// Snapshot returns a copy of the collection.
func (c *Cache) Snapshot() []record.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]record.Record, len(c.current.records))
	copy(out, c.current.records)
	return out
}

func (c *Cache) Get(id string) (record.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.current.index[id]
	if !ok {
		return record.Record{}, false
	}
	return c.current.records[i], true
}

// Generation increases with every swap of the collection.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.generation
}

// Watch calls fn after every swap. fn runs on the swapping goroutine and
// must not block.
func (c *Cache) Watch(fn func(Change)) (stop func()) {
	c.watchMu.Lock()
	id := c.nextWID
	c.nextWID++
	c.watchers[id] = fn
	c.watchMu.Unlock()

	return func() {
		c.watchMu.Lock()
		delete(c.watchers, id)
		c.watchMu.Unlock()
	}
}

func (c *Cache) broadcast(change Change) {
	c.watchMu.Lock()
	fns := make([]func(Change), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.watchMu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

// Attach refetches on every store change notice until stop is called or
// ctx ends. stop waits for an in-flight refetch to finish.
func (c *Cache) Attach(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	unsubscribe := c.source.SubscribeToChanges(func() {
		if ctx.Err() != nil {
			return
		}
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("refetch after change notice failed", zap.Error(err))
		}
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			unsubscribe()
		})
	}
}
