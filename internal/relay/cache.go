package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"

	"go.uber.org/zap"
)

const DefaultFlushDebounce = 1000 * time.Millisecond

type StrokeCacheConfig struct {
	// Debounce is the quiet period after the last append before strokes are
	// written to the store.
	Debounce time.Duration
	// FlushTimeout bounds a flush that was not started by a caller.
	FlushTimeout time.Duration
}

type cacheEntry struct {
	strokes []domain.FinalizedStroke
	refs    int
	// loaded is false until the durable record has been merged in.
	loaded bool
	dirty  bool

	timer *time.Timer
	gen   uint64

	// flushMu orders writes to the store for this session.
	flushMu sync.Mutex
}

// StrokeCache is the authoritative in-memory list of finalized strokes per
// session. Appends are written to the store after a debounce; undo and
// clear reach the store immediately. An entry lives while connections
// reference it.
type StrokeCache struct {
	repo     ports.DrawingRepository
	debounce time.Duration
	timeout  time.Duration
	metrics  Metrics
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	entries map[domain.SessionID]*cacheEntry
	closed  bool
}

func NewStrokeCache(repo ports.DrawingRepository, cfg StrokeCacheConfig, metrics Metrics, logger *zap.SugaredLogger) *StrokeCache {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultFlushDebounce
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &StrokeCache{
		repo:     repo,
		debounce: cfg.Debounce,
		timeout:  cfg.FlushTimeout,
		metrics:  metrics,
		logger:   logger,
		entries:  make(map[domain.SessionID]*cacheEntry),
	}
}

// LoadOrInit takes a reference on the session's entry and returns its
// strokes. The store is read only until a load succeeds; a failed load is
// logged and the (possibly empty) in-memory list is returned.
func (c *StrokeCache) LoadOrInit(ctx context.Context, id domain.SessionID) []domain.FinalizedStroke {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		e = &cacheEntry{}
		c.entries[id] = e
	}
	e.refs++
	if e.loaded {
		strokes := slices.Clone(e.strokes)
		c.mu.Unlock()
		return strokes
	}
	c.mu.Unlock()

	_ = c.load(ctx, id, e)
	return c.Snapshot(id)
}

func (c *StrokeCache) load(ctx context.Context, id domain.SessionID, e *cacheEntry) error {
	stored, err := c.repo.Find(ctx, id)
	if err != nil {
		c.logger.Errorw("failed to load strokes",
			"session_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to load strokes: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !e.loaded {
		// Strokes appended before the load completed come after the
		// durable ones.
		e.strokes = append(slices.Clone(stored), e.strokes...)
		e.loaded = true
	}
	return nil
}

// Release drops a reference taken by LoadOrInit. The last release flushes
// pending strokes and forgets the session. An entry whose final flush fails
// is kept so its strokes are not lost.
func (c *StrokeCache) Release(ctx context.Context, id domain.SessionID) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs > 0 {
		c.mu.Unlock()
		return
	}
	c.cancelTimerLocked(e)
	c.mu.Unlock()

	flushErr := c.flushEntry(ctx, id, e)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[id] != e || e.refs > 0 {
		return
	}
	if flushErr != nil {
		c.logger.Warnw("keeping unflushed strokes in memory",
			"session_id", id,
			"strokes", len(e.strokes),
		)
		return
	}
	delete(c.entries, id)
}

// Append adds a finalized stroke and restarts the session's debounce timer.
func (c *StrokeCache) Append(id domain.SessionID, stroke domain.FinalizedStroke) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		e = &cacheEntry{}
		c.entries[id] = e
	}
	e.strokes = append(e.strokes, stroke)
	e.dirty = true
	c.scheduleLocked(id, e)
}

// UndoLast removes the most recent stroke and writes the result to the
// store at once. A failed write is logged; the stroke stays removed.
func (c *StrokeCache) UndoLast(ctx context.Context, id domain.SessionID) (domain.FinalizedStroke, bool) {
	stroke, ok := c.takeLast(id)
	if ok {
		_ = c.Flush(ctx, id)
	}
	return stroke, ok
}

func (c *StrokeCache) takeLast(id domain.SessionID) (domain.FinalizedStroke, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok || len(e.strokes) == 0 {
		return domain.FinalizedStroke{}, false
	}
	last := e.strokes[len(e.strokes)-1]
	e.strokes = e.strokes[:len(e.strokes)-1]
	e.dirty = true
	c.cancelTimerLocked(e)
	return last, true
}

// Clear empties the session's strokes and deletes its durable record.
func (c *StrokeCache) Clear(ctx context.Context, id domain.SessionID) error {
	c.clearMemory(id)
	return c.deletePersisted(ctx, id)
}

func (c *StrokeCache) clearMemory(id domain.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		e = &cacheEntry{}
		c.entries[id] = e
	}
	e.strokes = nil
	e.dirty = false
	// After the delete the durable record is empty, like memory.
	e.loaded = true
	c.cancelTimerLocked(e)
}

func (c *StrokeCache) deletePersisted(ctx context.Context, id domain.SessionID) error {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if ok {
		e.flushMu.Lock()
		defer e.flushMu.Unlock()
	}

	if err := c.repo.DeleteAll(ctx, id); err != nil {
		c.logger.Errorw("failed to delete strokes",
			"session_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete strokes: %w", err)
	}
	c.logger.Debugw("strokes deleted", "session_id", id)
	return nil
}

// Snapshot returns a copy of the session's strokes. It never does I/O.
func (c *StrokeCache) Snapshot(id domain.SessionID) []domain.FinalizedStroke {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	return slices.Clone(e.strokes)
}

// Flush writes the session's full stroke list to the store if it changed
// since the last successful write.
func (c *StrokeCache) Flush(ctx context.Context, id domain.SessionID) error {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		c.cancelTimerLocked(e)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.flushEntry(ctx, id, e)
}

func (c *StrokeCache) flushEntry(ctx context.Context, id domain.SessionID, e *cacheEntry) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	c.mu.Lock()
	dirty, loaded := e.dirty, e.loaded
	c.mu.Unlock()
	if !dirty {
		return nil
	}
	if !loaded {
		// Writing before the durable record is merged would overwrite it.
		if err := c.load(ctx, id, e); err != nil {
			c.metrics.FlushCompleted(0, 0, err)
			return err
		}
	}

	c.mu.Lock()
	if !e.dirty {
		c.mu.Unlock()
		return nil
	}
	strokes := slices.Clone(e.strokes)
	e.dirty = false
	c.mu.Unlock()

	start := time.Now()
	err := c.repo.Upsert(ctx, id, strokes)
	c.metrics.FlushCompleted(time.Since(start), len(strokes), err)
	if err != nil {
		c.mu.Lock()
		e.dirty = true
		c.mu.Unlock()
		c.logger.Errorw("failed to flush strokes",
			"session_id", id,
			"strokes", len(strokes),
			"error", err,
		)
		return fmt.Errorf("failed to flush strokes: %w", err)
	}

	c.logger.Debugw("strokes flushed",
		"session_id", id,
		"strokes", len(strokes),
		"duration", time.Since(start),
	)
	return nil
}

// Evict flushes the session and forgets it regardless of references.
func (c *StrokeCache) Evict(ctx context.Context, id domain.SessionID) error {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		c.cancelTimerLocked(e)
		delete(c.entries, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.flushEntry(ctx, id, e)
}

// Close stops every timer and flushes every session with pending strokes.
func (c *StrokeCache) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	pending := make(map[domain.SessionID]*cacheEntry, len(c.entries))
	for id, e := range c.entries {
		c.cancelTimerLocked(e)
		pending[id] = e
	}
	c.mu.Unlock()

	var errs []error
	for id, e := range pending {
		if err := c.flushEntry(ctx, id, e); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *StrokeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *StrokeCache) pending(id domain.SessionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return ok && e.timer != nil
}

func (c *StrokeCache) scheduleLocked(id domain.SessionID, e *cacheEntry) {
	c.cancelTimerLocked(e)
	if c.closed {
		return
	}
	gen := e.gen
	e.timer = time.AfterFunc(c.debounce, func() { c.fire(id, e, gen) })
}

// cancelTimerLocked stops the pending flush. Bumping gen turns a callback
// that already started into a no-op.
func (c *StrokeCache) cancelTimerLocked(e *cacheEntry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

func (c *StrokeCache) fire(id domain.SessionID, e *cacheEntry, gen uint64) {
	c.mu.Lock()
	if c.entries[id] != e || e.gen != gen {
		c.mu.Unlock()
		return
	}
	e.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	_ = c.flushEntry(ctx, id, e)
}
