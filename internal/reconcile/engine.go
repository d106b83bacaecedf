// Package reconcile keeps one account's running totals correct while entries
// arrive from two sources: local actions (applied optimistically, persisted
// in the background) and the broadcast channel (echoes of our own writes and
// writes from other devices).
//
// The entry id is the only deduplication key. Whatever the order and however
// many times an id is seen, it is folded into the totals once, so the view
// always equals model.Fold over the set of known entries.
//
// All state lives behind one mutex; the fold step never runs concurrently
// with another fold. Persistence calls run on their own goroutines and only
// take the lock to record their result, so a slow or hung backend never
// blocks ApplyLocal or ApplyRemote.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/nutrition-tracker/internal/model"
)

// Persister is the write side the engine confirms against: in production the
// HTTP client, in tests a fake. Both calls must be idempotent (entries are
// keyed by id, weight is a plain replace) because the engine retries them.
type Persister interface {
	PersistEntry(ctx context.Context, entry model.LogEntry) error
	PersistWeight(ctx context.Context, weight float64) error
}

// Config bounds the background persistence work.
type Config struct {
	// PersistTimeout is how long one persistence call may take before the
	// entry is marked Stale.
	PersistTimeout time.Duration
	// MaxAttempts is the total number of persistence attempts per entry,
	// the first one included. Exhausted entries stay Stale.
	MaxAttempts int
	// BaseBackoff is the wait after the first failure; it doubles on each
	// further failure up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns the settings used by the client session.
func DefaultConfig() Config {
	return Config{
		PersistTimeout: 10 * time.Second,
		MaxAttempts:    5,
		BaseBackoff:    2 * time.Second,
		MaxBackoff:     time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	return c
}

// backoff returns the wait before attempt n+1 after n failed attempts.
func (c Config) backoff(failures int) time.Duration {
	d := c.BaseBackoff
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}

// ErrClosed is returned by ApplyLocal and UpdateWeight after Close.
var ErrClosed = errors.New("reconcile: engine closed")

// record is the engine's bookkeeping for one entry id.
type record struct {
	entry     model.LogEntry
	status    Status
	attempts  int
	nextRetry time.Time
	lastErr   error
}

// weightState tracks the optimistic weight. seq identifies the latest local
// write so a slow result for an older write cannot overwrite a newer status.
type weightState struct {
	seq       uint64
	status    Status
	attempts  int
	nextRetry time.Time
}

// Engine is the per-account reconciliation state. Create it with New, seed
// it with LoadInitial, and Close it when the session ends.
type Engine struct {
	persister Persister
	cfg       Config
	logger    *slog.Logger

	// Overridable in tests.
	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	stats   model.Stats
	view    model.AggregateView
	entries map[string]*record
	weight  weightState
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an empty engine. Zero Config fields take DefaultConfig values.
func New(p Persister, cfg Config, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		persister: p,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return xid.New().String() },
		entries:   make(map[string]*record),
		weight:    weightState{status: StatusConfirmed},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// LoadInitial replaces all state with the server's view: every row is
// Confirmed and the totals are the fold over the distinct ids in rows.
func (e *Engine) LoadInitial(rows []model.LogEntry, stats model.Stats) model.AggregateView {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats = stats
	// seq keeps counting so a weight result from before the reload cannot
	// match a write made after it.
	e.weight = weightState{seq: e.weight.seq, status: StatusConfirmed}
	e.entries = make(map[string]*record, len(rows))
	e.view = model.AggregateView{}
	for _, row := range rows {
		e.insertLocked(row, StatusConfirmed)
	}
	return e.view
}

// ApplyLocal validates the draft, gives it a fresh id and a capture time,
// folds it into the totals immediately and starts persisting it. The
// returned entry is what will be sent to the server.
func (e *Engine) ApplyLocal(draft model.EntryDraft) (model.LogEntry, error) {
	if err := draft.Validate(); err != nil {
		return model.LogEntry{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return model.LogEntry{}, ErrClosed
	}

	// Millisecond precision is what storage keeps, so the local copy and the
	// server's copy of this entry compare equal.
	at := e.now().UTC().Truncate(time.Millisecond)
	entry := draft.Entry(e.newID(), e.stats.AccountID, at)

	rec := e.insertLocked(entry, StatusPending)
	rec.attempts = 1
	e.persistEntryAsync(entry, 1)
	return entry, nil
}

// ApplyRemote handles one broadcast delivery.
//
// A new id is folded in as Confirmed and reported Applied. A known id is
// Ignored; if it was still Pending or Stale locally, the echo is proof the
// server stored it, so it becomes Confirmed. Entries for another account
// are Ignored.
func (e *Engine) ApplyRemote(entry model.LogEntry) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry.AccountID != e.stats.AccountID {
		e.logger.Debug("reconcile: ignoring entry for another account",
			slog.String("entryID", entry.ID),
			slog.Int64("accountID", entry.AccountID),
		)
		return Ignored
	}

	if rec, ok := e.entries[entry.ID]; ok {
		if rec.status != StatusConfirmed {
			rec.status = StatusConfirmed
			rec.lastErr = nil
		}
		return Ignored
	}

	e.insertLocked(entry, StatusConfirmed)
	return Applied
}

// UpdateWeight replaces the current weight optimistically and persists it in
// the background. Only the latest write matters.
func (e *Engine) UpdateWeight(weight float64) error {
	if err := model.ValidateWeight(weight); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	e.stats.CurrentWeight = weight
	e.weight.seq++
	e.weight.status = StatusPending
	e.weight.attempts = 1
	e.persistWeightAsync(e.weight.seq, weight, 1)
	return nil
}

// Resync merges a fresh server fetch into local state, typically after a
// reconnect. The log is append-only, so no known id is ever dropped: rows
// the engine has not seen are folded in as Confirmed, and rows it already
// holds become Confirmed. Local entries missing from rows stay applied with
// their status unchanged. That includes Confirmed ones, whose write can
// commit after the fetch was taken.
//
// Stats come from the server, except a weight that is still unconfirmed
// locally: that write is newer than anything the server sent.
func (e *Engine) Resync(rows []model.LogEntry, stats model.Stats) model.AggregateView {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, row := range rows {
		if rec, ok := e.entries[row.ID]; ok {
			rec.status = StatusConfirmed
			rec.lastErr = nil
			continue
		}
		e.insertLocked(row, StatusConfirmed)
	}

	localWeight := e.stats.CurrentWeight
	e.stats = stats
	if e.weight.status != StatusConfirmed {
		e.stats.CurrentWeight = localWeight
	}
	return e.view
}

// RetryStale restarts persistence for Stale entries (and a Stale weight)
// whose backoff has elapsed and that still have attempts left. It returns
// how many persistence calls it started.
func (e *Engine) RetryStale() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0
	}

	now := e.now()
	started := 0
	for _, rec := range e.entries {
		if rec.status != StatusStale || rec.attempts >= e.cfg.MaxAttempts || now.Before(rec.nextRetry) {
			continue
		}
		rec.attempts++
		rec.status = StatusPending
		e.persistEntryAsync(rec.entry, rec.attempts)
		started++
	}

	w := &e.weight
	if w.status == StatusStale && w.attempts < e.cfg.MaxAttempts && !now.Before(w.nextRetry) {
		w.attempts++
		w.status = StatusPending
		e.persistWeightAsync(w.seq, e.stats.CurrentWeight, w.attempts)
		started++
	}
	return started
}

// View returns the current totals.
func (e *Engine) View() model.AggregateView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Stats returns the current stats, including any optimistic weight.
func (e *Engine) Stats() model.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Entries returns all known entries, most recent first. Display order only;
// nothing else depends on it.
func (e *Engine) Entries() []model.LogEntry {
	e.mu.Lock()
	out := make([]model.LogEntry, 0, len(e.entries))
	for _, rec := range e.entries {
		out = append(out, rec.entry)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Status reports the state of one entry id, StatusUnknown if never seen.
func (e *Engine) Status(id string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.entries[id]; ok {
		return rec.status
	}
	return StatusUnknown
}

// WeightStatus reports whether the latest weight write is confirmed.
func (e *Engine) WeightStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.weight.status
}

// StaleEntry is an entry whose persistence has failed, with why.
type StaleEntry struct {
	Entry     model.LogEntry
	Attempts  int
	Exhausted bool
	Err       error
}

// StaleEntries lists entries currently Stale, oldest first, so they can be
// surfaced to the user.
func (e *Engine) StaleEntries() []StaleEntry {
	e.mu.Lock()
	var out []StaleEntry
	for _, rec := range e.entries {
		if rec.status != StatusStale {
			continue
		}
		out = append(out, StaleEntry{
			Entry:     rec.entry,
			Attempts:  rec.attempts,
			Exhausted: rec.attempts >= e.cfg.MaxAttempts,
			Err:       rec.lastErr,
		})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Entry.Timestamp.Before(out[j].Entry.Timestamp)
	})
	return out
}

// Close cancels in-flight persistence calls and waits for the engine's own
// goroutines, which stop recording results once it returns. A Persister that
// ignores its context may still be running its call after Close; the result
// is discarded. Entries still Pending at that point stay Pending. Calling
// Close twice is harmless.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// insertLocked adds a new id and folds it. Known ids are left alone, which
// is what keeps duplicate rows from being counted twice.
func (e *Engine) insertLocked(entry model.LogEntry, status Status) *record {
	if rec, ok := e.entries[entry.ID]; ok {
		return rec
	}
	rec := &record{entry: entry, status: status}
	e.entries[entry.ID] = rec
	e.view.Add(entry)
	return rec
}

// persistEntryAsync must be called with e.mu held.
func (e *Engine) persistEntryAsync(entry model.LogEntry, attempt int) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.bounded(func(ctx context.Context) error {
			return e.persister.PersistEntry(ctx, entry)
		})
		if errors.Is(e.ctx.Err(), context.Canceled) {
			return
		}
		e.entryPersisted(entry.ID, attempt, err)
	}()
}

func (e *Engine) entryPersisted(id string, attempt int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.entries[id]
	if !ok || rec.status == StatusConfirmed {
		return
	}
	if err == nil {
		// A success from any attempt confirms the entry.
		rec.status = StatusConfirmed
		rec.lastErr = nil
		return
	}
	if attempt != rec.attempts {
		// A newer attempt is in flight; let it decide.
		return
	}
	rec.status = StatusStale
	rec.lastErr = err
	rec.nextRetry = e.now().Add(e.cfg.backoff(attempt))
	e.logger.Warn("reconcile: entry persistence failed",
		slog.String("entryID", id),
		slog.Int("attempt", attempt),
		slog.Bool("exhausted", attempt >= e.cfg.MaxAttempts),
		slog.String("error", err.Error()),
	)
}

// persistWeightAsync must be called with e.mu held.
func (e *Engine) persistWeightAsync(seq uint64, weight float64, attempt int) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.bounded(func(ctx context.Context) error {
			return e.persister.PersistWeight(ctx, weight)
		})
		if errors.Is(e.ctx.Err(), context.Canceled) {
			return
		}
		e.weightPersisted(seq, attempt, err)
	}()
}

func (e *Engine) weightPersisted(seq uint64, attempt int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w := &e.weight
	if seq != w.seq || w.status == StatusConfirmed {
		return
	}
	if err == nil {
		w.status = StatusConfirmed
		return
	}
	if attempt != w.attempts {
		return
	}
	w.status = StatusStale
	w.nextRetry = e.now().Add(e.cfg.backoff(attempt))
	e.logger.Warn("reconcile: weight persistence failed",
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// bounded runs call with PersistTimeout. It returns when call does or when
// the timeout fires, whichever is first, so a Persister that ignores its
// context still cannot hold an entry in Pending. The goroutine running call
// is not counted in e.wg: waiting for it would let such a
// Persister hang Close.
func (e *Engine) bounded(call func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.PersistTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- call(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("reconcile: persistence timed out after %s: %w", e.cfg.PersistTimeout, ctx.Err())
	}
}
