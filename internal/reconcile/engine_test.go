package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/nutrition-tracker/internal/apperror"
	"github.com/sakif/nutrition-tracker/internal/model"
)

const accountID = 1

// fakePersister records calls. entryErr decides the result of each
// PersistEntry call from the entry and the 1-based call number for its id.
// When block is non-nil PersistEntry waits on it and ignores its context.
type fakePersister struct {
	mu          sync.Mutex
	entryErr    func(e model.LogEntry, call int) error
	entryCalls  map[string]int
	weightErr   error
	weightCalls []float64
	block       chan struct{}
}

func newFakePersister() *fakePersister {
	return &fakePersister{entryCalls: make(map[string]int)}
}

func (f *fakePersister) PersistEntry(ctx context.Context, e model.LogEntry) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.entryCalls[e.ID]++
	call := f.entryCalls[e.ID]
	fn := f.entryErr
	f.mu.Unlock()
	if fn != nil {
		return fn(e, call)
	}
	return nil
}

func (f *fakePersister) PersistWeight(ctx context.Context, w float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weightCalls = append(f.weightCalls, w)
	return f.weightErr
}

func (f *fakePersister) calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entryCalls[id]
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testConfig = Config{
	PersistTimeout: 50 * time.Millisecond,
	MaxAttempts:    3,
	BaseBackoff:    time.Second,
	MaxBackoff:     4 * time.Second,
}

// newTestEngine returns an engine loaded with empty state for accountID,
// a fake clock, and ids handed out from ids in order (then "id-N").
func newTestEngine(t *testing.T, p Persister, ids ...string) (*Engine, *fakeClock) {
	t.Helper()
	e := New(p, testConfig, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := &fakeClock{t: time.Date(2026, 3, 14, 8, 15, 0, 123456789, time.UTC)}
	e.now = clock.Now

	var mu sync.Mutex
	n := 0
	e.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n <= len(ids) {
			return ids[n-1]
		}
		return fmt.Sprintf("id-%d", n)
	}

	e.LoadInitial(nil, model.DefaultStats(accountID))
	t.Cleanup(e.Close)
	return e, clock
}

var (
	oatsDraft = model.EntryDraft{
		Kind: model.KindMeal, Label: "Eggs & avocado", Calories: 420,
		Macros: model.Macros{Protein: 35, Carbs: 8, Fats: 22},
	}
	runDraft = model.EntryDraft{Kind: model.KindExercise, Label: "Run", Calories: 300}
)

func meal(id string, cal, p, c, f int) model.LogEntry {
	return model.LogEntry{ID: id, AccountID: accountID, Kind: model.KindMeal, Label: id,
		Calories: cal, Macros: model.Macros{Protein: p, Carbs: c, Fats: f}}
}

func exercise(id string, cal int) model.LogEntry {
	return model.LogEntry{ID: id, AccountID: accountID, Kind: model.KindExercise, Label: id, Calories: cal}
}

func eventuallyStatus(t *testing.T, e *Engine, id string, want Status) {
	t.Helper()
	assert.Eventually(t, func() bool { return e.Status(id) == want },
		2*time.Second, 5*time.Millisecond, "entry %s never became %s (is %s)", id, want, e.Status(id))
}

// =========================================================================
// FOLD / LOAD
// =========================================================================

func TestLoadInitial_FoldsRows(t *testing.T) {
	e, _ := newTestEngine(t, newFakePersister())

	rows := []model.LogEntry{
		meal("a", 500, 30, 50, 10),
		meal("b", 250, 5, 40, 6),
		exercise("c", 300),
		meal("a", 500, 30, 50, 10), // same id twice counts once
	}
	view := e.LoadInitial(rows, model.DefaultStats(accountID))

	want := model.AggregateView{
		CaloriesConsumed: 750,
		CaloriesBurned:   300,
		MacroTotals:      model.Macros{Protein: 35, Carbs: 90, Fats: 16},
	}
	assert.Equal(t, want, view)
	assert.Equal(t, want, e.View())
	assert.Equal(t, StatusConfirmed, e.Status("a"))
	assert.Len(t, e.Entries(), 3)
}

func TestLoadInitial_ReplacesState(t *testing.T) {
	e, _ := newTestEngine(t, newFakePersister())
	e.LoadInitial([]model.LogEntry{meal("a", 100, 0, 0, 0)}, model.DefaultStats(accountID))

	view := e.LoadInitial(nil, model.DefaultStats(accountID))
	assert.Equal(t, model.AggregateView{}, view)
	assert.Equal(t, StatusUnknown, e.Status("a"))
}

// =========================================================================
// LOCAL / REMOTE
// =========================================================================

func TestApplyLocal_ThenEchoCountsOnce(t *testing.T) {
	p := newFakePersister()
	p.block = make(chan struct{}) // keep it Pending until the echo arrives
	t.Cleanup(func() { close(p.block) })
	e, _ := newTestEngine(t, p, "m1")

	entry, err := e.ApplyLocal(oatsDraft)
	require.NoError(t, err)
	assert.Equal(t, "m1", entry.ID)
	assert.Equal(t, int64(accountID), entry.AccountID)
	assert.Equal(t, 420, e.View().CaloriesConsumed, "local apply is visible before confirmation")
	assert.Equal(t, StatusPending, e.Status("m1"))

	echo := entry
	assert.Equal(t, Ignored, e.ApplyRemote(echo))

	view := e.View()
	assert.Equal(t, 420, view.CaloriesConsumed, "echo must not double count")
	assert.Equal(t, model.Macros{Protein: 35, Carbs: 8, Fats: 22}, view.MacroTotals)
	assert.Equal(t, StatusConfirmed, e.Status("m1"), "echo proves the server stored it")
}

func TestApplyLocal_Exercise(t *testing.T) {
	e, _ := newTestEngine(t, newFakePersister(), "w1")
	e.LoadInitial([]model.LogEntry{meal("a", 500, 30, 50, 10)}, model.DefaultStats(accountID))
	before := e.View()

	draft := runDraft
	draft.Macros = model.Macros{Protein: 9} // dropped for exercise
	entry, err := e.ApplyLocal(draft)
	require.NoError(t, err)
	assert.Equal(t, model.Macros{}, entry.Macros)

	after := e.View()
	assert.Equal(t, before.CaloriesBurned+300, after.CaloriesBurned)
	assert.Equal(t, before.CaloriesConsumed, after.CaloriesConsumed)
	assert.Equal(t, before.MacroTotals, after.MacroTotals)
}

func TestApplyLocal_TimestampIsMillisecondUTC(t *testing.T) {
	e, clock := newTestEngine(t, newFakePersister())

	entry, err := e.ApplyLocal(oatsDraft)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Truncate(time.Millisecond), entry.Timestamp)
	assert.Equal(t, time.UTC, entry.Timestamp.Location())
}

func TestApplyLocal_RejectsInvalidDraft(t *testing.T) {
	e, _ := newTestEngine(t, newFakePersister())

	_, err := e.ApplyLocal(model.EntryDraft{Kind: "snack", Label: "x"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.Equal(t, model.AggregateView{}, e.View())
	assert.Empty(t, e.Entries())
}

func TestApplyRemote_Idempotent(t *testing.T) {
	e, _ := newTestEngine(t, newFakePersister())

	m := meal("r1", 610, 40, 60, 20)
	assert.Equal(t, Applied, e.ApplyRemote(m))
	once := e.View()

	assert.Equal(t, Ignored, e.ApplyRemote(m))
	assert.Equal(t, once, e.View())
	assert.Equal(t, StatusConfirmed, e.Status("r1"))
}

func TestApplyRemote_OtherAccountIgnored(t *testing.T) {
	e, _ := newTestEngine(t, newFakePersister())

	m := meal("x1", 900, 0, 0, 0)
	m.AccountID = accountID + 1
	assert.Equal(t, Ignored, e.ApplyRemote(m))
	assert.Equal(t, model.AggregateView{}, e.View())
	assert.Equal(t, StatusUnknown, e.Status("x1"))
}

func TestOrderDoesNotMatter(t *testing.T) {
	entries := []model.LogEntry{
		meal("a", 100, 1, 2, 3), exercise("b", 50), meal("c", 200, 4, 5, 6), exercise("d", 75),
	}

	forward, _ := newTestEngine(t, newFakePersister())
	for _, en := range entries {
		forward.ApplyRemote(en)
	}
	backward, _ := newTestEngine(t, newFakePersister())
	for i := len(entries) - 1; i >= 0; i-- {
		backward.ApplyRemote(entries[i])
		backward.ApplyRemote(entries[i]) // replay
	}

	assert.Equal(t, model.Fold(entries), forward.View())
	assert.Equal(t, forward.View(), backward.View())
}

func TestApplyRemote_ConcurrentDuplicates(t *testing.T) {
	e, _ := newTestEngine(t, newFakePersister())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				e.ApplyRemote(meal(fmt.Sprintf("c%d", i), 10, 1, 1, 1))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, e.View().CaloriesConsumed)
	assert.Equal(t, 100, e.View().MacroTotals.Protein)
}

// =========================================================================
// PERSISTENCE / STALE / RETRY
// =========================================================================

func TestPersistSuccess_Confirms(t *testing.T) {
	p := newFakePersister()
	e, _ := newTestEngine(t, p, "m1")

	_, err := e.ApplyLocal(oatsDraft)
	require.NoError(t, err)

	eventuallyStatus(t, e, "m1", StatusConfirmed)
	assert.Equal(t, 1, p.calls("m1"))
}

func TestPersistFailure_StaleThenRetried(t *testing.T) {
	p := newFakePersister()
	p.entryErr = func(_ model.LogEntry, call int) error {
		if call == 1 {
			return errors.New("503 service unavailable")
		}
		return nil
	}
	e, clock := newTestEngine(t, p, "m1")

	_, err := e.ApplyLocal(oatsDraft)
	require.NoError(t, err)
	eventuallyStatus(t, e, "m1", StatusStale)

	// Stale entries stay counted.
	assert.Equal(t, 420, e.View().CaloriesConsumed)
	stale := e.StaleEntries()
	require.Len(t, stale, 1)
	assert.Equal(t, 1, stale[0].Attempts)
	assert.False(t, stale[0].Exhausted)
	assert.EqualError(t, stale[0].Err, "503 service unavailable")

	// Backoff has not elapsed yet.
	assert.Equal(t, 0, e.RetryStale())

	clock.Advance(testConfig.BaseBackoff)
	assert.Equal(t, 1, e.RetryStale())
	eventuallyStatus(t, e, "m1", StatusConfirmed)
	assert.Equal(t, 2, p.calls("m1"))
	assert.Empty(t, e.StaleEntries())
	assert.Equal(t, 420, e.View().CaloriesConsumed, "retry does not re-fold")
}

func TestPersistTimeout_MarksStale(t *testing.T) {
	p := newFakePersister()
	p.block = make(chan struct{}) // never answers, ignores ctx
	t.Cleanup(func() { close(p.block) })
	e, _ := newTestEngine(t, p, "m1")

	start := time.Now()
	_, err := e.ApplyLocal(oatsDraft)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), testConfig.PersistTimeout, "ApplyLocal must not wait for persistence")

	eventuallyStatus(t, e, "m1", StatusStale)
	stale := e.StaleEntries()
	require.Len(t, stale, 1)
	assert.ErrorIs(t, stale[0].Err, context.DeadlineExceeded)

	// Local actions keep working while the backend hangs.
	_, err = e.ApplyLocal(runDraft)
	require.NoError(t, err)
	assert.Equal(t, 300, e.View().CaloriesBurned)
}

func TestRetryStale_StopsWhenExhausted(t *testing.T) {
	p := newFakePersister()
	p.entryErr = func(model.LogEntry, int) error { return errors.New("down") }
	e, clock := newTestEngine(t, p, "m1")

	_, err := e.ApplyLocal(oatsDraft)
	require.NoError(t, err)
	eventuallyStatus(t, e, "m1", StatusStale)

	for attempt := 2; attempt <= testConfig.MaxAttempts; attempt++ {
		clock.Advance(testConfig.MaxBackoff)
		require.Equal(t, 1, e.RetryStale(), "attempt %d", attempt)
		assert.Eventually(t, func() bool {
			return p.calls("m1") == attempt && e.Status("m1") == StatusStale
		}, 2*time.Second, 5*time.Millisecond)
	}

	clock.Advance(time.Hour)
	assert.Equal(t, 0, e.RetryStale())
	stale := e.StaleEntries()
	require.Len(t, stale, 1)
	assert.True(t, stale[0].Exhausted)
	assert.Equal(t, testConfig.MaxAttempts, stale[0].Attempts)
}

func TestEchoConfirmsStaleEntry(t *testing.T) {
	p := newFakePersister()
	p.entryErr = func(model.LogEntry, int) error { return errors.New("response lost") }
	e, _ := newTestEngine(t, p, "m1")

	entry, err := e.ApplyLocal(oatsDraft)
	require.NoError(t, err)
	eventuallyStatus(t, e, "m1", StatusStale)

	assert.Equal(t, Ignored, e.ApplyRemote(entry))
	assert.Equal(t, StatusConfirmed, e.Status("m1"))
	assert.Equal(t, 420, e.View().CaloriesConsumed)
	assert.Equal(t, 0, e.RetryStale())
}

func TestBackoff(t *testing.T) {
	cfg := testConfig
	assert.Equal(t, time.Second, cfg.backoff(1))
	assert.Equal(t, 2*time.Second, cfg.backoff(2))
	assert.Equal(t, 4*time.Second, cfg.backoff(3))
	assert.Equal(t, 4*time.Second, cfg.backoff(10), "capped at MaxBackoff")
}

// =========================================================================
// RESYNC
// =========================================================================

func TestResync_KeepsUnconfirmedLocalEntries(t *testing.T) {
	p := newFakePersister()
	p.block = make(chan struct{})
	t.Cleanup(func() { close(p.block) })
	e, _ := newTestEngine(t, p, "local1")

	e.LoadInitial([]model.LogEntry{meal("old", 100, 1, 1, 1)}, model.DefaultStats(accountID))
	_, err := e.ApplyLocal(oatsDraft) // Pending, not on the server yet
	require.NoError(t, err)

	// Server now has "old" plus an entry from another device, and has
	// forgotten nothing.
	rows := []model.LogEntry{meal("old", 100, 1, 1, 1), exercise("phone1", 250)}
	view := e.Resync(rows, model.DefaultStats(accountID))

	want := model.Fold([]model.LogEntry{
		meal("old", 100, 1, 1, 1), exercise("phone1", 250), oatsDraft.Entry("local1", accountID, time.Time{}),
	})
	assert.Equal(t, want, view)
	assert.Equal(t, StatusPending, e.Status("local1"))
	assert.Equal(t, StatusConfirmed, e.Status("phone1"))
	assert.Len(t, e.Entries(), 3)
}

func TestResync_LocalEntryNowOnServer(t *testing.T) {
	p := newFakePersister()
	p.entryErr = func(model.LogEntry, int) error { return errors.New("timeout") }
	e, _ := newTestEngine(t, p, "m1")

	entry, err := e.ApplyLocal(oatsDraft)
	require.NoError(t, err)
	eventuallyStatus(t, e, "m1", StatusStale)

	view := e.Resync([]model.LogEntry{entry}, model.DefaultStats(accountID))
	assert.Equal(t, 420, view.CaloriesConsumed)
	assert.Equal(t, StatusConfirmed, e.Status("m1"))
}

// The POST can commit after the reconnect fetch was taken, so the fetch
// misses an entry we already saw confirmed. It must stay counted.
func TestResync_KeepsConfirmedEntryMissingFromFetch(t *testing.T) {
	e, _ := newTestEngine(t, newFakePersister(), "m1")

	_, err := e.ApplyLocal(oatsDraft)
	require.NoError(t, err)
	eventuallyStatus(t, e, "m1", StatusConfirmed)

	view := e.Resync(nil, model.DefaultStats(accountID))
	assert.Equal(t, 420, view.CaloriesConsumed)
	assert.Equal(t, model.Macros{Protein: 35, Carbs: 8, Fats: 22}, view.MacroTotals)
	assert.Equal(t, StatusConfirmed, e.Status("m1"))
	assert.Len(t, e.Entries(), 1)
}

func TestResync_RepeatedFetchDoesNotDoubleCount(t *testing.T) {
	e, _ := newTestEngine(t, newFakePersister())
	rows := []model.LogEntry{meal("a", 500, 30, 50, 10), exercise("b", 200)}
	e.LoadInitial(rows, model.DefaultStats(accountID))

	e.Resync(rows, model.DefaultStats(accountID))
	view := e.Resync(rows, model.DefaultStats(accountID))
	assert.Equal(t, model.Fold(rows), view)
}

// =========================================================================
// WEIGHT
// =========================================================================

func TestUpdateWeight(t *testing.T) {
	p := newFakePersister()
	e, _ := newTestEngine(t, p)

	require.NoError(t, e.UpdateWeight(77.4))
	assert.Equal(t, 77.4, e.Stats().CurrentWeight, "optimistic")
	assert.Eventually(t, func() bool { return e.WeightStatus() == StatusConfirmed },
		2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, e.UpdateWeight(0), apperror.ErrValidation)
	assert.ErrorIs(t, e.UpdateWeight(1000), apperror.ErrValidation)
	assert.Equal(t, 77.4, e.Stats().CurrentWeight)
}

func TestUpdateWeight_FailureAndResync(t *testing.T) {
	p := newFakePersister()
	p.weightErr = errors.New("down")
	e, clock := newTestEngine(t, p)

	require.NoError(t, e.UpdateWeight(76))
	assert.Eventually(t, func() bool { return e.WeightStatus() == StatusStale },
		2*time.Second, 5*time.Millisecond)

	// The server still has the old weight; the unconfirmed local one wins.
	e.Resync(nil, model.DefaultStats(accountID))
	assert.Equal(t, 76.0, e.Stats().CurrentWeight)

	p.mu.Lock()
	p.weightErr = nil
	p.mu.Unlock()
	clock.Advance(testConfig.BaseBackoff)
	assert.Equal(t, 1, e.RetryStale())
	assert.Eventually(t, func() bool { return e.WeightStatus() == StatusConfirmed },
		2*time.Second, 5*time.Millisecond)
}

func TestLoadInitial_LateWeightResultIgnored(t *testing.T) {
	p := newFakePersister()
	e, _ := newTestEngine(t, p)

	require.NoError(t, e.UpdateWeight(76))
	assert.Eventually(t, func() bool { return e.WeightStatus() == StatusConfirmed },
		2*time.Second, 5*time.Millisecond)

	e.LoadInitial(nil, model.DefaultStats(accountID))

	p.mu.Lock()
	p.weightErr = errors.New("down")
	p.mu.Unlock()
	require.NoError(t, e.UpdateWeight(77))
	assert.Eventually(t, func() bool { return e.WeightStatus() == StatusStale },
		2*time.Second, 5*time.Millisecond)

	// A success for the first write, reported after the reload, belongs to
	// a write the reload already superseded.
	e.weightPersisted(1, 1, nil)
	assert.Equal(t, StatusStale, e.WeightStatus())
	assert.Equal(t, 77.0, e.Stats().CurrentWeight)
}

// =========================================================================
// SNAPSHOT / CLOSE
// =========================================================================

func TestSnapshot(t *testing.T) {
	e, _ := newTestEngine(t, newFakePersister())
	e.LoadInitial([]model.LogEntry{meal("a", 1500, 100, 150, 50), exercise("b", 400)},
		model.DefaultStats(accountID))

	s := e.Snapshot()
	assert.Equal(t, 1100, s.NetCalories)
	assert.Equal(t, 1100, s.Remaining)
	assert.InDelta(t, 50.0, s.Progress, 0.001)
	assert.Equal(t, DefaultMacroGoals, s.MacroGoals)
	assert.Equal(t, 0, s.Pending)

	e.LoadInitial([]model.LogEntry{meal("big", 5000, 0, 0, 0)}, model.DefaultStats(accountID))
	s = e.Snapshot()
	assert.Equal(t, -2800, s.Remaining)
	assert.Equal(t, 100.0, s.Progress)
}

func TestClose(t *testing.T) {
	p := newFakePersister()
	p.block = make(chan struct{})
	t.Cleanup(func() { close(p.block) })
	e, _ := newTestEngine(t, p, "m1")

	_, err := e.ApplyLocal(oatsDraft)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() did not return while a persist call was hanging")
	}

	_, err = e.ApplyLocal(runDraft)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.UpdateWeight(70), ErrClosed)
	assert.Equal(t, 0, e.RetryStale())
	assert.Equal(t, StatusPending, e.Status("m1"))
}
