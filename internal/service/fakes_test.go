package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sakif/nutrition-tracker/internal/apperror"
	"github.com/sakif/nutrition-tracker/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================
//
// Hand-written in-memory repositories. Each one behaves like sqlstore does
// for the cases the services care about (conflicts, not-found, idempotent
// append) and nothing more. Set an *Err field to simulate a storage failure.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAccounts struct {
	mu        sync.Mutex
	byID      map[int64]*model.Account
	stats     map[int64]model.Stats
	nextID    int64
	createErr error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		byID:   make(map[int64]*model.Account),
		stats:  make(map[int64]model.Stats),
		nextID: 1,
	}
}

func (f *fakeAccounts) CreateWithStats(_ context.Context, a *model.Account, s model.Stats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.byID {
		if existing.Email == a.Email {
			return apperror.Duplicate("account", "email", a.Email)
		}
	}
	a.ID = f.nextID
	f.nextID++
	a.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	stored := *a
	f.byID[a.ID] = &stored
	s.AccountID = a.ID
	f.stats[a.ID] = s
	return nil
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.Email == email {
			out := *a
			return &out, nil
		}
	}
	return nil, apperror.NotFound("account", email)
}

func (f *fakeAccounts) GetByID(_ context.Context, id int64) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("account", strconv.FormatInt(id, 10))
	}
	out := *a
	return &out, nil
}

// fakeStats shares the stats map with fakeAccounts so a registered account
// can be read back, the way both stores share one database.
type fakeStats struct {
	accounts  *fakeAccounts
	getErr    error
	weightErr error
}

func (f *fakeStats) Get(_ context.Context, accountID int64) (*model.Stats, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.accounts.mu.Lock()
	defer f.accounts.mu.Unlock()
	s, ok := f.accounts.stats[accountID]
	if !ok {
		return nil, apperror.NotFound("stats", strconv.FormatInt(accountID, 10))
	}
	return &s, nil
}

func (f *fakeStats) UpdateWeight(_ context.Context, accountID int64, weight float64) error {
	if f.weightErr != nil {
		return f.weightErr
	}
	f.accounts.mu.Lock()
	defer f.accounts.mu.Unlock()
	s, ok := f.accounts.stats[accountID]
	if !ok {
		return apperror.NotFound("stats", strconv.FormatInt(accountID, 10))
	}
	s.CurrentWeight = weight
	f.accounts.stats[accountID] = s
	return nil
}

type fakeEntries struct {
	mu        sync.Mutex
	rows      map[string]model.LogEntry
	appendErr error
	appends   int
}

func newFakeEntries() *fakeEntries {
	return &fakeEntries{rows: make(map[string]model.LogEntry)}
}

func (f *fakeEntries) Append(_ context.Context, e model.LogEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if f.appendErr != nil {
		return false, f.appendErr
	}
	if _, ok := f.rows[e.ID]; ok {
		return false, nil
	}
	f.rows[e.ID] = e
	return true, nil
}

func (f *fakeEntries) GetByID(_ context.Context, id string) (*model.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[id]
	if !ok {
		return nil, apperror.NotFound("log entry", id)
	}
	return &e, nil
}

func (f *fakeEntries) ListByAccount(_ context.Context, accountID int64) ([]model.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.LogEntry{}
	for _, e := range f.rows {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

type published struct {
	accountID int64
	entry     model.LogEntry
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (f *fakePublisher) Publish(accountID int64, entry model.LogEntry) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{accountID: accountID, entry: entry})
	return 1
}

func (f *fakePublisher) events() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.sent...)
}

var errDatabaseDown = errors.New("database is down")
