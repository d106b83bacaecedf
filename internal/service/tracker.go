package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/sakif/nutrition-tracker/internal/apperror"
	"github.com/sakif/nutrition-tracker/internal/model"
	"github.com/sakif/nutrition-tracker/internal/repository"
)

// MaxEntryIDLength bounds client-generated entry ids.
const MaxEntryIDLength = 64

// Publisher is the publishing half of the broadcast channel.
// *broadcast.Hub implements it.
type Publisher interface {
	Publish(accountID int64, entry model.LogEntry) int
}

// TrackerService serves the per-account data: stats, the log, weight.
// Every method is scoped to one account id taken from the session, never
// from the request body.
type TrackerService struct {
	stats     repository.StatsRepository
	entries   repository.EntryRepository
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewTrackerService creates a TrackerService.
func NewTrackerService(
	stats repository.StatsRepository,
	entries repository.EntryRepository,
	publisher Publisher,
	logger *slog.Logger,
) *TrackerService {
	return &TrackerService{
		stats:     stats,
		entries:   entries,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// UserData is the initial-load payload: everything LoadInitial needs.
type UserData struct {
	Stats model.Stats      `json:"stats"`
	Logs  []model.LogEntry `json:"logs"`
}

// Data returns the account's stats and its log, most recent first.
func (s *TrackerService) Data(ctx context.Context, accountID int64) (*UserData, error) {
	stats, err := s.stats.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("service/tracker: loading stats: %w", err)
	}
	logs, err := s.entries.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("service/tracker: loading log: %w", err)
	}
	return &UserData{Stats: *stats, Logs: logs}, nil
}

// AppendEntry stores one entry under the caller's account and publishes it
// to the account's topic.
//
// The id comes from the client. Sending the same id again is a replay: the
// stored entry is returned unchanged (created=false) and published again,
// so a client whose first response was lost still sees the echo. An id
// already used by a different account is a conflict.
//
// A zero Timestamp means "now". Timestamps are kept to the millisecond in
// UTC, which is what storage round-trips.
func (s *TrackerService) AppendEntry(ctx context.Context, accountID int64, in model.LogEntry) (model.LogEntry, bool, error) {
	if err := validateEntryID(in.ID); err != nil {
		return model.LogEntry{}, false, err
	}

	draft := model.EntryDraft{
		Kind:            in.Kind,
		Label:           in.Label,
		Calories:        in.Calories,
		Macros:          in.Macros,
		PreparationNote: in.PreparationNote,
	}
	if err := draft.Validate(); err != nil {
		return model.LogEntry{}, false, err
	}

	at := in.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	entry := draft.Entry(in.ID, accountID, at.UTC().Truncate(time.Millisecond))

	created, err := s.entries.Append(ctx, entry)
	if err != nil {
		return model.LogEntry{}, false, fmt.Errorf("service/tracker: appending entry: %w", err)
	}

	if !created {
		existing, err := s.entries.GetByID(ctx, entry.ID)
		if err != nil {
			return model.LogEntry{}, false, fmt.Errorf("service/tracker: loading replayed entry: %w", err)
		}
		if existing.AccountID != accountID {
			s.logger.Warn("entry id collision across accounts",
				slog.String("entryID", entry.ID),
				slog.Int64("accountID", accountID),
			)
			return model.LogEntry{}, false, apperror.Conflict("log entry", entry.ID)
		}
		entry = *existing
	}

	n := s.publisher.Publish(accountID, entry)
	s.logger.Debug("entry published",
		slog.String("entryID", entry.ID),
		slog.Bool("created", created),
		slog.Int("subscribers", n),
	)
	return entry, created, nil
}

// UpdateWeight replaces the current weight. Last write wins.
func (s *TrackerService) UpdateWeight(ctx context.Context, accountID int64, weight float64) error {
	if err := model.ValidateWeight(weight); err != nil {
		return err
	}
	if err := s.stats.UpdateWeight(ctx, accountID, weight); err != nil {
		return fmt.Errorf("service/tracker: updating weight: %w", err)
	}
	return nil
}

func validateEntryID(id string) error {
	if id == "" {
		return apperror.ValidationFailed("id", "id is required")
	}
	if len(id) > MaxEntryIDLength {
		return apperror.ValidationFailed("id",
			fmt.Sprintf("id must be %d characters or less", MaxEntryIDLength))
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return apperror.ValidationFailed("id", "id must not contain whitespace")
	}
	return nil
}
