package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/nutrition-tracker/internal/apperror"
	"github.com/sakif/nutrition-tracker/internal/auth"
	"github.com/sakif/nutrition-tracker/internal/model"
	"github.com/sakif/nutrition-tracker/internal/service"
)

// Tracker is the part of service.TrackerService the handlers use.
type Tracker interface {
	Data(ctx context.Context, accountID int64) (*service.UserData, error)
	AppendEntry(ctx context.Context, accountID int64, entry model.LogEntry) (model.LogEntry, bool, error)
	UpdateWeight(ctx context.Context, accountID int64, weight float64) error
}

// TrackerHandler serves the per-account data routes. Every route sits behind
// RequireAuth; the account always comes from the session, never the body.
type TrackerHandler struct {
	tracker Tracker
	logger  *slog.Logger
}

// NewTrackerHandler creates a TrackerHandler.
func NewTrackerHandler(tracker Tracker, logger *slog.Logger) *TrackerHandler {
	return &TrackerHandler{tracker: tracker, logger: logger}
}

type entryResponse struct {
	Entry model.LogEntry `json:"entry"`
}

type weightRequest struct {
	Weight *float64 `json:"weight"`
}

// HandleData returns the account's stats and log.
//
// HTTP: GET /api/user/data → 200 {"stats": {...}, "logs": [...]}
func (h *TrackerHandler) HandleData(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}

	data, err := h.tracker.Data(r.Context(), accountID)
	if err != nil {
		h.logger.Error("HandleData failed",
			slog.Int64("accountID", accountID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// HandleAppend stores a log entry.
//
// HTTP: POST /api/logs  {"id","kind","label","calories","macros","timestamp","preparationNote"}
//
//	201 {"entry": {...}}  stored now
//	200 {"entry": {...}}  the id was already stored by this account (replay)
//	409                   the id belongs to another account
func (h *TrackerHandler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}

	var in model.LogEntry
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	entry, created, err := h.tracker.AppendEntry(r.Context(), accountID, in)
	if err != nil {
		if status, _ := statusFor(err); status >= http.StatusInternalServerError {
			h.logger.Error("HandleAppend failed",
				slog.Int64("accountID", accountID),
				slog.String("entryID", in.ID),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, entryResponse{Entry: entry})
}

// HandleWeight replaces the current weight.
//
// HTTP: POST /api/user/weight {"weight": 77.2} → 200 {"success": true}
func (h *TrackerHandler) HandleWeight(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}

	var in weightRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Weight == nil {
		writeError(w, apperror.ValidationFailed("weight", "weight is required"))
		return
	}

	if err := h.tracker.UpdateWeight(r.Context(), accountID, *in.Weight); err != nil {
		if status, _ := statusFor(err); status >= http.StatusInternalServerError {
			h.logger.Error("HandleWeight failed",
				slog.Int64("accountID", accountID),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *TrackerHandler) account(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated("access token required"))
	}
	return id, ok
}
