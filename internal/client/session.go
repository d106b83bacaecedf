package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/nutrition-tracker/internal/model"
	"github.com/sakif/nutrition-tracker/internal/reconcile"
)

// SessionConfig tunes the background loops of a Session.
type SessionConfig struct {
	Engine reconcile.Config
	// RetryInterval is how often Stale entries are offered for retry.
	RetryInterval time.Duration
	// ReconnectMin and ReconnectMax bound the wait between stream reconnects.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// DefaultSessionConfig returns the settings used by interactive clients.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Engine:        reconcile.DefaultConfig(),
		RetryInterval: 5 * time.Second,
		ReconnectMin:  500 * time.Millisecond,
		ReconnectMax:  30 * time.Second,
	}
}

// Session is one logged-in device: local actions go through the engine
// (applied at once, persisted through the client) and the event stream
// feeds ApplyRemote.
//
//	s := client.NewSession(c, client.DefaultSessionConfig(), logger)
//	if err := s.Open(ctx); err != nil { ... }
//	go s.Run(ctx)
//	s.Log(model.EntryDraft{Kind: model.KindMeal, Label: "Oats", Calories: 350})
type Session struct {
	client *Client
	engine *reconcile.Engine
	cfg    SessionConfig
	logger *slog.Logger
}

// NewSession creates a session. The client must already be logged in.
func NewSession(c *Client, cfg SessionConfig, logger *slog.Logger) *Session {
	d := DefaultSessionConfig()
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = d.RetryInterval
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = d.ReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = max(d.ReconnectMax, cfg.ReconnectMin)
	}
	return &Session{
		client: c,
		engine: reconcile.New(c, cfg.Engine, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// Engine exposes the reconciliation state for reading totals and statuses.
func (s *Session) Engine() *reconcile.Engine { return s.engine }

// Open loads the server's stats and log into the engine.
func (s *Session) Open(ctx context.Context) error {
	data, err := s.client.Data(ctx)
	if err != nil {
		return fmt.Errorf("client: loading initial data: %w", err)
	}
	s.engine.LoadInitial(data.Logs, data.Stats)
	return nil
}

// Log applies a new entry locally and persists it in the background.
func (s *Session) Log(draft model.EntryDraft) (model.LogEntry, error) {
	return s.engine.ApplyLocal(draft)
}

// UpdateWeight replaces the weight locally and persists it in the background.
func (s *Session) UpdateWeight(weight float64) error {
	return s.engine.UpdateWeight(weight)
}

// Run keeps the event stream connected until ctx is done.
//
// After every (re)connect it refetches and calls Resync, which recovers any
// event published while the socket was down. Failed connects back off
// exponentially between ReconnectMin and ReconnectMax. A 401/403 on the
// handshake stops Run with that error since retrying cannot fix it.
// RetryStale runs every RetryInterval for the whole lifetime of Run.
func (s *Session) Run(ctx context.Context) error {
	go s.retryLoop(ctx)

	wait := s.cfg.ReconnectMin
	for {
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}
		if err == nil {
			// Connected then dropped: start the backoff over.
			wait = s.cfg.ReconnectMin
		}
		s.logger.Warn("client: stream disconnected",
			slog.Duration("retryIn", wait),
			slog.Any("error", err),
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		wait = min(wait*2, s.cfg.ReconnectMax)
	}
}

// connectOnce subscribes, resyncs, then pumps events until the socket
// closes. It returns nil if the connection was established and later lost.
func (s *Session) connectOnce(ctx context.Context) error {
	sub, err := s.client.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	data, err := s.client.Data(ctx)
	if err != nil {
		return fmt.Errorf("client: resync after connect: %w", err)
	}
	s.engine.Resync(data.Logs, data.Stats)

	for {
		ev, err := sub.Next()
		if err != nil {
			s.logger.Debug("client: stream read ended", slog.String("error", err.Error()))
			return nil
		}
		outcome := s.engine.ApplyRemote(ev.Entry)
		s.logger.Debug("client: remote entry",
			slog.String("entryID", ev.Entry.ID),
			slog.String("outcome", outcome.String()),
		)
	}
}

func (s *Session) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.engine.RetryStale(); n > 0 {
				s.logger.Info("client: retrying stale writes", slog.Int("count", n))
			}
		}
	}
}

// Close stops background persistence. Call it after Run has returned.
func (s *Session) Close() {
	s.engine.Close()
}
