package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/nutrition-tracker/internal/apperror"
	"github.com/sakif/nutrition-tracker/internal/auth"
	"github.com/sakif/nutrition-tracker/internal/broadcast"
)

// Websocket timing. The server pings every pingPeriod; a client that has not
// answered within pongWait is considered gone.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Subscriber is the subscribing half of the broadcast hub.
type Subscriber interface {
	Subscribe(accountID int64) *broadcast.Subscription
}

// StreamHandler upgrades GET /api/stream to a websocket carrying the
// caller's own account topic, one JSON event per frame:
//
//	{"event":"log_added","entry":{...}}
//
// Clients only ever read. Anything they send is discarded; the read loop
// exists to process pongs and notice the close.
type StreamHandler struct {
	hub      Subscriber
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a StreamHandler. Cross-origin browser upgrades are
// refused by the upgrader's default origin check.
func NewStreamHandler(hub Subscriber, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
		},
		logger: logger,
	}
}

// HandleStream serves the subscription.
//
// HTTP: GET /api/stream[?account=<id>]
// Auth: Required. Naming any account but your own is 403.
//
// The hub subscription is taken before the upgrade, so once the client sees
// the 101 response every later publish reaches it.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated("access token required"))
		return
	}
	if q := r.URL.Query().Get("account"); q != "" && q != strconv.FormatInt(accountID, 10) {
		h.logger.Warn("stream: subscription to another account refused",
			slog.Int64("accountID", accountID),
			slog.String("requested", q),
		)
		writeError(w, apperror.Unauthorized("cannot subscribe to another account"))
		return
	}

	sub := h.hub.Subscribe(accountID)
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Info("stream: upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.logger.Debug("stream: subscribed", slog.Int64("accountID", accountID))

	closed := make(chan struct{})
	go readLoop(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				// Evicted for falling behind, or the hub is shutting down.
				// Either way the client must reconnect and resync.
				reason := "server shutting down"
				code := websocket.CloseGoingAway
				if sub.Evicted() {
					reason = "subscriber too slow"
					code = websocket.ClosePolicyViolation
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason),
					time.Now().Add(writeWait))
				h.logger.Info("stream: closed by server",
					slog.Int64("accountID", accountID),
					slog.String("reason", reason),
				)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Info("stream: write failed",
					slog.Int64("accountID", accountID),
					slog.String("error", err.Error()),
				)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-closed:
			h.logger.Debug("stream: client went away", slog.Int64("accountID", accountID))
			return
		}
	}
}

// readLoop drains client frames until the connection fails, then closes
// done. Pongs extend the read deadline.
func readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
