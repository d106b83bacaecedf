package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/nutrition-tracker/internal/broadcast"
)

// Subscription is an open websocket to GET /api/stream.
type Subscription struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	stop      chan struct{}
}

// Subscribe opens the account's event stream. The handshake carries the
// session cookie from the client's jar.
//
// The server must see the subscription before anything is fetched for a
// resync, otherwise an event published in between would be missed. Session
// relies on Subscribe returning only after the upgrade completed.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	wsURL := c.baseURL
	switch {
	case strings.HasPrefix(wsURL, "https"):
		wsURL = "wss" + wsURL[len("https"):]
	case strings.HasPrefix(wsURL, "http"):
		wsURL = "ws" + wsURL[len("http"):]
	}
	wsURL += "/api/stream"

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Jar:              c.httpClient.Jar,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &APIError{StatusCode: resp.StatusCode, Code: "stream_rejected"}
		}
		return nil, fmt.Errorf("client: websocket dial: %w", err)
	}

	s := &Subscription{conn: conn, stop: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.stop:
		}
	}()
	return s, nil
}

// Next blocks for the next log_added event. Frames with another event type
// are skipped. It returns an error once the socket is closed, by either side.
func (s *Subscription) Next() (broadcast.Event, error) {
	for {
		var ev broadcast.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			return broadcast.Event{}, fmt.Errorf("client: reading stream: %w", err)
		}
		if ev.Event == broadcast.EventLogAdded {
			return ev, nil
		}
	}
}

// Close sends a normal closure and closes the socket. Safe to call twice.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

// Stream subscribes and calls fn for every event until ctx is done (nil
// error) or the connection fails.
func (c *Client) Stream(ctx context.Context, fn func(broadcast.Event)) error {
	sub, err := c.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		ev, err := sub.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(ev)
	}
}

// isPermanent reports errors that a reconnect cannot fix.
func isPermanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}
