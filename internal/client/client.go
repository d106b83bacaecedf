// Package client talks to the nutrition tracker server over HTTP and the
// websocket stream. Client is the transport; Session wires it to a
// reconcile.Engine so a program gets optimistic local totals that converge
// with the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/sakif/nutrition-tracker/internal/model"
	"github.com/sakif/nutrition-tracker/internal/reconcile"
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	// HTTPClient is optional. If it has no cookie jar one is added, since
	// the session token travels as a cookie.
	HTTPClient *http.Client
}

// Client is a cookie-holding API client. After Register or Login every call
// is authenticated as that account. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ reconcile.Persister = (*Client)(nil)

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("client: creating cookie jar: %w", err)
		}
		hc := *httpClient
		hc.Jar = jar
		httpClient = &hc
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// APIError is a non-2xx response. Code is the machine-readable "error"
// field of the body (e.g. "conflict"), Message the human one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("client: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("client: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// UserData is the payload of GET /api/user/data.
type UserData struct {
	Stats model.Stats      `json:"stats"`
	Logs  []model.LogEntry `json:"logs"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type userEnvelope struct {
	User model.Account `json:"user"`
}

type entryEnvelope struct {
	Entry model.LogEntry `json:"entry"`
}

// Register creates an account and stores the session cookie.
func (c *Client) Register(ctx context.Context, email, password, name string) (*model.Account, error) {
	var out userEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", credentials{email, password, name}, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Login stores the session cookie for an existing account.
func (c *Client) Login(ctx context.Context, email, password string) (*model.Account, error) {
	var out userEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", credentials{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Logout clears the session cookie.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// Me returns the account the session belongs to.
func (c *Client) Me(ctx context.Context) (*model.Account, error) {
	var out userEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Data fetches stats and every log entry, newest first.
func (c *Client) Data(ctx context.Context) (*UserData, error) {
	var out UserData
	if err := c.do(ctx, http.MethodGet, "/api/user/data", nil, &out); err != nil {
		return nil, err
	}
	if out.Logs == nil {
		out.Logs = []model.LogEntry{}
	}
	return &out, nil
}

// AppendEntry sends one entry with its client-generated id. Sending the
// same entry again is safe: the server stores it once.
func (c *Client) AppendEntry(ctx context.Context, entry model.LogEntry) (*model.LogEntry, error) {
	var out entryEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/logs", entry, &out); err != nil {
		return nil, err
	}
	return &out.Entry, nil
}

// UpdateWeight replaces the account's current weight.
func (c *Client) UpdateWeight(ctx context.Context, weight float64) error {
	return c.do(ctx, http.MethodPost, "/api/user/weight", map[string]float64{"weight": weight}, nil)
}

// PersistEntry implements reconcile.Persister.
func (c *Client) PersistEntry(ctx context.Context, entry model.LogEntry) error {
	_, err := c.AppendEntry(ctx, entry)
	return err
}

// PersistWeight implements reconcile.Persister.
func (c *Client) PersistWeight(ctx context.Context, weight float64) error {
	return c.UpdateWeight(ctx, weight)
}

// do sends body as JSON and decodes a 2xx response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decoding %s response: %w", path, err)
	}
	return nil
}
