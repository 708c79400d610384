// Package conduit implements a client for Phabricator's Conduit API.
//
// Every call is a single HTTP POST to <base>/api/<method> whose form body
// carries one field, "params", holding the JSON-encoded parameters.
// Authentication data travels inside that JSON object under the reserved
// "__conduit__" key. Responses are wrapped in an envelope of the form
// {"result": ..., "error_code": ..., "error_info": ...}.
package conduit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a single Conduit call.
const DefaultTimeout = 30 * time.Second

// conduitKey is the reserved parameter carrying authentication data.
const conduitKey = "__conduit__"

// envelope is the response wrapper every Conduit method returns.
type envelope struct {
	Result    json.RawMessage `json:"result"`
	ErrorCode *string         `json:"error_code"`
	ErrorInfo *string         `json:"error_info"`
}

// Connection issues raw Conduit calls against one Phabricator instance.
type Connection struct {
	apiURL string
	logger *slog.Logger

	mu         sync.Mutex
	httpClient *http.Client
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithHTTPClient makes the connection use c instead of lazily creating one.
func WithHTTPClient(c *http.Client) ConnectionOption {
	return func(conn *Connection) {
		conn.httpClient = c
	}
}

// WithLogger sets the logger for request/response tracing.
func WithLogger(l *slog.Logger) ConnectionOption {
	return func(conn *Connection) {
		conn.logger = l
	}
}

// NewConnection creates a connection for the Phabricator instance at baseURL.
func NewConnection(baseURL string, opts ...ConnectionOption) *Connection {
	conn := &Connection{
		apiURL: strings.TrimRight(baseURL, "/") + "/api/",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(conn)
	}
	return conn
}

// APIURL returns the base URL that method names are appended to.
func (c *Connection) APIURL() string {
	return c.apiURL
}

// client returns the cached HTTP client, creating it on first use.
func (c *Connection) client() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpClient == nil {
		c.logger.Debug("creating new conduit http client")
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return c.httpClient
}

// Call invokes a Conduit method. When auth is non-nil it is sent under the
// "__conduit__" key; params itself is never modified. The returned message is
// the envelope's result, which may be JSON null.
func (c *Connection) Call(ctx context.Context, method string, params map[string]any, auth map[string]any) (json.RawMessage, error) {
	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	if auth != nil {
		payload[conduitKey] = auth
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProtocolError{Method: method, Err: fmt.Errorf("marshal params: %w", err)}
	}

	c.logger.Debug("calling phabricator method", "method", method)

	form := url.Values{"params": {string(data)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ProtocolError{Method: method, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "itsbridge-conduit/1.0")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, &ProtocolError{Method: method, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProtocolError{Method: method, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("phabricator response", "method", method, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProtocolError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", truncate(body))}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ProtocolError{Method: method, Err: fmt.Errorf("parse response envelope: %w", err)}
	}
	if env.ErrorCode != nil || env.ErrorInfo != nil {
		return nil, &RemoteError{Method: method, Code: deref(env.ErrorCode), Info: deref(env.ErrorInfo)}
	}
	return env.Result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
