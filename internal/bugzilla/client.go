// Package bugzilla provides a client for the Bugzilla XML-RPC API.
//
// Only the calls needed by the ITS adapter are bound: login and logout,
// fetching a bug, commenting, changing status/resolution and reading the
// server version. Requests are encoded with github.com/kolo/xmlrpc and sent
// over a cookie-keeping HTTP client so that the login cookie survives between
// calls.
package bugzilla

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/kolo/xmlrpc"
)

// DefaultRPCPath is appended to the base URL to form the endpoint.
const DefaultRPCPath = "/xmlrpc.cgi"

// DefaultTimeout bounds a single XML-RPC call.
const DefaultTimeout = 30 * time.Second

// tokenParam carries the login token on authenticated calls.
const tokenParam = "Bugzilla_token"

// Bug is the subset of Bug.get fields used here.
type Bug struct {
	ID         int    `xmlrpc:"id"`
	Summary    string `xmlrpc:"summary"`
	Status     string `xmlrpc:"status"`
	Resolution string `xmlrpc:"resolution"`
	Product    string `xmlrpc:"product"`
	Component  string `xmlrpc:"component"`
}

// Client is a Bugzilla XML-RPC client. It is not safe for concurrent use;
// login state is kept on the instance.
type Client struct {
	url        string
	httpClient *http.Client
	legal      *LegalValues
	logger     *slog.Logger

	token  string
	userID int
}

// Option configures a Client.
type Option func(*Client)

// WithRPCPath overrides DefaultRPCPath.
func WithRPCPath(path string) Option {
	return func(c *Client) {
		c.url = strings.TrimSuffix(c.url, DefaultRPCPath) + path
	}
}

// WithHTTPClient makes the client use hc. The caller is responsible for
// giving it a cookie jar.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLegalValues shares a legal-values cache between clients.
func WithLegalValues(l *LegalValues) Option {
	return func(c *Client) {
		c.legal = l
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the Bugzilla instance at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		url:    strings.TrimRight(baseURL, "/") + DefaultRPCPath,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.httpClient = &http.Client{Timeout: DefaultTimeout, Jar: jar}
	}
	if c.legal == nil {
		c.legal = NewLegalValues(0)
	}
	return c, nil
}

// URL returns the XML-RPC endpoint.
func (c *Client) URL() string {
	return c.url
}

// LegalValues returns the client's legal-values cache.
func (c *Client) LegalValues() *LegalValues {
	return c.legal
}

// LoggedIn reports whether Login succeeded and Logout has not been called.
func (c *Client) LoggedIn() bool {
	return c.userID != 0 || c.token != ""
}

// Login authenticates and keeps the returned token for later calls. It
// returns a description of the session ("username=<u>, userid=<id>").
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var reply struct {
		ID    int    `xmlrpc:"id"`
		Token string `xmlrpc:"token"`
	}
	params := map[string]any{
		"login":    username,
		"password": password,
	}
	if err := c.call(ctx, "User.login", params, &reply); err != nil {
		return "", err
	}
	c.token = reply.Token
	c.userID = reply.ID
	return fmt.Sprintf("username=%s, userid=%d", username, reply.ID), nil
}

// Logout ends the session. Local login state is cleared even when the call
// fails.
func (c *Client) Logout(ctx context.Context) error {
	params := c.authParams(nil)
	c.token = ""
	c.userID = 0
	return c.call(ctx, "User.logout", params, nil)
}

// GetBug fetches one bug. A bug that does not exist yields an error matching
// ErrBugNotFound.
func (c *Client) GetBug(ctx context.Context, id int) (*Bug, error) {
	var reply struct {
		Bugs []Bug `xmlrpc:"bugs"`
	}
	if err := c.call(ctx, "Bug.get", c.authParams(map[string]any{"ids": []int{id}}), &reply); err != nil {
		return nil, err
	}
	for i := range reply.Bugs {
		if reply.Bugs[i].ID == id {
			return &reply.Bugs[i], nil
		}
	}
	return nil, fmt.Errorf("bug %d: %w", id, ErrBugNotFound)
}

// AddComment adds a public comment to an existing bug.
func (c *Client) AddComment(ctx context.Context, id int, comment string) error {
	if _, err := c.GetBug(ctx, id); err != nil {
		return err
	}
	params := c.authParams(map[string]any{
		"id":      id,
		"comment": comment,
	})
	return c.call(ctx, "Bug.add_comment", params, nil)
}

// PerformAction changes the fields named by action to value. Chains such as
// ("status/resolution", "RESOLVED/FIXED") are applied together. Every value
// is checked against the field's legal values first; if any check fails
// nothing is sent to Bug.update.
func (c *Client) PerformAction(ctx context.Context, id int, action, value string) error {
	t, err := ParseTransition(action, value)
	if err != nil {
		return err
	}
	return c.Apply(ctx, id, t)
}

// Apply validates every change of t against the legal-values cache and then
// commits them together. A failed validation commits nothing.
func (c *Client) Apply(ctx context.Context, id int, t Transition) error {
	for _, change := range t.changes {
		legalName := fields[change.Field].legal
		ok, err := c.legal.Allowed(ctx, legalName, change.Value, c.fetchLegalValues)
		if err != nil {
			return fmt.Errorf("load legal values of %s: %w", legalName, err)
		}
		if !ok {
			return &InvalidTransitionError{
				Action: t.action,
				Value:  t.value,
				Reason: fmt.Sprintf("%q is not a legal %s", change.Value, change.Field),
			}
		}
	}
	return c.Commit(ctx, id, t)
}

// Commit sends all staged changes of t in one Bug.update call.
func (c *Client) Commit(ctx context.Context, id int, t Transition) error {
	if t.Len() == 0 {
		return nil
	}
	c.logger.Debug("updating bug", "bug", id, "changes", t.String())
	return c.call(ctx, "Bug.update", c.authParams(t.updateParams(id)), nil)
}

// ServerVersion returns the Bugzilla version string.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	var reply struct {
		Version string `xmlrpc:"version"`
	}
	if err := c.call(ctx, "Bugzilla.version", nil, &reply); err != nil {
		return "", err
	}
	return reply.Version, nil
}

func (c *Client) fetchLegalValues(ctx context.Context, name string) ([]string, error) {
	var reply struct {
		Fields []struct {
			Name   string `xmlrpc:"name"`
			Values []struct {
				Name string `xmlrpc:"name"`
			} `xmlrpc:"values"`
		} `xmlrpc:"fields"`
	}
	if err := c.call(ctx, "Bug.fields", c.authParams(map[string]any{"names": []string{name}}), &reply); err != nil {
		return nil, err
	}
	for _, f := range reply.Fields {
		if f.Name != name {
			continue
		}
		values := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			if v.Name != "" {
				values = append(values, v.Name)
			}
		}
		return values, nil
	}
	return nil, fmt.Errorf("field %s not reported by server", name)
}

// authParams adds the login token, if any, to params.
func (c *Client) authParams(params map[string]any) map[string]any {
	if params == nil {
		params = make(map[string]any)
	}
	if c.token != "" {
		params[tokenParam] = c.token
	}
	return params
}

// call performs one XML-RPC request. params, when non-nil, is sent as the
// single struct argument; reply, when non-nil, receives the result.
func (c *Client) call(ctx context.Context, method string, params map[string]any, reply any) error {
	var args []any
	if params != nil {
		args = append(args, params)
	}
	body, err := xmlrpc.EncodeMethodCall(method, args...)
	if err != nil {
		return &ProtocolError{Method: method, Err: fmt.Errorf("encode request: %w", err)}
	}

	c.logger.Debug("calling bugzilla method", "method", method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &ProtocolError{Method: method, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("User-Agent", "itsbridge-bugzilla/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProtocolError{Method: method, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProtocolError{Method: method, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProtocolError{Method: method, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	response := xmlrpc.Response(data)
	if err := response.Err(); err != nil {
		var fault xmlrpc.FaultError
		if errors.As(err, &fault) {
			return &RemoteError{Method: method, Code: fault.Code, Message: fault.String}
		}
		return &ProtocolError{Method: method, Err: fmt.Errorf("parse fault: %w", err)}
	}
	if reply == nil {
		return nil
	}
	if err := response.Unmarshal(reply); err != nil {
		return &ProtocolError{Method: method, Err: fmt.Errorf("parse response: %w", err)}
	}
	return nil
}
