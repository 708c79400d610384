// Package bugzilla registers the Bugzilla ITS adapter.
package bugzilla

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	bz "github.com/steveyegge/itsbridge/internal/bugzilla"
	"github.com/steveyegge/itsbridge/internal/tracker"
)

// PluginName is the registry key and config section of this adapter.
const PluginName = "bugzilla"

func init() {
	tracker.Register(PluginName, func() tracker.Facade {
		return New()
	})
}

// Tracker implements tracker.Facade for Bugzilla.
//
// The XML-RPC client is created and logged in lazily. When login fails the
// client is dropped, so every later call tries to connect again.
type Tracker struct {
	config *tracker.Config
	logger *slog.Logger
	exec   *tracker.Executor

	baseURL    string
	username   string
	password   string
	clientOpts []bz.Option
	legal      *bz.LegalValues

	recoverable func(error) bool
	maxAttempts int

	mu     sync.Mutex
	client *bz.Client
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// WithClientOptions passes options to every XML-RPC client the adapter creates.
func WithClientOptions(opts ...bz.Option) Option {
	return func(t *Tracker) {
		t.clientOpts = append(t.clientOpts, opts...)
	}
}

// WithRecoverable sets the predicate deciding which failures are retried
// after a re-login. The default retries nothing.
func WithRecoverable(fn func(error) bool) Option {
	return func(t *Tracker) {
		t.recoverable = fn
	}
}

// WithMaxAttempts overrides tracker.DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(t *Tracker) {
		t.maxAttempts = n
	}
}

// New creates an uninitialized adapter.
func New(opts ...Option) *Tracker {
	t := &Tracker{logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the tracker identifier.
func (t *Tracker) Name() string {
	return PluginName
}

// DisplayName returns the human-readable tracker name.
func (t *Tracker) DisplayName() string {
	return "Bugzilla"
}

// Init reads configuration and attempts the first connection. A tracker that
// cannot be reached is logged and left to reconnect on first use.
func (t *Tracker) Init(ctx context.Context, cfg *tracker.Config) error {
	t.config = cfg

	baseURL, err := cfg.GetRequired("url")
	if err != nil {
		return err
	}
	username, err := cfg.GetRequired("username")
	if err != nil {
		return err
	}
	password, err := cfg.GetSecret("password")
	if err != nil {
		return err
	}

	t.baseURL = baseURL
	t.username = username
	t.password = password
	t.legal = bz.NewLegalValues(0)

	recoverable := t.recoverable
	if recoverable == nil {
		if retry, _ := cfg.Get("retry"); retry != "" {
			if on, err := strconv.ParseBool(retry); err == nil && on {
				recoverable = IsTransportFailure
			}
		}
	}
	t.exec = &tracker.Executor{
		Tracker:     PluginName,
		MaxAttempts: t.maxAttempts,
		Recoverable: recoverable,
		Reconnect:   t.reconnect,
		Logger:      t.logger,
	}

	client, err := t.connect(ctx)
	if err != nil {
		t.logger.Error("Bugzilla is currently not available", "url", baseURL, "error", err)
		return nil
	}
	if version, err := client.ServerVersion(ctx); err == nil {
		t.logger.Debug("connected to Bugzilla", "url", client.URL(), "version", version)
	}
	return nil
}

// IsTransportFailure reports whether err is a transport-level XML-RPC
// failure. Faults returned by the server are not.
func IsTransportFailure(err error) bool {
	var pe *bz.ProtocolError
	return errors.As(err, &pe)
}

// Close logs out of the active session, if any.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.logoutQuietly(context.Background(), t.client)
		t.client = nil
	}
	return nil
}

// connect returns the logged-in client, creating it on first use.
func (t *Tracker) connect(ctx context.Context) (*bz.Client, error) {
	if t.exec == nil {
		return nil, &tracker.ErrNotInitialized{Tracker: PluginName}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	opts := append([]bz.Option{bz.WithLegalValues(t.legal), bz.WithLogger(t.logger)}, t.clientOpts...)
	client, err := bz.NewClient(t.baseURL, opts...)
	if err != nil {
		return nil, err
	}
	info, err := client.Login(ctx, t.username, t.password)
	if err != nil {
		t.logger.Error("Bugzilla login failed", "url", client.URL(), "username", t.username, "error", err)
		return nil, err
	}
	t.logger.Debug("logged in to Bugzilla", "session", info)
	t.client = client
	return client, nil
}

// reconnect logs out and back in between retries. Errors are logged only;
// the next attempt reports them.
func (t *Tracker) reconnect(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return
	}
	t.logoutQuietly(ctx, t.client)
	if _, err := t.client.Login(ctx, t.username, t.password); err != nil {
		t.logger.Warn("Bugzilla re-login failed", "error", err)
		t.client = nil
	}
}

func (t *Tracker) logoutQuietly(ctx context.Context, client *bz.Client) {
	if err := client.Logout(ctx); err != nil {
		t.logger.Debug("Bugzilla logout failed", "error", err)
	}
}

// do runs fn with a connected client under the retry policy.
func (t *Tracker) do(ctx context.Context, op string, fn func(ctx context.Context, c *bz.Client) error) error {
	if t.exec == nil {
		return &tracker.ErrNotInitialized{Tracker: PluginName}
	}
	return t.exec.Do(ctx, op, func(ctx context.Context) error {
		client, err := t.connect(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, client)
	})
}

// AddComment adds a comment to a bug.
func (t *Tracker) AddComment(ctx context.Context, issueID, comment string) error {
	id, err := tracker.ParseIssueID(issueID)
	if err != nil {
		return err
	}
	return t.do(ctx, "add comment", func(ctx context.Context, c *bz.Client) error {
		return c.AddComment(ctx, id, comment)
	})
}

// AddRelatedLink adds a "Related URL" comment to a bug.
func (t *Tracker) AddRelatedLink(ctx context.Context, issueID string, relatedURL *url.URL, description string) error {
	comment, err := tracker.RelatedLinkComment(t, relatedURL, description)
	if err != nil {
		return err
	}
	return t.AddComment(ctx, issueID, comment)
}

// PerformAction changes bug fields, e.g. "status RESOLVED" or
// "status/resolution RESOLVED/FIXED".
func (t *Tracker) PerformAction(ctx context.Context, issueID, action string) error {
	id, err := tracker.ParseIssueID(issueID)
	if err != nil {
		return err
	}
	a, err := tracker.ParseAction(action)
	if err != nil {
		return err
	}
	transition, err := bz.ParseTransition(a.Verb, a.Value)
	if err != nil {
		return err
	}
	return t.do(ctx, "perform action", func(ctx context.Context, c *bz.Client) error {
		return c.Apply(ctx, id, transition)
	})
}

// Exists reports whether the bug can be fetched. A bug that does not exist
// is reported as an error.
func (t *Tracker) Exists(ctx context.Context, issueID string) (bool, error) {
	id, err := tracker.ParseIssueID(issueID)
	if err != nil {
		return false, err
	}
	var found bool
	err = t.do(ctx, "exists", func(ctx context.Context, c *bz.Client) error {
		bug, err := c.GetBug(ctx, id)
		found = bug != nil
		return err
	})
	return found, err
}

// HealthCheck checks credentials (ACCESS) or reports the server version
// (SYSINFO).
func (t *Tracker) HealthCheck(ctx context.Context, check tracker.Check) (string, error) {
	if t.exec == nil {
		return "", &tracker.ErrNotInitialized{Tracker: PluginName}
	}
	switch check {
	case tracker.CheckAccess:
		return tracker.Execute(ctx, t.exec, "access check", t.accessCheck)
	case tracker.CheckSysinfo:
		return tracker.Execute(ctx, t.exec, "sysinfo check", t.sysinfoCheck)
	default:
		return "", &tracker.InvalidActionError{Action: string(check), Reason: "unknown health check"}
	}
}

// accessCheck logs in with a fresh client so that the cached session is
// not disturbed.
func (t *Tracker) accessCheck(ctx context.Context) (string, error) {
	client, err := bz.NewClient(t.baseURL, append([]bz.Option{bz.WithLogger(t.logger)}, t.clientOpts...)...)
	if err != nil {
		return "", err
	}
	t.logger.Debug("checking Bugzilla access", "url", client.URL(), "username", t.username)
	if _, err := client.Login(ctx, t.username, t.password); err != nil {
		return "", err
	}
	t.logoutQuietly(ctx, client)
	return healthJSON(map[string]string{"status": "ok", "username": t.username})
}

func (t *Tracker) sysinfoCheck(ctx context.Context) (string, error) {
	client, err := t.connect(ctx)
	if err != nil {
		return "", err
	}
	version, err := client.ServerVersion(ctx)
	if err != nil {
		return "", err
	}
	return healthJSON(map[string]string{
		"status":  "ok",
		"system":  "Bugzilla",
		"version": version,
		"url":     t.baseURL,
	})
}

func healthJSON(v map[string]string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreateLinkForWebui renders "url (text)", or the bare url when text is
// empty or equal to it.
func (t *Tracker) CreateLinkForWebui(url, text string) string {
	if text == "" || text == url {
		return url
	}
	return url + " (" + text + ")"
}
