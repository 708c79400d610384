// Package phabricator registers the Phabricator ITS adapter, backed by the
// Conduit API.
package phabricator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/steveyegge/itsbridge/internal/conduit"
	"github.com/steveyegge/itsbridge/internal/tracker"
)

// PluginName is the registry key and config section of this adapter.
const PluginName = "its-phabricator"

// Action verbs understood by PerformAction.
const (
	VerbAddProject    = "add-project"
	VerbRemoveProject = "remove-project"
)

func init() {
	tracker.Register(PluginName, func() tracker.Facade {
		return New()
	})
}

// Tracker implements tracker.Facade for Phabricator.
type Tracker struct {
	config *tracker.Config
	logger *slog.Logger
	exec   *tracker.Executor
	client *conduit.Client

	baseURL     string
	httpClient  *http.Client
	recoverable func(error) bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// WithHTTPClient makes the Conduit connection use hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Tracker) {
		t.httpClient = hc
	}
}

// WithRecoverable sets the predicate deciding which failures are retried
// after the session is reset. The default retries nothing.
func WithRecoverable(fn func(error) bool) Option {
	return func(t *Tracker) {
		t.recoverable = fn
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
	return "Phabricator"
}

// Init reads configuration and builds the Conduit client. An API token is
// preferred; without one, username and certificate select the legacy
// conduit.connect session.
func (t *Tracker) Init(ctx context.Context, cfg *tracker.Config) error {
	t.config = cfg

	baseURL, err := cfg.GetRequired("url")
	if err != nil {
		return err
	}
	auth, err := authenticator(cfg, baseURL)
	if err != nil {
		return err
	}

	connOpts := []conduit.ConnectionOption{conduit.WithLogger(t.logger)}
	if t.httpClient != nil {
		connOpts = append(connOpts, conduit.WithHTTPClient(t.httpClient))
	}
	t.baseURL = baseURL
	t.client = conduit.NewClient(conduit.NewConnection(baseURL, connOpts...), auth)

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
		Recoverable: recoverable,
		Reconnect:   func(context.Context) { t.client.ResetSession() },
		Logger:      t.logger,
	}
	t.logger.Debug("initialized Phabricator adapter", "url", t.client.Connection().APIURL())
	return nil
}

func authenticator(cfg *tracker.Config, baseURL string) (conduit.Authenticator, error) {
	token, err := cfg.GetSecret("token")
	if err != nil {
		return nil, err
	}
	if token != "" {
		return conduit.StaticToken{Token: token}, nil
	}

	username, _ := cfg.Get("username")
	if username == "" {
		// Report the current credential, not the legacy one.
		_, err := cfg.GetRequired("token")
		return nil, err
	}
	certificate, err := cfg.GetSecret("certificate")
	if err != nil {
		return nil, err
	}
	if certificate == "" {
		_, err := cfg.GetRequired("certificate")
		return nil, err
	}
	return &conduit.LegacySession{User: username, Certificate: certificate, Host: baseURL}, nil
}

// IsTransportFailure reports whether err is a transport-level Conduit
// failure. Error envelopes returned by the server are not.
func IsTransportFailure(err error) bool {
	var pe *conduit.ProtocolError
	return errors.As(err, &pe)
}

// Close is a no-op; Conduit has no server-side logout.
func (t *Tracker) Close() error {
	return nil
}

func (t *Tracker) validate() error {
	if t.client == nil {
		return &tracker.ErrNotInitialized{Tracker: PluginName}
	}
	return nil
}

// AddComment adds a comment to a task.
func (t *Tracker) AddComment(ctx context.Context, issueID, comment string) error {
	if err := t.validate(); err != nil {
		return err
	}
	id, err := tracker.ParseIssueID(issueID)
	if err != nil {
		return err
	}
	return t.exec.Do(ctx, "add comment", func(ctx context.Context) error {
		_, err := t.client.ManiphestEdit(ctx, id, comment, "", "")
		return err
	})
}

// AddRelatedLink adds a "Related URL" comment to a task.
func (t *Tracker) AddRelatedLink(ctx context.Context, issueID string, relatedURL *url.URL, description string) error {
	comment, err := tracker.RelatedLinkComment(t, relatedURL, description)
	if err != nil {
		return err
	}
	return t.AddComment(ctx, issueID, comment)
}

// PerformAction tags or untags a task: "add-project <name>" or
// "remove-project <name>".
func (t *Tracker) PerformAction(ctx context.Context, issueID, action string) error {
	if err := t.validate(); err != nil {
		return err
	}
	id, err := tracker.ParseIssueID(issueID)
	if err != nil {
		return err
	}
	a, err := tracker.ParseAction(action)
	if err != nil {
		return err
	}

	var add, remove string
	switch a.Verb {
	case VerbAddProject:
		add = a.Value
	case VerbRemoveProject:
		remove = a.Value
	default:
		return &tracker.InvalidActionError{Action: action, Reason: "unknown verb " + strconv.Quote(a.Verb)}
	}
	return t.exec.Do(ctx, "perform action", func(ctx context.Context) error {
		_, err := t.client.ManiphestEdit(ctx, id, "", add, remove)
		return err
	})
}

// Exists reports whether the task exists. A search miss and an ERR_BAD_TASK
// response both mean false.
func (t *Tracker) Exists(ctx context.Context, issueID string) (bool, error) {
	if err := t.validate(); err != nil {
		return false, err
	}
	id, err := tracker.ParseIssueID(issueID)
	if err != nil {
		return false, err
	}
	return tracker.Execute(ctx, t.exec, "exists", func(ctx context.Context) (bool, error) {
		task, err := t.client.ManiphestSearch(ctx, id)
		if err != nil {
			var re *conduit.RemoteError
			if errors.As(err, &re) && re.Code == conduit.ErrCodeBadTask {
				return false, nil
			}
			return false, err
		}
		return task != nil, nil
	})
}

// HealthCheck pings the server. ACCESS proves the credentials work; SYSINFO
// also reports the system and URL.
func (t *Tracker) HealthCheck(ctx context.Context, check tracker.Check) (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}
	if check != tracker.CheckAccess && check != tracker.CheckSysinfo {
		return "", &tracker.InvalidActionError{Action: string(check), Reason: "unknown health check"}
	}
	return tracker.Execute(ctx, t.exec, "health check", func(ctx context.Context) (string, error) {
		ping, err := t.client.Ping(ctx)
		if err != nil {
			return "", err
		}
		result := map[string]string{"status": "ok", "hostname": ping.Hostname}
		if check == tracker.CheckSysinfo {
			result["system"] = "Phabricator"
			result["url"] = t.baseURL
		}
		data, err := json.Marshal(result)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
}

// CreateLinkForWebui renders Remarkup "[[url|text]]", or "[[url]]" when text
// is empty or equal to url.
func (t *Tracker) CreateLinkForWebui(url, text string) string {
	if text == "" || text == url {
		return "[[" + url + "]]"
	}
	return "[[" + url + "|" + text + "]]"
}
