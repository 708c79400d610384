// Package tracker provides the plugin framework for issue tracker (ITS)
// integrations used by a code-review host.
//
// It defines the Facade interface that every tracker adapter implements
// (Bugzilla, Phabricator), a registry of adapter factories keyed by plugin
// name, per-plugin configuration lookup, and the retrying Executor that wraps
// every outward-facing operation.
package tracker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Check selects which health check a Facade performs.
type Check string

const (
	// CheckAccess verifies that the configured credentials can log in.
	CheckAccess Check = "ACCESS"
	// CheckSysinfo reports the remote system and its version or host.
	CheckSysinfo Check = "SYSINFO"
)

// ParseCheck converts a user-supplied check name (case-insensitive).
func ParseCheck(s string) (Check, error) {
	switch Check(strings.ToUpper(strings.TrimSpace(s))) {
	case CheckAccess:
		return CheckAccess, nil
	case CheckSysinfo:
		return CheckSysinfo, nil
	default:
		return "", fmt.Errorf("unknown health check %q (expected %s or %s)", s, CheckAccess, CheckSysinfo)
	}
}

// Facade is the interface all tracker integrations implement. The host fires
// these calls in response to code-review events. Issue ids are passed as
// strings and parsed by the adapter.
type Facade interface {
	// Name returns the lowercase plugin name (e.g., "bugzilla", "its-phabricator").
	Name() string

	// DisplayName returns the human-readable name (e.g., "Bugzilla").
	DisplayName() string

	// Init reads configuration and prepares the adapter. Connection to the
	// remote tracker may be deferred until first use.
	Init(ctx context.Context, cfg *Config) error

	// Close releases any resources held by the adapter.
	Close() error

	// HealthCheck runs the given check and returns a JSON status document.
	HealthCheck(ctx context.Context, check Check) (string, error)

	// AddComment appends a comment to the issue.
	AddComment(ctx context.Context, issueID, comment string) error

	// AddRelatedLink adds a comment linking to relatedURL.
	AddRelatedLink(ctx context.Context, issueID string, relatedURL *url.URL, description string) error

	// PerformAction applies an action string of the form "<verb> <arg...>".
	PerformAction(ctx context.Context, issueID, action string) error

	// Exists reports whether the issue exists in the tracker.
	Exists(ctx context.Context, issueID string) (bool, error)

	// CreateLinkForWebui renders a hyperlink in the tracker's markup.
	CreateLinkForWebui(url, text string) string
}

// RelatedLinkComment builds the comment body used by AddRelatedLink. A nil
// relatedURL yields ErrMissingURL.
func RelatedLinkComment(f Facade, relatedURL *url.URL, description string) (string, error) {
	if relatedURL == nil {
		return "", ErrMissingURL
	}
	return "Related URL: " + f.CreateLinkForWebui(relatedURL.String(), description), nil
}
