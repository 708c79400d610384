package bugzilla

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bz "github.com/steveyegge/itsbridge/internal/bugzilla"
	"github.com/steveyegge/itsbridge/internal/tracker"
	"github.com/steveyegge/itsbridge/internal/tracker/testutil"
)

type mapStore map[string]string

func (m mapStore) GetConfig(_ context.Context, key string) (string, error) { return m[key], nil }
func (m mapStore) SetConfig(_ context.Context, key, value string) error     { m[key] = value; return nil }
func (m mapStore) GetAllConfig(context.Context) (map[string]string, error) { return m, nil }

func newMock(t *testing.T) *testutil.BugzillaMockServer {
	t.Helper()
	mock := testutil.NewBugzillaMockServer()
	t.Cleanup(mock.Close)
	mock.AddUser("gerrit@example.com", "s3cret")
	mock.AddBug(42, "Crash on startup", "CONFIRMED")
	return mock
}

func testConfig(mock *testutil.BugzillaMockServer) *tracker.Config {
	return tracker.NewConfig(context.Background(), PluginName, mapStore{
		"bugzilla.url":      mock.URL(),
		"bugzilla.username": "gerrit@example.com",
		"bugzilla.password": "s3cret",
	})
}

func newTracker(t *testing.T, mock *testutil.BugzillaMockServer, opts ...Option) *Tracker {
	t.Helper()
	tr := New(opts...)
	require.NoError(t, tr.Init(context.Background(), testConfig(mock)))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRegistered(t *testing.T) {
	f, err := tracker.New(PluginName)
	require.NoError(t, err)
	assert.IsType(t, &Tracker{}, f)
	assert.Equal(t, "Bugzilla", f.DisplayName())
}

func TestInitRequiresURL(t *testing.T) {
	t.Setenv("BUGZILLA_URL", "")
	err := New().Init(context.Background(), tracker.NewConfig(context.Background(), PluginName, mapStore{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bugzilla.url")
}

func TestNotInitialized(t *testing.T) {
	err := New().AddComment(context.Background(), "42", "hello")
	var notInit *tracker.ErrNotInitialized
	assert.ErrorAs(t, err, &notInit)
}

func TestInitUnavailableDegrades(t *testing.T) {
	mock := testutil.NewBugzillaMockServer()
	defer mock.Close()
	mock.AddBug(42, "Crash on startup", "CONFIRMED")

	var logs bytes.Buffer
	tr := New(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, tr.Init(context.Background(), testConfig(mock)), "unavailable tracker must not fail Init")
	assert.Contains(t, logs.String(), "Bugzilla is currently not available")

	err := tr.AddComment(context.Background(), "42", "first try")
	var te *tracker.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, mock.CountMethod("User.login"), "each call re-attempts the connection")

	mock.AddUser("gerrit@example.com", "s3cret")
	require.NoError(t, tr.AddComment(context.Background(), "42", "second try"))
	assert.Equal(t, []string{"second try"}, mock.Bug(42).Comments)
}

func TestAddComment(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)

	require.NoError(t, tr.AddComment(context.Background(), "42", "Change 1234 merged"))
	assert.Equal(t, []string{"Change 1234 merged"}, mock.Bug(42).Comments)
	assert.Equal(t, 1, mock.CountMethod("User.login"), "connection is reused")
}

func TestAddCommentParseError(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)
	mock.ClearRequests()

	err := tr.AddComment(context.Background(), "abc", "hello")
	var pe *tracker.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Zero(t, mock.GetRequestCount())
}

func TestAddRelatedLink(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)

	u, err := url.Parse("https://review.example.com/c/project/+/1234")
	require.NoError(t, err)
	require.NoError(t, tr.AddRelatedLink(context.Background(), "42", u, "Fix startup crash"))

	assert.Equal(t, []string{
		"Related URL: https://review.example.com/c/project/+/1234 (Fix startup crash)",
	}, mock.Bug(42).Comments)
}

func TestAddRelatedLinkMissingURL(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)
	mock.ClearRequests()

	err := tr.AddRelatedLink(context.Background(), "42", nil, "Fix startup crash")
	require.ErrorIs(t, err, tracker.ErrMissingURL)
	assert.Zero(t, mock.GetRequestCount())
	assert.Empty(t, mock.Bug(42).Comments)
}

func TestSessionLogsAtDebug(t *testing.T) {
	mock := newMock(t)

	var info, verbose bytes.Buffer
	tr := newTracker(t, mock, WithLogger(slog.New(slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}))))
	require.NoError(t, tr.AddComment(context.Background(), "42", "Change 1234 merged"))
	assert.Empty(t, info.String(), "a healthy session is quiet at the default level")

	tr = newTracker(t, mock, WithLogger(slog.New(slog.NewTextHandler(&verbose, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	require.NoError(t, tr.AddComment(context.Background(), "42", "Change 1235 merged"))
	assert.Contains(t, verbose.String(), "logged in to Bugzilla")
	assert.Contains(t, verbose.String(), "connected to Bugzilla")
}

func TestPerformActionChain(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)

	require.NoError(t, tr.PerformAction(context.Background(), "42", "status/resolution RESOLVED/FIXED"))

	bug := mock.Bug(42)
	assert.Equal(t, "RESOLVED", bug.Status)
	assert.Equal(t, "FIXED", bug.Resolution)
	assert.Equal(t, 1, mock.CountMethod("Bug.update"))
}

func TestPerformActionArityMismatch(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)
	mock.ClearRequests()

	err := tr.PerformAction(context.Background(), "42", "status/resolution RESOLVED")
	var ite *bz.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Zero(t, mock.GetRequestCount(), "validation happens before any call")
}

func TestPerformActionIllegalValue(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)

	err := tr.PerformAction(context.Background(), "42", "status/resolution RESOLVED/NOTABUG")
	var ite *bz.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Zero(t, mock.CountMethod("Bug.update"))
	assert.Equal(t, "CONFIRMED", mock.Bug(42).Status, "earlier changes of the chain are discarded")
}

func TestPerformActionUnknownField(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)

	err := tr.PerformAction(context.Background(), "42", "priority P1")
	var ite *bz.InvalidTransitionError
	assert.ErrorAs(t, err, &ite)
}

func TestExists(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)
	ctx := context.Background()

	ok, err := tr.Exists(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.Exists(ctx, "4711")
	assert.False(t, ok)
	assert.ErrorIs(t, err, bz.ErrBugNotFound)
	var te *tracker.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestHealthCheckAccess(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)
	sessions := mock.ActiveSessions()

	out, err := tr.HealthCheck(context.Background(), tracker.CheckAccess)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","username":"gerrit@example.com"}`, out)
	assert.Equal(t, sessions, mock.ActiveSessions(), "check session is logged out")
}

func TestHealthCheckAccessBadPassword(t *testing.T) {
	mock := newMock(t)
	tr := New()
	cfg := testConfig(mock)
	require.NoError(t, cfg.Set("password", "wrong"))
	require.NoError(t, tr.Init(context.Background(), cfg))

	_, err := tr.HealthCheck(context.Background(), tracker.CheckAccess)
	var re *bz.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 300, re.Code)
}

func TestHealthCheckSysinfo(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)

	out, err := tr.HealthCheck(context.Background(), tracker.CheckSysinfo)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","system":"Bugzilla","version":"5.0.4","url":"`+mock.URL()+`"}`, out)
}

func TestNoRetryByDefault(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)
	mock.ClearRequests()
	mock.FailNextRequests(1)

	err := tr.AddComment(context.Background(), "42", "hello")
	var pe *bz.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, mock.GetRequestCount())
}

func TestRetryReconnectsOnTransportFailure(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock, WithRecoverable(IsTransportFailure))
	mock.ClearRequests()
	mock.FailNextRequests(1)

	require.NoError(t, tr.AddComment(context.Background(), "42", "hello"))
	assert.Equal(t, []string{"Bug.get", "User.logout", "User.login", "Bug.get", "Bug.add_comment"}, mock.Methods())
	assert.Equal(t, []string{"hello"}, mock.Bug(42).Comments)
}

func TestRetryCeiling(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock, WithRecoverable(func(error) bool { return true }))
	mock.ClearRequests()

	_, err := tr.Exists(context.Background(), "4711")
	var te *tracker.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, mock.CountMethod("Bug.get"))
	assert.Equal(t, 2, mock.CountMethod("User.login"), "re-login between attempts")
}

func TestUnavailableServer(t *testing.T) {
	mock := newMock(t)
	tr := newTracker(t, mock)
	mock.SetUnavailable(true)

	_, err := tr.HealthCheck(context.Background(), tracker.CheckSysinfo)
	var pe *bz.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 503, pe.StatusCode)
}

func TestRetryEnabledByConfig(t *testing.T) {
	mock := newMock(t)
	tr := New()
	cfg := testConfig(mock)
	require.NoError(t, cfg.Set("retry", "true"))
	require.NoError(t, tr.Init(context.Background(), cfg))
	defer tr.Close()
	mock.FailNextRequests(1)

	assert.NoError(t, tr.AddComment(context.Background(), "42", "hello"))
}

func TestCloseLogsOut(t *testing.T) {
	mock := newMock(t)
	tr := New()
	require.NoError(t, tr.Init(context.Background(), testConfig(mock)))
	require.Equal(t, 1, mock.ActiveSessions())

	require.NoError(t, tr.Close())
	assert.Zero(t, mock.ActiveSessions())
}

func TestCreateLinkForWebui(t *testing.T) {
	tr := New()
	tests := []struct {
		url, text, want string
	}{
		{"https://example.com/c/1", "", "https://example.com/c/1"},
		{"https://example.com/c/1", "https://example.com/c/1", "https://example.com/c/1"},
		{"https://example.com/c/1", "Change 1", "https://example.com/c/1 (Change 1)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.CreateLinkForWebui(tt.url, tt.text))
	}
}

func TestIsTransportFailure(t *testing.T) {
	assert.True(t, IsTransportFailure(&bz.ProtocolError{Method: "Bug.get", Err: errors.New("eof")}))
	assert.False(t, IsTransportFailure(&bz.RemoteError{Method: "Bug.get", Code: 101}))
}
