// Command itsbridge drives the issue-tracker adapters from the command line:
// it loads the configuration, selects a registered tracker and runs one
// facade operation per invocation.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/itsbridge/internal/config"
	"github.com/steveyegge/itsbridge/internal/credential"
	"github.com/steveyegge/itsbridge/internal/debug"
	"github.com/steveyegge/itsbridge/internal/telemetry"
	"github.com/steveyegge/itsbridge/internal/tracker"
	"github.com/steveyegge/itsbridge/internal/ui"

	// Register the tracker adapters.
	_ "github.com/steveyegge/itsbridge/internal/tracker/bugzilla"
	_ "github.com/steveyegge/itsbridge/internal/tracker/phabricator"
)

// secretStore is the credential backend used by the CLI.
type secretStore interface {
	tracker.SecretStore
	Set(key, value string) error
	Delete(key string) error
}

// app holds the state shared by all commands of one invocation.
type app struct {
	configPath  string
	trackerName string
	jsonOutput  bool
	verbose     bool
	quiet       bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	store   *config.Store
	secrets secretStore
	logger  *slog.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		secrets: credential.New(),
	}
}

func main() {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	os.Exit(a.run(context.Background(), os.Args[1:]))
}

// run executes the command line and returns the process exit code.
func (a *app) run(ctx context.Context, args []string) int {
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := telemetry.Shutdown(shutdownCtx); serr != nil && a.logger != nil {
		a.logger.Warn("telemetry shutdown failed", "error", serr)
	}

	if err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if !exit.silent {
				a.reportError(err)
			}
			return exit.code
		}
		a.reportError(err)
		return 1
	}
	return 0
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "itsbridge",
		Short: "itsbridge - issue tracker integration for code review",
		Long: `Drive the Bugzilla and Phabricator tracker adapters: add comments and
related links, apply status or project actions, check that issues exist and
that the configured credentials work.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: $ITSBRIDGE_CONFIG or ~/.config/itsbridge/config.yaml)")
	root.PersistentFlags().StringVarP(&a.trackerName, "tracker", "t", "", "Tracker plugin to use (default: the config key \"tracker\")")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose/debug output")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Suppress non-essential output (errors only)")

	root.AddGroup(&cobra.Group{ID: "issues", Title: "Working With Issues:"})
	root.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})

	root.AddCommand(
		a.newCommentCmd(),
		a.newLinkCmd(),
		a.newActionCmd(),
		a.newExistsCmd(),
		a.newWeblinkCmd(),
		a.newHealthCmd(),
		a.newCheckCmd(),
		a.newTrackersCmd(),
		a.newConfigCmd(),
		a.newVersionCmd(),
	)
	return root
}

// setup configures output, logging, telemetry and the config store.
func (a *app) setup(ctx context.Context) error {
	ui.Init()
	debug.SetVerbose(a.verbose)
	debug.SetQuiet(a.quiet)

	path := a.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	store, err := config.Load(path)
	if err != nil {
		return err
	}
	a.store = store

	telemetry.SetEnabled(store.GetBool("telemetry.enabled"))
	if err := telemetry.Init(ctx, "itsbridge", Version); err != nil {
		return err
	}
	a.logger = debug.Setup(debug.Options{
		Writer:      a.stderr,
		ServiceName: "itsbridge",
		Export:      telemetry.ExportsLogs(),
	})
	a.logger.Debug("loaded config", "path", path)
	return nil
}

// selectedTracker returns the plugin named by --tracker or the config.
func (a *app) selectedTracker() (string, error) {
	name := a.trackerName
	if name == "" {
		name = a.store.GetString("tracker")
	}
	if name == "" {
		return "", fmt.Errorf("no tracker selected (available: %v)\nUse --tracker NAME or set \"tracker\" in %s", tracker.List(), a.store.Path())
	}
	return name, nil
}

// openTracker creates and initializes the named adapter. The caller must
// Close it.
func (a *app) openTracker(ctx context.Context, name string) (tracker.Facade, error) {
	f, err := tracker.New(name)
	if err != nil {
		return nil, err
	}
	f = telemetry.WrapFacade(f)
	cfg := tracker.NewConfig(ctx, name, a.store).WithSecrets(a.secrets)
	if err := f.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("initializing %s: %w", name, err)
	}
	return f, nil
}

// withTracker opens the selected adapter, runs fn and closes the adapter.
func (a *app) withTracker(ctx context.Context, fn func(tracker.Facade) error) error {
	name, err := a.selectedTracker()
	if err != nil {
		return err
	}
	f, err := a.openTracker(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			a.logger.Warn("closing tracker failed", "tracker", name, "error", cerr)
		}
	}()
	return fn(f)
}
