package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/itsbridge/internal/tracker"
	"github.com/steveyegge/itsbridge/internal/ui"
)

func (a *app) newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "health [ACCESS|SYSINFO]",
		GroupID: "setup",
		Short:   "Run a tracker health check",
		Long: `Run a health check against the selected tracker. ACCESS (the default)
proves the configured credentials work; SYSINFO reports the remote system.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			check := tracker.CheckAccess
			if len(args) == 1 {
				var err error
				if check, err = tracker.ParseCheck(args[0]); err != nil {
					return err
				}
			}
			return a.withTracker(cmd.Context(), func(f tracker.Facade) error {
				doc, err := f.HealthCheck(cmd.Context(), check)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					var out bytes.Buffer
					if err := json.Indent(&out, []byte(doc), "", "  "); err != nil {
						return fmt.Errorf("health check returned invalid JSON: %w", err)
					}
					fmt.Fprintln(a.stdout, out.String())
					return nil
				}
				return a.printHealth(f, check, doc)
			})
		},
	}
}

// printHealth renders a health document as "key: value" lines.
func (a *app) printHealth(f tracker.Facade, check tracker.Check, doc string) error {
	var fields map[string]string
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return fmt.Errorf("health check returned invalid JSON: %w", err)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(a.stdout, ui.RenderCategory(f.DisplayName()+" "+strings.ToLower(string(check))))
	fmt.Fprintln(a.stdout, ui.RenderSeparator())
	for _, k := range keys {
		fmt.Fprintf(a.stdout, "  %s: %s\n", ui.RenderMuted(k), fields[k])
	}
	return nil
}

type checkResult struct {
	Tracker string `json:"tracker"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

func (a *app) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "check",
		GroupID: "setup",
		Short:   "Check connectivity of the configured trackers",
		Long: `Log in to every tracker that has a url configured, in the config file
or the environment (or only the one given with --tracker), and report [OK] or
*FAILED* for each.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := a.configuredTrackers(cmd.Context())
			if len(names) == 0 {
				return fmt.Errorf("no trackers configured in %s (known: %v)", a.store.Path(), tracker.List())
			}

			var results []checkResult
			failed := 0
			for _, name := range names {
				r := checkResult{Tracker: name, OK: true}
				display := name
				f, err := a.openTracker(cmd.Context(), name)
				if err == nil {
					display = f.DisplayName()
					_, err = f.HealthCheck(cmd.Context(), tracker.CheckAccess)
					if cerr := f.Close(); cerr != nil {
						a.logger.Warn("closing tracker failed", "tracker", name, "error", cerr)
					}
				}
				if err != nil {
					r.OK = false
					r.Error = err.Error()
					failed++
				}
				results = append(results, r)
				if !a.jsonOutput {
					fmt.Fprintln(a.stdout, ui.CheckLine(r.OK, "Checking "+display+" connectivity", r.Error))
				}
			}

			if a.jsonOutput {
				if err := a.outputJSON(results); err != nil {
					return err
				}
			}
			if failed > 0 {
				return &exitError{code: 1, silent: true, err: fmt.Errorf("%d of %d trackers failed", failed, len(names))}
			}
			return nil
		},
	}
}

// configuredTrackers returns --tracker, or every registered plugin that has
// a url configured.
func (a *app) configuredTrackers(ctx context.Context) []string {
	if a.trackerName != "" {
		return []string{a.trackerName}
	}
	var names []string
	for _, name := range tracker.List() {
		if a.trackerConfigured(ctx, name) {
			names = append(names, name)
		}
	}
	return names
}

// trackerConfigured reports whether the plugin has a url, either in the
// config file or in its <PLUGIN>_URL environment variable.
func (a *app) trackerConfigured(ctx context.Context, name string) bool {
	u, err := tracker.NewConfig(ctx, name, a.store).Get(tracker.CommonConfig.URL)
	return err == nil && u != ""
}

func (a *app) newTrackersCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "trackers",
		GroupID: "setup",
		Short:   "List the available tracker plugins",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			type entry struct {
				Name        string `json:"name"`
				DisplayName string `json:"display_name"`
				Configured  bool   `json:"configured"`
			}
			var entries []entry
			for _, name := range tracker.List() {
				f, err := tracker.New(name)
				if err != nil {
					return err
				}
				entries = append(entries, entry{
					Name:        name,
					DisplayName: f.DisplayName(),
					Configured:  a.trackerConfigured(cmd.Context(), name),
				})
			}
			if a.jsonOutput {
				return a.outputJSON(entries)
			}
			for _, e := range entries {
				marker := ui.RenderMuted("(not configured)")
				if e.Configured {
					marker = ui.RenderPass("(configured)")
				}
				fmt.Fprintf(a.stdout, "%-16s %-12s %s\n", e.Name, e.DisplayName, marker)
			}
			return nil
		},
	}
}
