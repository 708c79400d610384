package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/itsbridge/internal/tracker"
)

func (a *app) newCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "comment ISSUE TEXT...",
		GroupID: "issues",
		Short:   "Add a comment to an issue",
		Long: `Add a comment to an issue. The words after the issue id are joined
with spaces; a single "-" reads the comment from stdin.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueID := args[0]
			text := strings.Join(args[1:], " ")
			if text == "-" {
				data, err := io.ReadAll(a.stdin)
				if err != nil {
					return fmt.Errorf("reading comment from stdin: %w", err)
				}
				text = strings.TrimRight(string(data), "\n")
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("comment is empty")
			}

			return a.withTracker(cmd.Context(), func(f tracker.Facade) error {
				if err := f.AddComment(cmd.Context(), issueID, text); err != nil {
					return err
				}
				if a.jsonOutput {
					return a.outputJSON(map[string]string{"issue": issueID, "tracker": f.Name(), "status": "commented"})
				}
				a.printNormal("Added comment to %s issue %s\n", f.DisplayName(), issueID)
				return nil
			})
		},
	}
}

func (a *app) newLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "link ISSUE URL [DESCRIPTION...]",
		GroupID: "issues",
		Short:   "Add a related-URL comment to an issue",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueID := args[0]
			related, err := url.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid url %q: %w", args[1], err)
			}
			if !related.IsAbs() {
				return fmt.Errorf("invalid url %q: must be absolute", args[1])
			}
			description := strings.Join(args[2:], " ")

			return a.withTracker(cmd.Context(), func(f tracker.Facade) error {
				if err := f.AddRelatedLink(cmd.Context(), issueID, related, description); err != nil {
					return err
				}
				if a.jsonOutput {
					return a.outputJSON(map[string]string{"issue": issueID, "tracker": f.Name(), "url": related.String()})
				}
				a.printNormal("Linked %s to %s issue %s\n", related, f.DisplayName(), issueID)
				return nil
			})
		},
	}
}

func (a *app) newActionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "action ISSUE ACTION...",
		GroupID: "issues",
		Short:   "Apply an action to an issue",
		Long: `Apply an action to an issue. The action is "<verb> <value>":

  Bugzilla:     status RESOLVED
                status/resolution RESOLVED/FIXED
  Phabricator:  add-project Patch-For-Review
                remove-project Patch-For-Review`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueID := args[0]
			action := strings.Join(args[1:], " ")

			return a.withTracker(cmd.Context(), func(f tracker.Facade) error {
				if err := f.PerformAction(cmd.Context(), issueID, action); err != nil {
					return err
				}
				if a.jsonOutput {
					return a.outputJSON(map[string]string{"issue": issueID, "tracker": f.Name(), "action": action})
				}
				a.printNormal("Applied %q to %s issue %s\n", action, f.DisplayName(), issueID)
				return nil
			})
		},
	}
}

func (a *app) newExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "exists ISSUE",
		GroupID: "issues",
		Short:   "Check whether an issue exists",
		Long:    `Check whether an issue exists. Exits with status 2 when it does not.`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueID := args[0]
			return a.withTracker(cmd.Context(), func(f tracker.Facade) error {
				ok, err := f.Exists(cmd.Context(), issueID)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					if err := a.outputJSON(map[string]interface{}{"issue": issueID, "tracker": f.Name(), "exists": ok}); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(a.stdout, ok)
				}
				if !ok {
					return &exitError{code: 2, silent: true, err: fmt.Errorf("%s issue %s does not exist", f.DisplayName(), issueID)}
				}
				return nil
			})
		},
	}
}

func (a *app) newWeblinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "weblink URL [TEXT...]",
		GroupID: "issues",
		Short:   "Render a hyperlink in the tracker's markup",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.selectedTracker()
			if err != nil {
				return err
			}
			f, err := tracker.New(name)
			if err != nil {
				return err
			}
			link := f.CreateLinkForWebui(args[0], strings.Join(args[1:], " "))
			if a.jsonOutput {
				return a.outputJSON(map[string]string{"tracker": name, "link": link})
			}
			fmt.Fprintln(a.stdout, link)
			return nil
		},
	}
}
