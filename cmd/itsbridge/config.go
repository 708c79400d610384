package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steveyegge/itsbridge/internal/config"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: "setup",
		Short:   "Show and edit the configuration",
	}
	cmd.AddCommand(
		a.newConfigShowCmd(),
		a.newConfigGetCmd(),
		a.newConfigSetCmd(),
		a.newConfigSetSecretCmd(),
		a.newConfigDeleteSecretCmd(),
	)
	return cmd
}

func (a *app) newConfigShowCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.jsonOutput {
				format = config.FormatJSON
			}
			return a.store.Render(a.stdout, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", config.FormatYAML, "Output format: yaml, toml or json")
	return cmd
}

func (a *app) newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := a.store.GetConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.outputJSON(map[string]string{"key": args[0], "value": value})
			}
			fmt.Fprintln(a.stdout, value)
			return nil
		},
	}
}

func (a *app) newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value and save the config file",
		Example: `  itsbridge config set tracker bugzilla
  itsbridge config set bugzilla.url https://bugzilla.example.com`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if isSecretKey(args[0]) {
				return fmt.Errorf("%s is a secret; use 'itsbridge config set-secret %s'", args[0], args[0])
			}
			if err := a.store.SetConfig(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			a.printNormal("Set %s in %s\n", args[0], a.store.Path())
			return nil
		},
	}
}

func (a *app) newConfigSetSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-secret KEY",
		Short: "Store a password, token or certificate in the system keyring",
		Long: `Store a secret in the system keyring under KEY (e.g. bugzilla.password).
The value is prompted for without echo, or read from stdin when stdin is not
a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, err := a.readSecret(key)
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value for %s", key)
			}
			if err := a.secrets.Set(key, value); err != nil {
				return err
			}
			a.printNormal("Stored %s in the keyring\n", key)
			return nil
		},
	}
}

func (a *app) newConfigDeleteSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-secret KEY",
		Short: "Remove a secret from the system keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.secrets.Delete(args[0]); err != nil {
				return err
			}
			a.printNormal("Removed %s from the keyring\n", args[0])
			return nil
		},
	}
}

// readSecret prompts on the terminal without echo, or reads one line from
// stdin.
func (a *app) readSecret(key string) (string, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(a.stderr, "%s: ", key)
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.stderr)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", key, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading %s from stdin: %w", key, err)
	}
	return strings.TrimSpace(line), nil
}

func isSecretKey(key string) bool {
	last := key[strings.LastIndex(key, ".")+1:]
	switch strings.ToLower(last) {
	case "password", "token", "certificate":
		return true
	}
	return false
}
