package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/auth"
)

// NewCredentialsCommand creates the credentials command group.
func NewCredentialsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage secrets stored in the OS keyring",
	}
	cmd.AddCommand(newCredentialsSetCommand())
	return cmd
}

func newCredentialsSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <postgres_dsn|mirror_key>",
		Short: "Store a secret in the OS keyring",
		Long: `Store a secret in the OS keyring. The value is read from the terminal
without echo, or from stdin when it is not a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, ok := auth.ParseSecret(args[0])
			if !ok {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown secret %q", args[0]))
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Enter %s: ", secret)
			value, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr())

			if strings.TrimSpace(value) == "" {
				return NewExitError(ExitCommandError, "empty value")
			}
			if err := auth.SaveSecret(secret, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s saved to your system credential store.\n", secret)
			return nil
		},
	}
}

func readSecret(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok {
		fd := int(f.Fd())
		if term.IsTerminal(fd) {
			value, err := term.ReadPassword(fd)
			if err != nil {
				return "", err
			}
			return string(value), nil
		}
	}

	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		if len(line) == 0 {
			return "", err
		}
	}
	return strings.TrimSpace(line), nil
}
