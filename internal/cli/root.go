// Package cli implements the cashbotd command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/app"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
	User       string

	// newApp builds the headless app for one-shot commands; tests swap it.
	newApp func(ctx context.Context, cfg *config.Config) (*app.App, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{
		newApp: func(ctx context.Context, cfg *config.Config) (*app.App, error) {
			return app.New(ctx, cfg, app.Options{Headless: true})
		},
	})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cashbotd",
		Short: "cashbotd - balance reconciliation daemon",
		Long: `cashbotd keeps one user's displayed balance and daily gains consistent
across the local mirror, the remote record store and peer instances.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath(), "config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", "", "user id (overrides config)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewWithdrawCommand(opts))
	cmd.AddCommand(NewCorrectCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewCredentialsCommand(opts))

	return cmd
}

func defaultConfigPath() string {
	if v := os.Getenv("CASHBOT_CONFIG"); v != "" {
		return v
	}
	return "configs/cashbot.yaml"
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if o.User != "" {
		cfg.User = o.User
	}
	return cfg, nil
}

// withUser builds a headless app, binds the user and runs fn.
func (o *RootOptions) withUser(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if cfg.User == "" {
		return NewExitError(ExitCommandError, "no user: pass --user or set user in the config")
	}

	a, err := o.newApp(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "start", err)
	}
	defer a.Close()

	return a.RunOnce(ctx, cfg.User, fn)
}
