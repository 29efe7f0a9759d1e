package cli

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		Long: `Run the daemon: bind the configured user, sync with the remote store,
simulate sessions, follow peer instances and serve the HTTP/JSON and gRPC
endpoints until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Println("INFO: cashbotd starting...")
			a, err := app.New(ctx, cfg, app.Options{})
			if err != nil {
				return WrapExitError(ExitCommandError, "start", err)
			}
			defer a.Close()

			if err := a.Run(ctx); err != nil {
				return err
			}
			log.Println("INFO: cashbotd shutdown complete")
			return nil
		},
	}
}
