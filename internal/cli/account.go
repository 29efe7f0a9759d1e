package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/app"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/query"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/syncer"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the user's balance with the remote store once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout(), "en")
			return rootOpts.withUser(cmd.Context(), func(a *app.App) error {
				// Binding already ran a forced sync; this one reports.
				res := a.Syncer.SyncNow(cmd.Context(), true)
				if out.JSON() {
					if err := out.WriteJSON(map[string]interface{}{
						"outcome": res.Kind,
						"reason":  res.Reason,
						"local":   res.Local,
						"remote":  res.Remote,
						"balance": a.Ledger.Balance(),
					}); err != nil {
						return err
					}
				} else {
					out.Field("outcome", res.Kind)
					if res.Reason != "" {
						out.Field("reason", res.Reason)
					}
					out.Field("balance", out.Amount(a.Ledger.Balance()))
				}
				if res.Kind == syncer.OutcomeFailed {
					return WrapExitError(ExitRetryable, "sync failed", res.Err)
				}
				return nil
			})
		},
	}
}

// NewWithdrawCommand creates the withdraw command.
func NewWithdrawCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw",
		Short: "Reset the balance to zero and push the reset to the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout(), "en")
			return rootOpts.withUser(cmd.Context(), func(a *app.App) error {
				before := a.Ledger.Balance()
				if err := a.Ledger.Reset("withdrawal"); err != nil {
					return WrapExitError(ExitFailure, "reset", err)
				}

				pushErr := a.Syncer.PushReset(cmd.Context())
				acknowledged := pushErr == nil
				if out.JSON() {
					if err := out.WriteJSON(map[string]interface{}{
						"withdrawn":    before,
						"acknowledged": acknowledged,
					}); err != nil {
						return err
					}
				} else {
					out.Field("withdrawn", out.Amount(before))
					out.Field("acknowledged", acknowledged)
				}

				if errors.Is(pushErr, syncer.ErrResetNotAcknowledged) {
					return WrapExitError(ExitRetryable, "remote store did not acknowledge the reset", pushErr)
				}
				return pushErr
			})
		},
	}
}

// CorrectOptions holds flags for the correct command.
type CorrectOptions struct {
	*RootOptions
	Balance string
	Reason  string
}

// NewCorrectCommand creates the correct command.
func NewCorrectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CorrectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Set the balance to an exact value (administrative)",
		Long: `Set the balance to an exact value, bypassing the never-decrease merge.
The value is pushed to the remote store unconditionally.

Example:
  cashbotd correct --user alice --balance 12.50 --reason "chargeback #123"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := ledger.ParseAmount(opts.Balance)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --balance", err)
			}
			if strings.TrimSpace(opts.Reason) == "" {
				return NewExitError(ExitCommandError, "--reason is required")
			}

			out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout(), "en")
			return rootOpts.withUser(cmd.Context(), func(a *app.App) error {
				if err := a.Ledger.Correct(value, "admin: "+opts.Reason); err != nil {
					return WrapExitError(ExitFailure, "correct", err)
				}
				res := a.Syncer.SyncNow(cmd.Context(), true)
				if out.JSON() {
					if err := out.WriteJSON(map[string]interface{}{
						"balance": a.Ledger.Balance(),
						"outcome": res.Kind,
					}); err != nil {
						return err
					}
				} else {
					out.Field("balance", out.Amount(a.Ledger.Balance()))
					out.Field("outcome", res.Kind)
				}
				if a.Ledger.OverridePending() {
					return NewExitError(ExitRetryable, "correction not acknowledged by remote store")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Balance, "balance", "", "new balance")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the balance is corrected")
	cmd.MarkFlagRequired("balance")
	cmd.MarkFlagRequired("reason")

	return cmd
}

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Lang string
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the user's hydrated balance state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout(), opts.Lang)
			return rootOpts.withUser(cmd.Context(), func(a *app.App) error {
				resp := query.BalanceFromState(a.Ledger.Snapshot())
				if out.JSON() {
					return out.WriteJSON(resp)
				}
				out.Field("user", resp.UserID)
				out.Field("tier", resp.Tier)
				out.Field("balance", out.Amount(resp.Balance))
				out.Field("daily gains", fmt.Sprintf("%s / %s", out.Amount(resp.DailyGains), out.Amount(resp.DailyCap)))
				out.Field("window", resp.WindowDate)
				if resp.LastSyncedAt != nil {
					out.Field("last synced", resp.LastSyncedAt.Format("2006-01-02 15:04:05 MST"))
				} else {
					out.Field("last synced", "never")
				}
				if resp.OverridePending {
					out.Field("pending", "reset/correction not yet acknowledged")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Lang, "lang", "en", "language for number formatting (BCP 47)")
	return cmd
}
