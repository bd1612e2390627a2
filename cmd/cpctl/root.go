package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/app"
	"github.com/xela07ax/spaceai-control-plane/internal/audit"
	"github.com/xela07ax/spaceai-control-plane/internal/infra"
)

func newRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "cpctl",
		Short: "Operator CLI for the automation control plane",
		Long: `cpctl works directly against the control plane stores configured in config.yaml
(or ENV overrides such as STORAGE_DRIVER, KILLSWITCH_STORE).

Examples:
  # Dry-run a trigger and write a signed simulation report
  cpctl simulate 3f1c... --payload '{"amount": 100}'

  # Decode and verify an execution token
  cpctl verify-token eyJhbGciOi...

  # Run one reconciliation window
  cpctl reconcile

  # Engage the global kill-switch
  cpctl kill global on --by alice --reason incident-42`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr at debug level")

	cmd.AddCommand(newSimulateCmd())
	cmd.AddCommand(newVerifyTokenCmd())
	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newKillCmd())
	return cmd
}

func cliLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return zap.NewNop(), nil
	}
	return infra.NewLogger(infra.LoggerConfig{Level: "debug", Format: "console"})
}

// withApp собирает ядро, выполняет fn от имени пользователя CLI и аккуратно закрывает ресурсы.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := cliLogger(cmd)
	if err != nil {
		return err
	}
	ctx := audit.WithActor(cmd.Context(), "cpctl")

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build control plane: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
