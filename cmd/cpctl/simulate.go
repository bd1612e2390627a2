package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-control-plane/internal/app"
)

func newSimulateCmd() *cobra.Command {
	var payloadJSON string

	cmd := &cobra.Command{
		Use:   "simulate <trigger-id>",
		Short: "Evaluate policy for a trigger without starting it and store a signed report",
		Long: `Evaluate the current policy rules against the trigger and payload, then write a
signed simulation report. High-safety triggers need a report whose policy evaluation
allowed the start before they can be started.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{}
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				t, err := a.Registry.Get(ctx, args[0])
				if err != nil {
					return err
				}
				report, err := a.Simulation.DryRun(ctx, t, payload)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "start payload as a JSON object")
	return cmd
}
