package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-control-plane/internal/app"
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

func newKillCmd() *cobra.Command {
	var by, reason string

	cmd := &cobra.Command{
		Use:   "kill <global|trigger> [trigger-id] <on|off>",
		Short: "Engage or release a kill-switch",
		Long: `Toggle the global kill-switch or the kill-switch of one trigger.
The change is audited with --by as the actor.

Examples:
  cpctl kill global on --by alice --reason incident-42
  cpctl kill trigger 3f1c... off --by alice`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if by == "" {
				return fmt.Errorf("--by is required")
			}
			target, id, state := args[0], "", args[len(args)-1]
			switch {
			case target == "global" && len(args) == 2:
			case target == "trigger" && len(args) == 3:
				id = args[1]
			default:
				return fmt.Errorf("usage: kill global <on|off> | kill trigger <id> <on|off>")
			}
			on, err := parseOnOff(state)
			if err != nil {
				return err
			}

			actor := domain.Actor{By: by, Reason: reason}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var st domain.KillSwitchState
				if id == "" {
					st, err = a.KillSwitch.SetGlobalKill(ctx, on, actor)
				} else {
					st, err = a.KillSwitch.SetTriggerKill(ctx, id, on, actor)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "operator performing the change (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "free-form reason stored with the change")
	return cmd
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("state must be on or off, got %q", s)
}
