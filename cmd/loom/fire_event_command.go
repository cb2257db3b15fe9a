package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/dispatch"
	"loom/internal/engine"
)

func newFireEventCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "fire-event <startup|heartbeat|shutdown>",
		Short:     "Fire a dispatcher event once",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{dispatch.EventStartup, dispatch.EventHeartbeat, dispatch.EventShutdown},
		RunE: func(cmd *cobra.Command, args []string) error {
			event := strings.TrimSpace(args[0])
			return cctx.withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				result := eng.FireEvent(ctx, event)
				fmt.Fprintf(cmd.OutOrStdout(), "event %s: ran %d, skipped %d\n",
					event, result.ActionsRun, result.ActionsSkipped)
				for _, msg := range result.Errors {
					fmt.Fprintf(cmd.OutOrStdout(), "  error: %s\n", msg)
				}
				if !result.Success {
					return fmt.Errorf("event %s finished with failures", event)
				}
				return nil
			})
		},
	}
}
