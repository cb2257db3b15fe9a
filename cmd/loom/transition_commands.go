package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/engine"
	"loom/internal/statemachine"
)

func newAdvanceCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <id>",
		Short: "Advance an item to the next stage in its flow",
		Long: "Advance runs the departing stage's exit and completion hooks and, when the " +
			"completion gate passes, moves the item forward. A failing gate leaves the item " +
			"in place; a rollback or redirect hook reroutes it instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cctx, cmd, args[0], statemachine.TriggerAdvance)
		},
	}
}

func newRejectCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <id>",
		Short: "Abandon an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cctx, cmd, args[0], statemachine.TriggerReject)
		},
	}
}

func runTransition(cctx *commandContext, cmd *cobra.Command, arg, trigger string) error {
	id, err := parseItemID(arg)
	if err != nil {
		return err
	}
	return cctx.withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
		path, err := eng.Transition(ctx, id, trigger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "item %d is now at %s\n", id, path)
		return nil
	})
}
