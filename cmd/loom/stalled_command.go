package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/items"
	"loom/internal/pipeline"
)

// newStalledCommand lists items past the stall threshold without touching the
// notification cooldown; reporting stays the daemon's job.
func newStalledCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stalled",
		Short: "List items that have stopped advancing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cctx.configValue()
			resolver, err := pipeline.NewResolver(cfg)
			if err != nil {
				return err
			}
			threshold := time.Duration(cfg.Workflow.StallThresholdMin) * time.Minute

			return cctx.withStore(cmd.Context(), func(ctx context.Context, store *items.Store) error {
				all, err := store.List(ctx)
				if err != nil {
					return err
				}

				var rows [][]string
				for _, item := range all {
					path, err := pipeline.ParsePath(item.DotPath)
					if err != nil {
						continue
					}
					if resolver.IsHumanReview(path) || resolver.IsParkingLot(path) ||
						resolver.IsTerminal(item.Flow, path) {
						continue
					}
					elapsed := time.Since(item.LastAdvancedAt)
					if elapsed < threshold {
						continue
					}
					rows = append(rows, []string{
						fmt.Sprintf("%d", item.ID),
						item.Title,
						item.DotPath,
						fmt.Sprintf("%dm", int(elapsed.Minutes())),
					})
				}

				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no stalled items")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Dot-Path", "Stalled For"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}
