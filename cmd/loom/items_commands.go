package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/engine"
	"loom/internal/items"
)

func newItemsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Inspect and create work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newItemsListCommand(ctx))
	cmd.AddCommand(newItemsAddCommand(ctx))
	cmd.AddCommand(newItemsShowCommand(ctx))
	return cmd
}

func newItemsListCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withStore(cmd.Context(), func(ctx context.Context, store *items.Store) error {
				all, err := store.List(ctx)
				if err != nil {
					return err
				}
				if len(all) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no work items")
					return nil
				}

				rows := make([][]string, 0, len(all))
				for _, item := range all {
					pr := "-"
					if item.PRNumber != 0 {
						pr = fmt.Sprintf("#%d", item.PRNumber)
					}
					rows = append(rows, []string{
						fmt.Sprintf("%d", item.ID),
						item.Title,
						stageLabel(item.DotPath),
						item.DotPath,
						item.Flow,
						pr,
						formatAge(item.LastAdvancedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Stage", "Dot-Path", "Flow", "PR", "Last Advance"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newItemsAddCommand(cctx *commandContext) *cobra.Command {
	var flow string
	var intakeKey string
	var deps []int64

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a work item at its flow's entry stage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args, " "))
			return cctx.withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				item, err := eng.Intake(ctx, intakeKey, title, flow, deps)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created item %d at %s (flow %s)\n",
					item.ID, item.DotPath, item.Flow)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flow, "flow", "", "Flow to run the item through (default: configured default flow)")
	cmd.Flags().StringVar(&intakeKey, "key", "", "Intake key for idempotent creation (e.g. a tracker issue ref)")
	cmd.Flags().Int64SliceVar(&deps, "dep", nil, "Item IDs this item waits on (repeatable)")
	return cmd
}

func newItemsShowCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one item with its transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return cctx.withStore(cmd.Context(), func(ctx context.Context, store *items.Store) error {
				item, err := store.GetByID(ctx, id)
				if err != nil {
					return err
				}
				if item == nil {
					return fmt.Errorf("item %d not found", id)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "#%d %s\n", item.ID, item.Title)
				fmt.Fprintf(out, "  stage:    %s (%s)\n", stageLabel(item.DotPath), item.DotPath)
				fmt.Fprintf(out, "  flow:     %s\n", item.Flow)
				if item.Branch != "" {
					fmt.Fprintf(out, "  branch:   %s\n", item.Branch)
				}
				if item.PRNumber != 0 {
					fmt.Fprintf(out, "  pr:       #%d\n", item.PRNumber)
				}
				if item.Worktree != "" {
					fmt.Fprintf(out, "  worktree: %s\n", item.Worktree)
				}
				if len(item.Deps) > 0 {
					fmt.Fprintf(out, "  deps:     %v\n", item.Deps)
				}

				history, err := store.History(ctx, item.ID)
				if err != nil {
					return err
				}
				if len(history) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(history))
				for _, tr := range history {
					rows = append(rows, []string{
						tr.At.Local().Format("2006-01-02 15:04"),
						tr.FromPath,
						tr.ToPath,
						tr.Kind,
						tr.Reason,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"When", "From", "To", "Kind", "Reason"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}
