package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"loom/internal/items"
	"loom/internal/runstate"
)

func newStatusCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cctx.configValue()
			out := cmd.OutOrStdout()
			colorize := shouldColorize(cmd.OutOrStdout())

			daemonRunning := lockIsHeld(cfg.LockPath())
			kind := statusWarn
			message := "not running"
			if daemonRunning {
				kind = statusOK
				message = "running"
			}
			fmt.Fprintln(out, renderStatusLine("daemon", kind, message, colorize))

			state, err := runstate.Open(cfg.StateDocumentPath())
			if err == nil {
				fmt.Fprintln(out, renderStatusLine("heartbeats", statusInfo,
					fmt.Sprintf("%d", state.HeartbeatCount()), colorize))
			}
			fmt.Fprintln(out, renderStatusLine("database", statusInfo, cfg.DatabasePath(), colorize))
			fmt.Fprintln(out, renderStatusLine("lock file", statusInfo, cfg.LockPath(), colorize))

			return cctx.withStore(cmd.Context(), func(ctx context.Context, store *items.Store) error {
				all, err := store.List(ctx)
				if err != nil {
					return err
				}
				if len(all) == 0 {
					return nil
				}

				counts := map[string]int{}
				for _, item := range all {
					counts[item.DotPath]++
				}
				paths := make([]string, 0, len(counts))
				for path := range counts {
					paths = append(paths, path)
				}
				sort.Strings(paths)

				rows := make([][]string, 0, len(paths))
				for _, path := range paths {
					rows = append(rows, []string{
						stageLabel(path),
						path,
						fmt.Sprintf("%d", counts[path]),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Stage", "Dot-Path", "Items"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

// lockIsHeld probes the daemon lock without disturbing a running instance; a
// successful trial acquisition is released immediately.
func lockIsHeld(path string) bool {
	probe := flock.New(path)
	ok, err := probe.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = probe.Unlock()
		return false
	}
	return true
}
