package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/pipeline"
)

func newFlowsCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "Show configured flows and their expanded stage order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cctx.configValue()
			resolver, err := pipeline.NewResolver(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range resolver.FlowNames() {
				paths, err := resolver.FlowPaths(name)
				if err != nil {
					return err
				}
				marker := ""
				if name == cfg.Workflow.DefaultFlow {
					marker = " (default)"
				}
				fmt.Fprintf(out, "%s%s:\n", name, marker)

				labels := make([]string, 0, len(paths))
				for _, p := range paths {
					label := p.String()
					switch {
					case resolver.IsRedirectOnly(p):
						label += " [redirect-only]"
					case resolver.IsHumanReview(p):
						label += " [human review]"
					case resolver.IsParkingLot(p):
						label += " [parking lot]"
					}
					labels = append(labels, label)
				}
				fmt.Fprintf(out, "  %s\n", strings.Join(labels, " -> "))
			}
			return nil
		},
	}
}
