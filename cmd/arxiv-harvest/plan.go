package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/arxiv-harvest/internal/resolve"
)

const defaultPlanFile = "plan.yaml"

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the identifier window and save it as a plan",
	Long: `Resolve enumerates the configured window, in probe or fixed mode, and
writes the full resolved identifier sequence to a YAML plan file. "run --plan"
replays the plan without probing the archive again, applying --offset and
--count at replay time.`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringP("output", "o", defaultPlanFile, "plan file to write")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg := loadHarvestConfig()
	path, _ := cmd.Flags().GetString("output")

	resolver := newResolver(cfg)
	ids, err := resolver.Resolve(cmd.Context(), cfg.Window)
	if err != nil {
		return err
	}
	if err := resolve.WritePlan(path, resolve.NewPlan(cfg.Window, ids, resolver.ProbeFailures())); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "resolved: %d identifiers\n", len(ids))
	if len(ids) > 0 {
		fmt.Fprintf(out, "first: %s\nlast:  %s\n", ids[0], ids[len(ids)-1])
	}
	selected := resolve.Select(ids, cfg.Window.Offset, cfg.Window.Count)
	fmt.Fprintf(out, "selected by offset %d, count %d: %d identifiers\n",
		cfg.Window.Offset, cfg.Window.Count, len(selected))
	if n := resolver.ProbeFailures(); n > 0 {
		fmt.Fprintf(out, "Warning: %d existence probes failed; some months may be short\n", n)
	}
	fmt.Fprintf(out, "plan written to %s\n", path)
	return nil
}
