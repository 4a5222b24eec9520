package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/internal/audit"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Audit the data directory against the configured window",
	Long: `Check scans the data directory and reports missing identifiers,
directories outside the window, and papers without metadata.json or
references.json. It exits non-zero when the window is not complete.

When --offset or --count is set, or a plan is given with --plan, check
audits the same selection a run would harvest instead of the whole window.
Without a plan, probe mode resolves the window again to find it.`,
	RunE: runCheck,
}

func init() {
	f := checkCmd.Flags()
	f.Int("limit", 50, "maximum identifiers printed per list (0 = all)")
	f.String("plan", "", "audit the selection of this plan file")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg := loadHarvestConfig()
	limit, _ := cmd.Flags().GetInt("limit")
	if plan, _ := cmd.Flags().GetString("plan"); plan != "" {
		cfg.PlanFile = plan
	}

	report, err := runAudit(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	report.Write(cmd.OutOrStdout(), limit)
	if !report.Complete() {
		return errors.New("window is incomplete")
	}
	return nil
}

// runAudit checks the data directory against the selection a run with cfg
// harvests, or the full window when nothing narrows it.
func runAudit(ctx context.Context, cfg types.HarvestConfig) (audit.Report, error) {
	if !selected(cfg) {
		w := cfg.Window
		from := arxivid.New(w.StartMonth, w.StartYear, w.StartOrdinal)
		to := arxivid.New(w.EndMonth, w.EndYear, w.EndOrdinal)
		return audit.Check(cfg.DataDir, from, to)
	}
	ids, err := newSource(cfg).Identifiers(ctx)
	if err != nil {
		return audit.Report{}, err
	}
	return audit.CheckSelection(cfg.DataDir, ids)
}

// selected reports whether a run with cfg harvests less than the full
// configured window.
func selected(cfg types.HarvestConfig) bool {
	return cfg.PlanFile != "" || cfg.Window.Offset > 0 || cfg.Window.Count > 0
}
