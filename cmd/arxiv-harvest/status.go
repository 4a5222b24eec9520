package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/arxiv-harvest/internal/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger totals and failed papers",
	Long: `Status reads the run ledger and prints per-stage totals as YAML. With
--failures it also lists every paper whose download or reference stage
failed, with the recorded error.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("failures", false, "list failed papers")
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Ledger            string        `yaml:"ledger"`
	Totals            ledger.Totals `yaml:"totals"`
	DownloadFailures  []ledger.Row  `yaml:"download_failures,omitempty"`
	ReferenceFailures []ledger.Row  `yaml:"reference_failures,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadHarvestConfig()
	showFailures, _ := cmd.Flags().GetBool("failures")
	ctx := cmd.Context()

	if _, err := os.Stat(cfg.LedgerPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no ledger at %s; run a harvest first", cfg.LedgerPath)
	}
	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer l.Close()

	report := statusReport{Ledger: cfg.LedgerPath}
	if report.Totals, err = l.Summary(ctx); err != nil {
		return err
	}
	if showFailures {
		if report.DownloadFailures, err = l.Failures(ctx, ledger.StageDownload); err != nil {
			return err
		}
		if report.ReferenceFailures, err = l.Failures(ctx, ledger.StageReferences); err != nil {
			return err
		}
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(report)
}
