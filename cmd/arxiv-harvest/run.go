package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/arxiv-harvest/internal/arxiv"
	"github.com/pdiddy/arxiv-harvest/internal/httputil"
	"github.com/pdiddy/arxiv-harvest/internal/ledger"
	"github.com/pdiddy/arxiv-harvest/internal/pipeline"
	"github.com/pdiddy/arxiv-harvest/internal/resolve"
	"github.com/pdiddy/arxiv-harvest/internal/semantic"
	"github.com/pdiddy/arxiv-harvest/internal/store"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest sources, metadata, and references for a window",
	Long: `Run resolves the configured identifier window (or replays a saved plan)
and harvests every paper in it. Each paper gets a directory named by its
storage key containing metadata.json, references.json, and one tex/
subdirectory per available revision.

Progress is printed per paper; the run ends with a batch summary. With
--resume, papers the ledger records as complete are skipped.`,
	RunE: runHarvest,
}

func init() {
	f := runCmd.Flags()
	f.String("plan", "", "replay identifiers from a plan file instead of resolving")
	f.Int("download-workers", 0, "download pool size (default 3)")
	f.Int("reference-workers", 0, "reference pool size (default 2)")
	f.Duration("download-delay", 0, "pause after each paper in a download worker (default 2s)")
	f.Duration("reference-delay", 0, "pause after each paper in a reference worker (default 2s)")
	f.Bool("resume", false, "skip papers the ledger records as complete")
	f.Bool("unbounded-references", false, "retry reference lookups until they succeed or the run is interrupted")
	f.String("semantic-api-key", "", "Semantic Scholar API key (default from .secrets/semantic-scholar-api-key)")
	f.Duration("timeout", 0, "HTTP request timeout (default 60s)")

	bindFlags(f, map[string]string{
		"plan_file":                          "plan",
		"pipeline.download_workers":          "download-workers",
		"pipeline.reference_workers":         "reference-workers",
		"pipeline.download_delay":            "download-delay",
		"pipeline.reference_delay":           "reference-delay",
		"pipeline.resume":                    "resume",
		"pipeline.reference_retry.unbounded": "unbounded-references",
		"clients.semantic_scholar_api_key":   "semantic-api-key",
		"clients.timeout":                    "timeout",
	})

	rootCmd.AddCommand(runCmd)
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg := loadHarvestConfig()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer l.Close()

	p, err := pipeline.New(pipeline.ConfigFrom(cfg.Pipeline), pipeline.Deps{
		Source: newSource(cfg),
		NewArchive: func() pipeline.Archive {
			return arxiv.NewClientFromConfig(cfg.Clients, cfg.Pipeline.DownloadRetry)
		},
		NewReferences: func() pipeline.References {
			return semantic.NewClientFromConfig(cfg.Clients)
		},
		Layout: store.Layout{Root: cfg.DataDir},
		Ledger: l,
		Logger: logger,
		Out:    out,
	})
	if err != nil {
		return err
	}

	logger.Info("starting harvest",
		"data_dir", cfg.DataDir,
		"download_workers", p.Config().DownloadWorkers,
		"reference_workers", p.Config().ReferenceWorkers,
		"resume", cfg.Pipeline.Resume)

	result, err := p.Run(ctx)
	result.Summary(out)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d paper(s) failed", result.Failed)
	}
	return nil
}

// newSource picks the identifier source: a saved plan when one is
// configured, otherwise the resolver over the configured window.
func newSource(cfg types.HarvestConfig) pipeline.Source {
	if cfg.PlanFile != "" {
		return pipeline.PlanSource{Path: cfg.PlanFile, Offset: cfg.Window.Offset, Count: cfg.Window.Count}
	}
	return pipeline.WindowSource{Resolver: newResolver(cfg), Window: cfg.Window}
}

func newResolver(cfg types.HarvestConfig) *resolve.Resolver {
	oracle := arxiv.NewClientFromConfig(cfg.Clients, httputil.ProbePolicy())
	return resolve.NewResolver(oracle, httputil.ProbePolicy(), logger)
}
