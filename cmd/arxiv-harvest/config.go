package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pdiddy/arxiv-harvest/internal/arxiv"
	"github.com/pdiddy/arxiv-harvest/internal/extract"
	"github.com/pdiddy/arxiv-harvest/internal/httputil"
	"github.com/pdiddy/arxiv-harvest/internal/secrets"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "arxiv-harvest/0.1"
	defaultDataDir   = "data"
	ledgerFile       = ".ledger.db"
)

// bindFlags maps viper keys to flags so a flag overrides the config file
// and the environment.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func setDefaults() {
	viper.SetDefault("data_dir", defaultDataDir)

	viper.SetDefault("window.start_month", 4)
	viper.SetDefault("window.start_year", 2023)
	viper.SetDefault("window.start_ordinal", 7856)
	viper.SetDefault("window.end_month", 5)
	viper.SetDefault("window.end_year", 2023)
	viper.SetDefault("window.end_ordinal", 4606)
	viper.SetDefault("window.mode", string(types.ResolveFixed))
	viper.SetDefault("window.total_paper", 15000)

	viper.SetDefault("pipeline.download_workers", 3)
	viper.SetDefault("pipeline.reference_workers", 2)
	viper.SetDefault("pipeline.download_delay", 2*time.Second)
	viper.SetDefault("pipeline.reference_delay", 2*time.Second)
	viper.SetDefault("pipeline.source_suffixes", extract.DefaultSuffixes)
	setRetryDefaults("pipeline.download_retry", httputil.DownloadPolicy())
	setRetryDefaults("pipeline.reference_retry", httputil.ReferencePolicy())

	viper.SetDefault("clients.timeout", defaultTimeout)
	viper.SetDefault("clients.user_agent", defaultUserAgent)
	viper.SetDefault("clients.arxiv_interval", arxiv.DefaultInterval)
	viper.SetDefault("clients.semantic_interval", time.Second)
}

func setRetryDefaults(prefix string, p types.RetryPolicy) {
	viper.SetDefault(prefix+".max_attempts", p.MaxAttempts)
	viper.SetDefault(prefix+".unbounded", p.Unbounded)
	viper.SetDefault(prefix+".base_delay", p.BaseDelay)
	viper.SetDefault(prefix+".max_delay", p.MaxDelay)
	viper.SetDefault(prefix+".jitter", p.Jitter)
	viper.SetDefault(prefix+".fixed", p.Fixed)
}

func retryPolicy(prefix string) types.RetryPolicy {
	return types.RetryPolicy{
		MaxAttempts: viper.GetInt(prefix + ".max_attempts"),
		Unbounded:   viper.GetBool(prefix + ".unbounded"),
		BaseDelay:   viper.GetDuration(prefix + ".base_delay"),
		MaxDelay:    viper.GetDuration(prefix + ".max_delay"),
		Jitter:      viper.GetDuration(prefix + ".jitter"),
		Fixed:       viper.GetBool(prefix + ".fixed"),
	}
}

// loadHarvestConfig assembles the run configuration from flags, the
// environment, the config file, and .secrets/, in that precedence.
func loadHarvestConfig() types.HarvestConfig {
	dataDir := viper.GetString("data_dir")
	ledgerPath := viper.GetString("ledger_path")
	if ledgerPath == "" {
		ledgerPath = filepath.Join(dataDir, ledgerFile)
	}

	return types.HarvestConfig{
		Window: types.WindowConfig{
			StartMonth:   viper.GetInt("window.start_month"),
			StartYear:    viper.GetInt("window.start_year"),
			StartOrdinal: viper.GetInt("window.start_ordinal"),
			EndMonth:     viper.GetInt("window.end_month"),
			EndYear:      viper.GetInt("window.end_year"),
			EndOrdinal:   viper.GetInt("window.end_ordinal"),
			Mode:         types.ResolveMode(viper.GetString("window.mode")),
			TotalPaper:   viper.GetInt("window.total_paper"),
			Offset:       viper.GetInt("window.offset"),
			Count:        viper.GetInt("window.count"),
		},
		Pipeline: types.PipelineConfig{
			DownloadWorkers:  viper.GetInt("pipeline.download_workers"),
			ReferenceWorkers: viper.GetInt("pipeline.reference_workers"),
			IDQueueSize:      viper.GetInt("pipeline.id_queue_size"),
			ResultQueueSize:  viper.GetInt("pipeline.result_queue_size"),
			DownloadDelay:    viper.GetDuration("pipeline.download_delay"),
			ReferenceDelay:   viper.GetDuration("pipeline.reference_delay"),
			DownloadRetry:    retryPolicy("pipeline.download_retry"),
			ReferenceRetry:   retryPolicy("pipeline.reference_retry"),
			SourceSuffixes:   viper.GetStringSlice("pipeline.source_suffixes"),
			Resume:           viper.GetBool("pipeline.resume"),
		},
		Clients: types.ClientConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout: viper.GetDuration("clients.timeout"),
				UserAgent: secrets.UserAgent(
					viper.GetString("clients.user_agent"),
					loadedSecrets.Get(secrets.ContactEmail, viper.GetString("clients.contact_email")),
				),
			},
			ArxivAPIBase:          viper.GetString("clients.arxiv_api_base"),
			ArxivHost:             viper.GetString("clients.arxiv_host"),
			SemanticAPIBase:       viper.GetString("clients.semantic_api_base"),
			SemanticScholarAPIKey: loadedSecrets.Get(secrets.SemanticScholarAPIKey, viper.GetString("clients.semantic_scholar_api_key")),
			ArxivInterval:         viper.GetDuration("clients.arxiv_interval"),
			SemanticInterval:      viper.GetDuration("clients.semantic_interval"),
		},
		DataDir:    dataDir,
		LedgerPath: ledgerPath,
		PlanFile:   viper.GetString("plan_file"),
	}
}
