package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "arxiv-harvest/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// ResolveMode selects how the resolver learns each month's ordinal span.
type ResolveMode string

const (
	// ResolveProbe discovers month boundaries by querying the archive.
	ResolveProbe ResolveMode = "probe"

	// ResolveFixed derives month boundaries from a caller-supplied total.
	ResolveFixed ResolveMode = "fixed"
)

// WindowConfig describes the identifier window to harvest.
type WindowConfig struct {
	StartMonth   int `json:"start_month" yaml:"start_month"`
	StartYear    int `json:"start_year" yaml:"start_year"`
	StartOrdinal int `json:"start_ordinal" yaml:"start_ordinal"`
	EndMonth     int `json:"end_month" yaml:"end_month"`
	EndYear      int `json:"end_year" yaml:"end_year"`
	EndOrdinal   int `json:"end_ordinal" yaml:"end_ordinal"`

	// Mode is "probe" or "fixed" (default "fixed").
	Mode ResolveMode `json:"mode" yaml:"mode"`

	// TotalPaper is the papers-per-month constant used by fixed mode.
	TotalPaper int `json:"total_paper" yaml:"total_paper"`

	// Offset and Count select a slice of the resolved sequence.
	// Count <= 0 selects everything after Offset.
	Offset int `json:"offset" yaml:"offset"`
	Count  int `json:"count" yaml:"count"`
}

// RetryPolicy configures retries for one pipeline stage.
//
// Exponential waits are min(BaseDelay*2^attempt, MaxDelay) plus a random
// jitter in [0, Jitter). Fixed waits are BaseDelay plus jitter.
type RetryPolicy struct {
	// MaxAttempts bounds the number of tries (default 5 when <= 0).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Unbounded retries until success or cancellation; MaxAttempts is ignored.
	Unbounded bool `json:"unbounded" yaml:"unbounded"`

	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay  time.Duration `json:"max_delay" yaml:"max_delay"`
	Jitter    time.Duration `json:"jitter" yaml:"jitter"`

	// Fixed disables exponential growth.
	Fixed bool `json:"fixed" yaml:"fixed"`
}

// PipelineConfig holds the worker-pool and queue settings for a run.
type PipelineConfig struct {
	// DownloadWorkers is the download pool size (default 3).
	DownloadWorkers int `json:"download_workers" yaml:"download_workers"`

	// ReferenceWorkers is the reference pool size (default 2).
	ReferenceWorkers int `json:"reference_workers" yaml:"reference_workers"`

	// IDQueueSize and ResultQueueSize cap in-flight identifiers between
	// stages (default twice the consuming pool size).
	IDQueueSize     int `json:"id_queue_size" yaml:"id_queue_size"`
	ResultQueueSize int `json:"result_queue_size" yaml:"result_queue_size"`

	// DownloadDelay and ReferenceDelay are slept by a worker after each
	// item it completes (default 2s).
	DownloadDelay  time.Duration `json:"download_delay" yaml:"download_delay"`
	ReferenceDelay time.Duration `json:"reference_delay" yaml:"reference_delay"`

	DownloadRetry  RetryPolicy `json:"download_retry" yaml:"download_retry"`
	ReferenceRetry RetryPolicy `json:"reference_retry" yaml:"reference_retry"`

	// SourceSuffixes lists the file suffixes kept after extraction
	// (default ".tex", ".bib").
	SourceSuffixes []string `json:"source_suffixes" yaml:"source_suffixes"`

	// Resume skips identifiers the ledger records as complete.
	Resume bool `json:"resume" yaml:"resume"`
}

// ClientConfig holds settings for the remote services.
type ClientConfig struct {
	HTTPConfig `yaml:",inline"`

	// ArxivAPIBase is the metadata query endpoint.
	ArxivAPIBase string `json:"arxiv_api_base" yaml:"arxiv_api_base"`

	// ArxivHost serves source bundles at {host}/src/{id}v{n}.
	ArxivHost string `json:"arxiv_host" yaml:"arxiv_host"`

	// SemanticAPIBase is the bibliographic graph API root.
	SemanticAPIBase string `json:"semantic_api_base" yaml:"semantic_api_base"`

	// SemanticScholarAPIKey is an optional API key for higher rate limits.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty"`

	// ArxivInterval and SemanticInterval are the minimum gaps between two
	// requests issued by one client.
	ArxivInterval    time.Duration `json:"arxiv_interval" yaml:"arxiv_interval"`
	SemanticInterval time.Duration `json:"semantic_interval" yaml:"semantic_interval"`
}

// HarvestConfig groups all settings for one harvest run.
type HarvestConfig struct {
	Window   WindowConfig   `json:"window" yaml:"window"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Clients  ClientConfig   `json:"clients" yaml:"clients"`

	// DataDir is the output root; one subdirectory per paper.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// LedgerPath is the SQLite ledger file (default <data_dir>/.ledger.db).
	LedgerPath string `json:"ledger_path" yaml:"ledger_path"`

	// PlanFile, when set, replaces resolution with a saved identifier plan.
	PlanFile string `json:"plan_file,omitempty" yaml:"plan_file,omitempty"`
}
