// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs a harvest: one resolver goroutine feeds a bounded
// identifier queue, a pool of download workers fetches and unpacks every
// revision, and a pool of reference workers saves each finished paper's
// citation list. Stages stop on a tagged sentinel or on context
// cancellation and are joined in dependency order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/arxiv-harvest/internal/arxiv"
	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/internal/extract"
	"github.com/pdiddy/arxiv-harvest/internal/httputil"
	"github.com/pdiddy/arxiv-harvest/internal/ledger"
	"github.com/pdiddy/arxiv-harvest/internal/semantic"
	"github.com/pdiddy/arxiv-harvest/internal/store"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

const (
	defaultDownloadWorkers  = 3
	defaultReferenceWorkers = 2
	defaultDelay            = 2 * time.Second
)

// Archive is what a download worker needs from the archive. *arxiv.Client
// satisfies it.
type Archive interface {
	FetchWithRetry(ctx context.Context, id arxivid.Identifier, version int, policy types.RetryPolicy, notify func(attempt int, wait time.Duration, err error)) (*arxiv.Record, error)
	DownloadSource(ctx context.Context, rev arxivid.Revision, destPath string) error
}

// References is what a reference worker needs from the bibliographic API.
// *semantic.Client satisfies it.
type References interface {
	FetchReferences(ctx context.Context, id string, policy types.RetryPolicy, notify func(attempt int, wait time.Duration, err error)) ([]semantic.Reference, error)
}

// Config holds the pool sizes, queue capacities, pacing, and retry
// policies of one run. Zero values take the defaults.
type Config struct {
	DownloadWorkers  int
	ReferenceWorkers int
	IDQueueSize      int
	ResultQueueSize  int
	DownloadDelay    time.Duration
	ReferenceDelay   time.Duration
	DownloadPolicy   types.RetryPolicy
	ReferencePolicy  types.RetryPolicy
	SourceSuffixes   []string
	Resume           bool
}

// ConfigFrom converts the file/flag configuration. Negative delays are
// treated as zero.
func ConfigFrom(c types.PipelineConfig) Config {
	return Config{
		DownloadWorkers:  c.DownloadWorkers,
		ReferenceWorkers: c.ReferenceWorkers,
		IDQueueSize:      c.IDQueueSize,
		ResultQueueSize:  c.ResultQueueSize,
		DownloadDelay:    max(c.DownloadDelay, 0),
		ReferenceDelay:   max(c.ReferenceDelay, 0),
		DownloadPolicy:   c.DownloadRetry,
		ReferencePolicy:  c.ReferenceRetry,
		SourceSuffixes:   c.SourceSuffixes,
		Resume:           c.Resume,
	}
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DownloadWorkers:  defaultDownloadWorkers,
		ReferenceWorkers: defaultReferenceWorkers,
		DownloadDelay:    defaultDelay,
		ReferenceDelay:   defaultDelay,
		DownloadPolicy:   httputil.DownloadPolicy(),
		ReferencePolicy:  httputil.ReferencePolicy(),
		SourceSuffixes:   extract.DefaultSuffixes,
	}
}

func (c Config) withDefaults() Config {
	if c.DownloadWorkers <= 0 {
		c.DownloadWorkers = defaultDownloadWorkers
	}
	if c.ReferenceWorkers <= 0 {
		c.ReferenceWorkers = defaultReferenceWorkers
	}
	if c.IDQueueSize <= 0 {
		c.IDQueueSize = 2 * c.DownloadWorkers
	}
	if c.ResultQueueSize <= 0 {
		c.ResultQueueSize = 2 * c.ReferenceWorkers
	}
	if c.DownloadPolicy == (types.RetryPolicy{}) {
		c.DownloadPolicy = httputil.DownloadPolicy()
	}
	if c.ReferencePolicy == (types.RetryPolicy{}) {
		c.ReferencePolicy = httputil.ReferencePolicy()
	}
	if len(c.SourceSuffixes) == 0 {
		c.SourceSuffixes = extract.DefaultSuffixes
	}
	return c
}

// Deps are the collaborators of a run. NewArchive and NewReferences are
// called once per worker so no client is shared between goroutines.
// Ledger and Out may be nil.
type Deps struct {
	Source        Source
	NewArchive    func() Archive
	NewReferences func() References
	Layout        store.Layout
	Ledger        *ledger.Ledger
	Logger        *slog.Logger
	Out           io.Writer
}

// kind tags queue messages so the end-of-stream marker can never be
// mistaken for an identifier.
type kind int

const (
	kindPaper kind = iota
	kindDone
)

type message struct {
	kind kind
	id   arxivid.Identifier
}

var done = message{kind: kindDone}

// send blocks until m is queued or ctx ends.
func send(ctx context.Context, ch chan<- message, m message) error {
	select {
	case ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receive blocks until a message arrives or ctx ends.
func receive(ctx context.Context, ch <-chan message) (message, error) {
	select {
	case m := <-ch:
		return m, nil
	case <-ctx.Done():
		return message{}, ctx.Err()
	}
}

// Pipeline is one configured harvest run. Run may be called once.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	out    *syncWriter

	stages [numStages]atomic.Int32
	stats  counters

	// refSentinels counts end markers consumed by the reference pool;
	// drained is closed once it reaches the download pool size.
	refSentinels atomic.Int32
	drained      chan struct{}
	drainOnce    sync.Once
}

// New validates deps and builds a pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Source == nil {
		return nil, errors.New("pipeline: no identifier source")
	}
	if deps.NewArchive == nil || deps.NewReferences == nil {
		return nil, errors.New("pipeline: client factories are required")
	}
	if deps.Layout.Root == "" {
		return nil, errors.New("pipeline: output root is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	out := deps.Out
	if out == nil {
		out = io.Discard
	}
	return &Pipeline{
		cfg:     cfg.withDefaults(),
		deps:    deps,
		logger:  logger,
		out:     &syncWriter{w: out},
		drained: make(chan struct{}),
	}, nil
}

// Config returns the effective configuration after defaults.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run executes the harvest and blocks until every stage has exited. It
// returns the source's error if resolution failed, or ctx.Err() if the
// run was cancelled; in both cases the counters reflect the work done.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	ids := make(chan message, p.cfg.IDQueueSize)
	results := make(chan message, p.cfg.ResultQueueSize)

	for s := range p.stages {
		p.stages[s].Store(int32(StateRunning))
	}

	var resolver, downloaders, referencers errgroup.Group

	resolver.Go(func() error {
		defer p.setState(StageResolve, StateDone)
		return p.produce(ctx, ids)
	})

	var exited atomic.Int32
	for w := range p.cfg.DownloadWorkers {
		downloaders.Go(func() error {
			defer func() {
				if int(exited.Add(1)) == p.cfg.DownloadWorkers {
					p.setState(StageDownload, StateDone)
				}
			}()
			return p.downloadWorker(ctx, w+1, ids, results)
		})
	}

	for w := range p.cfg.ReferenceWorkers {
		referencers.Go(func() error {
			return p.referenceWorker(ctx, w+1, results)
		})
	}

	resolverErr := resolver.Wait()
	downloadErr := downloaders.Wait()
	referenceErr := referencers.Wait()
	p.setState(StageReferences, StateDone)

	res := p.stats.result()
	if pf, ok := p.deps.Source.(interface{ ProbeFailures() int }); ok {
		res.ProbeFailures = pf.ProbeFailures()
	}
	res.Elapsed = time.Since(start)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if resolverErr != nil {
		return res, fmt.Errorf("resolving identifiers: %w", resolverErr)
	}
	return res, errors.Join(downloadErr, referenceErr)
}

// produce resolves the identifiers, queues them, then queues one end
// marker per download worker. The markers are sent even when resolution
// fails so the workers still drain.
func (p *Pipeline) produce(ctx context.Context, out chan<- message) error {
	logger := p.logger.With("stage", string(StageResolve))

	ids, err := p.deps.Source.Identifiers(ctx)
	if err != nil {
		logger.Error("resolving identifiers", "error", err)
	} else {
		p.stats.resolved.Store(int64(len(ids)))
		fmt.Fprintf(p.out, "resolved: %d identifiers\n", len(ids))
		for _, id := range ids {
			if sendErr := send(ctx, out, message{kind: kindPaper, id: id}); sendErr != nil {
				return sendErr
			}
			p.stats.queued.Add(1)
		}
	}

	p.setState(StageResolve, StateDraining)
	for range p.cfg.DownloadWorkers {
		if sendErr := send(ctx, out, done); sendErr != nil {
			return sendErr
		}
	}
	return err
}

// syncWriter serializes progress lines from concurrent workers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(b)
}
