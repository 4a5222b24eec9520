// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/internal/extract"
	"github.com/pdiddy/arxiv-harvest/internal/httputil"
	"github.com/pdiddy/arxiv-harvest/internal/ledger"
	"github.com/pdiddy/arxiv-harvest/internal/store"
)

// downloadWorker consumes identifiers until it receives an end marker,
// which it forwards to the reference queue before returning. Per-paper
// failures are logged and never end the loop.
func (p *Pipeline) downloadWorker(ctx context.Context, worker int, in <-chan message, out chan<- message) error {
	client := p.deps.NewArchive()
	logger := p.logger.With("stage", string(StageDownload), "worker", worker)
	processed := 0

	for {
		m, err := receive(ctx, in)
		if err != nil {
			return err
		}
		if m.kind == kindDone {
			p.setState(StageDownload, StateDraining)
			logger.Debug("worker finished", "processed", processed)
			return send(ctx, out, m)
		}

		plog := logger.With("paper", m.id.String())

		forward, skip := p.resumeCheck(ctx, m.id, plog)
		if skip {
			p.stats.skipped.Add(1)
			fmt.Fprintf(p.out, "skipped: %s (already complete)\n", m.id)
			continue
		}
		if forward {
			p.stats.skipped.Add(1)
			fmt.Fprintf(p.out, "skipped: %s (downloaded, references pending)\n", m.id)
			if err := send(ctx, out, m); err != nil {
				return err
			}
			continue
		}

		ok := p.downloadPaper(ctx, client, m.id, plog)
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok {
			processed++
			if err := send(ctx, out, m); err != nil {
				return err
			}
		}
		if err := httputil.Sleep(ctx, p.cfg.DownloadDelay); err != nil {
			return err
		}
	}
}

// resumeCheck consults the ledger when resuming. skip means both stages
// already succeeded; forward means only the reference stage remains.
func (p *Pipeline) resumeCheck(ctx context.Context, id arxivid.Identifier, logger *slog.Logger) (forward, skip bool) {
	if !p.cfg.Resume || p.deps.Ledger == nil {
		return false, false
	}
	row, found, err := p.deps.Ledger.Get(ctx, id)
	if err != nil {
		logger.Warn("reading ledger", "error", err)
		return false, false
	}
	if !found || !row.Downloaded() {
		return false, false
	}
	if _, err := os.Stat(p.deps.Layout.MetadataPath(id)); err != nil {
		return false, false
	}
	if row.Completed() {
		return false, true
	}
	return true, false
}

// downloadPaper runs every download step for one paper and reports
// whether metadata was saved.
func (p *Pipeline) downloadPaper(ctx context.Context, client Archive, id arxivid.Identifier, logger *slog.Logger) bool {
	fmt.Fprintf(p.out, "downloading: %s\n", id)
	outcome := ledger.Outcome{ID: id}

	notify := func(attempt int, wait time.Duration, err error) {
		logger.Warn("archive busy, backing off", "attempt", attempt, "wait", wait.Round(time.Millisecond), "error", err)
	}

	latest, err := client.FetchWithRetry(ctx, id, 0, p.cfg.DownloadPolicy, notify)
	if err != nil {
		return p.failPaper(ctx, &outcome, fmt.Errorf("fetching latest record: %w", err), logger)
	}
	outcome.LatestVersion = max(latest.Version(), 1)

	for v := 1; v < outcome.LatestVersion; v++ {
		if _, err := client.FetchWithRetry(ctx, id, v, p.cfg.DownloadPolicy, notify); err != nil {
			return p.failPaper(ctx, &outcome, fmt.Errorf("fetching record v%d: %w", v, err), logger)
		}
	}

	for _, rev := range arxivid.Revisions(id, outcome.LatestVersion) {
		if ctx.Err() != nil {
			return false
		}
		if p.fetchRevision(ctx, client, rev, logger.With("revision", rev.Version)) {
			outcome.Revisions++
			p.stats.revisionsFetched.Add(1)
		} else {
			outcome.RevisionsFailed++
			p.stats.revisionsSkipped.Add(1)
		}
	}
	if ctx.Err() != nil {
		return false
	}

	if err := p.deps.Layout.WriteMetadata(id, store.NewMetadata(latest)); err != nil {
		return p.failPaper(ctx, &outcome, fmt.Errorf("saving metadata: %w", err), logger)
	}

	p.record(ctx, outcome, logger)
	p.stats.downloaded.Add(1)
	fmt.Fprintf(p.out, "downloaded: %s (%d/%d revisions)\n", id, outcome.Revisions, outcome.LatestVersion)
	return true
}

func (p *Pipeline) failPaper(ctx context.Context, outcome *ledger.Outcome, err error, logger *slog.Logger) bool {
	if ctx.Err() != nil {
		return false
	}
	outcome.Err = err
	p.stats.failed.Add(1)
	logger.Error("skipping paper", "error", err)
	fmt.Fprintf(p.out, "failed:  %s (%v)\n", outcome.ID, err)
	p.record(ctx, *outcome, logger)
	return false
}

func (p *Pipeline) record(ctx context.Context, outcome ledger.Outcome, logger *slog.Logger) {
	if p.deps.Ledger == nil {
		return
	}
	if err := p.deps.Ledger.RecordDownload(ctx, outcome); err != nil {
		logger.Warn("updating ledger", "error", err)
	}
}

// fetchRevision downloads, validates, extracts, and prunes one revision.
// The downloaded bundle is always removed. It reports whether the
// revision's sources were extracted.
func (p *Pipeline) fetchRevision(ctx context.Context, client Archive, rev arxivid.Revision, logger *slog.Logger) bool {
	dir := p.deps.Layout.SourceDir(rev)
	bundle := p.deps.Layout.ArchivePath(rev)

	if err := client.DownloadSource(ctx, rev, bundle); err != nil {
		if ctx.Err() == nil {
			logger.Warn("source unavailable", "error", err)
		}
		return false
	}
	discard := false
	defer func() {
		if err := os.Remove(bundle); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("removing bundle", "error", err)
		}
		if !discard {
			return
		}
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("removing source directory", "error", err)
		}
	}()

	if !extract.IsArchive(bundle) {
		logger.Warn("not a tar archive, discarding")
		discard = true
		return false
	}

	stats, extractErr := extract.Archive(bundle, dir, logger)
	if extractErr != nil {
		logger.Warn("extraction stopped early", "error", extractErr, "extracted", stats.Extracted)
	}

	removed, err := extract.Cleanup(dir, p.cfg.SourceSuffixes)
	if err != nil {
		logger.Warn("pruning non-source files", "error", err)
	}
	logger.Debug("revision extracted",
		"extracted", stats.Extracted, "skipped", stats.Skipped, "failed", stats.Failed, "pruned", removed)
	return extractErr == nil || stats.Extracted > 0
}
