// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/internal/httputil"
	"github.com/pdiddy/arxiv-harvest/internal/semantic"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

// referenceWorker consumes finished papers. The pool as a whole runs until
// it has consumed one end marker per download worker, so it terminates for
// any pair of pool sizes: a worker that takes a marker keeps going unless
// that marker was the last one, which releases every idle worker.
func (p *Pipeline) referenceWorker(ctx context.Context, worker int, in <-chan message) error {
	client := p.deps.NewReferences()
	logger := p.logger.With("stage", string(StageReferences), "worker", worker)
	processed := 0

	for {
		var m message
		select {
		case m = <-in:
		case <-p.drained:
			logger.Debug("worker finished", "processed", processed)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		if m.kind == kindDone {
			if int(p.refSentinels.Add(1)) >= p.cfg.DownloadWorkers {
				p.setState(StageReferences, StateDraining)
				p.drainOnce.Do(func() { close(p.drained) })
			}
			continue
		}

		p.saveReferences(ctx, client, m.id, logger.With("paper", m.id.String()))
		if err := ctx.Err(); err != nil {
			return err
		}
		processed++
		if err := httputil.Sleep(ctx, p.cfg.ReferenceDelay); err != nil {
			return err
		}
	}
}

// saveReferences fetches, converts, and writes one paper's references.
// references.json is written even when the fetch fails, as an empty map.
func (p *Pipeline) saveReferences(ctx context.Context, client References, id arxivid.Identifier, logger *slog.Logger) {
	notify := func(attempt int, wait time.Duration, err error) {
		logger.Warn("reference lookup failed, retrying", "attempt", attempt, "wait", wait.Round(time.Millisecond), "error", err)
	}

	entries := map[string]types.ReferenceEntry{}
	raw, fetchErr := client.FetchReferences(ctx, id.String(), p.cfg.ReferencePolicy, notify)
	if fetchErr != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("fetching references", "error", fetchErr)
	} else {
		var dropped int
		entries, dropped = semantic.Convert(raw)
		p.stats.referencesDropped.Add(int64(dropped))
	}

	if err := p.deps.Layout.WriteReferences(id, entries); err != nil {
		logger.Error("saving references", "error", err)
		fetchErr = fmt.Errorf("saving references: %w", err)
	}

	if fetchErr != nil {
		p.stats.referencesFailed.Add(1)
		fmt.Fprintf(p.out, "references failed: %s (%v)\n", id, fetchErr)
	} else {
		p.stats.referencesSaved.Add(1)
		fmt.Fprintf(p.out, "references: %s (%d saved)\n", id, len(entries))
	}

	if p.deps.Ledger != nil {
		if err := p.deps.Ledger.RecordReferences(ctx, id, len(entries), fetchErr); err != nil {
			logger.Warn("updating ledger", "error", err)
		}
	}
}
