// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Result summarizes a run.
type Result struct {
	Resolved          int
	Queued            int
	Downloaded        int
	Skipped           int
	Failed            int
	RevisionsFetched  int
	RevisionsSkipped  int
	ReferencesSaved   int
	ReferencesFailed  int
	ReferencesDropped int
	ProbeFailures     int
	Elapsed           time.Duration
}

// Total returns the number of papers taken off the identifier queue.
func (r Result) Total() int {
	return r.Downloaded + r.Skipped + r.Failed
}

// HasFailures reports whether any paper or reference lookup failed.
func (r Result) HasFailures() bool {
	return r.Failed > 0 || r.ReferencesFailed > 0
}

// Summary prints the end-of-run summary.
func (r Result) Summary(w io.Writer) {
	fmt.Fprintf(w, "\nBatch summary: %d downloaded, %d skipped, %d failed (total: %d of %d resolved)\n",
		r.Downloaded, r.Skipped, r.Failed, r.Total(), r.Resolved)
	fmt.Fprintf(w, "Revisions: %d extracted, %d skipped\n", r.RevisionsFetched, r.RevisionsSkipped)
	fmt.Fprintf(w, "References: %d saved, %d failed, %d citations without arXiv ID dropped\n",
		r.ReferencesSaved, r.ReferencesFailed, r.ReferencesDropped)
	if r.ProbeFailures > 0 {
		fmt.Fprintf(w, "Warning: %d existence probes failed; some months may be short\n", r.ProbeFailures)
	}
	fmt.Fprintf(w, "Elapsed: %s\n", r.Elapsed.Round(time.Millisecond))
}

// counters are shared by every worker of a run.
type counters struct {
	resolved          atomic.Int64
	queued            atomic.Int64
	downloaded        atomic.Int64
	skipped           atomic.Int64
	failed            atomic.Int64
	revisionsFetched  atomic.Int64
	revisionsSkipped  atomic.Int64
	referencesSaved   atomic.Int64
	referencesFailed  atomic.Int64
	referencesDropped atomic.Int64
}

func (c *counters) result() Result {
	return Result{
		Resolved:          int(c.resolved.Load()),
		Queued:            int(c.queued.Load()),
		Downloaded:        int(c.downloaded.Load()),
		Skipped:           int(c.skipped.Load()),
		Failed:            int(c.failed.Load()),
		RevisionsFetched:  int(c.revisionsFetched.Load()),
		RevisionsSkipped:  int(c.revisionsSkipped.Load()),
		ReferencesSaved:   int(c.referencesSaved.Load()),
		ReferencesFailed:  int(c.referencesFailed.Load()),
		ReferencesDropped: int(c.referencesDropped.Load()),
	}
}
