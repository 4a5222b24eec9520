// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package resolve enumerates the arXiv identifiers inside a month/ordinal
// window, either by probing the archive for month boundaries or by
// deriving them from a fixed per-month total.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/internal/httputil"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

// Oracle answers whether an identifier exists. A definitive absence is
// (false, nil); anything else that prevents an answer is an error.
type Oracle interface {
	Exists(ctx context.Context, id arxivid.Identifier) (bool, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, id arxivid.Identifier) (bool, error)

// Exists calls f.
func (f OracleFunc) Exists(ctx context.Context, id arxivid.Identifier) (bool, error) {
	return f(ctx, id)
}

// Window is the inclusive month range to enumerate. The first month starts
// at StartOrdinal and the last month ends at EndOrdinal.
type Window struct {
	StartMonth   int
	StartYear    int
	StartOrdinal int
	EndMonth     int
	EndYear      int
	EndOrdinal   int
}

// WindowFromConfig copies the window fields out of the run configuration.
func WindowFromConfig(c types.WindowConfig) Window {
	return Window{
		StartMonth:   c.StartMonth,
		StartYear:    c.StartYear,
		StartOrdinal: c.StartOrdinal,
		EndMonth:     c.EndMonth,
		EndYear:      c.EndYear,
		EndOrdinal:   c.EndOrdinal,
	}
}

// Validate checks month numbers, ordinal bounds, and that the window does
// not end before it starts.
func (w Window) Validate() error {
	if w.StartMonth < 1 || w.StartMonth > 12 {
		return fmt.Errorf("start month %d out of range 1..12", w.StartMonth)
	}
	if w.EndMonth < 1 || w.EndMonth > 12 {
		return fmt.Errorf("end month %d out of range 1..12", w.EndMonth)
	}
	if w.StartYear < arxivid.FiveDigitYear || w.EndYear < arxivid.FiveDigitYear {
		return fmt.Errorf("windows must start in %d or later, when ordinals became five digits", arxivid.FiveDigitYear)
	}
	if w.StartOrdinal < 1 || w.StartOrdinal > arxivid.MaxOrdinal {
		return fmt.Errorf("start ordinal %d out of range 1..%d", w.StartOrdinal, arxivid.MaxOrdinal)
	}
	if w.EndOrdinal < 1 || w.EndOrdinal > arxivid.MaxOrdinal {
		return fmt.Errorf("end ordinal %d out of range 1..%d", w.EndOrdinal, arxivid.MaxOrdinal)
	}
	if w.EndYear*12+w.EndMonth < w.StartYear*12+w.StartMonth {
		return errors.New("window ends before it starts")
	}
	return nil
}

// month is one calendar month within a window.
type month struct {
	year, month int
	first, last bool
}

func (w Window) months() []month {
	var out []month
	startIdx := w.StartYear*12 + (w.StartMonth - 1)
	endIdx := w.EndYear*12 + (w.EndMonth - 1)
	for i := startIdx; i <= endIdx; i++ {
		out = append(out, month{
			year:  i / 12,
			month: i%12 + 1,
			first: i == startIdx,
			last:  i == endIdx,
		})
	}
	return out
}

// Resolver enumerates identifiers against an Oracle. It is used by a
// single goroutine.
type Resolver struct {
	oracle Oracle
	policy types.RetryPolicy
	logger *slog.Logger

	probeFailures atomic.Int64
}

// NewResolver creates a Resolver. A nil logger discards log output.
func NewResolver(oracle Oracle, policy types.RetryPolicy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		oracle: oracle,
		policy: policy,
		logger: logger.With("stage", "resolve"),
	}
}

// ProbeFailures returns how many probes were given up on and treated as
// absent. A non-zero count means some month may be under-counted.
func (r *Resolver) ProbeFailures() int {
	return int(r.probeFailures.Load())
}

// exists probes one ordinal. Transport errors are retried under the probe
// policy; if they persist the ordinal is treated as absent and counted.
func (r *Resolver) exists(ctx context.Context, year, mon, ordinal int) bool {
	id := arxivid.New(mon, year, ordinal)
	var found bool
	err := httputil.Retry(ctx, r.policy, func(error) bool { return true },
		func(attempt int, wait time.Duration, err error) {
			r.logger.Debug("probe retry", "paper", id.String(), "attempt", attempt, "wait", wait, "error", err)
		},
		func(ctx context.Context) error {
			var probeErr error
			found, probeErr = r.oracle.Exists(ctx, id)
			return probeErr
		})
	if err != nil {
		if ctx.Err() == nil {
			r.probeFailures.Add(1)
			r.logger.Warn("probe failed, treating as absent", "paper", id.String(), "error", err)
		}
		return false
	}
	return found
}

// FindFirst returns the first existing ordinal in the month. It doubles a
// probe until one exists, then binary-searches the gap. It returns false
// when nothing exists up to MaxOrdinal.
func (r *Resolver) FindFirst(ctx context.Context, year, mon int) (int, bool) {
	if r.exists(ctx, year, mon, 1) {
		return 1, true
	}
	lo, hi := 1, 2
	for !r.exists(ctx, year, mon, hi) {
		if hi == arxivid.MaxOrdinal || ctx.Err() != nil {
			return 0, false
		}
		lo = hi
		hi = min(hi*2, arxivid.MaxOrdinal)
	}
	// lo is absent, hi exists.
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if r.exists(ctx, year, mon, mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, true
}

// FindLast returns the last existing ordinal in the month, searching
// upward from from, which must exist. It doubles the distance until a probe
// is missing, then binary-searches the gap. It returns MaxOrdinal when every
// probe up to the bound exists and false when from itself does not exist.
func (r *Resolver) FindLast(ctx context.Context, year, mon, from int) (int, bool) {
	from = max(from, 1)
	if from > arxivid.MaxOrdinal || !r.exists(ctx, year, mon, from) {
		return 0, false
	}
	if from == arxivid.MaxOrdinal {
		return from, true
	}
	lo, hi := from, min(from*2, arxivid.MaxOrdinal)
	for r.exists(ctx, year, mon, hi) {
		if hi == arxivid.MaxOrdinal {
			return arxivid.MaxOrdinal, true
		}
		lo = hi
		hi = min(hi*2, arxivid.MaxOrdinal)
	}
	// lo exists, hi is absent.
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if r.exists(ctx, year, mon, mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, true
}

// All enumerates the window by probing each interior month's boundaries.
// The first and last months use the window's own ordinals.
func (r *Resolver) All(ctx context.Context, w Window) ([]arxivid.Identifier, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	var ids []arxivid.Identifier
	for _, m := range w.months() {
		start, end := w.StartOrdinal, w.EndOrdinal
		if !m.first {
			first, ok := r.FindFirst(ctx, m.year, m.month)
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				r.logger.Info("month has no identifiers", "year", m.year, "month", m.month)
				continue
			}
			start = first
		}
		if !m.last {
			last, ok := r.FindLast(ctx, m.year, m.month, start)
			if !ok && m.first && ctx.Err() == nil {
				// The window may start below the month's first identifier.
				if first, found := r.FindFirst(ctx, m.year, m.month); found && first > start {
					start = first
					last, ok = r.FindLast(ctx, m.year, m.month, first)
				}
			}
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				continue
			}
			end = last
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids = appendRange(ids, m, start, end)
		r.logger.Debug("month resolved", "year", m.year, "month", m.month, "first", start, "last", end)
	}
	return ids, nil
}

// Network enumerates the window assuming every month holds totalPaper
// identifiers. Months other than the last end at
// totalPaper - EndOrdinal + StartOrdinal - 1; months other than the first
// start at 1.
func (r *Resolver) Network(ctx context.Context, w Window, totalPaper int) ([]arxivid.Identifier, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if totalPaper <= 0 {
		return nil, fmt.Errorf("total paper count must be positive, got %d", totalPaper)
	}
	monthEnd := FixedMonthEnd(totalPaper, w.StartOrdinal, w.EndOrdinal)

	var ids []arxivid.Identifier
	for _, m := range w.months() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, end := 1, monthEnd
		if m.first {
			start = w.StartOrdinal
		}
		if m.last {
			end = w.EndOrdinal
		}
		ids = appendRange(ids, m, start, end)
	}
	return ids, nil
}

// Resolve dispatches on the configured mode.
func (r *Resolver) Resolve(ctx context.Context, cfg types.WindowConfig) ([]arxivid.Identifier, error) {
	w := WindowFromConfig(cfg)
	switch cfg.Mode {
	case types.ResolveProbe:
		return r.All(ctx, w)
	case types.ResolveFixed, "":
		return r.Network(ctx, w, cfg.TotalPaper)
	default:
		return nil, fmt.Errorf("unknown resolve mode %q", cfg.Mode)
	}
}

// FixedMonthEnd is the last ordinal of a non-final month in fixed-total mode.
func FixedMonthEnd(totalPaper, startOrdinal, endOrdinal int) int {
	return min(totalPaper-endOrdinal+startOrdinal-1, arxivid.MaxOrdinal)
}

// appendRange adds start..end for the month; an inverted range adds nothing.
func appendRange(ids []arxivid.Identifier, m month, start, end int) []arxivid.Identifier {
	for n := start; n <= end; n++ {
		ids = append(ids, arxivid.New(m.month, m.year, n))
	}
	return ids
}

// Select returns ids[offset:offset+count], clamped to the slice. A count
// of zero or less selects everything after offset.
func Select(ids []arxivid.Identifier, offset, count int) []arxivid.Identifier {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil
	}
	end := len(ids)
	if count > 0 && offset+count < end {
		end = offset + count
	}
	return ids[offset:end]
}
