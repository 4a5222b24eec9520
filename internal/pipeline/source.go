// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/internal/resolve"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

// Source produces the identifiers a run harvests, in queue order.
type Source interface {
	Identifiers(ctx context.Context) ([]arxivid.Identifier, error)
}

// StaticSource is a fixed identifier list.
type StaticSource []arxivid.Identifier

// Identifiers returns the list.
func (s StaticSource) Identifiers(context.Context) ([]arxivid.Identifier, error) {
	return s, nil
}

// WindowSource resolves a configured window and applies its offset/count
// selection.
type WindowSource struct {
	Resolver *resolve.Resolver
	Window   types.WindowConfig
}

// Identifiers resolves the window.
func (s WindowSource) Identifiers(ctx context.Context) ([]arxivid.Identifier, error) {
	ids, err := s.Resolver.Resolve(ctx, s.Window)
	if err != nil {
		return nil, err
	}
	return resolve.Select(ids, s.Window.Offset, s.Window.Count), nil
}

// ProbeFailures reports the resolver's abandoned probes.
func (s WindowSource) ProbeFailures() int {
	return s.Resolver.ProbeFailures()
}

// PlanSource replays a plan file written by the resolve command. The plan
// holds the full window, so Offset and Count select from it the same way
// WindowSource selects from a fresh resolution.
type PlanSource struct {
	Path   string
	Offset int
	Count  int
}

// Identifiers reads the plan and applies the selection.
func (s PlanSource) Identifiers(context.Context) ([]arxivid.Identifier, error) {
	plan, err := resolve.ReadPlan(s.Path)
	if err != nil {
		return nil, err
	}
	ids, err := plan.Identifiers()
	if err != nil {
		return nil, err
	}
	return resolve.Select(ids, s.Offset, s.Count), nil
}
