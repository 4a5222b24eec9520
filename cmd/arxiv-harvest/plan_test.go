package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/internal/pipeline"
	"github.com/pdiddy/arxiv-harvest/internal/resolve"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

// setConfig overrides viper keys for one test and restores them afterwards.
func setConfig(t *testing.T, values map[string]any) {
	t.Helper()
	for key, v := range values {
		prev := viper.Get(key)
		viper.Set(key, v)
		t.Cleanup(func() { viper.Set(key, prev) })
	}
}

func TestResolveThenReplayAppliesSelectionOnce(t *testing.T) {
	setConfig(t, map[string]any{
		"window.start_month":   4,
		"window.start_year":    2023,
		"window.start_ordinal": 1,
		"window.end_month":     4,
		"window.end_year":      2023,
		"window.end_ordinal":   10,
		"window.mode":          string(types.ResolveFixed),
		"window.offset":        4,
		"window.count":         3,
	})
	path := filepath.Join(t.TempDir(), "plan.yaml")

	var out bytes.Buffer
	resolveCmd.SetOut(&out)
	resolveCmd.SetContext(context.Background())
	require.NoError(t, resolveCmd.Flags().Set("output", path))
	t.Cleanup(func() {
		resolveCmd.SetOut(nil)
		_ = resolveCmd.Flags().Set("output", defaultPlanFile)
	})

	require.NoError(t, runResolve(resolveCmd, nil))
	assert.Contains(t, out.String(), "resolved: 10 identifiers")
	assert.Contains(t, out.String(), "selected by offset 4, count 3: 3 identifiers")

	plan, err := resolve.ReadPlan(path)
	require.NoError(t, err)
	assert.Len(t, plan.IDs, 10, "the plan keeps the whole window")

	want := []arxivid.Identifier{
		arxivid.New(4, 2023, 5),
		arxivid.New(4, 2023, 6),
		arxivid.New(4, 2023, 7),
	}

	cfg := loadHarvestConfig()
	fresh, err := newSource(cfg).Identifiers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, fresh)

	cfg.PlanFile = path
	src := newSource(cfg)
	require.IsType(t, pipeline.PlanSource{}, src)
	replayed, err := src.Identifiers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, replayed)
}
