// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

// Plan is a resolved identifier sequence saved to disk so a run can be
// replayed without probing the archive again. IDs hold the whole window;
// the offset/count selection is applied when the plan is replayed.
type Plan struct {
	Window     types.WindowConfig `yaml:"window"`
	ResolvedAt time.Time          `yaml:"resolved_at"`

	// ProbeFailures is copied from the resolver; non-zero means some month
	// may be short.
	ProbeFailures int      `yaml:"probe_failures"`
	IDs           []string `yaml:"ids"`
}

// NewPlan builds a plan from resolved identifiers.
func NewPlan(window types.WindowConfig, ids []arxivid.Identifier, probeFailures int) Plan {
	p := Plan{
		Window:        window,
		ResolvedAt:    time.Now().UTC(),
		ProbeFailures: probeFailures,
		IDs:           make([]string, len(ids)),
	}
	for i, id := range ids {
		p.IDs[i] = id.String()
	}
	return p
}

// Identifiers parses the plan's identifier strings.
func (p Plan) Identifiers() ([]arxivid.Identifier, error) {
	ids := make([]arxivid.Identifier, 0, len(p.IDs))
	for i, s := range p.IDs {
		id, _, err := arxivid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("plan entry %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// WritePlan writes p as YAML to path, creating parent directories.
func WritePlan(path string, p Plan) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating plan directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadPlan loads a plan written by WritePlan.
func ReadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("reading plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("parsing plan %s: %w", path, err)
	}
	return p, nil
}
