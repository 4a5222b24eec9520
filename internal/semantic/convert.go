// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package semantic

import (
	"fmt"
	"strings"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

// Convert maps raw references to references.json entries keyed by the
// cited paper's storage key. References without an arXiv identifier, or
// whose identifier is not new-style, are dropped and counted.
func Convert(refs []Reference) (map[string]types.ReferenceEntry, int) {
	out := make(map[string]types.ReferenceEntry, len(refs))
	dropped := 0
	for _, ref := range refs {
		arxivID := strings.TrimSpace(ref.ExternalIDs.ArXiv)
		if arxivID == "" {
			dropped++
			continue
		}
		key, ok := arxivid.FormatKey(arxivID)
		if !ok {
			dropped++
			continue
		}
		out[key] = newEntry(ref, arxivID)
	}
	return out, dropped
}

func newEntry(ref Reference, arxivID string) types.ReferenceEntry {
	authors := make([]string, 0, len(ref.Authors))
	for _, a := range ref.Authors {
		if a.Name != "" {
			authors = append(authors, a.Name)
		}
	}

	date := ref.PublicationDate
	if date == "" && ref.Year > 0 {
		date = fmt.Sprintf("%d-01-01", ref.Year)
	}

	return types.ReferenceEntry{
		Title:          ref.Title,
		Authors:        authors,
		SubmissionDate: date,
		RevisedDates:   []string{},
		DOI:            ref.ExternalIDs.DOI,
		ArxivID:        arxivID,
		Venue:          ref.Venue,
		Year:           ref.Year,
	}
}
