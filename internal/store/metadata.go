// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"fmt"

	"github.com/pdiddy/arxiv-harvest/internal/arxiv"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

// pdfBase prefixes every PDF link written to metadata.json.
var pdfBase = "http://arxiv.org/pdf/"

const dateLayout = "2006-01-02"

// NewMetadata builds the metadata.json record from the latest revision's
// archive record. PDF links cover revisions 1..latest.
func NewMetadata(rec *arxiv.Record) types.PaperMetadata {
	baseID := rec.BaseID()
	latest := max(rec.Version(), 1)

	pdfURLs := make([]string, 0, latest)
	for v := 1; v <= latest; v++ {
		pdfURLs = append(pdfURLs, fmt.Sprintf("%s%sv%d", pdfBase, baseID, v))
	}

	revised := []string{}
	if !rec.Updated.Equal(rec.Published) {
		revised = append(revised, rec.Updated.Format(dateLayout))
	}

	m := types.PaperMetadata{
		ArxivID:        baseID,
		Title:          rec.Title,
		Authors:        nonNil(rec.Authors),
		SubmissionDate: rec.Published.Format(dateLayout),
		RevisedDates:   revised,
		LatestVersion:  latest,
		Categories:     nonNil(rec.Categories),
		Abstract:       rec.Summary,
		PDFURLs:        pdfURLs,
		DOI:            rec.DOI,
	}
	if rec.Comment != "" {
		venue := rec.Comment
		m.PublicationVenue = &venue
	}
	return m
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
