// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// PaperMetadata is the metadata.json record written once per paper from
// the latest revision's archive record.
type PaperMetadata struct {
	// ArxivID is the identifier without version suffix (e.g. "2304.07856").
	ArxivID string `json:"arxiv_id" yaml:"arxiv_id"`

	// Title is the whitespace-trimmed paper title.
	Title string `json:"paper_title" yaml:"paper_title"`

	// Authors lists author names in archive order.
	Authors []string `json:"authors" yaml:"authors"`

	// SubmissionDate is the first-version date formatted as YYYY-MM-DD.
	SubmissionDate string `json:"submission_date" yaml:"submission_date"`

	// RevisedDates holds the last-updated date when it differs from the
	// submission date; empty otherwise.
	RevisedDates []string `json:"revised_dates" yaml:"revised_dates"`

	// LatestVersion is the highest revision number known to the archive.
	LatestVersion int `json:"latest_version" yaml:"latest_version"`

	// Categories lists the category tags (e.g. "cs.CL").
	Categories []string `json:"categories" yaml:"categories"`

	Abstract string `json:"abstract" yaml:"abstract"`

	// PDFURLs holds one PDF link per revision, oldest first.
	PDFURLs []string `json:"pdf_urls" yaml:"pdf_urls"`

	// PublicationVenue is the author comment, or null when absent.
	PublicationVenue *string `json:"publication_venue" yaml:"publication_venue"`

	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`
}

// ReferenceEntry is one value in references.json, keyed by the cited
// paper's storage key.
type ReferenceEntry struct {
	Title   string   `json:"title" yaml:"title"`
	Authors []string `json:"authors" yaml:"authors"`

	// SubmissionDate is the publication date, a synthesized YEAR-01-01, or "".
	SubmissionDate string `json:"submission_date" yaml:"submission_date"`

	// RevisedDates is always empty; the bibliographic API has no revision history.
	RevisedDates []string `json:"revised_dates" yaml:"revised_dates"`

	DOI     string `json:"doi,omitempty" yaml:"doi,omitempty"`
	ArxivID string `json:"arxiv_id,omitempty" yaml:"arxiv_id,omitempty"`
	Venue   string `json:"venue,omitempty" yaml:"venue,omitempty"`
	Year    int    `json:"year,omitempty" yaml:"year,omitempty"`
}
