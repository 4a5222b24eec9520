// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package semantic

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the graph has no paper for the identifier.
	ErrNotFound = errors.New("not found in Semantic Scholar")

	// ErrRateLimited indicates an HTTP 429 response.
	ErrRateLimited = errors.New("Semantic Scholar rate limit exceeded")
)

// APIError reports any other non-200 response.
type APIError struct {
	StatusCode int
	PaperID    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Semantic Scholar API returned HTTP %d (paper: %s)", e.StatusCode, e.PaperID)
}

// IsNotFound reports whether err is a definitive absence.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}

// IsRateLimited reports whether err is a throttling response.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
