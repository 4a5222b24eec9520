// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package arxiv

import (
	"errors"
	"fmt"

	"github.com/pdiddy/arxiv-harvest/internal/httputil"
)

// ErrNotFound indicates the archive has no record for the identifier.
var ErrNotFound = errors.New("not found in arXiv")

// StatusError reports a non-200 response from an arXiv endpoint.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("arXiv returned HTTP %d for %s", e.StatusCode, e.URL)
}

// IsNotFound reports whether err means the paper or revision does not exist.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 404
	}
	return false
}

// IsThrottled reports whether err is an HTTP 429 or 503 response.
func IsThrottled(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return httputil.IsThrottledStatus(se.StatusCode)
	}
	return false
}
