// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package arxivid models new-style arXiv identifiers (YYMM.NNNNN), their
// revisions, and the YYYYMM-NNNNN storage keys used as directory names.
package arxivid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxOrdinal is the largest ordinal a five-digit identifier can carry.
const MaxOrdinal = 99999

// FiveDigitYear is the first year whose identifiers carry five-digit
// ordinals. Earlier new-style identifiers use four.
const FiveDigitYear = 2015

// idPattern matches "2304.07856", "arXiv:2304.07856", "2304.07856v2" and
// the four-digit ordinals used before 2015 ("0704.0001").
var idPattern = regexp.MustCompile(`^(?i:arXiv:)?(\d{2})(\d{2})\.(\d{4,5})(?:v(\d+))?$`)

// keyPattern matches storage keys: "202304-07856".
var keyPattern = regexp.MustCompile(`^(\d{4})(\d{2})-(\d{5})$`)

// versionSuffix matches a trailing revision suffix.
var versionSuffix = regexp.MustCompile(`v\d+$`)

// Identifier names one paper: year, month, and ordinal within the month.
type Identifier struct {
	Year    int
	Month   int
	Ordinal int
}

// New returns the identifier for the given month, year, and ordinal.
func New(month, year, ordinal int) Identifier {
	return Identifier{Year: year, Month: month, Ordinal: ordinal}
}

// String renders the identifier as YYMM.NNNNN, or YYMM.NNNN before 2015.
func (id Identifier) String() string {
	if id.Year < FiveDigitYear {
		return fmt.Sprintf("%02d%02d.%04d", id.Year%100, id.Month, id.Ordinal)
	}
	return fmt.Sprintf("%02d%02d.%05d", id.Year%100, id.Month, id.Ordinal)
}

// Key renders the storage key YYYYMM-NNNNN.
func (id Identifier) Key() string {
	return fmt.Sprintf("%04d%02d-%05d", id.Year, id.Month, id.Ordinal)
}

// Less orders identifiers by year, month, then ordinal.
func (id Identifier) Less(other Identifier) bool {
	if id.Year != other.Year {
		return id.Year < other.Year
	}
	if id.Month != other.Month {
		return id.Month < other.Month
	}
	return id.Ordinal < other.Ordinal
}

// Parse reads an identifier with optional "arXiv:" prefix and "vN" suffix.
// The returned version is 0 when no suffix is present. Two-digit years are
// expanded to 20YY.
func Parse(s string) (Identifier, int, error) {
	m := idPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Identifier{}, 0, fmt.Errorf("not a new-style arXiv identifier: %q", s)
	}
	yy, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	n, _ := strconv.Atoi(m[3])
	if mm < 1 || mm > 12 {
		return Identifier{}, 0, fmt.Errorf("invalid month %02d in %q", mm, s)
	}
	version := 0
	if m[4] != "" {
		version, _ = strconv.Atoi(m[4])
	}
	return Identifier{Year: 2000 + yy, Month: mm, Ordinal: n}, version, nil
}

// ParseKey reads a storage key back into an identifier.
func ParseKey(key string) (Identifier, error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return Identifier{}, fmt.Errorf("not a storage key: %q", key)
	}
	y, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	n, _ := strconv.Atoi(m[3])
	if mm < 1 || mm > 12 {
		return Identifier{}, fmt.Errorf("invalid month %02d in %q", mm, key)
	}
	return Identifier{Year: y, Month: mm, Ordinal: n}, nil
}

// IsKey reports whether s has the storage-key format.
func IsKey(s string) bool {
	_, err := ParseKey(s)
	return err == nil
}

// FormatKey converts an identifier string such as "2304.07856" or
// "2304.07856v3" to its storage key. It returns false for anything that
// is not a new-style identifier (old archive/NNNNNNN forms included).
func FormatKey(s string) (string, bool) {
	id, _, err := Parse(s)
	if err != nil {
		return "", false
	}
	return id.Key(), true
}

// StripVersion removes a trailing "vN" revision suffix.
func StripVersion(s string) string {
	return versionSuffix.ReplaceAllString(strings.TrimSpace(s), "")
}

// Revision is one version of a paper's source bundle.
type Revision struct {
	ID      Identifier
	Version int
}

// String renders the revision as YYMM.NNNNNvN.
func (r Revision) String() string {
	return fmt.Sprintf("%sv%d", r.ID, r.Version)
}

// Revisions returns revisions 1..latest in ascending order.
func Revisions(id Identifier, latest int) []Revision {
	revs := make([]Revision, 0, latest)
	for v := 1; v <= latest; v++ {
		revs = append(revs, Revision{ID: id, Version: v})
	}
	return revs
}
