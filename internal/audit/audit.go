// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package audit inspects a harvest output directory and reports which
// identifiers of a window are missing, which directories fall outside it,
// and which papers lack their metadata or reference files.
package audit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/internal/store"
)

// Report is the result of Check.
type Report struct {
	From, To arxivid.Identifier

	// Present is every storage-key directory found, in identifier order.
	Present []arxivid.Identifier

	// OrdinalsIncrease is false when the same ordinal appears under two
	// different months.
	OrdinalsIncrease bool

	// Missing lists identifiers of the window with no directory. In
	// months after the first, the expected range ends at the highest
	// ordinal present, since the true month end is not known offline.
	Missing []arxivid.Identifier

	OutOfRange []arxivid.Identifier

	// Incomplete lists in-range papers without metadata.json or
	// references.json.
	Incomplete []arxivid.Identifier
}

// Complete reports whether the window is fully and cleanly harvested.
func (r Report) Complete() bool {
	return len(r.Present) > 0 && len(r.Missing) == 0 && len(r.Incomplete) == 0
}

// Check scans root and compares it against the window [from, to].
func Check(root string, from, to arxivid.Identifier) (Report, error) {
	if to.Less(from) {
		return Report{}, fmt.Errorf("audit: window end %s precedes start %s", to, from)
	}
	r, err := scan(root, func(id arxivid.Identifier) bool { return inWindow(id, from, to) })
	if err != nil {
		return Report{}, err
	}
	r.From, r.To = from, to

	maxInMonth := map[[2]int]int{}
	have := make(map[arxivid.Identifier]bool, len(r.Present))
	for _, id := range r.Present {
		if inWindow(id, from, to) {
			have[id] = true
			month := [2]int{id.Year, id.Month}
			maxInMonth[month] = max(maxInMonth[month], id.Ordinal)
		}
	}

	for year, month := from.Year, from.Month; year < to.Year || (year == to.Year && month <= to.Month); {
		first := year == from.Year && month == from.Month
		last := year == to.Year && month == to.Month

		lo := 1
		if first {
			lo = from.Ordinal
		}
		hi := maxInMonth[[2]int{year, month}]
		if last {
			hi = to.Ordinal
		}
		for n := lo; n <= hi; n++ {
			id := arxivid.New(month, year, n)
			if !have[id] {
				r.Missing = append(r.Missing, id)
			}
		}

		month++
		if month > 12 {
			month, year = 1, year+1
		}
	}

	sort.Slice(r.Missing, func(i, j int) bool { return r.Missing[i].Less(r.Missing[j]) })
	return r, nil
}

// CheckSelection scans root and compares it against an explicit identifier
// list, such as the offset/count slice of a window a run harvested.
// Directories not in the list are reported out of range.
func CheckSelection(root string, expected []arxivid.Identifier) (Report, error) {
	if len(expected) == 0 {
		return Report{}, errors.New("audit: selection is empty")
	}
	want := make(map[arxivid.Identifier]bool, len(expected))
	from, to := expected[0], expected[0]
	for _, id := range expected {
		want[id] = true
		if id.Less(from) {
			from = id
		}
		if to.Less(id) {
			to = id
		}
	}

	r, err := scan(root, func(id arxivid.Identifier) bool { return want[id] })
	if err != nil {
		return Report{}, err
	}
	r.From, r.To = from, to

	have := make(map[arxivid.Identifier]bool, len(r.Present))
	for _, id := range r.Present {
		have[id] = true
	}
	for _, id := range expected {
		if !have[id] {
			r.Missing = append(r.Missing, id)
		}
	}
	sort.Slice(r.Missing, func(i, j int) bool { return r.Missing[i].Less(r.Missing[j]) })
	return r, nil
}

// scan lists root and fills Present, OrdinalsIncrease, OutOfRange, and
// Incomplete. inScope decides which directories belong to the audit.
func scan(root string, inScope func(arxivid.Identifier) bool) (Report, error) {
	present, err := store.Scan(root)
	if err != nil {
		return Report{}, err
	}

	r := Report{Present: present, OrdinalsIncrease: true}
	layout := store.Layout{Root: root}
	seenOrdinal := make(map[int]bool, len(present))

	for _, id := range present {
		if seenOrdinal[id.Ordinal] {
			r.OrdinalsIncrease = false
		}
		seenOrdinal[id.Ordinal] = true

		if !inScope(id) {
			r.OutOfRange = append(r.OutOfRange, id)
			continue
		}
		if !complete(layout, id) {
			r.Incomplete = append(r.Incomplete, id)
		}
	}
	return r, nil
}

func inWindow(id, from, to arxivid.Identifier) bool {
	return !id.Less(from) && !to.Less(id)
}

func complete(layout store.Layout, id arxivid.Identifier) bool {
	for _, path := range []string{layout.MetadataPath(id), layout.ReferencesPath(id)} {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return false
		}
	}
	return true
}

// Write prints the report. Each identifier list is cut off after limit
// entries; limit <= 0 prints everything.
func (r Report) Write(w io.Writer, limit int) {
	if len(r.Present) == 0 {
		fmt.Fprintln(w, "No paper directories found.")
		return
	}

	fmt.Fprintf(w, "Found %d paper directories.\n", len(r.Present))
	fmt.Fprintf(w, "Ordinals strictly increasing: %t\n", r.OrdinalsIncrease)
	fmt.Fprintf(w, "Expected: %s .. %s\n", r.From, r.To)
	fmt.Fprintf(w, "Present:  %s .. %s\n", r.Present[0], r.Present[len(r.Present)-1])

	writeList(w, "Missing", "No missing identifiers in range.", r.Missing, limit)
	writeList(w, "Out-of-range", "No out-of-range identifiers.", r.OutOfRange, limit)
	writeList(w, "Incomplete", "Every paper has metadata and references.", r.Incomplete, limit)
}

func writeList(w io.Writer, label, empty string, ids []arxivid.Identifier, limit int) {
	if len(ids) == 0 {
		fmt.Fprintln(w, empty)
		return
	}
	shown := ids
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	parts := make([]string, len(shown))
	for i, id := range shown {
		parts[i] = id.String()
	}
	line := fmt.Sprintf("%s (%d): %s", label, len(ids), strings.Join(parts, ", "))
	if len(shown) < len(ids) {
		line += " ..."
	}
	fmt.Fprintln(w, line)
}
