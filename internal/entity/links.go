package entity

import (
	"sort"

	"github.com/dyluth/rally/pkg/ledger"
)

// Newer reports whether a ranks after b: later timestamp, ties broken by the
// greater create hash so that every reader holding the same links agrees.
func Newer(a, b *ledger.Link) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.CreateHash > b.CreateHash
}

// LatestLink returns the most recent link, or nil for an empty slice.
func LatestLink(links []*ledger.Link) *ledger.Link {
	var latest *ledger.Link
	for _, l := range links {
		if latest == nil || Newer(l, latest) {
			latest = l
		}
	}
	return latest
}

// SortLatestFirst returns a copy of links ordered most recent first.
func SortLatestFirst(links []*ledger.Link) []*ledger.Link {
	sorted := make([]*ledger.Link, len(links))
	copy(sorted, links)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Newer(sorted[i], sorted[j])
	})
	return sorted
}

// Targets returns the distinct link targets in order of first appearance.
func Targets(links []*ledger.Link) []ledger.Hash {
	seen := make(map[ledger.Hash]bool, len(links))
	targets := make([]ledger.Hash, 0, len(links))
	for _, l := range links {
		if seen[l.Target] {
			continue
		}
		seen[l.Target] = true
		targets = append(targets, l.Target)
	}
	return targets
}
