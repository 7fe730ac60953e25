package ledger

import "sort"

// kindRank orders equal-timestamp entries: returns before sales before
// production, so the composed view is deterministic.
func kindRank(kind EntryKind) int {
	switch kind {
	case EntryReturn:
		return 0
	case EntrySale:
		return 1
	default:
		return 2
	}
}

// ComposeHistory merges heterogeneous ledger events into one chronological
// view, most recent first. The merge is pure: it copies its input and holds
// no state, so callers can rerun it against fresh snapshots at any time.
func ComposeHistory(entries []LedgerEntry) []LedgerEntry {
	merged := make([]LedgerEntry, len(entries))
	copy(merged, entries)
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.After(b.OccurredAt)
		}
		if kindRank(a.Kind) != kindRank(b.Kind) {
			return kindRank(a.Kind) < kindRank(b.Kind)
		}
		return a.RecordID < b.RecordID
	})
	return merged
}
