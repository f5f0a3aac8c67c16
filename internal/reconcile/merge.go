package reconcile

import (
	"sort"

	"github.com/suPer8Hu/support-widget/internal/chat"
)

type MergeResult struct {
	Messages []chat.Message
	// Conflicts counts ids present in both inputs whose fingerprints differ.
	Conflicts int
}

func (r MergeResult) HasConflicts() bool { return r.Conflicts > 0 }

// SmartMerge unions live and persisted by message id and orders the result by
// timestamp. It reports whether any id carried divergent content.
func SmartMerge(live, persisted []chat.Message) ([]chat.Message, bool) {
	r := Merge(live, persisted)
	return r.Messages, r.HasConflicts()
}

// Merge is SmartMerge with the exact conflict count. For an id in both lists
// the live copy wins unless the persisted copy diverges and is strictly newer.
// Ids found in only one list are always kept.
func Merge(live, persisted []chat.Message) MergeResult {
	liveByID := fingerprintAll(live)
	persistedByID := fingerprintAll(persisted)

	merged := make([]chat.Message, 0, len(liveByID)+len(persistedByID))
	conflicts := 0

	for id, l := range liveByID {
		p, ok := persistedByID[id]
		if !ok || p.fingerprint == l.fingerprint {
			merged = append(merged, l.Message)
			continue
		}
		conflicts++
		if p.Timestamp.After(l.Timestamp) {
			merged = append(merged, p.Message)
		} else {
			merged = append(merged, l.Message)
		}
	}
	for id, p := range persistedByID {
		if _, ok := liveByID[id]; !ok {
			merged = append(merged, p.Message)
		}
	}

	sortMessages(merged)
	return MergeResult{Messages: merged, Conflicts: conflicts}
}

// sortMessages orders by timestamp, falling back to id so the result does not
// depend on map iteration order.
func sortMessages(msgs []chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
