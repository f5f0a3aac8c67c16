package reconcile

import "github.com/suPer8Hu/support-widget/internal/chat"

const DefaultCorruptionThreshold = 5

type CorruptionReport struct {
	Corrupted      bool     `json:"corrupted"`
	LiveCount      int      `json:"live_count"`
	PersistedCount int      `json:"persisted_count"`
	Reasons        []string `json:"reasons,omitempty"`
}

// DetectCorruption is an advisory health check over both stores. It never
// changes either of them.
func DetectCorruption(live, persisted []chat.Message, threshold int) CorruptionReport {
	if threshold <= 0 {
		threshold = DefaultCorruptionThreshold
	}
	r := CorruptionReport{LiveCount: len(live), PersistedCount: len(persisted)}

	diff := len(live) - len(persisted)
	if diff < 0 {
		diff = -diff
	}
	if diff > threshold {
		r.Reasons = append(r.Reasons, "count_skew")
	}

	if hasMissingID(live) || hasMissingID(persisted) {
		r.Reasons = append(r.Reasons, "missing_id")
	}

	// Overlap between the lists is expected; fewer unique ids than the
	// longer list means one list repeats an id.
	unique := make(map[string]struct{}, len(live)+len(persisted))
	for _, m := range live {
		unique[m.ID] = struct{}{}
	}
	for _, m := range persisted {
		unique[m.ID] = struct{}{}
	}
	if len(unique) < max(len(live), len(persisted)) {
		r.Reasons = append(r.Reasons, "duplicate_id")
	}

	r.Corrupted = len(r.Reasons) > 0
	return r
}

func hasMissingID(msgs []chat.Message) bool {
	for _, m := range msgs {
		if m.ID == "" {
			return true
		}
	}
	return false
}
