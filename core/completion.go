package core

// CompletionStatus aggregates per-participant completion marks. It is derived
// by counting completion_marked events against the human roster; the
// assistant seat does not vote.
type CompletionStatus struct {
	CompletedIDs []string `json:"completed_ids"`
	Total        int      `json:"total"`
	AllComplete  bool     `json:"all_complete"`
}

// AggregateCompletion folds completion_marked events into a CompletionStatus.
// Repeated marks by the same participant count once.
func AggregateCompletion(events []ConversationEvent, roster Roster) CompletionStatus {
	humans := roster.Humans()
	seen := make(map[string]bool, len(humans))
	var ids []string
	for _, ev := range events {
		if ev.Type != EventCompletionMarked {
			continue
		}
		cp, ok := ev.Payload.(CompletionPayload)
		if !ok || seen[cp.ParticipantID] || !humans.Contains(cp.ParticipantID) {
			continue
		}
		seen[cp.ParticipantID] = true
		ids = append(ids, cp.ParticipantID)
	}
	return CompletionStatus{
		CompletedIDs: ids,
		Total:        len(humans),
		AllComplete:  len(humans) > 0 && len(ids) == len(humans),
	}
}
