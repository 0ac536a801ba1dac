package custody

// ComputeActivityStats aggregates a case chain. EventsByType always carries
// every activity type, zero when unseen.
func ComputeActivityStats(caseID string, events []Event) ActivityStats {
	st := ActivityStats{
		CaseID:       caseID,
		TotalEvents:  len(events),
		EventsByType: make(map[ActivityType]int, len(ActivityTypes)),
	}
	for _, t := range ActivityTypes {
		st.EventsByType[t] = 0
	}

	files := map[string]struct{}{}
	users := map[string]struct{}{}
	for _, e := range events {
		st.EventsByType[e.ActivityType]++
		files[e.FileHash] = struct{}{}
		users[e.UserID] = struct{}{}
	}
	st.UniqueFiles = len(files)
	st.UniqueUsers = len(users)
	return st
}
