package scoring

import (
	"sort"
	"time"
)

// Candidate is one scored outreach item considered for ranking.
type Candidate struct {
	ItemID         string
	InvestorID     string
	Firm           string
	Score          int
	LastActivityAt time.Time
}

// Rank orders candidates best-first: higher score wins, equal scores go
// to the investor with more recent public activity, and remaining ties
// fall back to item id so the order is stable across runs.
func Rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if !cands[i].LastActivityAt.Equal(cands[j].LastActivityAt) {
			return cands[i].LastActivityAt.After(cands[j].LastActivityAt)
		}
		return cands[i].ItemID < cands[j].ItemID
	})
}
