package quiz

import (
	"github.com/spacedlabs/recall/internal/review"
	"github.com/spacedlabs/recall/internal/scheduler"
)

// aggregate folds the reviews recorded during the quiz window into a score
// and a per-item breakdown. Only the last review of each item counts, so
// repeated attempts inside one quiz are not double-counted. Items the user
// never answered count against the score.
func aggregate(items []QuizItem, reviews []review.Review) (float64, []ItemOutcome) {
	// Reviews arrive in ts order; the last write per item wins.
	latest := make(map[int64]review.Review, len(items))
	for _, r := range reviews {
		latest[r.ItemID] = r
	}

	outcomes := make([]ItemOutcome, 0, len(items))
	correct := 0
	for _, item := range items {
		outcome := ItemOutcome{ItemID: item.ItemID, Position: item.Position}
		if r, ok := latest[item.ItemID]; ok {
			outcome.Reviewed = true
			outcome.Correct = reviewCorrect(r)
			outcome.Ease = int(r.Ease)
			outcome.LatencyMs = r.LatencyMs
			outcome.LatencyBucket = r.LatencyBucket
		}
		if outcome.Correct {
			correct++
		}
		outcomes = append(outcomes, outcome)
	}

	score := 0.0
	if len(items) > 0 {
		score = float64(correct) / float64(len(items))
	}
	return score, outcomes
}

// reviewCorrect decides correctness for one review. An explicit correct flag
// from the client wins; otherwise any passing rating counts.
func reviewCorrect(r review.Review) bool {
	if r.Correct != nil {
		return *r.Correct
	}
	return r.Ease >= scheduler.Hard
}
