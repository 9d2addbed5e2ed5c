// Package quiz assembles session containers from the due-item queue and folds
// recorded reviews into a per-quiz result.
package quiz

import (
	"encoding/json"
	"time"

	"github.com/spacedlabs/recall/internal/scheduler"
)

// Quiz is one session container. FinishedAt stays nil until the quiz is
// finished; a finished quiz has exactly one Result.
type Quiz struct {
	ID         string          `db:"id"`
	OrgID      int64           `db:"org_id"`
	UserID     int64           `db:"user_id"`
	Mode       scheduler.Mode  `db:"mode"`
	Params     json.RawMessage `db:"params"`
	StartedAt  time.Time       `db:"started_at"`
	FinishedAt *time.Time      `db:"finished_at"`
}

// QuizItem is ordered quiz membership. Positions are dense and 0-based,
// assigned atomically when the quiz is assembled.
type QuizItem struct {
	QuizID   string `db:"quiz_id"`
	ItemID   int64  `db:"item_id"`
	Position int    `db:"position"`
}

// Result is the aggregated outcome of a finished quiz.
type Result struct {
	QuizID    string          `db:"quiz_id"`
	UserID    int64           `db:"user_id"`
	Score     float64         `db:"score"`
	Breakdown json.RawMessage `db:"breakdown"`
	CreatedAt time.Time       `db:"created_at"`
}

// ItemOutcome is one entry of a result breakdown: how the user did on a
// single quiz item, taken from the item's last review inside the quiz window.
type ItemOutcome struct {
	ItemID        int64  `json:"item_id"`
	Position      int    `json:"position"`
	Reviewed      bool   `json:"reviewed"`
	Correct       bool   `json:"correct"`
	Ease          int    `json:"ease,omitempty"`
	LatencyMs     int    `json:"latency_ms,omitempty"`
	LatencyBucket string `json:"latency_bucket,omitempty"`
}
