package scheduler

import "time"

// State is the decaying-memory record for one (user, item) pair. One row per
// pair; mutated only through Model.NextState and persisted with an optimistic
// version check.
type State struct {
	UserID         int64      `db:"user_id"`
	ItemID         int64      `db:"item_id"`
	Stability      float64    `db:"stability"`
	Difficulty     float64    `db:"difficulty"`
	DueAt          time.Time  `db:"due_at"`
	LastInterval   int        `db:"last_interval"`
	Reps           int        `db:"reps"`
	Lapses         int        `db:"lapses"`
	LastReviewedAt *time.Time `db:"last_reviewed_at"`
	SchedulerName  string     `db:"scheduler_name"`
	Version        int64      `db:"version"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}
