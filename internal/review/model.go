// Package review owns the append-only review ledger and the recorder that
// folds review outcomes into scheduler states.
package review

import (
	"encoding/json"
	"time"

	"github.com/spacedlabs/recall/internal/scheduler"
)

// Review is one immutable ledger event. Rows are never updated or deleted;
// the ledger is the source of truth for analytics and replay.
type Review struct {
	ID            int64            `db:"id"`
	UserID        int64            `db:"user_id"`
	ItemID        int64            `db:"item_id"`
	TS            time.Time        `db:"ts"`
	Mode          scheduler.Mode   `db:"mode"`
	Response      json.RawMessage  `db:"response"`
	Correct       *bool            `db:"correct"`
	LatencyMs     int              `db:"latency_ms"`
	LatencyBucket string           `db:"latency_bucket"`
	Ease          scheduler.Rating `db:"ease"`
	CreatedAt     time.Time        `db:"created_at"`
}
