package review

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Ledger defines operations on the append-only review log. There are no
// update or delete operations by design of the data model.
type Ledger interface {
	// AppendTx durably appends review inside tx and fills in its ID.
	AppendTx(ctx context.Context, tx *sqlx.Tx, review *Review) error

	// FindWindow returns reviews by the user for the given items with
	// ts in [from, to], in ts order.
	FindWindow(ctx context.Context, userID int64, itemIDs []int64, from, to time.Time) ([]Review, error)

	// FindByUserSince returns all reviews by the user with ts >= since,
	// in ts order.
	FindByUserSince(ctx context.Context, userID int64, since time.Time) ([]Review, error)
}

// DBLedger implements Ledger using MySQL.
type DBLedger struct {
	db *sqlx.DB
}

// NewDBLedger creates a new DBLedger.
func NewDBLedger(db *sqlx.DB) *DBLedger {
	return &DBLedger{db: db}
}

// AppendTx appends the review within the caller's transaction, so the ledger
// row and the state upsert commit or abort together.
func (l *DBLedger) AppendTx(ctx context.Context, tx *sqlx.Tx, review *Review) error {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO reviews
			(user_id, item_id, ts, mode, response, correct, latency_ms, latency_bucket, ease)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		review.UserID, review.ItemID, review.TS, review.Mode, review.Response,
		review.Correct, review.LatencyMs, review.LatencyBucket, int(review.Ease),
	)
	if err != nil {
		return fmt.Errorf("append review(%d, %d): %w", review.UserID, review.ItemID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read review id: %w", err)
	}
	review.ID = id
	return nil
}

// FindWindow returns the user's reviews for itemIDs within the time window.
func (l *DBLedger) FindWindow(ctx context.Context, userID int64, itemIDs []int64, from, to time.Time) ([]Review, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT id, user_id, item_id, ts, mode, response, correct, latency_ms, latency_bucket, ease, created_at
		 FROM reviews
		 WHERE user_id = ? AND item_id IN (?) AND ts >= ? AND ts <= ?
		 ORDER BY ts`,
		userID, itemIDs, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("build review window query: %w", err)
	}

	var reviews []Review
	if err := l.db.SelectContext(ctx, &reviews, query, args...); err != nil {
		return nil, fmt.Errorf("load review window(%d): %w", userID, err)
	}
	return reviews, nil
}

// FindByUserSince returns the user's reviews recorded at or after since.
func (l *DBLedger) FindByUserSince(ctx context.Context, userID int64, since time.Time) ([]Review, error) {
	var reviews []Review
	err := l.db.SelectContext(ctx, &reviews,
		`SELECT id, user_id, item_id, ts, mode, response, correct, latency_ms, latency_bucket, ease, created_at
		 FROM reviews
		 WHERE user_id = ? AND ts >= ?
		 ORDER BY ts`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("load reviews(%d): %w", userID, err)
	}
	return reviews, nil
}
