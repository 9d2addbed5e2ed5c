// Package state persists scheduler retention states with optimistic
// concurrency control.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/spacedlabs/recall/internal/database"
	"github.com/spacedlabs/recall/internal/scheduler"
)

// ErrVersionConflict is returned by Upsert when the stored version does not
// match the expected version. Callers must re-read, recompute and retry.
var ErrVersionConflict = errors.New("scheduler state version conflict")

// Repository defines operations for managing scheduler states.
type Repository interface {
	// Get returns the state for (userID, itemID), or nil when no state
	// exists yet.
	Get(ctx context.Context, userID, itemID int64) (*scheduler.State, error)

	// UpsertTx writes next inside tx as a compare-and-swap on version.
	// expectedVersion nil means "no row must exist"; otherwise the stored
	// version must equal it. On mismatch it returns ErrVersionConflict
	// and writes nothing.
	UpsertTx(ctx context.Context, tx *sqlx.Tx, expectedVersion *int64, next scheduler.State) error

	// ListByUser returns every state the user has, in item order.
	ListByUser(ctx context.Context, userID int64) ([]scheduler.State, error)

	// DueItems returns up to limit states due at or before now, ordered
	// by due_at ascending, then difficulty descending, then item_id.
	DueItems(ctx context.Context, userID int64, now time.Time, limit int) ([]scheduler.State, error)

	// CountDue returns the number of states due at or before now.
	CountDue(ctx context.Context, userID int64, now time.Time) (int, error)
}

// DBRepository implements Repository using MySQL.
type DBRepository struct {
	db *sqlx.DB
}

// NewDBRepository creates a new DBRepository.
func NewDBRepository(db *sqlx.DB) *DBRepository {
	return &DBRepository{db: db}
}

const stateColumns = `user_id, item_id, stability, difficulty, due_at, last_interval,
	reps, lapses, last_reviewed_at, scheduler_name, version, created_at, updated_at`

// Get returns the state for (userID, itemID), or nil when absent.
func (r *DBRepository) Get(ctx context.Context, userID, itemID int64) (*scheduler.State, error) {
	var s scheduler.State
	err := r.db.GetContext(ctx, &s,
		"SELECT "+stateColumns+" FROM scheduler_states WHERE user_id = ? AND item_id = ?",
		userID, itemID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load scheduler state(%d, %d): %w", userID, itemID, err)
	}
	return &s, nil
}

// UpsertTx performs the compare-and-swap write for next.
func (r *DBRepository) UpsertTx(ctx context.Context, tx *sqlx.Tx, expectedVersion *int64, next scheduler.State) error {
	if expectedVersion == nil {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scheduler_states
				(user_id, item_id, stability, difficulty, due_at, last_interval,
				 reps, lapses, last_reviewed_at, scheduler_name, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			next.UserID, next.ItemID, next.Stability, next.Difficulty, next.DueAt,
			next.LastInterval, next.Reps, next.Lapses, next.LastReviewedAt,
			next.SchedulerName, next.Version,
		)
		if database.IsDuplicateEntry(err) {
			return ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("insert scheduler state(%d, %d): %w", next.UserID, next.ItemID, err)
		}
		return nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE scheduler_states
		 SET stability = ?, difficulty = ?, due_at = ?, last_interval = ?,
		     reps = ?, lapses = ?, last_reviewed_at = ?, scheduler_name = ?, version = ?
		 WHERE user_id = ? AND item_id = ? AND version = ?`,
		next.Stability, next.Difficulty, next.DueAt, next.LastInterval,
		next.Reps, next.Lapses, next.LastReviewedAt, next.SchedulerName, next.Version,
		next.UserID, next.ItemID, *expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update scheduler state(%d, %d): %w", next.UserID, next.ItemID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check scheduler state update(%d, %d): %w", next.UserID, next.ItemID, err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ListByUser returns all states for the user ordered by item_id.
func (r *DBRepository) ListByUser(ctx context.Context, userID int64) ([]scheduler.State, error) {
	var states []scheduler.State
	err := r.db.SelectContext(ctx, &states,
		"SELECT "+stateColumns+" FROM scheduler_states WHERE user_id = ? ORDER BY item_id",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load scheduler states(%d): %w", userID, err)
	}
	return states, nil
}

// DueItems returns states due at or before now, most overdue first. Ties on
// due_at surface harder items first; item_id keeps the order deterministic.
func (r *DBRepository) DueItems(ctx context.Context, userID int64, now time.Time, limit int) ([]scheduler.State, error) {
	var states []scheduler.State
	err := r.db.SelectContext(ctx, &states,
		"SELECT "+stateColumns+` FROM scheduler_states
		 WHERE user_id = ? AND due_at <= ?
		 ORDER BY due_at ASC, difficulty DESC, item_id ASC
		 LIMIT ?`,
		userID, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load due scheduler states(%d): %w", userID, err)
	}
	return states, nil
}

// CountDue returns the number of due states for the user.
func (r *DBRepository) CountDue(ctx context.Context, userID int64, now time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM scheduler_states WHERE user_id = ? AND due_at <= ?",
		userID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("count due scheduler states(%d): %w", userID, err)
	}
	return count, nil
}
