// Package idempotency deduplicates mutating requests by a caller-supplied
// key. The unique key constraint in the store acts as the dedup mutex, so the
// guarantee holds across service instances.
package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/spacedlabs/recall/internal/database"
)

// ErrInFlight is returned by Begin when another request holds the same key
// and has not committed yet. Callers should fail fast and retry later rather
// than run the operation a second time.
var ErrInFlight = errors.New("idempotency key is in flight")

// Key is one dedup record. A row starts uncommitted ("in flight") and is
// completed by Commit; rows past ExpiresAt are never valid replays.
type Key struct {
	ID           int64           `db:"id"`
	Key          string          `db:"idempotency_key"`
	Endpoint     string          `db:"endpoint"`
	OrgID        int64           `db:"org_id"`
	UserID       int64           `db:"user_id"`
	ResponseData json.RawMessage `db:"response_data"`
	StatusCode   int             `db:"status_code"`
	Committed    bool            `db:"committed"`
	CreatedAt    time.Time       `db:"created_at"`
	ExpiresAt    time.Time       `db:"expires_at"`
}

// BeginResult is the outcome of Begin: either the caller may execute the
// operation (Fresh), or a previously committed response is replayed.
type BeginResult struct {
	Fresh  bool
	Replay *Key
}

// Guard defines the dedup operations around a mutating request.
type Guard interface {
	// Begin claims the key. Exactly one concurrent caller gets Fresh;
	// later callers get the committed replay, or ErrInFlight while the
	// first execution is still running.
	Begin(ctx context.Context, key, endpoint string, orgID, userID int64, now time.Time) (BeginResult, error)

	// Commit stores the operation's response under the key.
	Commit(ctx context.Context, key string, responseData json.RawMessage, statusCode int, now time.Time) error

	// Abort releases an uncommitted key after a failed execution so a
	// retry can run the operation again.
	Abort(ctx context.Context, key string) error

	// Sweep deletes expired keys and returns the number removed.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// DBGuard implements Guard using MySQL.
type DBGuard struct {
	db  *sqlx.DB
	ttl time.Duration
}

// NewDBGuard creates a DBGuard with the given replay TTL.
func NewDBGuard(db *sqlx.DB, ttl time.Duration) *DBGuard {
	return &DBGuard{db: db, ttl: ttl}
}

// Begin claims the key by inserting an in-flight row. The unique constraint
// decides the winner under concurrency.
func (g *DBGuard) Begin(ctx context.Context, key, endpoint string, orgID, userID int64, now time.Time) (BeginResult, error) {
	if key == "" {
		return BeginResult{}, fmt.Errorf("idempotency key must not be empty")
	}

	claimed, err := g.claim(ctx, key, endpoint, orgID, userID, now)
	if err != nil {
		return BeginResult{}, err
	}
	if claimed {
		return BeginResult{Fresh: true}, nil
	}

	existing, err := g.find(ctx, key)
	if err != nil {
		return BeginResult{}, err
	}
	if existing == nil {
		// The holder aborted or was swept between our insert and read.
		return BeginResult{}, ErrInFlight
	}

	if now.After(existing.ExpiresAt) {
		// Stale claim: drop it and take over.
		if err := g.deleteExpired(ctx, key, now); err != nil {
			return BeginResult{}, err
		}
		claimed, err := g.claim(ctx, key, endpoint, orgID, userID, now)
		if err != nil {
			return BeginResult{}, err
		}
		if claimed {
			return BeginResult{Fresh: true}, nil
		}
		return BeginResult{}, ErrInFlight
	}

	if !existing.Committed {
		return BeginResult{}, ErrInFlight
	}
	return BeginResult{Replay: existing}, nil
}

// Commit stores the response and marks the key as replayable.
func (g *DBGuard) Commit(ctx context.Context, key string, responseData json.RawMessage, statusCode int, now time.Time) error {
	result, err := g.db.ExecContext(ctx,
		`UPDATE idempotency_keys
		 SET response_data = ?, status_code = ?, committed = 1, expires_at = ?
		 WHERE idempotency_key = ? AND committed = 0`,
		responseData, statusCode, now.Add(g.ttl), key,
	)
	if err != nil {
		return fmt.Errorf("commit idempotency key(%s): %w", key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check idempotency commit(%s): %w", key, err)
	}
	if affected == 0 {
		return fmt.Errorf("commit idempotency key(%s): no in-flight row", key)
	}
	return nil
}

// Abort removes an uncommitted claim.
func (g *DBGuard) Abort(ctx context.Context, key string) error {
	_, err := g.db.ExecContext(ctx,
		"DELETE FROM idempotency_keys WHERE idempotency_key = ? AND committed = 0",
		key,
	)
	if err != nil {
		return fmt.Errorf("abort idempotency key(%s): %w", key, err)
	}
	return nil
}

// Sweep garbage-collects keys past their expiry.
func (g *DBGuard) Sweep(ctx context.Context, now time.Time) (int64, error) {
	result, err := g.db.ExecContext(ctx,
		"DELETE FROM idempotency_keys WHERE expires_at < ?",
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep idempotency keys: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count swept idempotency keys: %w", err)
	}
	return deleted, nil
}

func (g *DBGuard) claim(ctx context.Context, key, endpoint string, orgID, userID int64, now time.Time) (bool, error) {
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys
			(idempotency_key, endpoint, org_id, user_id, committed, created_at, expires_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		key, endpoint, orgID, userID, now, now.Add(g.ttl),
	)
	if database.IsDuplicateEntry(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim idempotency key(%s): %w", key, err)
	}
	return true, nil
}

func (g *DBGuard) find(ctx context.Context, key string) (*Key, error) {
	var k Key
	err := g.db.GetContext(ctx, &k,
		`SELECT id, idempotency_key, endpoint, org_id, user_id, response_data,
			status_code, committed, created_at, expires_at
		 FROM idempotency_keys WHERE idempotency_key = ?`,
		key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load idempotency key(%s): %w", key, err)
	}
	return &k, nil
}

func (g *DBGuard) deleteExpired(ctx context.Context, key string, now time.Time) error {
	_, err := g.db.ExecContext(ctx,
		"DELETE FROM idempotency_keys WHERE idempotency_key = ? AND expires_at < ?",
		key, now,
	)
	if err != nil {
		return fmt.Errorf("delete expired idempotency key(%s): %w", key, err)
	}
	return nil
}
