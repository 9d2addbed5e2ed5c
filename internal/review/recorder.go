package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/jmoiron/sqlx"

	"github.com/spacedlabs/recall/internal/database"
	"github.com/spacedlabs/recall/internal/scheduler"
	"github.com/spacedlabs/recall/internal/state"
)

// RecordInput describes one review submission.
type RecordInput struct {
	UserID    int64
	ItemID    int64
	Mode      scheduler.Mode
	Ease      scheduler.Rating
	Response  json.RawMessage
	Correct   *bool
	LatencyMs int
	Now       time.Time
}

// Recorder applies a review outcome: it reads the current retention state,
// computes the next state through the memory model, and commits the state
// upsert and ledger append in a single transaction. Version conflicts from
// concurrent writers are retried with a fresh read up to the configured
// attempt count.
type Recorder struct {
	db            *sqlx.DB
	states        state.Repository
	ledger        Ledger
	model         *scheduler.Model
	latencyBounds [3]int
	maxAttempts   uint
}

// NewRecorder creates a Recorder.
func NewRecorder(
	db *sqlx.DB,
	states state.Repository,
	ledger Ledger,
	model *scheduler.Model,
	latencyBoundsMs [3]int,
	maxAttempts uint,
) *Recorder {
	return &Recorder{
		db:            db,
		states:        states,
		ledger:        ledger,
		model:         model,
		latencyBounds: latencyBoundsMs,
		maxAttempts:   maxAttempts,
	}
}

// Record applies one review. On success it returns the appended ledger row
// and the new scheduler state. When retries exhaust under contention, the
// returned error matches state.ErrVersionConflict.
func (r *Recorder) Record(ctx context.Context, input RecordInput) (*Review, *scheduler.State, error) {
	if !input.Ease.IsValid() {
		return nil, nil, fmt.Errorf("invalid ease %d: must be 1-4", int(input.Ease))
	}
	if !input.Mode.IsValid() {
		return nil, nil, fmt.Errorf("invalid mode %q", input.Mode)
	}

	var (
		appended *Review
		next     scheduler.State
	)

	err := retry.Do(
		func() error {
			current, err := r.states.Get(ctx, input.UserID, input.ItemID)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			var expectedVersion *int64
			if current != nil {
				v := current.Version
				expectedVersion = &v
			}

			next, err = r.model.NextState(input.UserID, input.ItemID, current, input.Ease, input.Mode, input.Now)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			rev := r.buildReview(input)
			if err := database.RunInTx(ctx, r.db, func(ctx context.Context, tx *sqlx.Tx) error {
				if err := r.states.UpsertTx(ctx, tx, expectedVersion, next); err != nil {
					return err
				}
				return r.ledger.AppendTx(ctx, tx, rev)
			}); err != nil {
				if errors.Is(err, state.ErrVersionConflict) {
					return err
				}
				return retry.Unrecoverable(err)
			}

			appended = rev
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.maxAttempts),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("record review(%d, %d): %w", input.UserID, input.ItemID, err)
	}

	return appended, &next, nil
}

func (r *Recorder) buildReview(input RecordInput) *Review {
	return &Review{
		UserID:        input.UserID,
		ItemID:        input.ItemID,
		TS:            input.Now,
		Mode:          input.Mode,
		Response:      input.Response,
		Correct:       input.Correct,
		LatencyMs:     input.LatencyMs,
		LatencyBucket: BucketLatency(input.LatencyMs, r.latencyBounds),
		Ease:          input.Ease,
	}
}
