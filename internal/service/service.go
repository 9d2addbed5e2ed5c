// Package service is the facade the transport layer calls into. It composes
// the idempotency guard, the review recorder, the due-item selector and the
// quiz assembler, and maps internal errors onto the exposed taxonomy.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/spacedlabs/recall/internal/catalog"
	"github.com/spacedlabs/recall/internal/database"
	"github.com/spacedlabs/recall/internal/idempotency"
	"github.com/spacedlabs/recall/internal/quiz"
	"github.com/spacedlabs/recall/internal/review"
	"github.com/spacedlabs/recall/internal/scheduler"
	"github.com/spacedlabs/recall/internal/state"
)

const (
	endpointSubmitReview = "submit_review"
	endpointStartQuiz    = "start_quiz"
)

// Recorder applies a review outcome to the ledger and the state store.
type Recorder interface {
	Record(ctx context.Context, input review.RecordInput) (*review.Review, *scheduler.State, error)
}

// Assembler starts and finishes quizzes.
type Assembler interface {
	Start(ctx context.Context, input quiz.StartInput) (*quiz.Quiz, error)
	Finish(ctx context.Context, quizID string, now time.Time) (*quiz.Result, error)
}

// DueCounter counts a user's due items.
type DueCounter interface {
	DueCount(ctx context.Context, userID int64, now time.Time) (int, error)
}

// Service wires the scheduling core together behind the four exposed
// operations plus the soft-reset supplement.
type Service struct {
	db       *sqlx.DB
	guard    idempotency.Guard
	recorder Recorder
	quizzes  Assembler
	counter  DueCounter
	catalog  catalog.Catalog
	states   state.Repository
	model    *scheduler.Model
}

// NewService creates a Service.
func NewService(
	db *sqlx.DB,
	guard idempotency.Guard,
	recorder Recorder,
	quizzes Assembler,
	counter DueCounter,
	items catalog.Catalog,
	states state.Repository,
	model *scheduler.Model,
) *Service {
	return &Service{
		db:       db,
		guard:    guard,
		recorder: recorder,
		quizzes:  quizzes,
		counter:  counter,
		catalog:  items,
		states:   states,
		model:    model,
	}
}

// SubmitReviewInput carries one review submission.
type SubmitReviewInput struct {
	OrgID          int64
	UserID         int64
	ItemID         int64
	Mode           scheduler.Mode
	Ease           scheduler.Rating
	Response       json.RawMessage
	Correct        *bool
	LatencyMs      int
	IdempotencyKey string
	Now            time.Time
}

// SubmitReviewOutput is the committed (or replayed) outcome of a submission.
type SubmitReviewOutput struct {
	Review *review.Review   `json:"review"`
	State  *scheduler.State `json:"scheduler_state"`

	Replayed   bool `json:"-"`
	StatusCode int  `json:"-"`
}

// SubmitReview validates the submission, dedups it by the idempotency key and
// applies it through the recorder. A replayed submission returns the original
// response verbatim with Replayed set.
func (s *Service) SubmitReview(ctx context.Context, input SubmitReviewInput) (*SubmitReviewOutput, error) {
	if !input.Ease.IsValid() {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRating, int(input.Ease))
	}
	if !input.Mode.IsValid() {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMode, input.Mode)
	}

	exists, err := s.catalog.Exists(ctx, input.OrgID, input.ItemID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: item %d", ErrNotFound, input.ItemID)
	}

	began, err := s.guard.Begin(ctx, input.IdempotencyKey, endpointSubmitReview, input.OrgID, input.UserID, input.Now)
	if err != nil {
		return nil, err
	}
	if !began.Fresh {
		var output SubmitReviewOutput
		if err := json.Unmarshal(began.Replay.ResponseData, &output); err != nil {
			return nil, fmt.Errorf("decode replayed review response: %w", err)
		}
		output.Replayed = true
		output.StatusCode = began.Replay.StatusCode
		return &output, nil
	}

	appended, next, err := s.recorder.Record(ctx, review.RecordInput{
		UserID:    input.UserID,
		ItemID:    input.ItemID,
		Mode:      input.Mode,
		Ease:      input.Ease,
		Response:  input.Response,
		Correct:   input.Correct,
		LatencyMs: input.LatencyMs,
		Now:       input.Now,
	})
	if err != nil {
		// Release the key so a resubmission can run the operation again.
		if abortErr := s.guard.Abort(ctx, input.IdempotencyKey); abortErr != nil {
			return nil, fmt.Errorf("abort after failed review: %w (original error: %v)", abortErr, err)
		}
		if errors.Is(err, state.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: item %d", ErrConflictExhausted, input.ItemID)
		}
		return nil, err
	}

	output := &SubmitReviewOutput{Review: appended, State: next, StatusCode: http.StatusOK}
	if err := s.commit(ctx, input.IdempotencyKey, output, output.StatusCode, input.Now); err != nil {
		return nil, err
	}
	return output, nil
}

// StartQuizInput carries one quiz start request.
type StartQuizInput struct {
	OrgID          int64
	UserID         int64
	Mode           scheduler.Mode
	Params         json.RawMessage
	Limit          int
	Seed           int64
	IdempotencyKey string
	Now            time.Time
}

// StartQuizOutput is the started (or replayed) quiz.
type StartQuizOutput struct {
	Quiz *quiz.Quiz `json:"quiz"`

	Replayed   bool `json:"-"`
	StatusCode int  `json:"-"`
}

// StartQuiz assembles and persists a quiz, deduplicated by the idempotency
// key so a retried start does not create a second quiz.
func (s *Service) StartQuiz(ctx context.Context, input StartQuizInput) (*StartQuizOutput, error) {
	if !input.Mode.IsValid() {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMode, input.Mode)
	}

	began, err := s.guard.Begin(ctx, input.IdempotencyKey, endpointStartQuiz, input.OrgID, input.UserID, input.Now)
	if err != nil {
		return nil, err
	}
	if !began.Fresh {
		var output StartQuizOutput
		if err := json.Unmarshal(began.Replay.ResponseData, &output); err != nil {
			return nil, fmt.Errorf("decode replayed quiz response: %w", err)
		}
		output.Replayed = true
		output.StatusCode = began.Replay.StatusCode
		return &output, nil
	}

	started, err := s.quizzes.Start(ctx, quiz.StartInput{
		OrgID:  input.OrgID,
		UserID: input.UserID,
		Mode:   input.Mode,
		Params: input.Params,
		Limit:  input.Limit,
		Now:    input.Now,
		Seed:   input.Seed,
	})
	if err != nil {
		if abortErr := s.guard.Abort(ctx, input.IdempotencyKey); abortErr != nil {
			return nil, fmt.Errorf("abort after failed quiz start: %w (original error: %v)", abortErr, err)
		}
		if errors.Is(err, quiz.ErrInsufficientItems) {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientItems, err)
		}
		return nil, err
	}

	output := &StartQuizOutput{Quiz: started, StatusCode: http.StatusCreated}
	if err := s.commit(ctx, input.IdempotencyKey, output, output.StatusCode, input.Now); err != nil {
		return nil, err
	}
	return output, nil
}

// FinishQuiz finishes the quiz and returns its result. Finishing twice is a
// replay of the stored result, not an error.
func (s *Service) FinishQuiz(ctx context.Context, quizID string, now time.Time) (*quiz.Result, error) {
	result, err := s.quizzes.Finish(ctx, quizID, now)
	if errors.Is(err, quiz.ErrNotFound) {
		return nil, fmt.Errorf("%w: quiz %s", ErrNotFound, quizID)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetDueCount returns the number of the user's due items. Read-only.
func (s *Service) GetDueCount(ctx context.Context, userID int64, now time.Time) (int, error) {
	return s.counter.DueCount(ctx, userID, now)
}

// ResetItem soft-resets a (user, item) state to its seed values while keeping
// the version chain intact. A concurrent writer surfaces as a conflict; the
// reset is cheap to resubmit so there is no retry loop here.
func (s *Service) ResetItem(ctx context.Context, userID, itemID int64, now time.Time) (*scheduler.State, error) {
	current, err := s.states.Get(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: state for item %d", ErrNotFound, itemID)
	}

	next, err := s.model.Reseed(*current, scheduler.Good, now)
	if err != nil {
		return nil, err
	}

	expected := current.Version
	err = database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		return s.states.UpsertTx(ctx, tx, &expected, next)
	})
	if errors.Is(err, state.ErrVersionConflict) {
		return nil, fmt.Errorf("%w: item %d", ErrConflictExhausted, itemID)
	}
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Service) commit(ctx context.Context, key string, payload any, statusCode int, now time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode idempotent response: %w", err)
	}
	if err := s.guard.Commit(ctx, key, data, statusCode, now); err != nil {
		return err
	}
	return nil
}
