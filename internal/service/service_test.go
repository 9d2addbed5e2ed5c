package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedlabs/recall/internal/catalog"
	"github.com/spacedlabs/recall/internal/config"
	"github.com/spacedlabs/recall/internal/idempotency"
	"github.com/spacedlabs/recall/internal/quiz"
	"github.com/spacedlabs/recall/internal/review"
	"github.com/spacedlabs/recall/internal/scheduler"
	"github.com/spacedlabs/recall/internal/state"
)

type fakeGuard struct {
	begin       idempotency.BeginResult
	beginErr    error
	beginCalls  int
	commitCalls int
	abortCalls  int
	committed   json.RawMessage
}

func (f *fakeGuard) Begin(ctx context.Context, key, endpoint string, orgID, userID int64, now time.Time) (idempotency.BeginResult, error) {
	f.beginCalls++
	return f.begin, f.beginErr
}

func (f *fakeGuard) Commit(ctx context.Context, key string, responseData json.RawMessage, statusCode int, now time.Time) error {
	f.commitCalls++
	f.committed = responseData
	return nil
}

func (f *fakeGuard) Abort(ctx context.Context, key string) error {
	f.abortCalls++
	return nil
}

func (f *fakeGuard) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type fakeRecorder struct {
	review *review.Review
	state  *scheduler.State
	err    error
	calls  int
}

func (f *fakeRecorder) Record(ctx context.Context, input review.RecordInput) (*review.Review, *scheduler.State, error) {
	f.calls++
	return f.review, f.state, f.err
}

type fakeAssembler struct {
	quiz       *quiz.Quiz
	startErr   error
	result     *quiz.Result
	finishErr  error
	startCalls int
}

func (f *fakeAssembler) Start(ctx context.Context, input quiz.StartInput) (*quiz.Quiz, error) {
	f.startCalls++
	return f.quiz, f.startErr
}

func (f *fakeAssembler) Finish(ctx context.Context, quizID string, now time.Time) (*quiz.Result, error) {
	return f.result, f.finishErr
}

type fakeCounter struct {
	count int
}

func (f *fakeCounter) DueCount(ctx context.Context, userID int64, now time.Time) (int, error) {
	return f.count, nil
}

type fakeCatalog struct {
	exists bool
}

func (f *fakeCatalog) Get(ctx context.Context, itemID int64) (*catalog.Item, error) {
	return nil, nil
}

func (f *fakeCatalog) Exists(ctx context.Context, orgID, itemID int64) (bool, error) {
	return f.exists, nil
}

type fakeStates struct {
	current   *scheduler.State
	upsertErr error
	upserted  *scheduler.State
}

func (f *fakeStates) Get(ctx context.Context, userID, itemID int64) (*scheduler.State, error) {
	return f.current, nil
}

func (f *fakeStates) UpsertTx(ctx context.Context, tx *sqlx.Tx, expectedVersion *int64, next scheduler.State) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = &next
	return nil
}

func (f *fakeStates) ListByUser(ctx context.Context, userID int64) ([]scheduler.State, error) {
	return nil, nil
}

func (f *fakeStates) DueItems(ctx context.Context, userID int64, now time.Time, limit int) ([]scheduler.State, error) {
	return nil, nil
}

func (f *fakeStates) CountDue(ctx context.Context, userID int64, now time.Time) (int, error) {
	return 0, nil
}

type serviceFixture struct {
	svc      *Service
	guard    *fakeGuard
	recorder *fakeRecorder
	quizzes  *fakeAssembler
	counter  *fakeCounter
	items    *fakeCatalog
	states   *fakeStates
	mock     sqlmock.Sqlmock
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &serviceFixture{
		guard:    &fakeGuard{begin: idempotency.BeginResult{Fresh: true}},
		recorder: &fakeRecorder{},
		quizzes:  &fakeAssembler{},
		counter:  &fakeCounter{},
		items:    &fakeCatalog{exists: true},
		states:   &fakeStates{},
		mock:     mock,
	}
	f.svc = NewService(
		sqlx.NewDb(db, "mysql"),
		f.guard, f.recorder, f.quizzes, f.counter, f.items, f.states,
		scheduler.NewModel(testSchedulerConfig()),
	)
	return f
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Name:               "fsrs_v6",
		InitialStability:   [4]float64{0.212, 1.2931, 2.3065, 8.2956},
		InitialDifficulty:  [4]float64{7.2, 6.2, 5.0, 3.2},
		DifficultyTarget:   [4]float64{9.5, 7.0, 5.0, 2.0},
		DifficultyWeight:   0.33,
		MinDifficulty:      1.0,
		MaxDifficulty:      10.0,
		GrowthRate:         1.8722,
		StabilityDecay:     0.1666,
		RetrievabilityGain: 0.796,
		HardPenalty:        0.6014,
		EasyBonus:          1.8729,
		LapseDecay:         0.5,
		IntervalScale:      map[string]float64{"review": 1.0},
		MinIntervalDays:    1,
		MaxIntervalDays:    365,
	}
}

func submitInput(now time.Time) SubmitReviewInput {
	return SubmitReviewInput{
		OrgID:          1,
		UserID:         7,
		ItemID:         42,
		Mode:           scheduler.ModeReview,
		Ease:           scheduler.Good,
		LatencyMs:      1200,
		IdempotencyKey: "req-1",
		Now:            now,
	}
}

func TestService_SubmitReview(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("fresh submission records and commits", func(t *testing.T) {
		f := newFixture(t)
		f.recorder.review = &review.Review{ID: 11, UserID: 7, ItemID: 42, Ease: scheduler.Good}
		f.recorder.state = &scheduler.State{UserID: 7, ItemID: 42, Version: 1}

		got, err := f.svc.SubmitReview(context.Background(), submitInput(now))
		require.NoError(t, err)

		assert.False(t, got.Replayed)
		assert.Equal(t, http.StatusOK, got.StatusCode)
		assert.Equal(t, int64(11), got.Review.ID)
		assert.Equal(t, 1, f.guard.commitCalls)
		assert.Zero(t, f.guard.abortCalls)
		assert.NotEmpty(t, f.guard.committed)
	})

	t.Run("replay returns the cached response without side effects", func(t *testing.T) {
		f := newFixture(t)
		cached, err := json.Marshal(SubmitReviewOutput{
			Review: &review.Review{ID: 11, UserID: 7, ItemID: 42},
			State:  &scheduler.State{UserID: 7, ItemID: 42, Version: 1},
		})
		require.NoError(t, err)
		f.guard.begin = idempotency.BeginResult{Replay: &idempotency.Key{
			ResponseData: cached,
			StatusCode:   http.StatusOK,
		}}

		got, err := f.svc.SubmitReview(context.Background(), submitInput(now))
		require.NoError(t, err)

		assert.True(t, got.Replayed)
		assert.Equal(t, http.StatusOK, got.StatusCode)
		assert.Equal(t, int64(11), got.Review.ID)
		assert.Zero(t, f.recorder.calls)
		assert.Zero(t, f.guard.commitCalls)
	})

	t.Run("invalid ease rejected before any call", func(t *testing.T) {
		f := newFixture(t)
		input := submitInput(now)
		input.Ease = 9

		_, err := f.svc.SubmitReview(context.Background(), input)
		assert.ErrorIs(t, err, ErrInvalidRating)
		assert.Zero(t, f.guard.beginCalls)
	})

	t.Run("invalid mode rejected before any call", func(t *testing.T) {
		f := newFixture(t)
		input := submitInput(now)
		input.Mode = "exam"

		_, err := f.svc.SubmitReview(context.Background(), input)
		assert.ErrorIs(t, err, ErrInvalidMode)
		assert.Zero(t, f.guard.beginCalls)
	})

	t.Run("unknown item", func(t *testing.T) {
		f := newFixture(t)
		f.items.exists = false

		_, err := f.svc.SubmitReview(context.Background(), submitInput(now))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, f.guard.beginCalls)
	})

	t.Run("exhausted conflict aborts the key", func(t *testing.T) {
		f := newFixture(t)
		f.recorder.err = fmt.Errorf("record review: %w", state.ErrVersionConflict)

		_, err := f.svc.SubmitReview(context.Background(), submitInput(now))
		assert.ErrorIs(t, err, ErrConflictExhausted)
		assert.Equal(t, 1, f.guard.abortCalls)
		assert.Zero(t, f.guard.commitCalls)
	})

	t.Run("in-flight key surfaces directly", func(t *testing.T) {
		f := newFixture(t)
		f.guard.beginErr = idempotency.ErrInFlight

		_, err := f.svc.SubmitReview(context.Background(), submitInput(now))
		assert.ErrorIs(t, err, idempotency.ErrInFlight)
		assert.Zero(t, f.recorder.calls)
	})
}

func TestService_StartQuiz(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	input := StartQuizInput{
		OrgID:          1,
		UserID:         7,
		Mode:           scheduler.ModeReview,
		Limit:          10,
		IdempotencyKey: "req-2",
		Now:            now,
	}

	t.Run("fresh start commits the quiz", func(t *testing.T) {
		f := newFixture(t)
		f.quizzes.quiz = &quiz.Quiz{ID: "quiz-1", UserID: 7, Mode: scheduler.ModeReview, StartedAt: now}

		got, err := f.svc.StartQuiz(context.Background(), input)
		require.NoError(t, err)

		assert.False(t, got.Replayed)
		assert.Equal(t, http.StatusCreated, got.StatusCode)
		assert.Equal(t, "quiz-1", got.Quiz.ID)
		assert.Equal(t, 1, f.guard.commitCalls)
	})

	t.Run("replay returns the original quiz", func(t *testing.T) {
		f := newFixture(t)
		cached, err := json.Marshal(StartQuizOutput{Quiz: &quiz.Quiz{ID: "quiz-1", UserID: 7}})
		require.NoError(t, err)
		f.guard.begin = idempotency.BeginResult{Replay: &idempotency.Key{
			ResponseData: cached,
			StatusCode:   http.StatusCreated,
		}}

		got, err := f.svc.StartQuiz(context.Background(), input)
		require.NoError(t, err)

		assert.True(t, got.Replayed)
		assert.Equal(t, http.StatusCreated, got.StatusCode)
		assert.Equal(t, "quiz-1", got.Quiz.ID)
		assert.Zero(t, f.quizzes.startCalls)
	})

	t.Run("too few items aborts the key", func(t *testing.T) {
		f := newFixture(t)
		f.quizzes.startErr = fmt.Errorf("%w: have 0, need 1", quiz.ErrInsufficientItems)

		_, err := f.svc.StartQuiz(context.Background(), input)
		assert.ErrorIs(t, err, ErrInsufficientItems)
		assert.Equal(t, 1, f.guard.abortCalls)
	})

	t.Run("invalid mode", func(t *testing.T) {
		f := newFixture(t)
		bad := input
		bad.Mode = "exam"

		_, err := f.svc.StartQuiz(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidMode)
		assert.Zero(t, f.guard.beginCalls)
	})
}

func TestService_FinishQuiz(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("returns the result", func(t *testing.T) {
		f := newFixture(t)
		f.quizzes.result = &quiz.Result{QuizID: "quiz-1", UserID: 7, Score: 0.8}

		got, err := f.svc.FinishQuiz(context.Background(), "quiz-1", now)
		require.NoError(t, err)
		assert.InDelta(t, 0.8, got.Score, 1e-9)
	})

	t.Run("unknown quiz maps onto the taxonomy", func(t *testing.T) {
		f := newFixture(t)
		f.quizzes.finishErr = fmt.Errorf("%w: quiz-404", quiz.ErrNotFound)

		_, err := f.svc.FinishQuiz(context.Background(), "quiz-404", now)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_GetDueCount(t *testing.T) {
	f := newFixture(t)
	f.counter.count = 17

	got, err := f.svc.GetDueCount(context.Background(), 7, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 17, got)
}

func TestService_ResetItem(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	reviewedAt := now.AddDate(0, 0, -30)

	current := &scheduler.State{
		UserID: 7, ItemID: 42,
		Stability:      120.0,
		Difficulty:     8.5,
		Reps:           12,
		Lapses:         2,
		LastReviewedAt: &reviewedAt,
		Version:        14,
	}

	t.Run("reseeds and bumps the version", func(t *testing.T) {
		f := newFixture(t)
		f.states.current = current
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		got, err := f.svc.ResetItem(context.Background(), 7, 42, now)
		require.NoError(t, err)

		assert.Equal(t, int64(15), got.Version)
		assert.Equal(t, 1, got.Reps)
		assert.Equal(t, 0, got.Lapses)
		require.NotNil(t, f.states.upserted)
		assert.Equal(t, int64(15), f.states.upserted.Version)
	})

	t.Run("unknown state", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.ResetItem(context.Background(), 7, 42, now)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent writer surfaces as conflict", func(t *testing.T) {
		f := newFixture(t)
		f.states.current = current
		f.states.upsertErr = state.ErrVersionConflict
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()

		_, err := f.svc.ResetItem(context.Background(), 7, 42, now)
		assert.ErrorIs(t, err, ErrConflictExhausted)
	})
}
