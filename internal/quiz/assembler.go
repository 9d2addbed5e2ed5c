package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/spacedlabs/recall/internal/database"
	"github.com/spacedlabs/recall/internal/review"
	"github.com/spacedlabs/recall/internal/scheduler"
)

var (
	// ErrNotFound is returned by Finish when no quiz has the given ID.
	ErrNotFound = errors.New("quiz not found")

	// ErrInsufficientItems is returned by Start when the selector yields
	// fewer candidates than the configured minimum.
	ErrInsufficientItems = errors.New("not enough candidate items for a quiz")
)

// ItemSelector yields candidate item IDs for a session mode.
type ItemSelector interface {
	Select(ctx context.Context, userID int64, mode scheduler.Mode, limit int, now time.Time, seed int64) ([]int64, error)
}

// ReviewFinder looks up ledger rows for result aggregation.
type ReviewFinder interface {
	FindWindow(ctx context.Context, userID int64, itemIDs []int64, from, to time.Time) ([]review.Review, error)
}

// Assembler turns candidate queues into persisted quizzes and finished
// quizzes into results.
type Assembler struct {
	db       *sqlx.DB
	quizzes  Repository
	selector ItemSelector
	reviews  ReviewFinder
	minItems int
}

// NewAssembler creates an Assembler. minItems is the smallest candidate queue
// a quiz may be started from.
func NewAssembler(db *sqlx.DB, quizzes Repository, selector ItemSelector, reviews ReviewFinder, minItems int) *Assembler {
	return &Assembler{
		db:       db,
		quizzes:  quizzes,
		selector: selector,
		reviews:  reviews,
		minItems: minItems,
	}
}

// StartInput carries the parameters of a quiz start.
type StartInput struct {
	OrgID  int64
	UserID int64
	Mode   scheduler.Mode
	Params json.RawMessage
	Limit  int
	Now    time.Time
	Seed   int64
}

// Start selects candidates for the mode and persists the quiz with its item
// list in one transaction. Fewer candidates than the requested limit is fine;
// fewer than the configured minimum is ErrInsufficientItems.
func (a *Assembler) Start(ctx context.Context, input StartInput) (*Quiz, error) {
	if !input.Mode.IsValid() {
		return nil, fmt.Errorf("invalid mode %q", input.Mode)
	}

	itemIDs, err := a.selector.Select(ctx, input.UserID, input.Mode, input.Limit, input.Now, input.Seed)
	if err != nil {
		return nil, fmt.Errorf("select quiz candidates: %w", err)
	}
	if len(itemIDs) < a.minItems {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientItems, len(itemIDs), a.minItems)
	}

	quiz := Quiz{
		ID:        uuid.NewString(),
		OrgID:     input.OrgID,
		UserID:    input.UserID,
		Mode:      input.Mode,
		Params:    input.Params,
		StartedAt: input.Now,
	}
	items := make([]QuizItem, len(itemIDs))
	for i, itemID := range itemIDs {
		items[i] = QuizItem{QuizID: quiz.ID, ItemID: itemID, Position: i}
	}

	err = database.RunInTx(ctx, a.db, func(ctx context.Context, tx *sqlx.Tx) error {
		return a.quizzes.CreateTx(ctx, tx, quiz, items)
	})
	if err != nil {
		return nil, err
	}
	return &quiz, nil
}

// errAlreadyFinished aborts the finish transaction when another finisher won
// the finished_at race; the caller then replays the stored result.
var errAlreadyFinished = errors.New("quiz already finished")

// Finish aggregates the quiz window's reviews into a Result and writes it
// exactly once. Finishing an already-finished quiz replays the stored Result.
func (a *Assembler) Finish(ctx context.Context, quizID string, now time.Time) (*Result, error) {
	quiz, err := a.quizzes.Get(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, quizID)
	}
	if quiz.FinishedAt != nil {
		return a.storedResult(ctx, quiz)
	}

	items, err := a.quizzes.ListItems(ctx, quizID)
	if err != nil {
		return nil, err
	}
	itemIDs := make([]int64, len(items))
	for i, item := range items {
		itemIDs[i] = item.ItemID
	}

	reviews, err := a.reviews.FindWindow(ctx, quiz.UserID, itemIDs, quiz.StartedAt, now)
	if err != nil {
		return nil, err
	}

	score, outcomes := aggregate(items, reviews)
	breakdown, err := json.Marshal(outcomes)
	if err != nil {
		return nil, fmt.Errorf("encode result breakdown(%s): %w", quizID, err)
	}
	result := Result{
		QuizID:    quizID,
		UserID:    quiz.UserID,
		Score:     score,
		Breakdown: breakdown,
		CreatedAt: now,
	}

	err = database.RunInTx(ctx, a.db, func(ctx context.Context, tx *sqlx.Tx) error {
		finished, err := a.quizzes.FinishTx(ctx, tx, quizID, now)
		if err != nil {
			return err
		}
		if !finished {
			return errAlreadyFinished
		}
		return a.quizzes.SaveResultTx(ctx, tx, result)
	})
	if errors.Is(err, errAlreadyFinished) {
		return a.storedResult(ctx, quiz)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *Assembler) storedResult(ctx context.Context, quiz *Quiz) (*Result, error) {
	result, err := a.quizzes.GetResult(ctx, quiz.ID, quiz.UserID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("quiz(%s) is finished but has no result", quiz.ID)
	}
	return result, nil
}
