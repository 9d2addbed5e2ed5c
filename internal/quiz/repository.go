package quiz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/spacedlabs/recall/internal/database"
)

// Repository defines persistence for quizzes, their item lists and results.
type Repository interface {
	// CreateTx inserts the quiz and its items inside tx. Either the quiz
	// and its full item list become visible together, or nothing does.
	CreateTx(ctx context.Context, tx *sqlx.Tx, quiz Quiz, items []QuizItem) error

	// Get returns the quiz, or nil when no quiz has that ID.
	Get(ctx context.Context, quizID string) (*Quiz, error)

	// ListItems returns the quiz's items in position order.
	ListItems(ctx context.Context, quizID string) ([]QuizItem, error)

	// FinishTx marks the quiz finished inside tx. It reports false when
	// the quiz was already finished, in which case nothing was written.
	FinishTx(ctx context.Context, tx *sqlx.Tx, quizID string, finishedAt time.Time) (bool, error)

	// SaveResultTx inserts the quiz's result inside tx.
	SaveResultTx(ctx context.Context, tx *sqlx.Tx, result Result) error

	// GetResult returns the quiz's result, or nil when none exists.
	GetResult(ctx context.Context, quizID string, userID int64) (*Result, error)
}

// DBRepository implements Repository using MySQL.
type DBRepository struct {
	db *sqlx.DB
}

// NewDBRepository creates a new DBRepository.
func NewDBRepository(db *sqlx.DB) *DBRepository {
	return &DBRepository{db: db}
}

// CreateTx persists the quiz and its ordered items in one statement pair.
func (r *DBRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, quiz Quiz, items []QuizItem) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO quizzes (id, org_id, user_id, mode, params, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		quiz.ID, quiz.OrgID, quiz.UserID, quiz.Mode, quiz.Params, quiz.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert quiz(%s): %w", quiz.ID, err)
	}

	if len(items) == 0 {
		return nil
	}
	query := database.BuildMultiRowInsert("quiz_items", []string{"quiz_id", "item_id", "position"}, len(items))
	args := make([]any, 0, len(items)*3)
	for _, item := range items {
		args = append(args, item.QuizID, item.ItemID, item.Position)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert quiz items(%s): %w", quiz.ID, err)
	}
	return nil
}

// Get loads a quiz by ID.
func (r *DBRepository) Get(ctx context.Context, quizID string) (*Quiz, error) {
	var quiz Quiz
	err := r.db.GetContext(ctx, &quiz,
		`SELECT id, org_id, user_id, mode, params, started_at, finished_at
		 FROM quizzes WHERE id = ?`,
		quizID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load quiz(%s): %w", quizID, err)
	}
	return &quiz, nil
}

// ListItems returns the quiz's membership in position order.
func (r *DBRepository) ListItems(ctx context.Context, quizID string) ([]QuizItem, error) {
	var items []QuizItem
	err := r.db.SelectContext(ctx, &items,
		"SELECT quiz_id, item_id, position FROM quiz_items WHERE quiz_id = ? ORDER BY position",
		quizID,
	)
	if err != nil {
		return nil, fmt.Errorf("load quiz items(%s): %w", quizID, err)
	}
	return items, nil
}

// FinishTx sets finished_at. The IS NULL predicate makes the transition
// happen at most once even under concurrent finishers.
func (r *DBRepository) FinishTx(ctx context.Context, tx *sqlx.Tx, quizID string, finishedAt time.Time) (bool, error) {
	result, err := tx.ExecContext(ctx,
		"UPDATE quizzes SET finished_at = ? WHERE id = ? AND finished_at IS NULL",
		finishedAt, quizID,
	)
	if err != nil {
		return false, fmt.Errorf("finish quiz(%s): %w", quizID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check quiz finish(%s): %w", quizID, err)
	}
	return affected > 0, nil
}

// SaveResultTx inserts the result row.
func (r *DBRepository) SaveResultTx(ctx context.Context, tx *sqlx.Tx, result Result) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO results (quiz_id, user_id, score, breakdown) VALUES (?, ?, ?, ?)",
		result.QuizID, result.UserID, result.Score, result.Breakdown,
	)
	if err != nil {
		return fmt.Errorf("insert result(%s): %w", result.QuizID, err)
	}
	return nil
}

// GetResult loads the result for a quiz and user.
func (r *DBRepository) GetResult(ctx context.Context, quizID string, userID int64) (*Result, error) {
	var result Result
	err := r.db.GetContext(ctx, &result,
		`SELECT quiz_id, user_id, score, breakdown, created_at
		 FROM results WHERE quiz_id = ? AND user_id = ?`,
		quizID, userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load result(%s): %w", quizID, err)
	}
	return &result, nil
}
