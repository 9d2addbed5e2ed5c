package quiz

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedlabs/recall/internal/scheduler"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "mysql"), mock
}

func TestDBRepository_CreateTx(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	db, mock := newMockDB(t)
	repo := NewDBRepository(db)

	quiz := Quiz{
		ID:        "3c4a2f9e-0000-0000-0000-000000000001",
		OrgID:     1,
		UserID:    7,
		Mode:      scheduler.ModeReview,
		StartedAt: now,
	}
	items := []QuizItem{
		{QuizID: quiz.ID, ItemID: 10, Position: 0},
		{QuizID: quiz.ID, ItemID: 11, Position: 1},
	}

	mock.ExpectBegin()
	mock.ExpectExec("(?s)INSERT INTO quizzes").
		WithArgs(quiz.ID, int64(1), int64(7), scheduler.ModeReview, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO quiz_items \(quiz_id, item_id, position\) VALUES \(\?, \?, \?\), \(\?, \?, \?\)`).
		WithArgs(quiz.ID, int64(10), 0, quiz.ID, int64(11), 1).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, repo.CreateTx(context.Background(), tx, quiz, items))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRepository_Get(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDBRepository(db)

		mock.ExpectQuery("(?s)SELECT .+ FROM quizzes WHERE id = \\?").
			WithArgs("quiz-1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "org_id", "user_id", "mode", "params", "started_at", "finished_at",
			}).AddRow("quiz-1", 1, 7, "review", nil, now, nil))

		got, err := repo.Get(context.Background(), "quiz-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, scheduler.ModeReview, got.Mode)
		assert.Nil(t, got.FinishedAt)
	})

	t.Run("absent returns nil", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDBRepository(db)

		mock.ExpectQuery("(?s)SELECT .+ FROM quizzes WHERE id = \\?").
			WithArgs("quiz-404").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "org_id", "user_id", "mode", "params", "started_at", "finished_at",
			}))

		got, err := repo.Get(context.Background(), "quiz-404")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestDBRepository_ListItems(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDBRepository(db)

	mock.ExpectQuery("SELECT quiz_id, item_id, position FROM quiz_items WHERE quiz_id = \\? ORDER BY position").
		WithArgs("quiz-1").
		WillReturnRows(sqlmock.NewRows([]string{"quiz_id", "item_id", "position"}).
			AddRow("quiz-1", 10, 0).
			AddRow("quiz-1", 11, 1))

	got, err := repo.ListItems(context.Background(), "quiz-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].ItemID)
	assert.Equal(t, 1, got[1].Position)
}

func TestDBRepository_FinishTx(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		rowsAffected int64
		want         bool
	}{
		{name: "first finisher wins", rowsAffected: 1, want: true},
		{name: "already finished", rowsAffected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewDBRepository(db)

			mock.ExpectBegin()
			mock.ExpectExec("UPDATE quizzes SET finished_at = \\? WHERE id = \\? AND finished_at IS NULL").
				WithArgs(now, "quiz-1").
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))
			mock.ExpectCommit()

			tx, err := db.BeginTxx(context.Background(), nil)
			require.NoError(t, err)
			got, err := repo.FinishTx(context.Background(), tx, "quiz-1", now)
			require.NoError(t, err)
			require.NoError(t, tx.Commit())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDBRepository_GetResult(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDBRepository(db)

		mock.ExpectQuery("(?s)SELECT .+ FROM results WHERE quiz_id = \\? AND user_id = \\?").
			WithArgs("quiz-1", int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"quiz_id", "user_id", "score", "breakdown", "created_at"}).
				AddRow("quiz-1", 7, 0.75, []byte(`[]`), now))

		got, err := repo.GetResult(context.Background(), "quiz-1", 7)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.InDelta(t, 0.75, got.Score, 1e-9)
	})

	t.Run("absent returns nil", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDBRepository(db)

		mock.ExpectQuery("(?s)SELECT .+ FROM results WHERE quiz_id = \\? AND user_id = \\?").
			WithArgs("quiz-404", int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"quiz_id", "user_id", "score", "breakdown", "created_at"}))

		got, err := repo.GetResult(context.Background(), "quiz-404", 7)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
