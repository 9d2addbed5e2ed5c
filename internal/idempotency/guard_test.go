package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "mysql"), mock
}

func duplicateEntry() error {
	return &mysql.MySQLError{Number: 1062, Message: "duplicate entry"}
}

func keyRows(now time.Time, committed bool, expiresAt time.Time, response []byte, statusCode int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "idempotency_key", "endpoint", "org_id", "user_id",
		"response_data", "status_code", "committed", "created_at", "expires_at",
	}).AddRow(1, "req-1", "submit_review", 1, 7, response, statusCode, committed, now, expiresAt)
}

func TestDBGuard_Begin(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	ttl := 24 * time.Hour

	tests := []struct {
		name       string
		setupMock  func(mock sqlmock.Sqlmock)
		wantFresh  bool
		wantReplay bool
		wantErr    error
	}{
		{
			name: "fresh key claims the row",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("(?s)INSERT INTO idempotency_keys").
					WithArgs("req-1", "submit_review", int64(1), int64(7), now, now.Add(ttl)).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			wantFresh: true,
		},
		{
			name: "committed key replays",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("(?s)INSERT INTO idempotency_keys").
					WillReturnError(duplicateEntry())
				mock.ExpectQuery("(?s)SELECT .+ FROM idempotency_keys WHERE idempotency_key = \\?").
					WithArgs("req-1").
					WillReturnRows(keyRows(now, true, now.Add(ttl), []byte(`{"review_id":11}`), 200))
			},
			wantReplay: true,
		},
		{
			name: "uncommitted key is in flight",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("(?s)INSERT INTO idempotency_keys").
					WillReturnError(duplicateEntry())
				mock.ExpectQuery("(?s)SELECT .+ FROM idempotency_keys WHERE idempotency_key = \\?").
					WithArgs("req-1").
					WillReturnRows(keyRows(now, false, now.Add(ttl), nil, 0))
			},
			wantErr: ErrInFlight,
		},
		{
			name: "expired key is reclaimed",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("(?s)INSERT INTO idempotency_keys").
					WillReturnError(duplicateEntry())
				mock.ExpectQuery("(?s)SELECT .+ FROM idempotency_keys WHERE idempotency_key = \\?").
					WithArgs("req-1").
					WillReturnRows(keyRows(now.Add(-48*time.Hour), true, now.Add(-time.Hour), []byte(`{}`), 200))
				mock.ExpectExec("DELETE FROM idempotency_keys WHERE idempotency_key = \\? AND expires_at < \\?").
					WithArgs("req-1", now).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("(?s)INSERT INTO idempotency_keys").
					WillReturnResult(sqlmock.NewResult(2, 1))
			},
			wantFresh: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			guard := NewDBGuard(db, ttl)
			tt.setupMock(mock)

			got, err := guard.Begin(context.Background(), "req-1", "submit_review", 1, 7, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFresh, got.Fresh)
			if tt.wantReplay {
				require.NotNil(t, got.Replay)
				assert.Equal(t, 200, got.Replay.StatusCode)
				assert.JSONEq(t, `{"review_id":11}`, string(got.Replay.ResponseData))
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDBGuard_Begin_EmptyKey(t *testing.T) {
	db, _ := newMockDB(t)
	guard := NewDBGuard(db, time.Hour)

	_, err := guard.Begin(context.Background(), "", "submit_review", 1, 7, time.Now())
	assert.Error(t, err)
}

func TestDBGuard_Commit(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("marks the row replayable", func(t *testing.T) {
		db, mock := newMockDB(t)
		guard := NewDBGuard(db, time.Hour)

		mock.ExpectExec("(?s)UPDATE idempotency_keys").
			WithArgs([]byte(`{"ok":true}`), 200, now.Add(time.Hour), "req-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := guard.Commit(context.Background(), "req-1", json.RawMessage(`{"ok":true}`), 200, now)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails when no in-flight row exists", func(t *testing.T) {
		db, mock := newMockDB(t)
		guard := NewDBGuard(db, time.Hour)

		mock.ExpectExec("(?s)UPDATE idempotency_keys").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := guard.Commit(context.Background(), "req-1", nil, 200, now)
		assert.Error(t, err)
	})
}

func TestDBGuard_Abort(t *testing.T) {
	db, mock := newMockDB(t)
	guard := NewDBGuard(db, time.Hour)

	mock.ExpectExec("DELETE FROM idempotency_keys WHERE idempotency_key = \\? AND committed = 0").
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, guard.Abort(context.Background(), "req-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBGuard_Sweep(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	db, mock := newMockDB(t)
	guard := NewDBGuard(db, time.Hour)

	mock.ExpectExec("DELETE FROM idempotency_keys WHERE expires_at < \\?").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 5))

	deleted, err := guard.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
