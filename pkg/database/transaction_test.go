package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/pkg/database"
)

func newMockDB(t *testing.T) (database.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	logger := zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
	return database.NewDatabaseInstance(sqlx.NewDb(sqlDB, "sqlmock"), logger), mock
}

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE persons").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := database.Conn(ctx, db).ExecContext(ctx, "UPDATE persons SET status = 'merged'")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE persons").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := db.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := database.Conn(ctx, db).ExecContext(ctx, "UPDATE persons SET status = 'merged'")
		return err
	})

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_NestedCallJoinsOuterTransaction(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM person_cat").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO merge_audit").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.WithinTx(context.Background(), func(ctx context.Context) error {
		if _, err := database.Conn(ctx, db).ExecContext(ctx, "DELETE FROM person_cat WHERE person_id = $1", "x"); err != nil {
			return err
		}
		// the inner commit must not end the outer transaction
		return db.WithinTx(ctx, func(ctx context.Context) error {
			_, err := database.Conn(ctx, db).ExecContext(ctx, "INSERT INTO merge_audit DEFAULT VALUES")
			return err
		})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_WithoutTransactionUsesDB(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := database.Conn(context.Background(), db).ExecContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Nil(t, database.TxFromContext(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJSONB_ScanAndValue(t *testing.T) {
	type breakdown struct {
		Email float64 `json:"email"`
	}

	var j database.JSONB[breakdown]
	require.NoError(t, j.Scan([]byte(`{"email":0.4}`)))
	assert.Equal(t, 0.4, j.GetValue().Email)

	require.NoError(t, j.Scan(nil))
	assert.Equal(t, 0.0, j.Data.Email)

	assert.Error(t, j.Scan(42))

	v, err := database.NewJSONB(breakdown{Email: 0.25}).Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":0.25}`, string(v.([]byte)))
}
