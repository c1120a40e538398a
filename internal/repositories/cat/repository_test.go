package cat_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/internal/repositories/cat"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

func newRepo(t *testing.T) (*cat.Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	logger := zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
	db := database.NewDatabaseInstance(sqlx.NewDb(sqlDB, "postgres"), logger)
	return cat.NewRepository(db, logger), mock
}

func TestFindCatByIdentifier_ActiveOnly(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(`FROM cats c JOIN cat_identifiers ci ON ci.cat_id = c.id WHERE ci.identifier_type = \$1 AND ci.identifier_value = \$2 AND c.status = \$3`).
		WithArgs("microchip", "985112003456789", "active").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	c, err := repo.FindCatByIdentifier(context.Background(), models.CatIdentifierMicrochip, "985112003456789")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachCatIdentifier_Claimed(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec(`INSERT INTO cat_identifiers .* ON CONFLICT \(identifier_type, identifier_value\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.AttachCatIdentifier(context.Background(), &models.CatIdentifier{
		CatID: uuid.New(),
		Type:  models.CatIdentifierMicrochip,
		Value: "985112003456789",
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCat_NotFound(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec(`UPDATE cats SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateCat(context.Background(), &models.Cat{ID: uuid.New(), Name: "Mittens"})
	var httpErr *httperror.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}
