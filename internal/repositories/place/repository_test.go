package place_test

import (
	"context"
	"errors"
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

	"github.com/Ramsey-B/fern/internal/repositories/place"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

func newRepo(t *testing.T) (*place.Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	logger := zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
	db := database.NewDatabaseInstance(sqlx.NewDb(sqlDB, "postgres"), logger)
	return place.NewRepository(db, logger), mock
}

func TestCreatePlace(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "inserted", affected: 1, want: true},
		{name: "address already held by an active place", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepo(t)
			mock.ExpectExec(`INSERT INTO places .* ON CONFLICT DO NOTHING`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			addr := "12 oak st, springfield"
			p := &models.Place{DisplayName: "12 Oak St", FormattedAddress: "12 Oak St, Springfield", NormalizedAddress: &addr}
			created, err := repo.CreatePlace(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, created)
			assert.NotEqual(t, uuid.Nil, p.ID)
			assert.Equal(t, models.StatusActive, p.Status)
			assert.Equal(t, models.PlaceUnknown, p.Kind)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFindPlace_NotFound(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(`FROM places WHERE id = \$1`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	p, err := repo.FindPlace(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPlace_DatabaseError(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(`FROM places`).WillReturnError(errors.New("connection reset"))

	_, err := repo.FindPlace(context.Background(), uuid.New())
	var httpErr *httperror.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Code)
}

func TestFindPlacesNear_OnlyActiveUnitless(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(`FROM places WHERE status = \$1 AND latitude IS NOT NULL AND longitude IS NOT NULL AND latitude BETWEEN .* COALESCE\(unit_identifier, ''\) = ''`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	out, err := repo.FindPlacesNear(context.Background(), 39.78, -89.65, 50)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}
