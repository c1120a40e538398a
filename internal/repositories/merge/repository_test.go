package merge_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/internal/repositories/merge"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

func newRepo(t *testing.T) (*merge.Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	logger := zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
	db := database.NewDatabaseInstance(sqlx.NewDb(sqlDB, "postgres"), logger)
	return merge.NewRepository(db, logger), mock
}

func TestEntityState_LocksRow(t *testing.T) {
	repo, mock := newRepo(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, status, merged_into, updated_at FROM "cats" WHERE id = $1 FOR UPDATE`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "merged_into", "updated_at"}).
			AddRow(id.String(), "active", nil, now))

	state, err := repo.EntityState(context.Background(), models.EntityCat, id)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.StatusActive, state.Status)
	assert.Nil(t, state.MergedInto)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityState_Missing(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery("FROM \"people\"").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "merged_into", "updated_at"}))

	state, err := repo.EntityState(context.Background(), models.EntityPerson, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestRelinkReference_EdgeTable(t *testing.T) {
	repo, mock := newRepo(t)
	loser, winner := uuid.New(), uuid.New()
	ref := models.Reference{Table: "person_cat", Column: "person_id", UniqueWith: []string{"cat_id", "relationship_type"}}

	mock.ExpectExec(`UPDATE "person_cat" w SET confidence = GREATEST`).
		WithArgs(loser, winner).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "person_cat" l USING "person_cat" w`).
		WithArgs(loser, winner).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "person_cat" SET "person_id" = $2 WHERE "person_id" = $1`)).
		WithArgs(loser, winner).
		WillReturnResult(sqlmock.NewResult(0, 3))

	moved, deleted, err := repo.RelinkReference(context.Background(), ref, loser, winner)
	require.NoError(t, err)
	assert.Equal(t, int64(3), moved)
	assert.Equal(t, int64(1), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelinkReference_RolesSkipConfidence(t *testing.T) {
	repo, mock := newRepo(t)
	loser, winner := uuid.New(), uuid.New()
	ref := models.Reference{Table: "person_roles", Column: "person_id", UniqueWith: []string{"role"}}

	mock.ExpectExec(`DELETE FROM "person_roles" l USING "person_roles" w`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "person_roles" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	moved, deleted, err := repo.RelinkReference(context.Background(), ref, loser, winner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)
	assert.Zero(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelinkReference_PlainColumn(t *testing.T) {
	repo, mock := newRepo(t)
	loser, winner := uuid.New(), uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "appointments" SET "cat_id" = $2 WHERE "cat_id" = $1`)).
		WithArgs(loser, winner).
		WillReturnResult(sqlmock.NewResult(0, 2))

	moved, deleted, err := repo.RelinkReference(context.Background(), models.Reference{Table: "appointments", Column: "cat_id"}, loser, winner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved)
	assert.Zero(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelinkReference_RejectsUnknownReference(t *testing.T) {
	repo, mock := newRepo(t)

	_, _, err := repo.RelinkReference(context.Background(),
		models.Reference{Table: "people; DROP TABLE people", Column: "id"}, uuid.New(), uuid.New())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetEntityStatus_NotFound(t *testing.T) {
	repo, mock := newRepo(t)
	winner := uuid.New()

	mock.ExpectExec("UPDATE places SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetEntityStatus(context.Background(), models.EntityPlace, uuid.New(), models.StatusMerged, &winner)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMergeAudit_DefaultsRelinked(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectExec("INSERT INTO entity_merge_audit").WillReturnResult(sqlmock.NewResult(0, 1))

	audit := &models.MergeAudit{
		EntityKind: models.EntityPerson,
		Action:     models.AuditActionArchive,
		LoserID:    uuid.New(),
		OldStatus:  models.StatusActive,
		NewStatus:  models.StatusArchived,
		Actor:      "system",
	}
	require.NoError(t, repo.InsertMergeAudit(context.Background(), audit))
	assert.NotEqual(t, uuid.Nil, audit.ID)
	assert.NotNil(t, audit.Relinked.Data)
	assert.False(t, audit.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
