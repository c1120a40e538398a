package decision_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/internal/repositories/decision"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

func newRepo(t *testing.T) (*decision.Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	logger := zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
	db := database.NewDatabaseInstance(sqlx.NewDb(sqlDB, "postgres"), logger)
	return decision.NewRepository(db, logger), mock
}

func TestInsertDecision_Defaults(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectExec("INSERT INTO match_decisions").WillReturnResult(sqlmock.NewResult(0, 1))

	d := &models.MatchDecision{
		Email:        "maria@example.com",
		SourceSystem: "web_intake",
		DecisionType: models.DecisionNewEntity,
		Reason:       "no_candidates",
	}
	require.NoError(t, repo.InsertDecision(context.Background(), d))
	assert.NotEqual(t, uuid.Nil, d.ID)
	assert.Equal(t, models.ReviewNotRequired, d.ReviewStatus)
	assert.NotNil(t, d.TopCandidates.Data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDecisionReview_OnlyPending(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "pending decision", affected: 1, want: true},
		{name: "already reviewed", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepo(t)
			id := uuid.New()
			at := time.Now().UTC()

			mock.ExpectExec(`UPDATE match_decisions SET .* WHERE id = \$4 AND review_status = \$5`).
				WithArgs("approved", "reviewer@example.org", at, id, "pending").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := repo.UpdateDecisionReview(context.Background(), id, models.ReviewApproved, "reviewer@example.org", at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestListDecisions_Filters(t *testing.T) {
	repo, mock := newRepo(t)
	minScore := 0.5
	decisionType := models.DecisionReviewPending
	reviewStatus := models.ReviewPending

	mock.ExpectQuery(`FROM match_decisions WHERE decision_type = \$1 AND review_status = \$2 AND score >= \$3 ORDER BY created_at DESC, id LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	out, err := repo.ListDecisions(context.Background(), models.DecisionFilter{
		DecisionType: &decisionType,
		ReviewStatus: &reviewStatus,
		MinScore:     &minScore,
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}
