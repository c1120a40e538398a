package decision

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const maxListLimit = 500

var columns = []string{
	"id", "email", "phone", "first_name", "last_name", "display_name", "address", "source_system",
	"decision_type", "reason", "rule_name", "person_id", "candidate_person_id", "score", "breakdown",
	"top_candidates", "review_status", "reviewed_by", "reviewed_at", "created_at",
}

// Repository persists match decisions. Rows are append-only apart from the
// review fields.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) InsertDecision(ctx context.Context, d *models.MatchDecision) error {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.InsertDecision")
	defer span.End()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.ReviewStatus == "" {
		d.ReviewStatus = models.ReviewNotRequired
	}
	if d.TopCandidates.Data == nil {
		d.TopCandidates = database.NewJSONB([]models.CandidateScore{})
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("match_decisions")
	ib.Cols(columns...)
	ib.Values(d.ID, d.Email, d.Phone, d.FirstName, d.LastName, d.DisplayName, d.Address, d.SourceSystem,
		d.DecisionType, d.Reason, d.RuleName, d.PersonID, d.CandidatePersonID, d.Score, d.Breakdown,
		d.TopCandidates, d.ReviewStatus, d.ReviewedBy, d.ReviewedAt, d.CreatedAt)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"decision_id":   d.ID,
			"decision_type": d.DecisionType,
		}).Error("Failed to insert match decision")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert match decision")
	}

	return nil
}

func (r *Repository) FindDecision(ctx context.Context, id uuid.UUID) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.FindDecision")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_decisions")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var d models.MatchDecision
	if err := database.Conn(ctx, r.db).GetContext(ctx, &d, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"decision_id": id}).Error("Failed to get match decision")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match decision")
	}

	return &d, nil
}

// ListDecisions returns the newest decisions first.
func (r *Repository) ListDecisions(ctx context.Context, f models.DecisionFilter) ([]models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.ListDecisions")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_decisions")

	var where []string
	if f.DecisionType != nil {
		where = append(where, sb.Equal("decision_type", *f.DecisionType))
	}
	if f.ReviewStatus != nil {
		where = append(where, sb.Equal("review_status", *f.ReviewStatus))
	}
	if f.PersonID != nil {
		where = append(where, sb.Equal("person_id", *f.PersonID))
	}
	if f.MinScore != nil {
		where = append(where, sb.GreaterEqualThan("score", *f.MinScore))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("created_at DESC", "id")

	limit := f.Limit
	if limit < 1 || limit > maxListLimit {
		limit = 100
	}
	sb.Limit(limit)
	if f.Offset > 0 {
		sb.Offset(f.Offset)
	}

	query, args := sb.Build()
	decisions := []models.MatchDecision{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &decisions, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list match decisions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match decisions")
	}

	return decisions, nil
}

// UpdateDecisionReview records a reviewer's verdict. Only pending rows change;
// false means the decision was not pending.
func (r *Repository) UpdateDecisionReview(ctx context.Context, id uuid.UUID, status models.ReviewStatus, reviewer string, at time.Time) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.UpdateDecisionReview")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("match_decisions")
	ub.Set(
		ub.Assign("review_status", status),
		ub.Assign("reviewed_by", reviewer),
		ub.Assign("reviewed_at", at),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("review_status", models.ReviewPending),
	)

	query, args := ub.Build()
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"decision_id": id}).Error("Failed to update decision review")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update match decision")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update match decision")
	}
	return n == 1, nil
}
