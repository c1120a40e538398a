package matching

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	ErrDecisionNotFound   = httperror.NewHTTPError(http.StatusNotFound, "match decision not found")
	ErrDecisionNotPending = httperror.NewHTTPError(http.StatusConflict, "match decision is not pending review")
)

// GetDecision returns a decision or ErrDecisionNotFound.
func (r *Resolver) GetDecision(ctx context.Context, id uuid.UUID) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Resolver.GetDecision")
	defer span.End()

	decision, err := r.decisions.FindDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return nil, ErrDecisionNotFound
	}
	return decision, nil
}

func (r *Resolver) ListDecisions(ctx context.Context, filter models.DecisionFilter) ([]models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Resolver.ListDecisions")
	defer span.End()

	return r.decisions.ListDecisions(ctx, filter)
}

// ApproveDecision accepts a review_pending decision: its identifiers are
// attached to the candidate under the same no-overwrite rule as auto_match.
func (r *Resolver) ApproveDecision(ctx context.Context, id uuid.UUID, reviewer string) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Resolver.ApproveDecision")
	defer span.End()

	return r.review(ctx, id, reviewer, models.ReviewApproved)
}

// RejectDecision closes a review_pending decision without touching people.
func (r *Resolver) RejectDecision(ctx context.Context, id uuid.UUID, reviewer string) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Resolver.RejectDecision")
	defer span.End()

	return r.review(ctx, id, reviewer, models.ReviewRejected)
}

func (r *Resolver) review(ctx context.Context, id uuid.UUID, reviewer string, status models.ReviewStatus) (*models.MatchDecision, error) {
	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"decision_id": id,
		"reviewer":    reviewer,
		"status":      status,
	})

	var decision *models.MatchDecision
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		decision, err = r.GetDecision(ctx, id)
		if err != nil {
			return err
		}
		if decision.DecisionType != models.DecisionReviewPending || decision.ReviewStatus != models.ReviewPending {
			return ErrDecisionNotPending
		}

		at := r.now().UTC()
		updated, err := r.decisions.UpdateDecisionReview(ctx, id, status, reviewer, at)
		if err != nil {
			return err
		}
		if !updated {
			return ErrDecisionNotPending
		}

		if status == models.ReviewApproved && decision.CandidatePersonID != nil {
			contact := gate.Contact{
				RawEmail: decision.Email,
				RawPhone: decision.Phone,
				Email:    decision.Email,
				Phone:    decision.Phone,
			}
			if _, err := r.attachIdentifiers(ctx, *decision.CandidatePersonID, contact, decision.SourceSystem, min(decision.Score, 1)); err != nil {
				return err
			}
		}

		decision.ReviewStatus = status
		decision.ReviewedBy = &reviewer
		decision.ReviewedAt = &at
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrDecisionNotFound) && !errors.Is(err, ErrDecisionNotPending) {
			log.WithError(err).Error("Failed to review match decision")
		}
		return nil, err
	}

	metrics.RecordDecision("review_"+string(status), decision.RuleName, decision.Score)
	r.emitter.EmitMatchReviewed(ctx, decision)
	log.Info("Reviewed match decision")

	return decision, nil
}

// BulkApprove approves pending decisions scoring at least minScore. Decisions
// that stopped being pending mid-pass are skipped.
func (r *Resolver) BulkApprove(ctx context.Context, minScore float64, reviewer string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Resolver.BulkApprove")
	defer span.End()

	decisionType := models.DecisionReviewPending
	reviewStatus := models.ReviewPending
	pending, err := r.decisions.ListDecisions(ctx, models.DecisionFilter{
		DecisionType: &decisionType,
		ReviewStatus: &reviewStatus,
		MinScore:     &minScore,
		Limit:        r.cfg.BulkApproveLimit,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}

	approved := 0
	for _, d := range pending {
		if err := ctx.Err(); err != nil {
			return approved, err
		}
		if _, err := r.ApproveDecision(ctx, d.ID, reviewer); err != nil {
			if errors.Is(err, ErrDecisionNotPending) {
				continue
			}
			return approved, err
		}
		approved++
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"min_score": minScore,
		"approved":  approved,
		"reviewer":  reviewer,
	}).Info("Bulk approved match decisions")

	return approved, nil
}
