package matching

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/validators"
)

// Skeleton rejection reasons.
const (
	ReasonUntrustedSource = "untrusted_source"
	ReasonSkeletonName    = "name_not_person"
)

type SkeletonInput struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Address      string `json:"address"`
	SourceSystem string `json:"source_system"`
}

// CreateSkeletonPerson creates an identifier-less person for a trusted source.
// The person is flagged needs_review and a MatchDecision is still written.
func (r *Resolver) CreateSkeletonPerson(ctx context.Context, in SkeletonInput) (*Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Resolver.CreateSkeletonPerson")
	defer span.End()

	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	displayName := strings.TrimSpace(first + " " + last)

	res := &Resolution{Decision: models.DecisionNewEntity, Rule: RuleSkeleton, Reason: "skeleton from trusted source"}
	switch {
	case !slices.Contains(r.cfg.SkeletonTrustedSources, in.SourceSystem):
		res.Decision, res.Rule, res.Reason = models.DecisionRejected, RuleSkeleton, ReasonUntrustedSource
	case first == "" || r.gate.Classifier().ClassifyName(displayName) != validators.NameLikelyPerson:
		res.Decision, res.Rule, res.Reason = models.DecisionRejected, RuleSkeleton, ReasonSkeletonName
	}

	now := r.now().UTC()
	decision := &models.MatchDecision{
		ID:            uuid.New(),
		FirstName:     first,
		LastName:      last,
		DisplayName:   displayName,
		Address:       normalizers.NormalizeAddress(in.Address),
		SourceSystem:  in.SourceSystem,
		DecisionType:  res.Decision,
		Reason:        res.Reason,
		RuleName:      res.Rule,
		Breakdown:     database.NewJSONB(models.ScoreBreakdown{}),
		TopCandidates: database.NewJSONB([]models.CandidateScore{}),
		ReviewStatus:  models.ReviewNotRequired,
		CreatedAt:     now,
	}

	var person *models.Person
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if res.Decision == models.DecisionNewEntity {
			person = &models.Person{
				ID:           uuid.New(),
				DisplayName:  displayName,
				FirstName:    first,
				LastName:     last,
				NameKey:      normalizers.NormalizeNameKey(displayName),
				IsSkeleton:   true,
				DataQuality:  models.DataQualityNeedsReview,
				SourceSystem: in.SourceSystem,
				Status:       models.StatusActive,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := r.persons.CreatePerson(ctx, person); err != nil {
				return err
			}
			res.PersonID = &person.ID
			res.Created = true
			decision.PersonID = res.PersonID
		}
		return r.decisions.InsertDecision(ctx, decision)
	})
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create skeleton person")
		tracing.RecordError(span, err)
		return nil, err
	}
	res.DecisionID = decision.ID

	metrics.RecordDecision(string(res.Decision), res.Rule, 0)
	if person != nil {
		r.emitter.EmitPersonCreated(ctx, person)
	}
	r.emitter.EmitMatchDecision(ctx, decision)

	return res, nil
}
