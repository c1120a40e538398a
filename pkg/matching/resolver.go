// Package matching resolves incoming contact fragments to canonical people.
// The gate admits, the scorer ranks, and an ordered decision table picks the
// outcome. Every call writes exactly one MatchDecision.
package matching

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var ErrNoDecisionRule = errors.New("decision table has no matching rule")

// PersonStore reads and writes people and their identifiers. Find* returns
// (nil, nil) when nothing matches.
type PersonStore interface {
	FindPerson(ctx context.Context, id uuid.UUID) (*models.Person, error)
	CreatePerson(ctx context.Context, person *models.Person) error
	// AttachIdentifier inserts unless (type, normalized_value) is already
	// claimed by anyone. It never reassigns an identifier.
	AttachIdentifier(ctx context.Context, identifier *models.PersonIdentifier) (bool, error)
	ListIdentifiers(ctx context.Context, personID uuid.UUID) ([]models.PersonIdentifier, error)
}

type DecisionStore interface {
	InsertDecision(ctx context.Context, decision *models.MatchDecision) error
	FindDecision(ctx context.Context, id uuid.UUID) (*models.MatchDecision, error)
	ListDecisions(ctx context.Context, filter models.DecisionFilter) ([]models.MatchDecision, error)
	// UpdateDecisionReview only changes rows still pending review.
	UpdateDecisionReview(ctx context.Context, id uuid.UUID, status models.ReviewStatus, reviewer string, at time.Time) (bool, error)
}

type Config struct {
	Thresholds Thresholds
	// Table overrides the default decision table.
	Table DecisionTable
	// NewEntityConfidence is stored on identifiers of newly created people.
	NewEntityConfidence float64
	// SkeletonTrustedSources may create identifier-less people.
	SkeletonTrustedSources []string
	// BulkApproveLimit caps one bulk approval pass.
	BulkApproveLimit int
}

func DefaultConfig() Config {
	return Config{
		Thresholds:          DefaultThresholds(),
		Table:               DefaultDecisionTable(),
		NewEntityConfidence: 1.0,
		BulkApproveLimit:    1000,
	}
}

type ResolveInput struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
	SourceSystem string `json:"source_system"`
}

// Resolution is the outcome of one ResolveIdentity call.
type Resolution struct {
	Decision            models.DecisionType     `json:"decision"`
	Rule                string                  `json:"rule"`
	Reason              string                  `json:"reason"`
	PersonID            *uuid.UUID              `json:"person_id,omitempty"`
	CandidatePersonID   *uuid.UUID              `json:"candidate_person_id,omitempty"`
	Score               float64                 `json:"score"`
	Breakdown           models.ScoreBreakdown   `json:"breakdown"`
	Candidates          []models.CandidateScore `json:"candidates,omitempty"`
	Created             bool                    `json:"created"`
	AttachedIdentifiers int                     `json:"attached_identifiers"`
	DecisionID          uuid.UUID               `json:"decision_id"`
}

// Resolver is the identity resolution entry point.
type Resolver struct {
	logger    ectologger.Logger
	gate      *gate.Gate
	scorer    *CandidateScorer
	persons   PersonStore
	decisions DecisionStore
	tx        database.Transactor
	emitter   *events.Emitter
	cfg       Config
	now       func() time.Time
}

func NewResolver(
	logger ectologger.Logger,
	g *gate.Gate,
	scorer *CandidateScorer,
	persons PersonStore,
	decisions DecisionStore,
	tx database.Transactor,
	emitter *events.Emitter,
	cfg Config,
) *Resolver {
	if len(cfg.Table) == 0 {
		cfg.Table = DefaultDecisionTable()
	}
	if cfg.NewEntityConfidence <= 0 {
		cfg.NewEntityConfidence = 1.0
	}
	return &Resolver{
		logger:    logger,
		gate:      g,
		scorer:    scorer,
		persons:   persons,
		decisions: decisions,
		tx:        tx,
		emitter:   emitter,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ResolveIdentity admits, scores and decides, then applies the decision and
// records it in one transaction.
func (r *Resolver) ResolveIdentity(ctx context.Context, in ResolveInput) (*Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Resolver.ResolveIdentity")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"source_system": in.SourceSystem,
	})

	verdict, err := r.gate.Evaluate(ctx, in.FirstName, in.LastName, in.Email, in.Phone)
	if err != nil {
		log.WithError(err).Error("Identity gate failed")
		tracing.RecordError(span, err)
		return nil, err
	}
	contact := verdict.Contact

	decisionIn := DecisionInput{Admitted: verdict.Admit, GateReason: verdict.Reason}
	var scored ScoreResult
	if verdict.Admit {
		scored, err = r.scorer.ScoreCandidates(ctx, contact.Email, contact.Phone, contact.DisplayName, in.Address)
		if err != nil {
			log.WithError(err).Error("Failed to score candidates")
			tracing.RecordError(span, err)
			return nil, err
		}
		decisionIn.Best = scored.Best
	}

	rule, ok := r.cfg.Table.Decide(decisionIn, r.cfg.Thresholds)
	if !ok {
		return nil, ErrNoDecisionRule
	}

	res := &Resolution{
		Decision:   rule.Decision,
		Rule:       rule.Name,
		Reason:     rule.Reason(decisionIn, r.cfg.Thresholds),
		Breakdown:  scored.Breakdown(),
		Candidates: scored.Candidates,
	}
	if scored.Best != nil {
		res.Score = scored.Best.Score
		id := scored.Best.PersonID
		res.CandidatePersonID = &id
	}

	decision := &models.MatchDecision{
		ID:            uuid.New(),
		Email:         contact.Email,
		Phone:         contact.Phone,
		FirstName:     contact.FirstName,
		LastName:      contact.LastName,
		DisplayName:   contact.DisplayName,
		Address:       normalizers.NormalizeAddress(in.Address),
		SourceSystem:  in.SourceSystem,
		DecisionType:  res.Decision,
		Reason:        res.Reason,
		RuleName:      res.Rule,
		Score:         res.Score,
		Breakdown:     database.NewJSONB(res.Breakdown),
		TopCandidates: database.NewJSONB(scored.Candidates),
		ReviewStatus:  models.ReviewNotRequired,
		CreatedAt:     r.now().UTC(),
	}
	if res.Decision == models.DecisionReviewPending {
		decision.ReviewStatus = models.ReviewPending
	}

	var created *models.Person
	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		switch res.Decision {
		case models.DecisionNewEntity:
			created = r.newPerson(contact, in.SourceSystem)
			if err := r.persons.CreatePerson(ctx, created); err != nil {
				return err
			}
			res.PersonID = &created.ID
			res.Created = true
			n, err := r.attachIdentifiers(ctx, created.ID, contact, in.SourceSystem, r.cfg.NewEntityConfidence)
			if err != nil {
				return err
			}
			res.AttachedIdentifiers = n
		case models.DecisionAutoMatch:
			res.PersonID = res.CandidatePersonID
			n, err := r.attachIdentifiers(ctx, *res.PersonID, contact, in.SourceSystem, min(res.Score, 1))
			if err != nil {
				return err
			}
			res.AttachedIdentifiers = n
		}

		decision.PersonID = res.PersonID
		decision.CandidatePersonID = res.CandidatePersonID
		return r.decisions.InsertDecision(ctx, decision)
	})
	if err != nil {
		log.WithError(err).Error("Failed to apply identity decision")
		tracing.RecordError(span, err)
		return nil, err
	}
	res.DecisionID = decision.ID

	metrics.RecordDecision(string(res.Decision), res.Rule, res.Score)
	if created != nil {
		r.emitter.EmitPersonCreated(ctx, created)
	}
	r.emitter.EmitMatchDecision(ctx, decision)

	log.WithFields(map[string]any{
		"decision":    res.Decision,
		"rule":        res.Rule,
		"score":       res.Score,
		"decision_id": decision.ID,
	}).Info("Resolved identity")

	return res, nil
}

func (r *Resolver) newPerson(c gate.Contact, sourceSystem string) *models.Person {
	now := r.now().UTC()
	return &models.Person{
		ID:           uuid.New(),
		DisplayName:  c.DisplayName,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		NameKey:      normalizers.NormalizeNameKey(c.DisplayName),
		DataQuality:  models.DataQualityNormal,
		SourceSystem: sourceSystem,
		Status:       models.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// attachIdentifiers adds the contact's email and phone to personID. An
// identifier already claimed by anyone is skipped.
func (r *Resolver) attachIdentifiers(ctx context.Context, personID uuid.UUID, c gate.Contact, sourceSystem string, confidence float64) (int, error) {
	type claim struct {
		kind       models.IdentifierType
		raw, value string
	}
	claims := []claim{
		{models.IdentifierEmail, c.RawEmail, c.Email},
		{models.IdentifierPhone, c.RawPhone, c.Phone},
	}

	attached := 0
	for _, cl := range claims {
		if cl.value == "" {
			continue
		}
		ok, err := r.persons.AttachIdentifier(ctx, &models.PersonIdentifier{
			ID:              uuid.New(),
			PersonID:        personID,
			Type:            cl.kind,
			RawValue:        cl.raw,
			NormalizedValue: cl.value,
			Confidence:      confidence,
			SourceSystem:    sourceSystem,
			CreatedAt:       r.now().UTC(),
		})
		if err != nil {
			return attached, err
		}
		if ok {
			attached++
		} else {
			r.logger.WithContext(ctx).WithFields(map[string]any{
				"person_id":       personID,
				"identifier_type": cl.kind,
			}).Debug("Identifier already claimed, skipped")
		}
	}
	return attached, nil
}
