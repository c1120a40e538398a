package matching

import (
	"context"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/similarity"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ScoreWeights is the maximum contribution of each component.
type ScoreWeights struct {
	Email   float64
	Phone   float64
	Name    float64
	Address float64
}

func DefaultWeights() ScoreWeights {
	return ScoreWeights{
		Email:   0.40,
		Phone:   0.25,
		Name:    0.25,
		Address: 0.10,
	}
}

// CandidateStore returns active people sharing an identifier with the query
// or whose name key is similar to it.
type CandidateStore interface {
	FindCandidates(ctx context.Context, query models.CandidateQuery) ([]models.PersonCandidate, error)
}

type ScorerConfig struct {
	Weights           ScoreWeights
	NameSimilarity    similarity.Func
	AddressSimilarity similarity.Func
	// MinNameSimilarity bounds name-only candidate lookups.
	MinNameSimilarity float64
	// CandidateLimit caps rows fetched from the store.
	CandidateLimit int
	// MaxCandidates is how many ranked candidates are kept for review.
	MaxCandidates int
}

func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Weights:           DefaultWeights(),
		NameSimilarity:    similarity.Trigram,
		AddressSimilarity: similarity.Trigram,
		MinNameSimilarity: 0.3,
		CandidateLimit:    50,
		MaxCandidates:     5,
	}
}

// ScoreResult is the best candidate plus the ranked runners-up.
type ScoreResult struct {
	Best       *models.CandidateScore  `json:"best,omitempty"`
	Candidates []models.CandidateScore `json:"candidates"`
}

// Breakdown returns the best candidate's breakdown, or zeros.
func (r ScoreResult) Breakdown() models.ScoreBreakdown {
	if r.Best == nil {
		return models.ScoreBreakdown{}
	}
	return r.Best.Breakdown
}

// CandidateScorer ranks existing people against an incoming contact.
type CandidateScorer struct {
	logger ectologger.Logger
	store  CandidateStore
	cfg    ScorerConfig
}

func NewCandidateScorer(logger ectologger.Logger, store CandidateStore, cfg ScorerConfig) *CandidateScorer {
	if cfg.NameSimilarity == nil {
		cfg.NameSimilarity = similarity.Trigram
	}
	if cfg.AddressSimilarity == nil {
		cfg.AddressSimilarity = similarity.Trigram
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 5
	}
	return &CandidateScorer{logger: logger, store: store, cfg: cfg}
}

// ScoreCandidates expects email and phone already normalized. Name and address
// are free text.
func (s *CandidateScorer) ScoreCandidates(ctx context.Context, email, phone, name, address string) (ScoreResult, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.CandidateScorer.ScoreCandidates")
	defer span.End()

	nameKey := normalizers.NormalizeNameKey(name)
	if email == "" && phone == "" && nameKey == "" {
		return ScoreResult{}, nil
	}

	candidates, err := s.store.FindCandidates(ctx, models.CandidateQuery{
		Email:             email,
		Phone:             phone,
		NameKey:           nameKey,
		MinNameSimilarity: s.cfg.MinNameSimilarity,
		Limit:             s.cfg.CandidateLimit,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return ScoreResult{}, err
	}

	normalizedAddress := normalizers.NormalizeAddress(address)
	scores := make([]models.CandidateScore, 0, len(candidates))
	for _, c := range candidates {
		if c.Person.Status != models.StatusActive {
			continue
		}
		score := s.Score(c, name, normalizedAddress)
		if score.Score <= 0 {
			continue
		}
		scores = append(scores, score)
	}

	Rank(scores)
	if len(scores) > s.cfg.MaxCandidates {
		scores = scores[:s.cfg.MaxCandidates]
	}

	result := ScoreResult{Candidates: scores}
	if len(scores) > 0 {
		best := scores[0]
		result.Best = &best
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"candidates": len(candidates),
		"scored":     len(scores),
	}).Debug("Scored identity candidates")

	return result, nil
}

// Score computes one candidate's weighted breakdown. normalizedAddress must
// already be passed through normalizers.NormalizeAddress.
func (s *CandidateScorer) Score(c models.PersonCandidate, name, normalizedAddress string) models.CandidateScore {
	w := s.cfg.Weights
	var b models.ScoreBreakdown

	if c.EmailMatch {
		b.Email = w.Email
	}
	if c.PhoneMatch {
		b.Phone = w.Phone
	}

	exact := exactName(name, c.Person.DisplayName)
	switch {
	case exact:
		b.Name = w.Name
	case strings.TrimSpace(name) != "" && c.Person.DisplayName != "":
		b.Name = w.Name * s.cfg.NameSimilarity(normalizers.NormalizeNameKey(name), c.Person.NameKeyOrDerived())
	}

	if normalizedAddress != "" {
		best := 0.0
		for _, a := range c.Addresses {
			a = normalizers.NormalizeAddress(a)
			if a == normalizedAddress {
				best = 1
				break
			}
			best = max(best, s.cfg.AddressSimilarity(normalizedAddress, a))
		}
		b.Address = w.Address * best
	}

	return models.CandidateScore{
		PersonID:    c.Person.ID,
		DisplayName: c.Person.DisplayName,
		Score:       b.Total(),
		Breakdown:   b,
		ExactName:   exact,
		CreatedAt:   c.Person.CreatedAt,
	}
}

// Rank orders by score, then identifier-bearing candidates, then oldest.
func Rank(scores []models.CandidateScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Breakdown.HasIdentifier() != b.Breakdown.HasIdentifier() {
			return a.Breakdown.HasIdentifier()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.PersonID.String() < b.PersonID.String()
	})
}

// exactName compares case-insensitively with whitespace collapsed.
func exactName(a, b string) bool {
	return similarity.ExactFold(normalizers.NormalizeAddress(a), normalizers.NormalizeAddress(b))
}
