package matching

import (
	"fmt"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Default thresholds. They are retuned over time; override through Thresholds.
const (
	DefaultAutoMatchThreshold      = 0.90
	DefaultReviewThreshold         = 0.50
	DefaultEmailComponentThreshold = 0.35
	DefaultPhoneComponentThreshold = 0.20
)

type Thresholds struct {
	AutoMatch float64 `json:"auto_match"`
	Review    float64 `json:"review"`
	// EmailComponent and PhoneComponent decide whether an identifier matched
	// for the exact-name carve-out.
	EmailComponent float64 `json:"email_component"`
	PhoneComponent float64 `json:"phone_component"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoMatch:      DefaultAutoMatchThreshold,
		Review:         DefaultReviewThreshold,
		EmailComponent: DefaultEmailComponentThreshold,
		PhoneComponent: DefaultPhoneComponentThreshold,
	}
}

// Rule names, recorded on every MatchDecision.
const (
	RuleGateRejected            = "gate_rejected"
	RuleHighConfidence          = "high_confidence"
	RuleExactNameWithIdentifier = "exact_name_with_identifier"
	RuleNeedsReview             = "needs_review"
	RuleNewEntity               = "new_entity"
	RuleSkeleton                = "skeleton"
)

// DecisionInput is everything a rule may look at.
type DecisionInput struct {
	Admitted   bool
	GateReason string
	Best       *models.CandidateScore
}

func (in DecisionInput) score() float64 {
	if in.Best == nil {
		return 0
	}
	return in.Best.Score
}

// DecisionRule is one row of the decision table.
type DecisionRule struct {
	Name     string
	Decision models.DecisionType
	Matches  func(in DecisionInput, th Thresholds) bool
	Reason   func(in DecisionInput, th Thresholds) string
}

// DecisionTable is evaluated top to bottom; the first matching row wins.
type DecisionTable []DecisionRule

// Decide returns the first matching rule. ok is false only for a table with no
// catch-all row.
func (t DecisionTable) Decide(in DecisionInput, th Thresholds) (rule DecisionRule, ok bool) {
	for _, r := range t {
		if r.Matches(in, th) {
			return r, true
		}
	}
	return DecisionRule{}, false
}

// Rule looks a row up by name.
func (t DecisionTable) Rule(name string) (DecisionRule, bool) {
	for _, r := range t {
		if r.Name == name {
			return r, true
		}
	}
	return DecisionRule{}, false
}

func DefaultDecisionTable() DecisionTable {
	return DecisionTable{
		{
			Name:     RuleGateRejected,
			Decision: models.DecisionRejected,
			Matches: func(in DecisionInput, _ Thresholds) bool {
				return !in.Admitted
			},
			Reason: func(in DecisionInput, _ Thresholds) string {
				return "identity gate: " + in.GateReason
			},
		},
		{
			Name:     RuleHighConfidence,
			Decision: models.DecisionAutoMatch,
			Matches: func(in DecisionInput, th Thresholds) bool {
				return in.Best != nil && in.Best.Score >= th.AutoMatch
			},
			Reason: func(in DecisionInput, th Thresholds) string {
				return fmt.Sprintf("score %.2f >= %.2f", in.score(), th.AutoMatch)
			},
		},
		{
			Name:     RuleExactNameWithIdentifier,
			Decision: models.DecisionAutoMatch,
			Matches: func(in DecisionInput, th Thresholds) bool {
				if in.Best == nil || !in.Best.ExactName {
					return false
				}
				b := in.Best.Breakdown
				return b.Email >= th.EmailComponent || b.Phone >= th.PhoneComponent
			},
			Reason: func(in DecisionInput, _ Thresholds) string {
				return fmt.Sprintf("exact name with matching identifier, score %.2f", in.score())
			},
		},
		{
			Name:     RuleNeedsReview,
			Decision: models.DecisionReviewPending,
			Matches: func(in DecisionInput, th Thresholds) bool {
				return in.Best != nil && in.Best.Score >= th.Review
			},
			Reason: func(in DecisionInput, th Thresholds) string {
				return fmt.Sprintf("score %.2f between %.2f and %.2f", in.score(), th.Review, th.AutoMatch)
			},
		},
		{
			Name:     RuleNewEntity,
			Decision: models.DecisionNewEntity,
			Matches: func(DecisionInput, Thresholds) bool {
				return true
			},
			Reason: func(in DecisionInput, th Thresholds) string {
				if in.Best == nil {
					return "no candidate"
				}
				return fmt.Sprintf("best score %.2f < %.2f", in.score(), th.Review)
			},
		},
	}
}
