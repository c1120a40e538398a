package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

type DecisionType string

const (
	DecisionAutoMatch     DecisionType = "auto_match"
	DecisionReviewPending DecisionType = "review_pending"
	DecisionNewEntity     DecisionType = "new_entity"
	DecisionRejected      DecisionType = "rejected"
)

type ReviewStatus string

const (
	ReviewNotRequired ReviewStatus = "not_required"
	ReviewPending     ReviewStatus = "pending"
	ReviewApproved    ReviewStatus = "approved"
	ReviewRejected    ReviewStatus = "rejected"
)

// ScoreBreakdown is the per-component contribution to a candidate's score.
type ScoreBreakdown struct {
	Email   float64 `json:"email"`
	Phone   float64 `json:"phone"`
	Name    float64 `json:"name"`
	Address float64 `json:"address"`
}

func (b ScoreBreakdown) Total() float64 {
	return b.Email + b.Phone + b.Name + b.Address
}

// HasIdentifier reports whether an email or phone component matched.
func (b ScoreBreakdown) HasIdentifier() bool {
	return b.Email > 0 || b.Phone > 0
}

type CandidateScore struct {
	PersonID    uuid.UUID      `json:"person_id"`
	DisplayName string         `json:"display_name"`
	Score       float64        `json:"score"`
	Breakdown   ScoreBreakdown `json:"breakdown"`
	ExactName   bool           `json:"exact_name"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MatchDecision is the audit record of one identity resolution call. Only the
// review fields change after insert.
type MatchDecision struct {
	ID                uuid.UUID                        `db:"id" json:"id"`
	Email             string                           `db:"email" json:"email,omitempty"`
	Phone             string                           `db:"phone" json:"phone,omitempty"`
	FirstName         string                           `db:"first_name" json:"first_name,omitempty"`
	LastName          string                           `db:"last_name" json:"last_name,omitempty"`
	DisplayName       string                           `db:"display_name" json:"display_name,omitempty"`
	Address           string                           `db:"address" json:"address,omitempty"`
	SourceSystem      string                           `db:"source_system" json:"source_system"`
	DecisionType      DecisionType                     `db:"decision_type" json:"decision_type"`
	Reason            string                           `db:"reason" json:"reason"`
	RuleName          string                           `db:"rule_name" json:"rule_name"`
	PersonID          *uuid.UUID                       `db:"person_id" json:"person_id,omitempty"`
	CandidatePersonID *uuid.UUID                       `db:"candidate_person_id" json:"candidate_person_id,omitempty"`
	Score             float64                          `db:"score" json:"score"`
	Breakdown         database.JSONB[ScoreBreakdown]   `db:"breakdown" json:"breakdown"`
	TopCandidates     database.JSONB[[]CandidateScore] `db:"top_candidates" json:"top_candidates"`
	ReviewStatus      ReviewStatus                     `db:"review_status" json:"review_status"`
	ReviewedBy        *string                          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time                       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt         time.Time                        `db:"created_at" json:"created_at"`
}

func (MatchDecision) TableName() string {
	return "match_decisions"
}

type DecisionFilter struct {
	DecisionType *DecisionType
	ReviewStatus *ReviewStatus
	PersonID     *uuid.UUID
	MinScore     *float64
	Limit        int
	Offset       int
}
