package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/normalizers"
)

type DataQuality string

const (
	DataQualityNormal      DataQuality = "normal"
	DataQualityGarbage     DataQuality = "garbage"
	DataQualityNeedsReview DataQuality = "needs_review"
)

type IdentifierType string

const (
	IdentifierEmail IdentifierType = "email"
	IdentifierPhone IdentifierType = "phone"
)

type Person struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	DisplayName    string       `db:"display_name" json:"display_name"`
	FirstName      string       `db:"first_name" json:"first_name"`
	LastName       string       `db:"last_name" json:"last_name"`
	NameKey        string       `db:"name_key" json:"name_key"`
	IsOrganization bool         `db:"is_organization" json:"is_organization"`
	IsSkeleton     bool         `db:"is_skeleton" json:"is_skeleton"`
	DataQuality    DataQuality  `db:"data_quality" json:"data_quality"`
	SourceSystem   string       `db:"source_system" json:"source_system"`
	Status         EntityStatus `db:"status" json:"status"`
	MergedInto     *uuid.UUID   `db:"merged_into" json:"merged_into,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

func (Person) TableName() string {
	return "people"
}

// PersonIdentifier claims an email or phone for one person. (type, normalized_value)
// is globally unique.
type PersonIdentifier struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	PersonID        uuid.UUID      `db:"person_id" json:"person_id"`
	Type            IdentifierType `db:"identifier_type" json:"type"`
	RawValue        string         `db:"raw_value" json:"raw_value"`
	NormalizedValue string         `db:"normalized_value" json:"normalized_value"`
	Confidence      float64        `db:"confidence" json:"confidence"`
	SourceSystem    string         `db:"source_system" json:"source_system"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

func (PersonIdentifier) TableName() string {
	return "person_identifiers"
}

type Role string

const (
	RoleStaff        Role = "staff"
	RoleTrapper      Role = "trapper"
	RoleVolunteer    Role = "volunteer"
	RoleFosterParent Role = "foster_parent"
)

type PersonRole struct {
	ID           uuid.UUID `db:"id" json:"id"`
	PersonID     uuid.UUID `db:"person_id" json:"person_id"`
	Role         Role      `db:"role" json:"role"`
	SourceSystem string    `db:"source_system" json:"source_system"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

func (PersonRole) TableName() string {
	return "person_roles"
}

// CandidateQuery narrows the people considered by the scorer.
type CandidateQuery struct {
	Email             string
	Phone             string
	NameKey           string
	MinNameSimilarity float64
	Limit             int
}

// PersonCandidate is an active person returned for scoring with what the store
// already knows matched.
type PersonCandidate struct {
	Person     Person   `json:"person"`
	EmailMatch bool     `json:"email_match"`
	PhoneMatch bool     `json:"phone_match"`
	Addresses  []string `json:"addresses,omitempty"`
}

// PersonLinkCount feeds the pollution scan.
type PersonLinkCount struct {
	Person       Person `db:"person" json:"person"`
	CatLinkCount int    `db:"cat_link_count" json:"cat_link_count"`
}

// NameKeyOrDerived returns the stored name key, deriving it from the display
// name for rows written before name_key existed.
func (p Person) NameKeyOrDerived() string {
	if p.NameKey != "" {
		return p.NameKey
	}
	return normalizers.NormalizeNameKey(p.DisplayName)
}
