package models

import (
	"time"

	"github.com/google/uuid"
)

type RelationshipKind string

const (
	RelationshipPersonCat   RelationshipKind = "person_cat"
	RelationshipPersonPlace RelationshipKind = "person_place"
	RelationshipCatPlace    RelationshipKind = "cat_place"
)

// TableName is the edge table for the kind.
func (k RelationshipKind) TableName() string {
	return string(k)
}

// Endpoints returns the subject and object entity kinds.
func (k RelationshipKind) Endpoints() (EntityKind, EntityKind) {
	switch k {
	case RelationshipPersonCat:
		return EntityPerson, EntityCat
	case RelationshipPersonPlace:
		return EntityPerson, EntityPlace
	case RelationshipCatPlace:
		return EntityCat, EntityPlace
	}
	return "", ""
}

// Columns returns the subject and object column names of the edge table.
func (k RelationshipKind) Columns() (string, string) {
	switch k {
	case RelationshipPersonCat:
		return "person_id", "cat_id"
	case RelationshipPersonPlace:
		return "person_id", "place_id"
	case RelationshipCatPlace:
		return "cat_id", "place_id"
	}
	return "", ""
}

func (k RelationshipKind) Valid() bool {
	s, _ := k.Endpoints()
	return s != ""
}

// Person-cat relationship types.
const (
	PersonCatOwner           = "owner"
	PersonCatCaretaker       = "caretaker"
	PersonCatFoster          = "foster"
	PersonCatAdopter         = "adopter"
	PersonCatColonyCaretaker = "colony_caretaker"
)

// Person-place relationship types.
const (
	PersonPlaceResident     = "resident"
	PersonPlaceOwner        = "owner"
	PersonPlaceManager      = "manager"
	PersonPlaceCaretaker    = "caretaker"
	PersonPlaceVolunteersAt = "volunteers_at"
)

// Cat-place relationship types.
const (
	CatPlaceHome         = "home"
	CatPlaceResidence    = "residence"
	CatPlaceColonyMember = "colony_member"
	CatPlaceSighting     = "sighting"
	CatPlaceTrappedAt    = "trapped_at"
	CatPlaceTreatedAt    = "treated_at"
	CatPlaceFoundAt      = "found_at"
)

// Confidence tiers stored as numbers so the upsert can take the max.
const (
	ConfidenceLow    = 0.3
	ConfidenceMedium = 0.6
	ConfidenceHigh   = 0.9
)

// ConfidenceTier maps a tier name to its numeric confidence.
func ConfidenceTier(tier string) (float64, bool) {
	switch tier {
	case "low":
		return ConfidenceLow, true
	case "medium":
		return ConfidenceMedium, true
	case "high":
		return ConfidenceHigh, true
	}
	return 0, false
}

type Relationship struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	Kind             RelationshipKind `db:"-" json:"kind"`
	SubjectID        uuid.UUID        `db:"subject_id" json:"subject_id"`
	ObjectID         uuid.UUID        `db:"object_id" json:"object_id"`
	RelationshipType string           `db:"relationship_type" json:"relationship_type"`
	EvidenceType     string           `db:"evidence_type" json:"evidence_type"`
	Confidence       float64          `db:"confidence" json:"confidence"`
	SourceSystem     string           `db:"source_system" json:"source_system"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}
