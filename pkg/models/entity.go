package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind names a canonical entity table.
type EntityKind string

const (
	EntityPerson EntityKind = "person"
	EntityCat    EntityKind = "cat"
	EntityPlace  EntityKind = "place"
)

func (k EntityKind) Valid() bool {
	switch k {
	case EntityPerson, EntityCat, EntityPlace:
		return true
	}
	return false
}

// TableName returns the canonical table for the kind.
func (k EntityKind) TableName() string {
	switch k {
	case EntityPerson:
		return "people"
	case EntityCat:
		return "cats"
	case EntityPlace:
		return "places"
	}
	return ""
}

// EntityStatus replaces the old self-referencing merge pointer. Only active
// entities take part in matching, linking and merging.
type EntityStatus string

const (
	StatusActive   EntityStatus = "active"
	StatusMerged   EntityStatus = "merged"
	StatusArchived EntityStatus = "archived"
)

// EntityState is the lifecycle view of any canonical entity.
type EntityState struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	Status     EntityStatus `db:"status" json:"status"`
	MergedInto *uuid.UUID   `db:"merged_into" json:"merged_into,omitempty"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

func (s EntityState) IsActive() bool {
	return s.Status == StatusActive
}
