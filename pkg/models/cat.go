package models

import (
	"time"

	"github.com/google/uuid"
)

type OwnershipType string

const (
	OwnershipOwned     OwnershipType = "owned"
	OwnershipStray     OwnershipType = "stray"
	OwnershipFeral     OwnershipType = "feral"
	OwnershipCommunity OwnershipType = "community"
	OwnershipFoster    OwnershipType = "foster"
	OwnershipBarn      OwnershipType = "barn"
	OwnershipUnknown   OwnershipType = "unknown"
)

type CatIdentifierType string

const (
	CatIdentifierMicrochip      CatIdentifierType = "microchip"
	CatIdentifierSourceAnimalID CatIdentifierType = "source_animal_id"
)

type Cat struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	Name           string        `db:"name" json:"name"`
	Sex            string        `db:"sex" json:"sex"`
	Breed          string        `db:"breed" json:"breed"`
	Colors         string        `db:"colors" json:"colors"`
	AlteredStatus  string        `db:"altered_status" json:"altered_status"`
	OwnershipType  OwnershipType `db:"ownership_type" json:"ownership_type"`
	Microchip      *string       `db:"microchip" json:"microchip,omitempty"`
	SourceAnimalID *string       `db:"source_animal_id" json:"source_animal_id,omitempty"`
	SourceSystem   string        `db:"source_system" json:"source_system"`
	IsDeceased     bool          `db:"is_deceased" json:"is_deceased"`
	Status         EntityStatus  `db:"status" json:"status"`
	MergedInto     *uuid.UUID    `db:"merged_into" json:"merged_into,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

func (Cat) TableName() string {
	return "cats"
}

// CatIdentifier keys a cat by microchip or by a source system's animal id.
// For source_animal_id the value is "<source_system>:<id>".
type CatIdentifier struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	CatID        uuid.UUID         `db:"cat_id" json:"cat_id"`
	Type         CatIdentifierType `db:"identifier_type" json:"type"`
	Value        string            `db:"identifier_value" json:"value"`
	SourceSystem string            `db:"source_system" json:"source_system"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
}

func (CatIdentifier) TableName() string {
	return "cat_identifiers"
}
