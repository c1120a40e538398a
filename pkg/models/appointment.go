package models

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is written by ingestion. Linking only fills PlaceID.
type Appointment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	SourceSystem    string     `db:"source_system" json:"source_system"`
	SourceRecordID  string     `db:"source_record_id" json:"source_record_id"`
	CatID           *uuid.UUID `db:"cat_id" json:"cat_id,omitempty"`
	PersonID        *uuid.UUID `db:"person_id" json:"person_id,omitempty"`
	PlaceID         *uuid.UUID `db:"place_id" json:"place_id,omitempty"`
	AddressText     string     `db:"address_text" json:"address_text"`
	AppointmentDate time.Time  `db:"appointment_date" json:"appointment_date"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

func (Appointment) TableName() string {
	return "appointments"
}

// CatPlacePair is a cat seen at a clinic appointment whose place is known.
type CatPlacePair struct {
	CatID        uuid.UUID `db:"cat_id" json:"cat_id"`
	PlaceID      uuid.UUID `db:"place_id" json:"place_id"`
	SourceSystem string    `db:"source_system" json:"source_system"`
}

// PersonChainRow is one (cat, person, place) path for person-chain propagation.
type PersonChainRow struct {
	CatID           uuid.UUID `db:"cat_id" json:"cat_id"`
	PersonID        uuid.UUID `db:"person_id" json:"person_id"`
	PersonCatType   string    `db:"person_cat_type" json:"person_cat_type"`
	PlaceID         uuid.UUID `db:"place_id" json:"place_id"`
	PlaceConfidence float64   `db:"place_confidence" json:"place_confidence"`
	PlaceUpdatedAt  time.Time `db:"place_updated_at" json:"place_updated_at"`
	SourceSystem    string    `db:"source_system" json:"source_system"`
	EdgeExists      bool      `db:"edge_exists" json:"edge_exists"`
}

// Coverage is a linked fraction of some entity population.
type Coverage struct {
	Population int `db:"population" json:"population"`
	Covered    int `db:"covered" json:"covered"`
}

// Pct returns the coverage percentage. An empty population is fully covered.
func (c Coverage) Pct() float64 {
	if c.Population == 0 {
		return 100
	}
	return float64(c.Covered) / float64(c.Population) * 100
}
