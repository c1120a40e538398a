package models

import (
	"time"

	"github.com/google/uuid"
)

type PlaceKind string

const (
	PlaceResidence     PlaceKind = "residence"
	PlaceApartmentUnit PlaceKind = "apartment_unit"
	PlaceBusiness      PlaceKind = "business"
	PlaceClinic        PlaceKind = "clinic"
	PlaceShelter       PlaceKind = "shelter"
	PlaceOutdoorSite   PlaceKind = "outdoor_site"
	PlaceUnknown       PlaceKind = "unknown"
)

type Address struct {
	ID               uuid.UUID `db:"id" json:"id"`
	RawAddress       string    `db:"raw_address" json:"raw_address"`
	NormalizedKey    string    `db:"normalized_key" json:"normalized_key"`
	FormattedAddress string    `db:"formatted_address" json:"formatted_address"`
	Latitude         *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude        *float64  `db:"longitude" json:"longitude,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

func (Address) TableName() string {
	return "addresses"
}

type Place struct {
	ID                uuid.UUID    `db:"id" json:"id"`
	DisplayName       string       `db:"display_name" json:"display_name"`
	FormattedAddress  string       `db:"formatted_address" json:"formatted_address"`
	NormalizedAddress *string      `db:"normalized_address" json:"normalized_address,omitempty"`
	Latitude          *float64     `db:"latitude" json:"latitude,omitempty"`
	Longitude         *float64     `db:"longitude" json:"longitude,omitempty"`
	Kind              PlaceKind    `db:"place_kind" json:"kind"`
	UnitIdentifier    *string      `db:"unit_identifier" json:"unit_identifier,omitempty"`
	AddressID         *uuid.UUID   `db:"address_id" json:"address_id,omitempty"`
	SourceSystem      string       `db:"source_system" json:"source_system"`
	Status            EntityStatus `db:"status" json:"status"`
	MergedInto        *uuid.UUID   `db:"merged_into" json:"merged_into,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

func (Place) TableName() string {
	return "places"
}

func (p Place) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

func (p Place) HasUnit() bool {
	return p.UnitIdentifier != nil && *p.UnitIdentifier != ""
}

func (p Place) HasNormalizedAddress() bool {
	return p.NormalizedAddress != nil && *p.NormalizedAddress != ""
}
