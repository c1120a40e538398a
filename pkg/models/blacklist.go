package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// HardBlockSimilarity is the required-name-similarity at or above which an
// entry blocks regardless of name.
const HardBlockSimilarity = 0.9

type BlacklistEntry struct {
	ID                    uuid.UUID      `db:"id" json:"id"`
	IdentifierType        IdentifierType `db:"identifier_type" json:"identifier_type"`
	NormalizedValue       string         `db:"normalized_value" json:"normalized_value"`
	Reason                string         `db:"reason" json:"reason"`
	RequireNameSimilarity float64        `db:"require_name_similarity" json:"require_name_similarity"`
	ApprovedNames         pq.StringArray `db:"approved_names" json:"approved_names,omitempty"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
}

func (BlacklistEntry) TableName() string {
	return "soft_blacklist"
}

func (e BlacklistEntry) IsHardBlock() bool {
	return e.RequireNameSimilarity >= HardBlockSimilarity
}
