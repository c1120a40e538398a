package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// Reference is one foreign key that must follow an entity when it is merged.
// UniqueWith lists the other columns of a unique key that includes Column;
// rows that would collide with the winner's are deleted instead of moved.
type Reference struct {
	Table      string   `json:"table"`
	Column     string   `json:"column"`
	UniqueWith []string `json:"unique_with,omitempty"`
}

func (r Reference) Key() string {
	return r.Table + "." + r.Column
}

type MergeAudit struct {
	ID         uuid.UUID                        `db:"id" json:"id"`
	EntityKind EntityKind                       `db:"entity_kind" json:"entity_kind"`
	Action     string                           `db:"action" json:"action"`
	LoserID    uuid.UUID                        `db:"loser_id" json:"loser_id"`
	WinnerID   *uuid.UUID                       `db:"winner_id" json:"winner_id,omitempty"`
	OldStatus  EntityStatus                     `db:"old_status" json:"old_status"`
	NewStatus  EntityStatus                     `db:"new_status" json:"new_status"`
	OldPointer *uuid.UUID                       `db:"old_pointer" json:"old_pointer,omitempty"`
	NewPointer *uuid.UUID                       `db:"new_pointer" json:"new_pointer,omitempty"`
	Actor      string                           `db:"actor" json:"actor"`
	Reason     string                           `db:"reason" json:"reason"`
	Relinked   database.JSONB[map[string]int64] `db:"relinked" json:"relinked"`
	CreatedAt  time.Time                        `db:"created_at" json:"created_at"`
}

func (MergeAudit) TableName() string {
	return "entity_merge_audit"
}

const (
	AuditActionMerge   = "merge"
	AuditActionArchive = "archive"
)
