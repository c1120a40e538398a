package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

type RunStatus string

const (
	RunStatusRunning               RunStatus = "running"
	RunStatusCompleted             RunStatus = "completed"
	RunStatusCompletedWithWarnings RunStatus = "completed_with_warnings"
	RunStatusAborted               RunStatus = "aborted"
	RunStatusFailed                RunStatus = "failed"
)

// Linking stages in execution order.
const (
	StageAppointmentPlace    = "appointment_place"
	StageCatPlaceAppointment = "cat_place_appointment"
	StageCatPlacePersonChain = "cat_place_person_chain"
)

type SourceCounts struct {
	Linked    int `json:"linked"`
	Unmatched int `json:"unmatched"`
}

type StageResult struct {
	Name        string                  `json:"name"`
	Processed   int                     `json:"processed"`
	Linked      int                     `json:"linked"`
	Skipped     int                     `json:"skipped"`
	Unmatched   int                     `json:"unmatched"`
	Errors      int                     `json:"errors"`
	BySource    map[string]SourceCounts `json:"by_source,omitempty"`
	Coverage    Coverage                `json:"coverage"`
	CoveragePct float64                 `json:"coverage_pct"`
	Warning     string                  `json:"warning,omitempty"`
	DurationMs  int64                   `json:"duration_ms"`
}

type LinkingRun struct {
	ID          uuid.UUID                     `db:"id" json:"id"`
	Status      RunStatus                     `db:"status" json:"status"`
	Trigger     string                        `db:"trigger" json:"trigger"`
	StartedAt   time.Time                     `db:"started_at" json:"started_at"`
	CompletedAt *time.Time                    `db:"completed_at" json:"completed_at,omitempty"`
	DurationMs  int64                         `db:"duration_ms" json:"duration_ms"`
	Stages      database.JSONB[[]StageResult] `db:"stages" json:"stages"`
	Warnings    database.JSONB[[]string]      `db:"warnings" json:"warnings"`
	Error       *string                       `db:"error" json:"error,omitempty"`
}

func (LinkingRun) TableName() string {
	return "linking_runs"
}
