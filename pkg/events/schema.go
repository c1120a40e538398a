package events

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypePersonCreated        EventType = "person.created"
	EventTypeMatchDecision        EventType = "match.decision"
	EventTypeMatchReviewed        EventType = "match.reviewed"
	EventTypeCatResolved          EventType = "cat.resolved"
	EventTypePlaceCreated         EventType = "place.created"
	EventTypeRelationshipUpserted EventType = "relationship.upserted"
	EventTypeEntityMerged         EventType = "entity.merged"
	EventTypeEntityArchived       EventType = "entity.archived"
	EventTypeLinkingRunFinished   EventType = "linking_run.finished"
)

// Event is the envelope published to every sink.
type Event struct {
	EventType     EventType       `json:"event_type"`
	SchemaVersion string          `json:"schema_version"`
	EntityKind    string          `json:"entity_kind"`
	EntityID      string          `json:"entity_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// RelationshipData is the payload of relationship.upserted.
type RelationshipData struct {
	Kind             string  `json:"kind"`
	SubjectID        string  `json:"subject_id"`
	ObjectID         string  `json:"object_id"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
	EvidenceType     string  `json:"evidence_type,omitempty"`
	Created          bool    `json:"created"`
}

// MergeData is the payload of entity.merged and entity.archived.
type MergeData struct {
	LoserID  string           `json:"loser_id"`
	WinnerID string           `json:"winner_id,omitempty"`
	Actor    string           `json:"actor"`
	Reason   string           `json:"reason"`
	Relinked map[string]int64 `json:"relinked,omitempty"`
}
