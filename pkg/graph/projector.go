package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Writer runs statements atomically. *Client implements it.
type Writer interface {
	Write(ctx context.Context, statements []Statement) error
}

// Projector is an events.Sink that keeps the graph in step with the
// relational store. Merged and archived nodes are kept and marked; a merged
// node points at its winner through a MERGED_INTO edge.
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{writer: writer, logger: logger}
}

func (p *Projector) Name() string { return "graph" }

func (p *Projector) Handle(ctx context.Context, event events.Event) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Handle")
	defer span.End()

	statements, err := Project(event)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	if len(statements) == 0 {
		return nil
	}
	return p.writer.Write(ctx, statements)
}

// Project translates one event into the statements that apply it. Events
// without a graph shape yield no statements.
func Project(event events.Event) ([]Statement, error) {
	switch event.EventType {
	case events.EventTypePersonCreated:
		var person models.Person
		if err := json.Unmarshal(event.Data, &person); err != nil {
			return nil, fmt.Errorf("failed to decode person: %w", err)
		}
		return []Statement{{
			Cypher: `MERGE (n:Person {id: $id})
SET n.display_name = $display_name, n.is_organization = $is_organization,
    n.is_skeleton = $is_skeleton, n.status = $status`,
			Params: map[string]any{
				"id":              person.ID.String(),
				"display_name":    person.DisplayName,
				"is_organization": person.IsOrganization,
				"is_skeleton":     person.IsSkeleton,
				"status":          string(person.Status),
			},
		}}, nil

	case events.EventTypeCatResolved:
		var payload struct {
			Cat models.Cat `json:"cat"`
		}
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode cat: %w", err)
		}
		microchip := ""
		if payload.Cat.Microchip != nil {
			microchip = *payload.Cat.Microchip
		}
		return []Statement{{
			Cypher: `MERGE (n:Cat {id: $id})
SET n.name = $name, n.microchip = $microchip, n.status = $status`,
			Params: map[string]any{
				"id":        payload.Cat.ID.String(),
				"name":      payload.Cat.Name,
				"microchip": microchip,
				"status":    string(payload.Cat.Status),
			},
		}}, nil

	case events.EventTypePlaceCreated:
		var place models.Place
		if err := json.Unmarshal(event.Data, &place); err != nil {
			return nil, fmt.Errorf("failed to decode place: %w", err)
		}
		return []Statement{{
			Cypher: `MERGE (n:Place {id: $id})
SET n.display_name = $display_name, n.formatted_address = $formatted_address,
    n.kind = $kind, n.status = $status`,
			Params: map[string]any{
				"id":                place.ID.String(),
				"display_name":      place.DisplayName,
				"formatted_address": place.FormattedAddress,
				"kind":              string(place.Kind),
				"status":            string(place.Status),
			},
		}}, nil

	case events.EventTypeRelationshipUpserted:
		var rel events.RelationshipData
		if err := json.Unmarshal(event.Data, &rel); err != nil {
			return nil, fmt.Errorf("failed to decode relationship: %w", err)
		}
		subject, object := models.RelationshipKind(rel.Kind).Endpoints()
		if subject == "" {
			return nil, fmt.Errorf("unknown relationship kind %q", rel.Kind)
		}
		cypher := fmt.Sprintf(`MERGE (s:%s {id: $subject_id})
MERGE (o:%s {id: $object_id})
MERGE (s)-[r:%s]->(o)
SET r.confidence = $confidence, r.evidence_type = $evidence_type`,
			NodeLabel(subject), NodeLabel(object), EdgeType(rel.RelationshipType))
		return []Statement{{
			Cypher: cypher,
			Params: map[string]any{
				"subject_id":    rel.SubjectID,
				"object_id":     rel.ObjectID,
				"confidence":    rel.Confidence,
				"evidence_type": rel.EvidenceType,
			},
		}}, nil

	case events.EventTypeEntityMerged:
		var data events.MergeData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode merge: %w", err)
		}
		label := NodeLabel(models.EntityKind(event.EntityKind))
		return []Statement{{
			Cypher: fmt.Sprintf(`MERGE (l:%[1]s {id: $loser_id})
MERGE (w:%[1]s {id: $winner_id})
SET l.status = 'merged', l.merged_into = $winner_id
MERGE (l)-[:MERGED_INTO]->(w)`, label),
			Params: map[string]any{
				"loser_id":  data.LoserID,
				"winner_id": data.WinnerID,
			},
		}}, nil

	case events.EventTypeEntityArchived:
		var data events.MergeData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode archive: %w", err)
		}
		return []Statement{{
			Cypher: fmt.Sprintf(`MERGE (n:%s {id: $id})
SET n.status = 'archived'`, NodeLabel(models.EntityKind(event.EntityKind))),
			Params: map[string]any{"id": data.LoserID},
		}}, nil
	}

	return nil, nil
}

// NodeLabel maps an entity kind to its node label.
func NodeLabel(kind models.EntityKind) string {
	switch kind {
	case models.EntityPerson:
		return "Person"
	case models.EntityCat:
		return "Cat"
	case models.EntityPlace:
		return "Place"
	}
	return "Entity"
}

// EdgeType turns a relationship type into a Cypher relationship type,
// keeping only letters, digits and underscores.
func EdgeType(relationshipType string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(relationshipType) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "RELATED_TO"
	}
	return b.String()
}
