package graph_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
)

type captureWriter struct {
	statements []graph.Statement
	err        error
}

func (w *captureWriter) Write(_ context.Context, statements []graph.Statement) error {
	w.statements = append(w.statements, statements...)
	return w.err
}

func event(t *testing.T, eventType events.EventType, kind string, data any) events.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Event{EventType: eventType, EntityKind: kind, Data: raw}
}

func TestProject_RelationshipUpserted(t *testing.T) {
	cat, place := uuid.NewString(), uuid.NewString()
	statements, err := graph.Project(event(t, events.EventTypeRelationshipUpserted, "cat_place", events.RelationshipData{
		Kind:             "cat_place",
		SubjectID:        cat,
		ObjectID:         place,
		RelationshipType: models.CatPlaceTreatedAt,
		Confidence:       models.ConfidenceHigh,
		EvidenceType:     "appointment",
	}))
	require.NoError(t, err)
	require.Len(t, statements, 1)

	st := statements[0]
	assert.Contains(t, st.Cypher, "MERGE (s:Cat {id: $subject_id})")
	assert.Contains(t, st.Cypher, "MERGE (o:Place {id: $object_id})")
	assert.Contains(t, st.Cypher, "[r:TREATED_AT]")
	assert.Equal(t, cat, st.Params["subject_id"])
	assert.Equal(t, place, st.Params["object_id"])
	assert.Equal(t, models.ConfidenceHigh, st.Params["confidence"])
}

func TestProject_UnknownRelationshipKind(t *testing.T) {
	_, err := graph.Project(event(t, events.EventTypeRelationshipUpserted, "cat_cat", events.RelationshipData{Kind: "cat_cat"}))
	require.Error(t, err)
}

func TestProject_MergeAndArchive(t *testing.T) {
	loser, winner := uuid.NewString(), uuid.NewString()

	merged, err := graph.Project(event(t, events.EventTypeEntityMerged, "person", events.MergeData{LoserID: loser, WinnerID: winner}))
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Contains(t, merged[0].Cypher, "MERGE (l)-[:MERGED_INTO]->(w)")
	assert.Contains(t, merged[0].Cypher, "(l:Person")
	assert.Equal(t, winner, merged[0].Params["winner_id"])

	archived, err := graph.Project(event(t, events.EventTypeEntityArchived, "place", events.MergeData{LoserID: loser}))
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Contains(t, archived[0].Cypher, "(n:Place {id: $id})")
	assert.Equal(t, loser, archived[0].Params["id"])
}

func TestProject_IgnoresDecisions(t *testing.T) {
	statements, err := graph.Project(event(t, events.EventTypeMatchDecision, "match_decision", map[string]any{"id": "x"}))
	require.NoError(t, err)
	assert.Empty(t, statements)
}

func TestProjector_Handle(t *testing.T) {
	writer := &captureWriter{}
	p := graph.NewProjector(writer, logging.Nop())
	assert.Equal(t, "graph", p.Name())

	person := models.Person{ID: uuid.New(), DisplayName: "Maria Garcia", Status: models.StatusActive}
	require.NoError(t, p.Handle(context.Background(), event(t, events.EventTypePersonCreated, "person", person)))
	require.Len(t, writer.statements, 1)
	assert.Equal(t, person.ID.String(), writer.statements[0].Params["id"])
	assert.Equal(t, "Maria Garcia", writer.statements[0].Params["display_name"])

	require.NoError(t, p.Handle(context.Background(), event(t, events.EventTypeMatchReviewed, "match_decision", map[string]any{})))
	assert.Len(t, writer.statements, 1)

	writer.err = errors.New("bolt unavailable")
	err := p.Handle(context.Background(), event(t, events.EventTypePlaceCreated, "place", models.Place{ID: uuid.New()}))
	require.Error(t, err)
}

func TestEdgeType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "colony_member", want: "COLONY_MEMBER"},
		{in: "owner; DROP", want: "OWNERDROP"},
		{in: "--", want: "RELATED_TO"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, graph.EdgeType(tt.in))
		})
	}
}
