package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
)

type failingSink struct{ calls int }

func (f *failingSink) Name() string { return "failing" }

func (f *failingSink) Handle(context.Context, Event) error {
	f.calls++
	return errors.New("broker unavailable")
}

func TestEmitter_NilIsNoop(t *testing.T) {
	var e *Emitter
	assert.NotPanics(t, func() {
		e.EmitPersonCreated(context.Background(), &models.Person{ID: uuid.New()})
	})
}

func TestEmitter_FansOutAndSurvivesSinkFailure(t *testing.T) {
	recorder := &Recorder{}
	failing := &failingSink{}
	e := NewEmitter(logging.Nop(), failing, recorder)

	ctx := fernctx.SetRequestID(context.Background(), "req-1")
	rel := &models.Relationship{
		Kind:             models.RelationshipCatPlace,
		SubjectID:        uuid.New(),
		ObjectID:         uuid.New(),
		RelationshipType: models.CatPlaceTreatedAt,
		Confidence:       models.ConfidenceHigh,
	}
	e.EmitRelationshipUpserted(ctx, rel, true)

	assert.Equal(t, 1, failing.calls)
	events := recorder.OfType(EventTypeRelationshipUpserted)
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0].CorrelationID)
	assert.Equal(t, "cat_place", events[0].EntityKind)

	var data RelationshipData
	require.NoError(t, json.Unmarshal(events[0].Data, &data))
	assert.Equal(t, rel.ObjectID.String(), data.ObjectID)
	assert.True(t, data.Created)
}

func TestEmitter_MergeVersusArchive(t *testing.T) {
	recorder := &Recorder{}
	e := NewEmitter(logging.Nop(), recorder)
	winner := uuid.New()

	e.EmitEntityMerged(context.Background(), &models.MergeAudit{
		EntityKind: models.EntityPerson,
		LoserID:    uuid.New(),
		WinnerID:   &winner,
		Relinked:   database.NewJSONB(map[string]int64{"person_cat.person_id": 2}),
	})
	e.EmitEntityMerged(context.Background(), &models.MergeAudit{
		EntityKind: models.EntityPerson,
		LoserID:    uuid.New(),
	})

	assert.Len(t, recorder.OfType(EventTypeEntityMerged), 1)
	assert.Len(t, recorder.OfType(EventTypeEntityArchived), 1)
}
