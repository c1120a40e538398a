package merging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/memory"
	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
)

func newEngine(store merging.Store, tx *memory.Store, recorder *events.Recorder) *merging.Engine {
	emitter := events.NewEmitter(logging.Nop())
	if recorder != nil {
		emitter.AddSink(recorder)
	}
	return merging.NewEngine(logging.Nop(), store, tx, emitter)
}

func addPerson(store *memory.Store, name string) uuid.UUID {
	id := uuid.New()
	store.AddPerson(models.Person{ID: id, DisplayName: name, Status: models.StatusActive, CreatedAt: time.Now()})
	return id
}

func addCat(store *memory.Store) uuid.UUID {
	id := uuid.New()
	store.AddCat(models.Cat{ID: id, Name: "Tom", Status: models.StatusActive, CreatedAt: time.Now()})
	return id
}

func addPlace(store *memory.Store) uuid.UUID {
	id := uuid.New()
	store.AddPlace(models.Place{ID: id, FormattedAddress: "12 Oak Ct", Status: models.StatusActive, CreatedAt: time.Now()})
	return id
}

type personGraph struct {
	store         *memory.Store
	loser, winner uuid.UUID
	cat, place    uuid.UUID
	chained       uuid.UUID
}

func buildPersonGraph(t *testing.T) personGraph {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	g := personGraph{store: store, loser: addPerson(store, "Jane Doe"), winner: addPerson(store, "Jane Doe")}
	g.cat = addCat(store)
	g.place = addPlace(store)

	_, err := store.AttachIdentifier(ctx, &models.PersonIdentifier{ID: uuid.New(), PersonID: g.loser, Type: models.IdentifierEmail, NormalizedValue: "jane@example.org"})
	require.NoError(t, err)
	_, err = store.AttachIdentifier(ctx, &models.PersonIdentifier{ID: uuid.New(), PersonID: g.winner, Type: models.IdentifierPhone, NormalizedValue: "7075551234"})
	require.NoError(t, err)

	store.AddEdge(models.Relationship{Kind: models.RelationshipPersonCat, SubjectID: g.loser, ObjectID: g.cat, RelationshipType: models.PersonCatOwner, Confidence: models.ConfidenceHigh})
	store.AddEdge(models.Relationship{Kind: models.RelationshipPersonCat, SubjectID: g.winner, ObjectID: g.cat, RelationshipType: models.PersonCatOwner, Confidence: models.ConfidenceLow})
	store.AddEdge(models.Relationship{Kind: models.RelationshipPersonPlace, SubjectID: g.loser, ObjectID: g.place, RelationshipType: models.PersonPlaceResident, Confidence: models.ConfidenceMedium})

	store.AddRole(models.PersonRole{PersonID: g.loser, Role: models.RoleTrapper})
	store.AddRole(models.PersonRole{PersonID: g.loser, Role: models.RoleVolunteer})
	store.AddRole(models.PersonRole{PersonID: g.winner, Role: models.RoleTrapper})

	loser := g.loser
	store.AddAppointment(models.Appointment{PersonID: &loser, CatID: &g.cat, AddressText: "12 Oak Ct"})
	require.NoError(t, store.InsertDecision(ctx, &models.MatchDecision{
		ID:                uuid.New(),
		DecisionType:      models.DecisionAutoMatch,
		PersonID:          &loser,
		CandidatePersonID: &loser,
		ReviewStatus:      models.ReviewNotRequired,
	}))

	g.chained = uuid.New()
	store.AddPerson(models.Person{ID: g.chained, DisplayName: "J Doe", Status: models.StatusMerged, MergedInto: &loser})
	return g
}

// assertNoReferences fails when any row still points at id.
func assertNoReferences(t *testing.T, store *memory.Store, id uuid.UUID) {
	t.Helper()

	for _, pi := range store.AllIdentifiers() {
		assert.NotEqual(t, id, pi.PersonID, "person identifier %s", pi.NormalizedValue)
	}
	for _, kind := range []models.RelationshipKind{models.RelationshipPersonCat, models.RelationshipPersonPlace, models.RelationshipCatPlace} {
		for _, e := range store.Edges(kind) {
			assert.NotEqual(t, id, e.SubjectID, "%s subject", kind)
			assert.NotEqual(t, id, e.ObjectID, "%s object", kind)
		}
	}
	assert.Empty(t, store.Roles(id))
	for _, d := range store.Decisions() {
		if d.PersonID != nil {
			assert.NotEqual(t, id, *d.PersonID)
		}
		if d.CandidatePersonID != nil {
			assert.NotEqual(t, id, *d.CandidatePersonID)
		}
	}
	for _, a := range store.Appointments() {
		for _, ref := range []*uuid.UUID{a.PersonID, a.CatID, a.PlaceID} {
			if ref != nil {
				assert.NotEqual(t, id, *ref)
			}
		}
	}
	for _, p := range store.People() {
		if p.ID != id && p.MergedInto != nil {
			assert.NotEqual(t, id, *p.MergedInto)
		}
	}
}

func TestMergePersonInto(t *testing.T) {
	ctx := context.Background()
	g := buildPersonGraph(t)
	recorder := &events.Recorder{}
	engine := newEngine(g.store, g.store, recorder)

	res, err := engine.MergePersonInto(ctx, g.loser, g.winner, "duplicate intake", "alice")
	require.NoError(t, err)
	require.True(t, res.Merged)
	require.NotNil(t, res.AuditID)

	assert.Equal(t, int64(1), res.Relinked["person_identifiers.person_id"])
	assert.Equal(t, int64(1), res.Relinked["person_cat.person_id:deleted"])
	assert.Equal(t, int64(1), res.Relinked["person_place.person_id"])
	assert.Equal(t, int64(1), res.Relinked["person_roles.person_id"])
	assert.Equal(t, int64(1), res.Relinked["person_roles.person_id:deleted"])
	assert.Equal(t, int64(1), res.Relinked["appointments.person_id"])
	assert.Equal(t, int64(1), res.Relinked["match_decisions.person_id"])
	assert.Equal(t, int64(1), res.Relinked["match_decisions.candidate_person_id"])
	assert.Equal(t, int64(1), res.Relinked["people.merged_into"])

	assertNoReferences(t, g.store, g.loser)

	loser, err := g.store.FindPerson(ctx, g.loser)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMerged, loser.Status)
	require.NotNil(t, loser.MergedInto)
	assert.Equal(t, g.winner, *loser.MergedInto)

	ids, err := g.store.ListIdentifiers(ctx, g.winner)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	// The surviving duplicate edge keeps the higher confidence.
	edges := g.store.Edges(models.RelationshipPersonCat)
	require.Len(t, edges, 1)
	assert.Equal(t, models.ConfidenceHigh, edges[0].Confidence)

	roles := g.store.Roles(g.winner)
	assert.Len(t, roles, 2)

	audits := g.store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, models.AuditActionMerge, audits[0].Action)
	assert.Equal(t, "alice", audits[0].Actor)
	assert.Equal(t, models.StatusActive, audits[0].OldStatus)
	assert.Equal(t, models.StatusMerged, audits[0].NewStatus)
	assert.Equal(t, res.Relinked, audits[0].Relinked.Data)
	assert.Len(t, recorder.OfType(events.EventTypeEntityMerged), 1)

	t.Run("merging again is a skip", func(t *testing.T) {
		again, err := engine.MergePersonInto(ctx, g.loser, g.winner, "duplicate intake", "alice")
		require.NoError(t, err)
		assert.False(t, again.Merged)
		assert.Equal(t, merging.SkipLoserNotActive, again.SkipReason)
		assert.Len(t, g.store.Audits(), 1)
	})

	t.Run("merged entity cannot absorb", func(t *testing.T) {
		other := addPerson(g.store, "Someone Else")
		res, err := engine.MergePersonInto(ctx, other, g.loser, "", "")
		require.NoError(t, err)
		assert.Equal(t, merging.SkipWinnerNotActive, res.SkipReason)
	})
}

func TestMergeCatInto(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	loser, winner := addCat(store), addCat(store)
	person, place := addPerson(store, "Jane Doe"), addPlace(store)

	_, err := store.AttachCatIdentifier(ctx, &models.CatIdentifier{ID: uuid.New(), CatID: loser, Type: models.CatIdentifierMicrochip, Value: "985112345678901"})
	require.NoError(t, err)
	store.AddEdge(models.Relationship{Kind: models.RelationshipPersonCat, SubjectID: person, ObjectID: loser, RelationshipType: models.PersonCatCaretaker, Confidence: 0.6})
	store.AddEdge(models.Relationship{Kind: models.RelationshipCatPlace, SubjectID: loser, ObjectID: place, RelationshipType: models.CatPlaceTreatedAt, Confidence: 0.9})
	store.AddEdge(models.Relationship{Kind: models.RelationshipCatPlace, SubjectID: winner, ObjectID: place, RelationshipType: models.CatPlaceTreatedAt, Confidence: 0.9})
	store.AddAppointment(models.Appointment{CatID: &loser})

	res, err := newEngine(store, store, nil).MergeCatInto(ctx, loser, winner, "same chip", "")
	require.NoError(t, err)
	require.True(t, res.Merged)

	found, err := store.FindCatByIdentifier(ctx, models.CatIdentifierMicrochip, "985112345678901")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, winner, found.ID)

	assert.Len(t, store.Edges(models.RelationshipCatPlace), 1)
	pc := store.Edges(models.RelationshipPersonCat)
	require.Len(t, pc, 1)
	assert.Equal(t, winner, pc[0].ObjectID)
	assert.Equal(t, winner, *store.Appointments()[0].CatID)
	assert.Equal(t, "system", store.Audits()[0].Actor)
}

func TestMergePlaceInto(t *testing.T) {
	ctx := fernctx.SetActor(context.Background(), "bob")
	store := memory.New()
	loser, winner := addPlace(store), addPlace(store)
	person := addPerson(store, "Jane Doe")

	store.AddEdge(models.Relationship{Kind: models.RelationshipPersonPlace, SubjectID: person, ObjectID: loser, RelationshipType: models.PersonPlaceResident, Confidence: 0.6})
	store.AddAppointment(models.Appointment{PlaceID: &loser, AddressText: "12 Oak Ct"})

	res, err := newEngine(store, store, nil).MergePlaceInto(ctx, loser, winner, "same building", "")
	require.NoError(t, err)
	require.True(t, res.Merged)

	assert.Equal(t, winner, store.Edges(models.RelationshipPersonPlace)[0].ObjectID)
	assert.Equal(t, winner, *store.Appointments()[0].PlaceID)
	assert.Equal(t, "bob", store.Audits()[0].Actor)

	active, err := store.EntityActive(ctx, models.EntityPlace, loser)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestMerge_Skips(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	engine := newEngine(store, store, nil)
	person := addPerson(store, "Jane Doe")

	tests := []struct {
		name          string
		loser, winner uuid.UUID
		reason        string
	}{
		{"same entity", person, person, merging.SkipSameEntity},
		{"missing loser", uuid.New(), person, merging.SkipLoserMissing},
		{"missing winner", person, uuid.New(), merging.SkipWinnerMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := engine.MergePersonInto(ctx, tt.loser, tt.winner, "", "")
			require.NoError(t, err)
			assert.False(t, res.Merged)
			assert.Equal(t, tt.reason, res.SkipReason)
		})
	}
	assert.Empty(t, store.Audits())

	_, err := engine.Merge(ctx, "dog", person, uuid.New(), "", "")
	assert.Error(t, err)
}

// failingStore breaks relinking of one table.
type failingStore struct {
	*memory.Store
	table string
}

func (f *failingStore) RelinkReference(ctx context.Context, ref models.Reference, loser, winner uuid.UUID) (int64, int64, error) {
	if ref.Table == f.table {
		return 0, 0, errors.New("connection reset")
	}
	return f.Store.RelinkReference(ctx, ref, loser, winner)
}

func TestMerge_RollsBack(t *testing.T) {
	ctx := context.Background()
	g := buildPersonGraph(t)
	engine := newEngine(&failingStore{Store: g.store, table: "appointments"}, g.store, nil)

	_, err := engine.MergePersonInto(ctx, g.loser, g.winner, "", "")
	require.Error(t, err)

	loser, err := g.store.FindPerson(ctx, g.loser)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, loser.Status)

	ids, err := g.store.ListIdentifiers(ctx, g.loser)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Len(t, g.store.Edges(models.RelationshipPersonCat), 2)
	assert.Empty(t, g.store.Audits())
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	recorder := &events.Recorder{}
	engine := newEngine(store, store, recorder)
	cat := addCat(store)

	res, err := engine.Archive(ctx, models.EntityCat, cat, "test record", "alice")
	require.NoError(t, err)
	assert.True(t, res.Archived)

	found, err := store.FindCat(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, found.Status)
	assert.Nil(t, found.MergedInto)

	audits := store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, models.AuditActionArchive, audits[0].Action)
	assert.Nil(t, audits[0].WinnerID)

	again, err := engine.Archive(ctx, models.EntityCat, cat, "", "")
	require.NoError(t, err)
	assert.Equal(t, merging.SkipNotActive, again.SkipReason)

	missing, err := engine.Archive(ctx, models.EntityCat, uuid.New(), "", "")
	require.NoError(t, err)
	assert.Equal(t, merging.SkipMissing, missing.SkipReason)
	assert.Len(t, store.Audits(), 1)
}
