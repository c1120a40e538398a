package relationship_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/linking"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/relationship"
	"github.com/Ramsey-B/fern/pkg/routes/routestest"
)

func seed(h *routestest.Harness) (personID, catID uuid.UUID) {
	personID, catID = uuid.New(), uuid.New()
	h.Store.AddPerson(models.Person{ID: personID, DisplayName: "Jane Doe", Status: models.StatusActive})
	h.Store.AddCat(models.Cat{ID: catID, Name: "Mittens", Status: models.StatusActive})
	return personID, catID
}

func TestLink_CreatesThenUpdates(t *testing.T) {
	h := routestest.New(t)
	personID, catID := seed(h)
	req := relationship.LinkRequest{
		SubjectID:        personID,
		ObjectID:         catID,
		RelationshipType: models.PersonCatOwner,
		EvidenceType:     "appointment",
		Confidence:       0.8,
		SourceSystem:     "clinichq",
	}

	rec := h.Do(t, http.MethodPost, "/v1/relationships/person_cat", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := routestest.Decode[linking.LinkResult](t, rec)
	assert.True(t, res.Linked)
	require.NotNil(t, res.Relationship)

	req.Confidence = 0.95
	rec = h.Do(t, http.MethodPost, "/v1/relationships/person_cat", req)
	require.Equal(t, http.StatusOK, rec.Code)
	res = routestest.Decode[linking.LinkResult](t, rec)
	assert.False(t, res.Created)
	assert.InDelta(t, 0.95, res.Relationship.Confidence, 1e-9)

	rec = h.Do(t, http.MethodGet, "/v1/relationships/person_cat?entity_id="+catID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	edges := routestest.Decode[[]models.Relationship](t, rec)
	require.Len(t, edges, 1)
	assert.Equal(t, personID, edges[0].SubjectID)
}

func TestLink_Skips(t *testing.T) {
	h := routestest.New(t)
	personID, catID := seed(h)

	tests := []struct {
		name   string
		req    relationship.LinkRequest
		reason string
	}{
		{"unknown type", relationship.LinkRequest{SubjectID: personID, ObjectID: catID, RelationshipType: "landlord", Confidence: 0.5}, linking.SkipInvalidRelationshipType},
		{"missing subject", relationship.LinkRequest{SubjectID: uuid.New(), ObjectID: catID, RelationshipType: models.PersonCatOwner, Confidence: 0.5}, linking.SkipSubjectMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.Do(t, http.MethodPost, "/v1/relationships/person_cat", tt.req)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, tt.reason, routestest.Decode[linking.LinkResult](t, rec).SkipReason)
		})
	}
}

func TestRoutes_BadInput(t *testing.T) {
	h := routestest.New(t)

	rec := h.Do(t, http.MethodPost, "/v1/relationships/cat_cat", relationship.LinkRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.Do(t, http.MethodGet, "/v1/relationships/person_cat", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.Do(t, http.MethodPost, "/v1/relationships/person_cat", relationship.LinkRequest{
		SubjectID: uuid.New(), ObjectID: uuid.New(), RelationshipType: models.PersonCatOwner, Confidence: 2,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
