package cat_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/cats"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/cat"
	"github.com/Ramsey-B/fern/pkg/routes/routestest"
)

func TestResolve_ByMicrochip(t *testing.T) {
	h := routestest.New(t)
	req := cat.ResolveRequest{Microchip: "985112003456789", Name: "Mittens", SourceSystem: "clinichq"}

	rec := h.Do(t, http.MethodPost, "/v1/cats/resolve", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := routestest.Decode[cats.Resolution](t, rec)
	require.NotNil(t, first.CatID)
	assert.True(t, first.Created)

	rec = h.Do(t, http.MethodPost, "/v1/cats/resolve", req)
	require.Equal(t, http.StatusOK, rec.Code)
	second := routestest.Decode[cats.Resolution](t, rec)
	require.NotNil(t, second.CatID)
	assert.Equal(t, *first.CatID, *second.CatID)

	rec = h.Do(t, http.MethodGet, "/v1/cats/"+first.CatID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Mittens", routestest.Decode[models.Cat](t, rec).Name)
}

func TestResolve_BadChip(t *testing.T) {
	h := routestest.New(t)

	rec := h.Do(t, http.MethodPost, "/v1/cats/resolve", cat.ResolveRequest{Microchip: "123456789", SourceSystem: "clinichq"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	res := routestest.Decode[cats.Resolution](t, rec)
	assert.Nil(t, res.CatID)
	assert.NotEmpty(t, res.Reason)

	rec = h.Do(t, http.MethodPost, "/v1/cats/resolve", cat.ResolveRequest{
		Microchip:      "123456789",
		SourceAnimalID: "A-1001",
		SourceSystem:   "clinichq",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res = routestest.Decode[cats.Resolution](t, rec)
	require.NotNil(t, res.CatID)
	assert.Equal(t, cats.PathAnimalID, res.Path)
}

func TestResolve_Validation(t *testing.T) {
	h := routestest.New(t)

	rec := h.Do(t, http.MethodPost, "/v1/cats/resolve", cat.ResolveRequest{Name: "Nobody", SourceSystem: "clinichq"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, routestest.Message(t, rec), "required_without")
}

func TestGet_NotFound(t *testing.T) {
	h := routestest.New(t)

	rec := h.Do(t, http.MethodGet, "/v1/cats/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
