package identity_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/identity"
	"github.com/Ramsey-B/fern/pkg/routes/routestest"
)

func jane() identity.ResolveRequest {
	return identity.ResolveRequest{
		FirstName:    "Jane",
		LastName:     "Doe",
		Email:        "jane@example.org",
		Phone:        "(707) 555-1234",
		SourceSystem: "clinichq",
	}
}

func TestResolve_CreatesThenMatches(t *testing.T) {
	h := routestest.New(t)

	rec := h.Do(t, http.MethodPost, "/v1/identities/resolve", jane())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := routestest.Decode[matching.Resolution](t, rec)
	assert.Equal(t, models.DecisionNewEntity, first.Decision)
	assert.True(t, first.Created)
	require.NotNil(t, first.PersonID)

	rec = h.Do(t, http.MethodPost, "/v1/identities/resolve", jane())
	require.Equal(t, http.StatusOK, rec.Code)
	second := routestest.Decode[matching.Resolution](t, rec)
	assert.Equal(t, models.DecisionAutoMatch, second.Decision)
	require.NotNil(t, second.PersonID)
	assert.Equal(t, *first.PersonID, *second.PersonID)
	assert.Len(t, h.Store.People(), 1)
}

func TestResolve_GateRejectionIsNotAnError(t *testing.T) {
	h := routestest.New(t)

	rec := h.Do(t, http.MethodPost, "/v1/identities/resolve", identity.ResolveRequest{
		FirstName:    "Jane",
		LastName:     "Doe",
		SourceSystem: "clinichq",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := routestest.Decode[matching.Resolution](t, rec)
	assert.Equal(t, models.DecisionRejected, res.Decision)
	assert.Nil(t, res.PersonID)
	assert.Empty(t, h.Store.People())
}

func TestResolve_Validation(t *testing.T) {
	h := routestest.New(t)

	req := jane()
	req.SourceSystem = ""
	rec := h.Do(t, http.MethodPost, "/v1/identities/resolve", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, routestest.Message(t, rec), "SourceSystem")

	rec = h.Do(t, http.MethodPost, "/v1/identities/resolve", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSkeleton_UntrustedSource(t *testing.T) {
	h := routestest.New(t)

	rec := h.Do(t, http.MethodPost, "/v1/identities/skeleton", identity.SkeletonRequest{
		FirstName:    "Maria",
		LastName:     "Lopez",
		SourceSystem: "unknown-import",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := routestest.Decode[matching.Resolution](t, rec)
	assert.Equal(t, models.DecisionRejected, res.Decision)
	assert.Equal(t, matching.ReasonUntrustedSource, res.Reason)
	assert.False(t, res.Created)
}
