package place_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/places"
	"github.com/Ramsey-B/fern/pkg/routes/place"
	"github.com/Ramsey-B/fern/pkg/routes/routestest"
)

func ptr(f float64) *float64 { return &f }

func TestResolve_DeduplicatesAddress(t *testing.T) {
	h := routestest.New(t)
	req := place.ResolveRequest{
		FormattedAddress: "12 Oak Ct, Santa Rosa, CA 95401",
		Latitude:         ptr(38.4404),
		Longitude:        ptr(-122.7141),
		SourceSystem:     "airtable",
	}

	rec := h.Do(t, http.MethodPost, "/v1/places/resolve", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := routestest.Decode[places.Resolution](t, rec)
	assert.True(t, first.Created)

	rec = h.Do(t, http.MethodPost, "/v1/places/resolve", req)
	require.Equal(t, http.StatusOK, rec.Code)
	second := routestest.Decode[places.Resolution](t, rec)
	assert.Equal(t, first.PlaceID, second.PlaceID)
	assert.False(t, second.Created)

	rec = h.Do(t, http.MethodGet, "/v1/places/"+first.PlaceID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.PlaceID, routestest.Decode[models.Place](t, rec).ID)
}

func TestResolve_Validation(t *testing.T) {
	h := routestest.New(t)

	tests := []struct {
		name string
		req  place.ResolveRequest
	}{
		{"missing address", place.ResolveRequest{SourceSystem: "airtable"}},
		{"latitude out of range", place.ResolveRequest{FormattedAddress: "1 Main St", Latitude: ptr(91), Longitude: ptr(0), SourceSystem: "airtable"}},
		{"latitude without longitude", place.ResolveRequest{FormattedAddress: "1 Main St", Latitude: ptr(38), SourceSystem: "airtable"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.Do(t, http.MethodPost, "/v1/places/resolve", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	h := routestest.New(t)

	rec := h.Do(t, http.MethodGet, "/v1/places/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
