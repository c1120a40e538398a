package linking_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/linking"
	"github.com/Ramsey-B/fern/pkg/routes/routestest"
)

func TestStartRun_ThenFetch(t *testing.T) {
	h := routestest.New(t)

	rec := h.Do(t, http.MethodPost, "/v1/linking/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := routestest.Decode[models.LinkingRun](t, rec)
	assert.Equal(t, linking.TriggerAPI, run.Trigger)
	assert.Contains(t, []models.RunStatus{models.RunStatusCompleted, models.RunStatusCompletedWithWarnings}, run.Status)

	rec = h.Do(t, http.MethodGet, "/v1/linking/runs/"+run.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, run.ID, routestest.Decode[models.LinkingRun](t, rec).ID)

	rec = h.Do(t, http.MethodGet, "/v1/linking/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, routestest.Decode[[]models.LinkingRun](t, rec), 1)
}

func TestStartRun_PreflightFailure(t *testing.T) {
	h := routestest.New(t)
	h.Store.SetMissingDependencies("sot.appointments")

	rec := h.Do(t, http.MethodPost, "/v1/linking/runs", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Equal(t, models.RunStatusAborted, routestest.Decode[models.LinkingRun](t, rec).Status)
}

func TestRuns_BadInput(t *testing.T) {
	h := routestest.New(t)

	assert.Equal(t, http.StatusNotFound, h.Do(t, http.MethodGet, "/v1/linking/runs/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.Do(t, http.MethodGet, "/v1/linking/runs/abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.Do(t, http.MethodGet, "/v1/linking/runs?limit=0", nil).Code)
}
