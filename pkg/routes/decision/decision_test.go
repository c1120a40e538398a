package decision_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/decision"
	"github.com/Ramsey-B/fern/pkg/routes/identity"
	"github.com/Ramsey-B/fern/pkg/routes/routestest"
)

// pendingReview seeds Jane Doe, then resolves a similar name on the same email
// so the resolver parks it for review.
func pendingReview(t *testing.T, h *routestest.Harness) matching.Resolution {
	t.Helper()

	rec := h.Do(t, http.MethodPost, "/v1/identities/resolve", identity.ResolveRequest{
		FirstName: "Jane", LastName: "Doe", Email: "jane@example.org", Phone: "707-555-1234", SourceSystem: "clinichq",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.Do(t, http.MethodPost, "/v1/identities/resolve", identity.ResolveRequest{
		FirstName: "Janet", LastName: "Doe", Email: "jane@example.org", SourceSystem: "clinichq",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := routestest.Decode[matching.Resolution](t, rec)
	require.Equal(t, models.DecisionReviewPending, res.Decision)
	return res
}

func TestList_FiltersByReviewStatus(t *testing.T) {
	h := routestest.New(t)
	pending := pendingReview(t, h)

	rec := h.Do(t, http.MethodGet, "/v1/decisions?review_status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decisions := routestest.Decode[[]models.MatchDecision](t, rec)
	require.Len(t, decisions, 1)
	assert.Equal(t, pending.DecisionID, decisions[0].ID)

	rec = h.Do(t, http.MethodGet, "/v1/decisions?decision_type=new_entity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, routestest.Decode[[]models.MatchDecision](t, rec), 1)
}

func TestList_BadQuery(t *testing.T) {
	h := routestest.New(t)

	tests := []string{
		"/v1/decisions?limit=0",
		"/v1/decisions?limit=501",
		"/v1/decisions?person_id=nope",
		"/v1/decisions?min_score=high",
	}
	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			rec := h.Do(t, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestApprove(t *testing.T) {
	h := routestest.New(t)
	pending := pendingReview(t, h)
	path := "/v1/decisions/" + pending.DecisionID.String() + "/approve"

	rec := h.Do(t, http.MethodPost, path, decision.ReviewRequest{}, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := routestest.Decode[models.MatchDecision](t, rec)
	assert.Equal(t, models.ReviewApproved, approved.ReviewStatus)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, "alice", *approved.ReviewedBy)

	rec = h.Do(t, http.MethodPost, path, decision.ReviewRequest{Reviewer: "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReview_Errors(t *testing.T) {
	h := routestest.New(t)
	pending := pendingReview(t, h)

	rec := h.Do(t, http.MethodPost, "/v1/decisions/"+pending.DecisionID.String()+"/reject", decision.ReviewRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reviewer is required", routestest.Message(t, rec))

	rec = h.Do(t, http.MethodPost, "/v1/decisions/"+uuid.NewString()+"/reject", decision.ReviewRequest{Reviewer: "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.Do(t, http.MethodGet, "/v1/decisions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkApprove(t *testing.T) {
	h := routestest.New(t)
	pendingReview(t, h)

	rec := h.Do(t, http.MethodPost, "/v1/decisions/bulk-approve", decision.BulkApproveRequest{MinScore: 0}, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, routestest.Decode[decision.BulkApproveResponse](t, rec).Approved)

	rec = h.Do(t, http.MethodPost, "/v1/decisions/bulk-approve", decision.BulkApproveRequest{MinScore: 1.5, Reviewer: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
