package matching_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/memory"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fixture struct {
	store    *memory.Store
	resolver *matching.Resolver
	events   *events.Recorder
}

func newFixture(t *testing.T, mutate ...func(*matching.Config)) *fixture {
	t.Helper()

	logger := logging.Nop()
	store := memory.New()
	recorder := &events.Recorder{}

	cfg := matching.DefaultConfig()
	cfg.SkeletonTrustedSources = []string{"volunteerhub"}
	for _, m := range mutate {
		m(&cfg)
	}

	g := gate.NewGate(logger, nil, gate.NewBlacklist(logger, store, gate.DefaultBlacklistConfig()))
	scorer := matching.NewCandidateScorer(logger, store, matching.DefaultScorerConfig())
	resolver := matching.NewResolver(logger, g, scorer, store, store, store, events.NewEmitter(logger, recorder), cfg)

	return &fixture{store: store, resolver: resolver, events: recorder}
}

func (f *fixture) resolve(t *testing.T, in matching.ResolveInput) *matching.Resolution {
	t.Helper()
	res, err := f.resolver.ResolveIdentity(context.Background(), in)
	require.NoError(t, err)
	return res
}

func jane() matching.ResolveInput {
	return matching.ResolveInput{
		FirstName:    "Jane",
		LastName:     "Doe",
		Email:        "Jane@Example.org",
		Phone:        "(707) 555-1234",
		Address:      "12 Oak Ct",
		SourceSystem: "clinichq",
	}
}

func TestResolveIdentity_RepeatedIngest(t *testing.T) {
	f := newFixture(t)

	first := f.resolve(t, jane())
	assert.Equal(t, models.DecisionNewEntity, first.Decision)
	assert.Equal(t, matching.RuleNewEntity, first.Rule)
	assert.True(t, first.Created)
	assert.Equal(t, 2, first.AttachedIdentifiers)
	require.NotNil(t, first.PersonID)

	second := jane()
	second.Phone = ""
	res := f.resolve(t, second)
	assert.Equal(t, models.DecisionAutoMatch, res.Decision)
	assert.Equal(t, matching.RuleExactNameWithIdentifier, res.Rule)
	assert.InDelta(t, 0.75, res.Score, 1e-9)
	assert.Equal(t, *first.PersonID, *res.PersonID)
	assert.False(t, res.Created)

	for range 3 {
		again := f.resolve(t, jane())
		assert.Equal(t, models.DecisionAutoMatch, again.Decision)
		assert.Equal(t, matching.RuleHighConfidence, again.Rule)
		assert.Equal(t, *first.PersonID, *again.PersonID)
		assert.Zero(t, again.AttachedIdentifiers)
	}

	assert.Len(t, f.store.People(), 1)
	assert.Len(t, f.store.AllIdentifiers(), 2)
	assert.Len(t, f.store.Decisions(), 5)
	assert.Len(t, f.events.OfType(events.EventTypePersonCreated), 1)
	assert.Len(t, f.events.OfType(events.EventTypeMatchDecision), 5)
}

func TestResolveIdentity_AutoMatchAttachesNewIdentifier(t *testing.T) {
	f := newFixture(t)

	in := jane()
	in.Phone = ""
	first := f.resolve(t, in)

	in.Phone = "707-555-9876"
	res := f.resolve(t, in)
	assert.Equal(t, models.DecisionAutoMatch, res.Decision)
	assert.Equal(t, 1, res.AttachedIdentifiers)

	ids, err := f.store.ListIdentifiers(context.Background(), *first.PersonID)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	for _, id := range ids {
		if id.Type == models.IdentifierPhone {
			assert.Equal(t, "7075559876", id.NormalizedValue)
			assert.InDelta(t, 0.75, id.Confidence, 1e-9)
		}
	}
}

func TestResolveIdentity_SimilarNameNeedsReview(t *testing.T) {
	f := newFixture(t)
	first := f.resolve(t, jane())

	res := f.resolve(t, matching.ResolveInput{FirstName: "Janet", LastName: "Doe", Email: "jane@example.org", SourceSystem: "clinichq"})
	assert.Equal(t, models.DecisionReviewPending, res.Decision)
	assert.Equal(t, matching.RuleNeedsReview, res.Rule)
	assert.Nil(t, res.PersonID)
	require.NotNil(t, res.CandidatePersonID)
	assert.Equal(t, *first.PersonID, *res.CandidatePersonID)

	d, err := f.resolver.GetDecision(context.Background(), res.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewPending, d.ReviewStatus)
	assert.Len(t, f.store.People(), 1)
}

func TestResolveIdentity_WeakCandidateCreatesPerson(t *testing.T) {
	f := newFixture(t)
	f.resolve(t, jane())

	res := f.resolve(t, matching.ResolveInput{FirstName: "John", LastName: "Doe", Email: "john@example.org", SourceSystem: "clinichq"})
	assert.Equal(t, models.DecisionNewEntity, res.Decision)
	assert.True(t, res.Created)
	require.NotNil(t, res.CandidatePersonID)
	assert.NotEqual(t, *res.CandidatePersonID, *res.PersonID)
	assert.Less(t, res.Score, matching.DefaultReviewThreshold)
	assert.Len(t, f.store.People(), 2)
}

func TestResolveIdentity_GateRejection(t *testing.T) {
	tests := []struct {
		name   string
		in     matching.ResolveInput
		reason string
	}{
		{"organizational email", matching.ResolveInput{FirstName: "Front", LastName: "Desk", Email: "info@forgottenfelines.org"}, gate.ReasonOrganizationalEmail},
		{"no identifier", matching.ResolveInput{FirstName: "Jane", LastName: "Doe", Email: "none"}, gate.ReasonNoIdentifier},
		{"organization name", matching.ResolveInput{FirstName: "Sonoma", LastName: "Humane Society", Phone: "7075551111"}, gate.ReasonNameNotPerson},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.resolve(t, tt.in)

			assert.Equal(t, models.DecisionRejected, res.Decision)
			assert.Equal(t, matching.RuleGateRejected, res.Rule)
			assert.Contains(t, res.Reason, tt.reason)
			assert.Nil(t, res.PersonID)
			assert.Empty(t, f.store.People())
			assert.Empty(t, f.store.AllIdentifiers())

			decisions := f.store.Decisions()
			require.Len(t, decisions, 1)
			assert.Equal(t, models.DecisionRejected, decisions[0].DecisionType)
		})
	}
}

func TestResolveIdentity_RejectedContactNeverMatches(t *testing.T) {
	f := newFixture(t)
	f.resolve(t, jane())

	f.store.AddBlacklistEntry(models.BlacklistEntry{
		IdentifierType:        models.IdentifierEmail,
		NormalizedValue:       "jane@example.org",
		Reason:                "shared household email",
		RequireNameSimilarity: 1,
	})

	res := f.resolve(t, jane())
	assert.Equal(t, models.DecisionRejected, res.Decision)
	assert.Contains(t, res.Reason, gate.ReasonBlacklistedIdentifier)
	assert.Nil(t, res.PersonID)
	assert.Zero(t, res.Score)
}

func TestReview(t *testing.T) {
	ctx := context.Background()

	pending := func(t *testing.T, f *fixture) (*matching.Resolution, *matching.Resolution) {
		first := f.resolve(t, jane())
		res := f.resolve(t, matching.ResolveInput{FirstName: "Janet", LastName: "Doe", Email: "jane@example.org", Phone: "7075550000", SourceSystem: "clinichq"})
		require.Equal(t, models.DecisionReviewPending, res.Decision)
		return first, res
	}

	t.Run("approve attaches identifiers to the candidate", func(t *testing.T) {
		f := newFixture(t)
		first, res := pending(t, f)

		d, err := f.resolver.ApproveDecision(ctx, res.DecisionID, "alice")
		require.NoError(t, err)
		assert.Equal(t, models.ReviewApproved, d.ReviewStatus)
		require.NotNil(t, d.ReviewedBy)
		assert.Equal(t, "alice", *d.ReviewedBy)

		ids, err := f.store.ListIdentifiers(ctx, *first.PersonID)
		require.NoError(t, err)
		values := []string{}
		for _, id := range ids {
			values = append(values, id.NormalizedValue)
		}
		assert.ElementsMatch(t, []string{"jane@example.org", "7075551234", "7075550000"}, values)
		assert.Len(t, f.events.OfType(events.EventTypeMatchReviewed), 1)
	})

	t.Run("second review conflicts", func(t *testing.T) {
		f := newFixture(t)
		_, res := pending(t, f)

		_, err := f.resolver.RejectDecision(ctx, res.DecisionID, "alice")
		require.NoError(t, err)
		_, err = f.resolver.ApproveDecision(ctx, res.DecisionID, "bob")
		assert.ErrorIs(t, err, matching.ErrDecisionNotPending)
	})

	t.Run("rejecting leaves identifiers alone", func(t *testing.T) {
		f := newFixture(t)
		_, _ = pending(t, f)
		before := len(f.store.AllIdentifiers())

		decisions, err := f.resolver.ListDecisions(ctx, models.DecisionFilter{})
		require.NoError(t, err)
		for _, d := range decisions {
			if d.DecisionType == models.DecisionReviewPending {
				_, err := f.resolver.RejectDecision(ctx, d.ID, "alice")
				require.NoError(t, err)
			}
		}
		assert.Len(t, f.store.AllIdentifiers(), before)
	})

	t.Run("only review decisions can be reviewed", func(t *testing.T) {
		f := newFixture(t)
		first, _ := pending(t, f)

		_, err := f.resolver.ApproveDecision(ctx, first.DecisionID, "alice")
		assert.ErrorIs(t, err, matching.ErrDecisionNotPending)
	})

	t.Run("unknown decision", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.resolver.ApproveDecision(ctx, uuid.New(), "alice")
		assert.ErrorIs(t, err, matching.ErrDecisionNotFound)
	})

	t.Run("bulk approve", func(t *testing.T) {
		f := newFixture(t)
		_, _ = pending(t, f)
		f.resolve(t, matching.ResolveInput{FirstName: "Janey", LastName: "Doe", Email: "jane@example.org", SourceSystem: "clinichq"})

		n, err := f.resolver.BulkApprove(ctx, 0.5, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = f.resolver.BulkApprove(ctx, 0.5, "alice")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestCreateSkeletonPerson(t *testing.T) {
	ctx := context.Background()

	t.Run("trusted source", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.CreateSkeletonPerson(ctx, matching.SkeletonInput{FirstName: "Maria", LastName: "Lopez", SourceSystem: "volunteerhub"})
		require.NoError(t, err)

		assert.Equal(t, models.DecisionNewEntity, res.Decision)
		assert.Equal(t, matching.RuleSkeleton, res.Rule)
		require.NotNil(t, res.PersonID)

		people := f.store.People()
		require.Len(t, people, 1)
		assert.True(t, people[0].IsSkeleton)
		assert.Equal(t, models.DataQualityNeedsReview, people[0].DataQuality)
		assert.Empty(t, f.store.AllIdentifiers())
		assert.Len(t, f.store.Decisions(), 1)
	})

	t.Run("untrusted source", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.CreateSkeletonPerson(ctx, matching.SkeletonInput{FirstName: "Maria", LastName: "Lopez", SourceSystem: "clinichq"})
		require.NoError(t, err)

		assert.Equal(t, models.DecisionRejected, res.Decision)
		assert.Equal(t, matching.ReasonUntrustedSource, res.Reason)
		assert.Empty(t, f.store.People())
		assert.Len(t, f.store.Decisions(), 1)
	})

	t.Run("name is not a person", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.CreateSkeletonPerson(ctx, matching.SkeletonInput{FirstName: "Silveira", LastName: "Ranch", SourceSystem: "volunteerhub"})
		require.NoError(t, err)

		assert.Equal(t, models.DecisionRejected, res.Decision)
		assert.Equal(t, matching.ReasonSkeletonName, res.Reason)
		assert.Empty(t, f.store.People())
	})
}
