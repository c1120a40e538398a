package places_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/memory"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/places"
)

const (
	baseLat = 38.4405
	baseLng = -122.7144
	// about five meters of latitude
	fiveMeters = 0.000045
)

type fakeGeocoder struct {
	lat, lng float64
	ok       bool
	err      error
	calls    int
}

func (g *fakeGeocoder) Geocode(_ context.Context, _ string) (float64, float64, bool, error) {
	g.calls++
	return g.lat, g.lng, g.ok, g.err
}

func f64(v float64) *float64 { return &v }

func newDeduplicator(store *memory.Store, geocoder places.Geocoder, recorder *events.Recorder) *places.Deduplicator {
	emitter := events.NewEmitter(logging.Nop())
	if recorder != nil {
		emitter.AddSink(recorder)
	}
	return places.NewDeduplicator(logging.Nop(), store, store, geocoder, emitter, places.DefaultConfig())
}

func TestFindOrCreatePlace(t *testing.T) {
	ctx := context.Background()

	t.Run("same normalized address resolves to one place", func(t *testing.T) {
		store := memory.New()
		recorder := &events.Recorder{}
		d := newDeduplicator(store, nil, recorder)

		first, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "12 Oak Ct, Santa Rosa CA", SourceSystem: "clinichq"})
		require.NoError(t, err)
		assert.True(t, first.Created)
		assert.Equal(t, places.MethodCreated, first.Method)

		second, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "  12 OAK CT,  santa rosa ca "})
		require.NoError(t, err)
		assert.False(t, second.Created)
		assert.Equal(t, places.MethodExact, second.Method)
		assert.Equal(t, first.PlaceID, second.PlaceID)

		assert.Len(t, store.Places(), 1)
		assert.Len(t, recorder.OfType(events.EventTypePlaceCreated), 1)

		place, err := d.GetPlace(ctx, first.PlaceID)
		require.NoError(t, err)
		assert.Equal(t, models.PlaceUnknown, place.Kind)
		assert.Equal(t, "12 Oak Ct, Santa Rosa CA", place.DisplayName)
		require.NotNil(t, place.AddressID)
	})

	t.Run("nearby coordinates join the existing place", func(t *testing.T) {
		store := memory.New()
		d := newDeduplicator(store, nil, nil)

		first, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "12 Oak Ct", Latitude: f64(baseLat), Longitude: f64(baseLng)})
		require.NoError(t, err)

		near, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "12 Oak Court", Latitude: f64(baseLat + fiveMeters), Longitude: f64(baseLng)})
		require.NoError(t, err)
		assert.Equal(t, places.MethodProximity, near.Method)
		assert.Equal(t, first.PlaceID, near.PlaceID)
		require.NotNil(t, near.DistanceMeters)
		assert.InDelta(t, 5, *near.DistanceMeters, 0.5)

		far, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "14 Oak Ct", Latitude: f64(baseLat + 4*fiveMeters), Longitude: f64(baseLng)})
		require.NoError(t, err)
		assert.True(t, far.Created)
		assert.NotEqual(t, first.PlaceID, far.PlaceID)
	})

	t.Run("unit addresses never merge by proximity", func(t *testing.T) {
		store := memory.New()
		d := newDeduplicator(store, nil, nil)

		building, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "88 Park Way", Latitude: f64(baseLat), Longitude: f64(baseLng)})
		require.NoError(t, err)

		unit, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "88 Park Way Apt 4", Latitude: f64(baseLat), Longitude: f64(baseLng)})
		require.NoError(t, err)
		assert.True(t, unit.Created)
		assert.NotEqual(t, building.PlaceID, unit.PlaceID)

		place, err := d.GetPlace(ctx, unit.PlaceID)
		require.NoError(t, err)
		assert.Equal(t, models.PlaceApartmentUnit, place.Kind)
		require.NotNil(t, place.UnitIdentifier)
		assert.Equal(t, "4", *place.UnitIdentifier)

		// A unit place is not a proximity target either.
		other, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "90 Park Way", Latitude: f64(baseLat + fiveMeters), Longitude: f64(baseLng)})
		require.NoError(t, err)
		assert.Equal(t, building.PlaceID, other.PlaceID)
	})

	t.Run("merged places are ignored", func(t *testing.T) {
		store := memory.New()
		normalized := "12 oak ct"
		winner := uuid.New()
		store.AddPlace(models.Place{
			ID:                uuid.New(),
			FormattedAddress:  "12 Oak Ct",
			NormalizedAddress: &normalized,
			Latitude:          f64(baseLat),
			Longitude:         f64(baseLng),
			Status:            models.StatusMerged,
			MergedInto:        &winner,
			CreatedAt:         time.Now(),
		})
		d := newDeduplicator(store, nil, nil)

		res, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "12 Oak Ct", Latitude: f64(baseLat), Longitude: f64(baseLng)})
		require.NoError(t, err)
		assert.True(t, res.Created)
	})

	t.Run("geocoder supplies missing coordinates", func(t *testing.T) {
		store := memory.New()
		geocoder := &fakeGeocoder{lat: baseLat + fiveMeters, lng: baseLng, ok: true}
		d := newDeduplicator(store, geocoder, nil)

		first, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "12 Oak Ct", Latitude: f64(baseLat), Longitude: f64(baseLng)})
		require.NoError(t, err)
		assert.Zero(t, geocoder.calls)

		res, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "12 Oak Court, Santa Rosa"})
		require.NoError(t, err)
		assert.Equal(t, 1, geocoder.calls)
		assert.Equal(t, places.MethodProximity, res.Method)
		assert.Equal(t, first.PlaceID, res.PlaceID)
	})

	t.Run("geocoder failure still creates", func(t *testing.T) {
		store := memory.New()
		d := newDeduplicator(store, &fakeGeocoder{err: errors.New("quota exceeded")}, nil)

		res, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "12 Oak Ct"})
		require.NoError(t, err)
		assert.True(t, res.Created)

		place, err := d.GetPlace(ctx, res.PlaceID)
		require.NoError(t, err)
		assert.False(t, place.HasLocation())
	})

	t.Run("empty address", func(t *testing.T) {
		d := newDeduplicator(memory.New(), nil, nil)
		_, err := d.FindOrCreatePlace(ctx, places.PlaceInput{FormattedAddress: "   "})
		assert.ErrorIs(t, err, places.ErrEmptyAddress)
	})
}
