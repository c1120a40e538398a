package cats_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/memory"
	"github.com/Ramsey-B/fern/pkg/cats"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/validators"
)

const chip = "985112345678901"

func newResolver(store cats.Store, tx *memory.Store, recorder *events.Recorder) *cats.Resolver {
	emitter := events.NewEmitter(logging.Nop())
	if recorder != nil {
		emitter.AddSink(recorder)
	}
	return cats.NewResolver(logging.Nop(), store, tx, nil, emitter)
}

func TestFindOrCreateCatByMicrochip(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid chip falls back", func(t *testing.T) {
		store := memory.New()
		r := newResolver(store, store, nil)

		res, err := r.FindOrCreateCatByMicrochip(ctx, cats.CatInput{Microchip: "000000000000000", SourceSystem: "clinichq"})
		require.NoError(t, err)
		assert.Nil(t, res.CatID)
		assert.Equal(t, validators.ChipAllZeros, res.Reason)
		assert.Empty(t, store.Cats())
	})

	t.Run("same chip resolves to one cat", func(t *testing.T) {
		store := memory.New()
		recorder := &events.Recorder{}
		r := newResolver(store, store, recorder)

		first, err := r.FindOrCreateCatByMicrochip(ctx, cats.CatInput{Microchip: chip, Name: "Unknown", SourceSystem: "clinichq"})
		require.NoError(t, err)
		assert.True(t, first.Created)
		require.NotNil(t, first.CatID)

		second, err := r.FindOrCreateCatByMicrochip(ctx, cats.CatInput{Microchip: "985-112-345-678-901", Name: "Whiskers", Sex: "F", SourceSystem: "clinichq"})
		require.NoError(t, err)
		assert.False(t, second.Created)
		assert.True(t, second.Updated)
		assert.Equal(t, *first.CatID, *second.CatID)

		cat, err := r.GetCat(ctx, *first.CatID)
		require.NoError(t, err)
		assert.Equal(t, "Whiskers", cat.Name)
		assert.Equal(t, "F", cat.Sex)
		require.NotNil(t, cat.Microchip)
		assert.Equal(t, chip, *cat.Microchip)

		third, err := r.FindOrCreateCatByMicrochip(ctx, cats.CatInput{Microchip: chip, Name: "Whiskers", SourceSystem: "clinichq"})
		require.NoError(t, err)
		assert.False(t, third.Updated)

		assert.Len(t, store.Cats(), 1)
		assert.Len(t, recorder.OfType(events.EventTypeCatResolved), 2)
	})

	t.Run("chip found later joins the animal id cat", func(t *testing.T) {
		store := memory.New()
		r := newResolver(store, store, nil)

		byID, err := r.FindOrCreateCatByAnimalID(ctx, cats.CatInput{SourceAnimalID: "A-100", Name: "Tom", SourceSystem: "ShelterLuv"})
		require.NoError(t, err)
		require.True(t, byID.Created)

		res, err := r.FindOrCreateCatByMicrochip(ctx, cats.CatInput{Microchip: chip, SourceAnimalID: "A-100", SourceSystem: "ShelterLuv"})
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.True(t, res.Updated)
		assert.Equal(t, *byID.CatID, *res.CatID)

		ids := store.CatIdentifiers(*byID.CatID)
		values := []string{}
		for _, id := range ids {
			values = append(values, id.Value)
		}
		assert.ElementsMatch(t, []string{chip, "shelterluv:A-100"}, values)
	})

	t.Run("extra animal ids are recorded", func(t *testing.T) {
		store := memory.New()
		r := newResolver(store, store, nil)

		res, err := r.FindOrCreateCatByMicrochip(ctx, cats.CatInput{
			Microchip:       chip,
			SourceAnimalID:  "A-1",
			SourceAnimalIDs: []string{"A-2", " "},
			SourceSystem:    "shelterluv",
		})
		require.NoError(t, err)
		assert.Len(t, store.CatIdentifiers(*res.CatID), 3)

		again, err := r.FindOrCreateCatByAnimalID(ctx, cats.CatInput{SourceAnimalID: "A-2", SourceSystem: "shelterluv"})
		require.NoError(t, err)
		assert.Equal(t, *res.CatID, *again.CatID)
	})

	t.Run("stale lookup retries after losing the identifier", func(t *testing.T) {
		store := memory.New()
		r := newResolver(store, store, nil)
		existing, err := r.FindOrCreateCatByMicrochip(ctx, cats.CatInput{Microchip: chip, SourceSystem: "clinichq"})
		require.NoError(t, err)

		stale := &staleStore{Store: store, misses: 1}
		res, err := newResolver(stale, store, nil).FindOrCreateCatByMicrochip(ctx, cats.CatInput{Microchip: chip, SourceSystem: "clinichq"})
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, *existing.CatID, *res.CatID)
		assert.Len(t, store.Cats(), 1)
	})
}

// staleStore misses the first lookups, as a read racing another writer would.
type staleStore struct {
	*memory.Store
	misses int
}

func (s *staleStore) FindCatByIdentifier(ctx context.Context, idType models.CatIdentifierType, value string) (*models.Cat, error) {
	if s.misses > 0 {
		s.misses--
		return nil, nil
	}
	return s.Store.FindCatByIdentifier(ctx, idType, value)
}

func TestFindOrCreateCatByAnimalID(t *testing.T) {
	ctx := context.Background()

	t.Run("empty animal id", func(t *testing.T) {
		store := memory.New()
		res, err := newResolver(store, store, nil).FindOrCreateCatByAnimalID(ctx, cats.CatInput{SourceAnimalID: "  "})
		require.NoError(t, err)
		assert.Equal(t, cats.ReasonEmptyAnimalID, res.Reason)
		assert.Nil(t, res.CatID)
	})

	t.Run("animal ids are scoped to their source", func(t *testing.T) {
		store := memory.New()
		r := newResolver(store, store, nil)

		a, err := r.FindOrCreateCatByAnimalID(ctx, cats.CatInput{SourceAnimalID: "100", SourceSystem: "clinichq"})
		require.NoError(t, err)
		b, err := r.FindOrCreateCatByAnimalID(ctx, cats.CatInput{SourceAnimalID: "100", SourceSystem: "shelterluv"})
		require.NoError(t, err)
		assert.NotEqual(t, *a.CatID, *b.CatID)

		cat, err := r.GetCat(ctx, *a.CatID)
		require.NoError(t, err)
		assert.Equal(t, cats.DefaultCatName, cat.Name)
		assert.Equal(t, models.OwnershipUnknown, cat.OwnershipType)
	})
}

func TestCoalesce(t *testing.T) {
	existingChip := "900111222333444"
	base := func() *models.Cat {
		return &models.Cat{
			Name:          "Unknown",
			Sex:           "M",
			OwnershipType: models.OwnershipUnknown,
			Microchip:     &existingChip,
			CreatedAt:     time.Now(),
		}
	}

	t.Run("fills but never clobbers", func(t *testing.T) {
		cat := base()
		newChip := chip
		changed := cats.Coalesce(cat, cats.CatInput{
			Name:          "Mittens",
			Sex:           "F",
			Breed:         "DSH",
			OwnershipType: models.OwnershipFeral,
			IsDeceased:    true,
		}, &newChip)

		assert.True(t, changed)
		assert.Equal(t, "Mittens", cat.Name)
		assert.Equal(t, "M", cat.Sex)
		assert.Equal(t, "DSH", cat.Breed)
		assert.Equal(t, models.OwnershipFeral, cat.OwnershipType)
		assert.Equal(t, existingChip, *cat.Microchip)
		assert.True(t, cat.IsDeceased)
	})

	t.Run("real names are kept", func(t *testing.T) {
		cat := base()
		cat.Name = "Tom"
		cats.Coalesce(cat, cats.CatInput{Name: "Jerry"}, nil)
		assert.Equal(t, "Tom", cat.Name)
	})

	t.Run("name with an embedded chip is a placeholder", func(t *testing.T) {
		assert.True(t, cats.IsPlaceholderName("Kitty 985112345678901"))
		assert.True(t, cats.IsPlaceholderName(" unknown "))
		assert.False(t, cats.IsPlaceholderName("Kitty"))
	})

	t.Run("nothing to change", func(t *testing.T) {
		assert.False(t, cats.Coalesce(base(), cats.CatInput{Sex: "F", OwnershipType: models.OwnershipUnknown}, nil))
	})
}
