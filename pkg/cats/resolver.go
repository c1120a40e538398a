// Package cats resolves cats by microchip or, for cats that never received a
// chip, by the source system's animal id.
package cats

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/validators"
)

// DefaultCatName is stored when the source gives no usable name. It counts as
// a placeholder and is replaced by the first real name seen.
const DefaultCatName = "Unknown"

// Resolution paths and non-validation reasons.
const (
	PathMicrochip = "microchip"
	PathAnimalID  = "animal_id"

	ReasonEmptyAnimalID = "empty_animal_id"
)

var errIdentifierClaimed = errors.New("cat identifier claimed concurrently")

// Store is the cat persistence the resolver needs. Find* returns (nil, nil)
// when nothing matches.
type Store interface {
	FindCat(ctx context.Context, id uuid.UUID) (*models.Cat, error)
	// FindCatByIdentifier returns the active cat holding the identifier.
	FindCatByIdentifier(ctx context.Context, idType models.CatIdentifierType, value string) (*models.Cat, error)
	CreateCat(ctx context.Context, cat *models.Cat) error
	UpdateCat(ctx context.Context, cat *models.Cat) error
	// AttachCatIdentifier returns false when (type, value) is already claimed.
	AttachCatIdentifier(ctx context.Context, identifier *models.CatIdentifier) (bool, error)
}

type CatInput struct {
	Microchip      string               `json:"microchip"`
	SourceAnimalID string               `json:"source_animal_id"`
	Name           string               `json:"name"`
	Sex            string               `json:"sex"`
	Breed          string               `json:"breed"`
	Colors         string               `json:"colors"`
	AlteredStatus  string               `json:"altered_status"`
	OwnershipType  models.OwnershipType `json:"ownership_type"`
	IsDeceased     bool                 `json:"is_deceased"`
	SourceSystem   string               `json:"source_system"`
	// SourceAnimalIDs are extra animal ids recorded alongside a microchip.
	SourceAnimalIDs []string `json:"source_animal_ids"`
}

// Resolution is nil-CatID with a Reason when the input was rejected.
type Resolution struct {
	CatID   *uuid.UUID `json:"cat_id,omitempty"`
	Path    string     `json:"path"`
	Created bool       `json:"created"`
	Updated bool       `json:"updated"`
	Reason  string     `json:"reason,omitempty"`
}

type Resolver struct {
	logger     ectologger.Logger
	store      Store
	tx         database.Transactor
	classifier *validators.Classifier
	emitter    *events.Emitter
	now        func() time.Time
}

func NewResolver(logger ectologger.Logger, store Store, tx database.Transactor, classifier *validators.Classifier, emitter *events.Emitter) *Resolver {
	if classifier == nil {
		classifier = validators.Default()
	}
	return &Resolver{
		logger:     logger,
		store:      store,
		tx:         tx,
		classifier: classifier,
		emitter:    emitter,
		now:        time.Now,
	}
}

// AnimalIDKey scopes an animal id to its source system.
func AnimalIDKey(sourceSystem, animalID string) string {
	return strings.ToLower(strings.TrimSpace(sourceSystem)) + ":" + strings.TrimSpace(animalID)
}

// FindOrCreateCatByMicrochip resolves by a validated microchip. An invalid chip
// yields a Resolution with Reason set and no cat; the caller should fall back
// to FindOrCreateCatByAnimalID.
func (r *Resolver) FindOrCreateCatByMicrochip(ctx context.Context, in CatInput) (*Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "cats.Resolver.FindOrCreateCatByMicrochip")
	defer span.End()

	raw := in.Microchip
	chip := r.classifier.ValidateMicrochip(&raw)
	if !chip.Valid {
		metrics.RecordCatResolution(PathMicrochip, "rejected")
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"reason":        chip.Reason,
			"source_system": in.SourceSystem,
		}).Debug("Microchip rejected")
		return &Resolution{Path: PathMicrochip, Reason: chip.Reason}, nil
	}

	animalKeys := make([]string, 0, len(in.SourceAnimalIDs)+1)
	for _, id := range append([]string{in.SourceAnimalID}, in.SourceAnimalIDs...) {
		if strings.TrimSpace(id) != "" {
			animalKeys = append(animalKeys, AnimalIDKey(in.SourceSystem, id))
		}
	}

	lookup := func(ctx context.Context) (*models.Cat, error) {
		cat, err := r.store.FindCatByIdentifier(ctx, models.CatIdentifierMicrochip, chip.Cleaned)
		if err != nil || cat != nil {
			return cat, err
		}
		// A cat first seen without a chip may have been chipped since.
		for _, key := range animalKeys {
			cat, err = r.store.FindCatByIdentifier(ctx, models.CatIdentifierSourceAnimalID, key)
			if err != nil || cat != nil {
				return cat, err
			}
		}
		return nil, nil
	}

	ids := append([]identifier{{models.CatIdentifierMicrochip, chip.Cleaned}}, animalIdentifiers(animalKeys)...)
	res, err := r.resolve(ctx, PathMicrochip, in, &chip.Cleaned, lookup, ids)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return res, nil
}

// FindOrCreateCatByAnimalID resolves a cat keyed on the source system's animal id.
func (r *Resolver) FindOrCreateCatByAnimalID(ctx context.Context, in CatInput) (*Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "cats.Resolver.FindOrCreateCatByAnimalID")
	defer span.End()

	if strings.TrimSpace(in.SourceAnimalID) == "" {
		metrics.RecordCatResolution(PathAnimalID, "rejected")
		return &Resolution{Path: PathAnimalID, Reason: ReasonEmptyAnimalID}, nil
	}
	key := AnimalIDKey(in.SourceSystem, in.SourceAnimalID)

	lookup := func(ctx context.Context) (*models.Cat, error) {
		return r.store.FindCatByIdentifier(ctx, models.CatIdentifierSourceAnimalID, key)
	}

	res, err := r.resolve(ctx, PathAnimalID, in, nil, lookup, animalIdentifiers([]string{key}))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return res, nil
}

type identifier struct {
	kind  models.CatIdentifierType
	value string
}

func animalIdentifiers(keys []string) []identifier {
	out := make([]identifier, len(keys))
	for i, k := range keys {
		out[i] = identifier{models.CatIdentifierSourceAnimalID, k}
	}
	return out
}

// resolve runs lookup-then-create in a transaction. If another writer claims
// an identifier first, the transaction is rolled back and the lookup retried.
func (r *Resolver) resolve(ctx context.Context, path string, in CatInput, microchip *string, lookup func(context.Context) (*models.Cat, error), ids []identifier) (*Resolution, error) {
	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"path":          path,
		"source_system": in.SourceSystem,
	})

	var (
		res *Resolution
		cat *models.Cat
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		res, cat, err = r.resolveOnce(ctx, path, in, microchip, lookup, ids)
		if !errors.Is(err, errIdentifierClaimed) {
			break
		}
		log.Debug("Cat identifier claimed concurrently, retrying lookup")
	}
	if err != nil {
		log.WithError(err).Error("Failed to resolve cat")
		return nil, err
	}

	outcome := "matched"
	switch {
	case res.Created:
		outcome = "created"
	case res.Updated:
		outcome = "updated"
	}
	metrics.RecordCatResolution(path, outcome)
	if res.Created || res.Updated {
		r.emitter.EmitCatResolved(ctx, cat, res.Created)
	}

	return res, nil
}

func (r *Resolver) resolveOnce(ctx context.Context, path string, in CatInput, microchip *string, lookup func(context.Context) (*models.Cat, error), ids []identifier) (*Resolution, *models.Cat, error) {
	res := &Resolution{Path: path}
	var cat *models.Cat

	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := lookup(ctx)
		if err != nil {
			return err
		}

		now := r.now().UTC()
		if existing != nil {
			cat = existing
			res.Updated = Coalesce(cat, in, microchip)
			if res.Updated {
				cat.UpdatedAt = now
				if err := r.store.UpdateCat(ctx, cat); err != nil {
					return err
				}
			}
			// Missing identifiers are added so either key finds the cat next time.
			for _, id := range ids {
				if _, err := r.attach(ctx, cat, id, now); err != nil {
					return err
				}
			}
			return nil
		}

		cat = newCat(in, microchip, now)
		if err := r.store.CreateCat(ctx, cat); err != nil {
			return err
		}
		for i, id := range ids {
			ok, err := r.attach(ctx, cat, id, now)
			if err != nil {
				return err
			}
			// The lookup key itself must be ours, extra animal ids may belong elsewhere.
			if !ok && i == 0 {
				return errIdentifierClaimed
			}
		}
		res.Created = true
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	res.CatID = &cat.ID
	return res, cat, nil
}

func (r *Resolver) attach(ctx context.Context, cat *models.Cat, id identifier, now time.Time) (bool, error) {
	return r.store.AttachCatIdentifier(ctx, &models.CatIdentifier{
		ID:           uuid.New(),
		CatID:        cat.ID,
		Type:         id.kind,
		Value:        id.value,
		SourceSystem: cat.SourceSystem,
		CreatedAt:    now,
	})
}

func newCat(in CatInput, microchip *string, now time.Time) *models.Cat {
	name := normalizers.CleanCatName(in.Name)
	if name == "" {
		name = DefaultCatName
	}
	ownership := in.OwnershipType
	if ownership == "" {
		ownership = models.OwnershipUnknown
	}

	cat := &models.Cat{
		ID:            uuid.New(),
		Name:          name,
		Sex:           strings.TrimSpace(in.Sex),
		Breed:         strings.TrimSpace(in.Breed),
		Colors:        strings.TrimSpace(in.Colors),
		AlteredStatus: strings.TrimSpace(in.AlteredStatus),
		OwnershipType: ownership,
		Microchip:     microchip,
		SourceSystem:  in.SourceSystem,
		IsDeceased:    in.IsDeceased,
		Status:        models.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if id := strings.TrimSpace(in.SourceAnimalID); id != "" {
		cat.SourceAnimalID = &id
	}
	return cat
}

// IsPlaceholderName reports names that a real name should replace.
func IsPlaceholderName(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.EqualFold(name, DefaultCatName) || normalizers.HasEmbeddedChip(name)
}

// Coalesce fills empty fields of cat from in and never clears a populated one.
// It reports whether anything changed.
func Coalesce(cat *models.Cat, in CatInput, microchip *string) bool {
	changed := false
	fill := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if *dst == "" && v != "" {
			*dst = v
			changed = true
		}
	}

	if name := normalizers.CleanCatName(in.Name); name != "" && IsPlaceholderName(cat.Name) && name != cat.Name {
		cat.Name = name
		changed = true
	}
	fill(&cat.Sex, in.Sex)
	fill(&cat.Breed, in.Breed)
	fill(&cat.Colors, in.Colors)
	fill(&cat.AlteredStatus, in.AlteredStatus)

	if (cat.OwnershipType == "" || cat.OwnershipType == models.OwnershipUnknown) &&
		in.OwnershipType != "" && in.OwnershipType != models.OwnershipUnknown {
		cat.OwnershipType = in.OwnershipType
		changed = true
	}
	if cat.Microchip == nil && microchip != nil {
		chip := *microchip
		cat.Microchip = &chip
		changed = true
	}
	if id := strings.TrimSpace(in.SourceAnimalID); cat.SourceAnimalID == nil && id != "" {
		cat.SourceAnimalID = &id
		changed = true
	}
	if in.IsDeceased && !cat.IsDeceased {
		cat.IsDeceased = true
		changed = true
	}

	return changed
}

// GetCat returns a cat by id, or (nil, nil).
func (r *Resolver) GetCat(ctx context.Context, id uuid.UUID) (*models.Cat, error) {
	ctx, span := tracing.StartSpan(ctx, "cats.Resolver.GetCat")
	defer span.End()

	return r.store.FindCat(ctx, id)
}
