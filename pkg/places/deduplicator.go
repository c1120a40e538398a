// Package places resolves free-text addresses to canonical places: exact
// normalized-address match first, then proximity, then create.
package places

import (
	"context"
	"errors"
	"sort"
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
)

var ErrEmptyAddress = errors.New("address is empty after normalization")

// Resolution methods.
const (
	MethodExact     = "exact"
	MethodProximity = "proximity"
	MethodCreated   = "created"
)

// Store is the place persistence the deduplicator needs. Find* returns
// (nil, nil) when nothing matches.
type Store interface {
	FindPlace(ctx context.Context, id uuid.UUID) (*models.Place, error)
	FindActivePlaceByNormalizedAddress(ctx context.Context, normalizedAddress string) (*models.Place, error)
	// FindPlacesNear returns active, located places without a unit identifier
	// that may lie within meters. Callers check the exact distance.
	FindPlacesNear(ctx context.Context, lat, lng, meters float64) ([]models.Place, error)
	// UpsertAddress returns the existing address with the same normalized key
	// or inserts a new one.
	UpsertAddress(ctx context.Context, address *models.Address) (*models.Address, error)
	// CreatePlace returns false when an active place already holds the
	// normalized address.
	CreatePlace(ctx context.Context, place *models.Place) (bool, error)
}

// Geocoder resolves address text to coordinates. ok is false when the
// provider has no answer.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (lat, lng float64, ok bool, err error)
}

type Config struct {
	ProximityMeters float64
}

func DefaultConfig() Config {
	return Config{ProximityMeters: 10}
}

type PlaceInput struct {
	FormattedAddress string           `json:"formatted_address"`
	DisplayName      string           `json:"display_name"`
	Latitude         *float64         `json:"latitude"`
	Longitude        *float64         `json:"longitude"`
	Kind             models.PlaceKind `json:"kind"`
	UnitIdentifier   string           `json:"unit_identifier"`
	SourceSystem     string           `json:"source_system"`
}

type Resolution struct {
	PlaceID        uuid.UUID `json:"place_id"`
	Method         string    `json:"method"`
	Created        bool      `json:"created"`
	DistanceMeters *float64  `json:"distance_meters,omitempty"`
}

type Deduplicator struct {
	logger   ectologger.Logger
	store    Store
	tx       database.Transactor
	geocoder Geocoder
	emitter  *events.Emitter
	cfg      Config
	now      func() time.Time
}

// NewDeduplicator builds a deduplicator. geocoder may be nil.
func NewDeduplicator(logger ectologger.Logger, store Store, tx database.Transactor, geocoder Geocoder, emitter *events.Emitter, cfg Config) *Deduplicator {
	if cfg.ProximityMeters <= 0 {
		cfg.ProximityMeters = DefaultConfig().ProximityMeters
	}
	return &Deduplicator{
		logger:   logger,
		store:    store,
		tx:       tx,
		geocoder: geocoder,
		emitter:  emitter,
		cfg:      cfg,
		now:      time.Now,
	}
}

// FindOrCreatePlace returns the canonical place for an address.
func (d *Deduplicator) FindOrCreatePlace(ctx context.Context, in PlaceInput) (*Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "places.Deduplicator.FindOrCreatePlace")
	defer span.End()

	normalized := normalizers.NormalizeAddress(in.FormattedAddress)
	if normalized == "" {
		return nil, ErrEmptyAddress
	}

	log := d.logger.WithContext(ctx).WithFields(map[string]any{
		"normalized_address": normalized,
		"source_system":      in.SourceSystem,
	})

	existing, err := d.store.FindActivePlaceByNormalizedAddress(ctx, normalized)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if existing != nil {
		metrics.RecordPlaceResolution(MethodExact)
		return &Resolution{PlaceID: existing.ID, Method: MethodExact}, nil
	}

	unit := strings.TrimSpace(in.UnitIdentifier)
	if unit == "" {
		unit = DetectUnit(in.FormattedAddress)
	}

	lat, lng := in.Latitude, in.Longitude
	if (lat == nil || lng == nil) && d.geocoder != nil {
		glat, glng, ok, err := d.geocoder.Geocode(ctx, in.FormattedAddress)
		if err != nil {
			log.WithError(err).Warn("Geocoding failed, continuing without coordinates")
		} else if ok {
			lat, lng = &glat, &glng
		}
	}

	if lat != nil && lng != nil && unit == "" {
		near, distance, err := d.nearest(ctx, *lat, *lng)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		if near != nil {
			metrics.RecordPlaceResolution(MethodProximity)
			log.WithFields(map[string]any{
				"place_id":        near.ID,
				"distance_meters": distance,
			}).Debug("Matched place by proximity")
			return &Resolution{PlaceID: near.ID, Method: MethodProximity, DistanceMeters: &distance}, nil
		}
	}

	place, created, err := d.create(ctx, in, normalized, unit, lat, lng)
	if err != nil {
		log.WithError(err).Error("Failed to create place")
		tracing.RecordError(span, err)
		return nil, err
	}
	if !created {
		metrics.RecordPlaceResolution(MethodExact)
		return &Resolution{PlaceID: place.ID, Method: MethodExact}, nil
	}

	metrics.RecordPlaceResolution(MethodCreated)
	d.emitter.EmitPlaceCreated(ctx, place)
	log.WithFields(map[string]any{"place_id": place.ID}).Info("Created place")

	return &Resolution{PlaceID: place.ID, Method: MethodCreated, Created: true}, nil
}

// nearest picks the closest candidate within tolerance, preferring places with
// a normalized address and then the oldest.
func (d *Deduplicator) nearest(ctx context.Context, lat, lng float64) (*models.Place, float64, error) {
	candidates, err := d.store.FindPlacesNear(ctx, lat, lng, d.cfg.ProximityMeters)
	if err != nil {
		return nil, 0, err
	}

	type scored struct {
		place    models.Place
		distance float64
	}
	within := make([]scored, 0, len(candidates))
	for _, p := range candidates {
		if p.Status != models.StatusActive || !p.HasLocation() || p.HasUnit() {
			continue
		}
		dist := Haversine(lat, lng, *p.Latitude, *p.Longitude)
		if dist <= d.cfg.ProximityMeters {
			within = append(within, scored{place: p, distance: dist})
		}
	}
	if len(within) == 0 {
		return nil, 0, nil
	}

	sort.SliceStable(within, func(i, j int) bool {
		a, b := within[i], within[j]
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		if a.place.HasNormalizedAddress() != b.place.HasNormalizedAddress() {
			return a.place.HasNormalizedAddress()
		}
		return a.place.CreatedAt.Before(b.place.CreatedAt)
	})

	return &within[0].place, within[0].distance, nil
}

func (d *Deduplicator) create(ctx context.Context, in PlaceInput, normalized, unit string, lat, lng *float64) (*models.Place, bool, error) {
	now := d.now().UTC()

	kind := in.Kind
	if kind == "" {
		kind = models.PlaceUnknown
		if unit != "" {
			kind = models.PlaceApartmentUnit
		}
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = strings.TrimSpace(in.FormattedAddress)
	}

	place := &models.Place{
		ID:                uuid.New(),
		DisplayName:       displayName,
		FormattedAddress:  strings.TrimSpace(in.FormattedAddress),
		NormalizedAddress: &normalized,
		Latitude:          lat,
		Longitude:         lng,
		Kind:              kind,
		SourceSystem:      in.SourceSystem,
		Status:            models.StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if unit != "" {
		place.UnitIdentifier = &unit
	}

	var result *models.Place
	created := false
	err := d.tx.WithinTx(ctx, func(ctx context.Context) error {
		address, err := d.store.UpsertAddress(ctx, &models.Address{
			ID:               uuid.New(),
			RawAddress:       in.FormattedAddress,
			NormalizedKey:    normalized,
			FormattedAddress: place.FormattedAddress,
			Latitude:         lat,
			Longitude:        lng,
			CreatedAt:        now,
		})
		if err != nil {
			return err
		}
		place.AddressID = &address.ID

		created, err = d.store.CreatePlace(ctx, place)
		if err != nil {
			return err
		}
		if created {
			result = place
			return nil
		}

		// Lost a race with a concurrent insert of the same address.
		result, err = d.store.FindActivePlaceByNormalizedAddress(ctx, normalized)
		if err != nil {
			return err
		}
		if result == nil {
			return errors.New("place insert conflicted but no active place holds the address")
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result, created, nil
}

// GetPlace returns a place by id, or (nil, nil).
func (d *Deduplicator) GetPlace(ctx context.Context, id uuid.UUID) (*models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, "places.Deduplicator.GetPlace")
	defer span.End()

	return d.store.FindPlace(ctx, id)
}
