package place

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/places"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var placeColumns = []string{
	"id", "display_name", "formatted_address", "normalized_address", "latitude", "longitude", "place_kind",
	"unit_identifier", "address_id", "source_system", "status", "merged_into", "created_at", "updated_at",
}

var addressColumns = []string{
	"id", "raw_address", "normalized_key", "formatted_address", "latitude", "longitude", "created_at",
}

// Repository handles places and the address table behind them.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) FindPlace(ctx context.Context, id uuid.UUID) (*models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, "place.Repository.FindPlace")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(placeColumns...)
	sb.From("places")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var place models.Place
	if err := database.Conn(ctx, r.db).GetContext(ctx, &place, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"place_id": id}).Error("Failed to get place")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get place")
	}
	return &place, nil
}

func (r *Repository) FindActivePlaceByNormalizedAddress(ctx context.Context, normalizedAddress string) (*models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, "place.Repository.FindActivePlaceByNormalizedAddress")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(placeColumns...)
	sb.From("places")
	sb.Where(
		sb.Equal("normalized_address", normalizedAddress),
		sb.Equal("status", models.StatusActive),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var place models.Place
	if err := database.Conn(ctx, r.db).GetContext(ctx, &place, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get place by address")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get place")
	}
	return &place, nil
}

// FindPlacesNear returns active, located places without a unit inside the
// bounding box of the radius. Callers check the exact distance.
func (r *Repository) FindPlacesNear(ctx context.Context, lat, lng, meters float64) ([]models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, "place.Repository.FindPlacesNear")
	defer span.End()

	minLat, maxLat, minLng, maxLng := places.BoundingBox(lat, lng, meters)

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(placeColumns...)
	sb.From("places")
	sb.Where(
		sb.Equal("status", models.StatusActive),
		sb.IsNotNull("latitude"),
		sb.IsNotNull("longitude"),
		sb.Between("latitude", minLat, maxLat),
		sb.Between("longitude", minLng, maxLng),
		"COALESCE(unit_identifier, '') = ''",
	)

	query, args := sb.Build()
	out := []models.Place{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find nearby places")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find nearby places")
	}
	return out, nil
}

// UpsertAddress returns the stored address for the normalized key, inserting
// it first when absent.
func (r *Repository) UpsertAddress(ctx context.Context, address *models.Address) (*models.Address, error) {
	ctx, span := tracing.StartSpan(ctx, "place.Repository.UpsertAddress")
	defer span.End()

	if address.ID == uuid.Nil {
		address.ID = uuid.New()
	}
	if address.CreatedAt.IsZero() {
		address.CreatedAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("addresses")
	ib.Cols(addressColumns...)
	ib.Values(address.ID, address.RawAddress, address.NormalizedKey, address.FormattedAddress,
		address.Latitude, address.Longitude, address.CreatedAt)
	// the no-op update makes RETURNING yield the existing row
	ib.OnConflictDoUpdate([]string{"normalized_key"}, "normalized_key = addresses.normalized_key")

	query, args := ib.Build()
	query += " RETURNING id, raw_address, normalized_key, formatted_address, latitude, longitude, created_at"

	var stored models.Address
	if err := database.Conn(ctx, r.db).GetContext(ctx, &stored, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert address")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to save address")
	}
	return &stored, nil
}

// CreatePlace inserts the place unless an active place already holds its
// normalized address.
func (r *Repository) CreatePlace(ctx context.Context, place *models.Place) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "place.Repository.CreatePlace")
	defer span.End()

	if place.ID == uuid.Nil {
		place.ID = uuid.New()
	}
	if place.CreatedAt.IsZero() {
		place.CreatedAt = time.Now().UTC()
	}
	if place.UpdatedAt.IsZero() {
		place.UpdatedAt = place.CreatedAt
	}
	if place.Status == "" {
		place.Status = models.StatusActive
	}
	if place.Kind == "" {
		place.Kind = models.PlaceUnknown
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("places")
	ib.Cols(placeColumns...)
	ib.Values(place.ID, place.DisplayName, place.FormattedAddress, place.NormalizedAddress, place.Latitude, place.Longitude,
		place.Kind, place.UnitIdentifier, place.AddressID, place.SourceSystem, place.Status, place.MergedInto,
		place.CreatedAt, place.UpdatedAt)
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"place_id": place.ID}).Error("Failed to create place")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create place")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create place")
	}
	return n == 1, nil
}
