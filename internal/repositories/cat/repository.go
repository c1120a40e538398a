package cat

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
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var catColumns = []string{
	"id", "name", "sex", "breed", "colors", "altered_status", "ownership_type", "microchip",
	"source_animal_id", "source_system", "is_deceased", "status", "merged_into", "created_at", "updated_at",
}

// Repository handles cats and their identifiers.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) FindCat(ctx context.Context, id uuid.UUID) (*models.Cat, error) {
	ctx, span := tracing.StartSpan(ctx, "cat.Repository.FindCat")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(catColumns...)
	sb.From("cats")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	return r.getOne(ctx, query, args, map[string]any{"cat_id": id})
}

// FindCatByIdentifier returns the active cat holding the identifier.
func (r *Repository) FindCatByIdentifier(ctx context.Context, idType models.CatIdentifierType, value string) (*models.Cat, error) {
	ctx, span := tracing.StartSpan(ctx, "cat.Repository.FindCatByIdentifier")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cols := make([]string, len(catColumns))
	for i, c := range catColumns {
		cols[i] = "c." + c
	}
	sb.Select(cols...)
	sb.From("cats c")
	sb.Join("cat_identifiers ci", "ci.cat_id = c.id")
	sb.Where(
		sb.Equal("ci.identifier_type", idType),
		sb.Equal("ci.identifier_value", value),
		sb.Equal("c.status", models.StatusActive),
	)

	query, args := sb.Build()
	return r.getOne(ctx, query, args, map[string]any{"identifier_type": idType})
}

func (r *Repository) getOne(ctx context.Context, query string, args []any, fields map[string]any) (*models.Cat, error) {
	var cat models.Cat
	if err := database.Conn(ctx, r.db).GetContext(ctx, &cat, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.RecordError(tracing.GetActiveSpan(ctx), err)
		r.logger.WithContext(ctx).WithError(err).WithFields(fields).Error("Failed to get cat")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get cat")
	}
	return &cat, nil
}

func (r *Repository) CreateCat(ctx context.Context, cat *models.Cat) error {
	ctx, span := tracing.StartSpan(ctx, "cat.Repository.CreateCat")
	defer span.End()

	if cat.ID == uuid.Nil {
		cat.ID = uuid.New()
	}
	if cat.CreatedAt.IsZero() {
		cat.CreatedAt = time.Now().UTC()
	}
	if cat.UpdatedAt.IsZero() {
		cat.UpdatedAt = cat.CreatedAt
	}
	if cat.Status == "" {
		cat.Status = models.StatusActive
	}
	if cat.OwnershipType == "" {
		cat.OwnershipType = models.OwnershipUnknown
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("cats")
	ib.Cols(catColumns...)
	ib.Values(cat.ID, cat.Name, cat.Sex, cat.Breed, cat.Colors, cat.AlteredStatus, cat.OwnershipType, cat.Microchip,
		cat.SourceAnimalID, cat.SourceSystem, cat.IsDeceased, cat.Status, cat.MergedInto, cat.CreatedAt, cat.UpdatedAt)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cat_id": cat.ID}).Error("Failed to create cat")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create cat")
	}
	return nil
}

// UpdateCat writes the descriptive fields. Lifecycle columns belong to the
// merge engine and are left alone.
func (r *Repository) UpdateCat(ctx context.Context, cat *models.Cat) error {
	ctx, span := tracing.StartSpan(ctx, "cat.Repository.UpdateCat")
	defer span.End()

	cat.UpdatedAt = time.Now().UTC()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("cats")
	ub.Set(
		ub.Assign("name", cat.Name),
		ub.Assign("sex", cat.Sex),
		ub.Assign("breed", cat.Breed),
		ub.Assign("colors", cat.Colors),
		ub.Assign("altered_status", cat.AlteredStatus),
		ub.Assign("ownership_type", cat.OwnershipType),
		ub.Assign("microchip", cat.Microchip),
		ub.Assign("source_animal_id", cat.SourceAnimalID),
		ub.Assign("is_deceased", cat.IsDeceased),
		ub.Assign("updated_at", cat.UpdatedAt),
	)
	ub.Where(ub.Equal("id", cat.ID))

	query, args := ub.Build()
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cat_id": cat.ID}).Error("Failed to update cat")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update cat")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "cat not found")
	}
	return nil
}

// AttachCatIdentifier returns false when (type, value) is already claimed.
func (r *Repository) AttachCatIdentifier(ctx context.Context, identifier *models.CatIdentifier) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "cat.Repository.AttachCatIdentifier")
	defer span.End()

	if identifier.ID == uuid.Nil {
		identifier.ID = uuid.New()
	}
	if identifier.CreatedAt.IsZero() {
		identifier.CreatedAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("cat_identifiers")
	ib.Cols("id", "cat_id", "identifier_type", "identifier_value", "source_system", "created_at")
	ib.Values(identifier.ID, identifier.CatID, identifier.Type, identifier.Value, identifier.SourceSystem, identifier.CreatedAt)
	ib.OnConflictDoNothing("identifier_type", "identifier_value")

	query, args := ib.Build()
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"cat_id":          identifier.CatID,
			"identifier_type": identifier.Type,
		}).Error("Failed to attach cat identifier")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to attach cat identifier")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to attach cat identifier")
	}
	return n == 1, nil
}
