package blacklist

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

var columns = []string{
	"id", "identifier_type", "normalized_value", "reason", "require_name_similarity", "approved_names", "created_at",
}

// Repository manages the soft blacklist of shared identifiers.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) FindBlacklistEntry(ctx context.Context, idType models.IdentifierType, normalizedValue string) (*models.BlacklistEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "blacklist.Repository.FindBlacklistEntry")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("soft_blacklist")
	sb.Where(
		sb.Equal("identifier_type", idType),
		sb.Equal("normalized_value", normalizedValue),
	)

	query, args := sb.Build()
	var entry models.BlacklistEntry
	if err := database.Conn(ctx, r.db).GetContext(ctx, &entry, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"identifier_type": idType}).Error("Failed to get blacklist entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get blacklist entry")
	}

	return &entry, nil
}

func (r *Repository) ListBlacklistEntries(ctx context.Context) ([]models.BlacklistEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "blacklist.Repository.ListBlacklistEntries")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("soft_blacklist")
	sb.OrderBy("identifier_type", "normalized_value")

	query, args := sb.Build()
	entries := []models.BlacklistEntry{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &entries, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list blacklist entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list blacklist entries")
	}
	return entries, nil
}

// UpsertBlacklistEntry adds an entry or replaces the reason, threshold and
// approved names of the existing one.
func (r *Repository) UpsertBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) error {
	ctx, span := tracing.StartSpan(ctx, "blacklist.Repository.UpsertBlacklistEntry")
	defer span.End()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.ApprovedNames == nil {
		entry.ApprovedNames = []string{}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("soft_blacklist")
	ib.Cols(columns...)
	ib.Values(entry.ID, entry.IdentifierType, entry.NormalizedValue, entry.Reason, entry.RequireNameSimilarity,
		entry.ApprovedNames, entry.CreatedAt)
	ib.OnConflictDoUpdate([]string{"identifier_type", "normalized_value"},
		"reason = "+database.Excluded("reason"),
		"require_name_similarity = "+database.Excluded("require_name_similarity"),
		"approved_names = "+database.Excluded("approved_names"),
	)

	query, args := ib.Build()
	query += " RETURNING id, created_at"
	if err := database.Conn(ctx, r.db).QueryRowxContext(ctx, query, args...).Scan(&entry.ID, &entry.CreatedAt); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"identifier_type": entry.IdentifierType}).Error("Failed to upsert blacklist entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save blacklist entry")
	}
	return nil
}
