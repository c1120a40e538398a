package relationship

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository reads and writes the three edge tables.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// EntityActive reports whether the entity exists with status active.
func (r *Repository) EntityActive(ctx context.Context, kind models.EntityKind, id uuid.UUID) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.EntityActive")
	defer span.End()

	table := kind.TableName()
	if table == "" {
		return false, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown entity kind %q", kind))
	}

	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1 AND status = $2)", pq.QuoteIdentifier(table))
	var active bool
	if err := database.Conn(ctx, r.db).GetContext(ctx, &active, query, id, models.StatusActive); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind, "id": id}).Error("Failed to check entity status")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check entity")
	}
	return active, nil
}

type edgeRow struct {
	models.Relationship
	Inserted bool `db:"inserted"`
}

// UpsertEdge keeps one edge per (subject, object, type). Confidence only
// rises; evidence follows the winning confidence. The bool reports an insert.
func (r *Repository) UpsertEdge(ctx context.Context, rel *models.Relationship) (*models.Relationship, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.UpsertEdge")
	defer span.End()

	if !rel.Kind.Valid() {
		return nil, false, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown relationship kind %q", rel.Kind))
	}
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}
	if rel.UpdatedAt.IsZero() {
		rel.UpdatedAt = now
	}

	table := rel.Kind.TableName()
	subjectCol, objectCol := rel.Kind.Columns()

	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols("id", subjectCol, objectCol, "relationship_type", "evidence_type", "confidence", "source_system", "created_at", "updated_at")
	ib.Values(rel.ID, rel.SubjectID, rel.ObjectID, rel.RelationshipType, rel.EvidenceType, rel.Confidence,
		rel.SourceSystem, rel.CreatedAt, rel.UpdatedAt)
	ib.OnConflictDoUpdate([]string{subjectCol, objectCol, "relationship_type"},
		fmt.Sprintf("evidence_type = CASE WHEN EXCLUDED.confidence > %[1]s.confidence THEN EXCLUDED.evidence_type ELSE %[1]s.evidence_type END", table),
		fmt.Sprintf("confidence = GREATEST(%s.confidence, EXCLUDED.confidence)", table),
		"updated_at = "+database.Excluded("updated_at"),
	)

	query, args := ib.Build()
	query += fmt.Sprintf(" RETURNING id, %s AS subject_id, %s AS object_id, relationship_type, evidence_type, confidence, source_system, created_at, updated_at, (xmax = 0) AS inserted",
		subjectCol, objectCol)

	var row edgeRow
	if err := database.Conn(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":              rel.Kind,
			"subject_id":        rel.SubjectID,
			"object_id":         rel.ObjectID,
			"relationship_type": rel.RelationshipType,
		}).Error("Failed to upsert relationship")
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to save relationship")
	}

	out := row.Relationship
	out.Kind = rel.Kind
	return &out, row.Inserted, nil
}

// ListEdges returns the edges of kind touching the entity on either side.
func (r *Repository) ListEdges(ctx context.Context, kind models.RelationshipKind, entityID uuid.UUID) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListEdges")
	defer span.End()

	if !kind.Valid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown relationship kind %q", kind))
	}
	subjectCol, objectCol := kind.Columns()

	query := fmt.Sprintf(`SELECT id, %[1]s AS subject_id, %[2]s AS object_id, relationship_type, evidence_type, confidence, source_system, created_at, updated_at
FROM %[3]s WHERE %[1]s = $1 OR %[2]s = $1 ORDER BY confidence DESC, updated_at DESC`, subjectCol, objectCol, kind.TableName())

	edges := []models.Relationship{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &edges, query, entityID); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind}).Error("Failed to list relationships")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list relationships")
	}
	for i := range edges {
		edges[i].Kind = kind
	}
	return edges, nil
}
