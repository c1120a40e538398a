package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var auditColumns = []string{
	"id", "entity_kind", "action", "loser_id", "winner_id", "old_status", "new_status",
	"old_pointer", "new_pointer", "actor", "reason", "relinked", "created_at",
}

// Repository performs the row-level work of entity merges. It expects to run
// inside the transaction opened by the merge engine.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// EntityState locks the entity row until the transaction ends.
func (r *Repository) EntityState(ctx context.Context, kind models.EntityKind, id uuid.UUID) (*models.EntityState, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.EntityState")
	defer span.End()

	table := kind.TableName()
	if table == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown entity kind %q", kind))
	}

	query := fmt.Sprintf("SELECT id, status, merged_into, updated_at FROM %s WHERE id = $1 FOR UPDATE", pq.QuoteIdentifier(table))
	var state models.EntityState
	if err := database.Conn(ctx, r.db).GetContext(ctx, &state, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind, "id": id}).Error("Failed to lock entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load entity")
	}
	return &state, nil
}

// knownReference guards the identifiers interpolated into relink statements.
func knownReference(ref models.Reference) bool {
	for _, kind := range []models.EntityKind{models.EntityPerson, models.EntityCat, models.EntityPlace} {
		for _, known := range merging.References(kind) {
			if known.Table == ref.Table && known.Column == ref.Column && slices.Equal(known.UniqueWith, ref.UniqueWith) {
				return true
			}
		}
	}
	return false
}

// RelinkReference repoints ref from loser to winner. Loser rows that would
// collide with a winner row on the unique key are deleted; for edges the
// surviving row keeps the higher confidence.
func (r *Repository) RelinkReference(ctx context.Context, ref models.Reference, loser, winner uuid.UUID) (int64, int64, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.RelinkReference")
	defer span.End()

	if !knownReference(ref) {
		return 0, 0, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown reference %s", ref.Key()))
	}

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"reference": ref.Key(),
		"loser_id":  loser,
		"winner_id": winner,
	})
	conn := database.Conn(ctx, r.db)
	table := pq.QuoteIdentifier(ref.Table)
	col := pq.QuoteIdentifier(ref.Column)

	var deleted int64
	if len(ref.UniqueWith) > 0 {
		join := make([]string, len(ref.UniqueWith))
		for i, c := range ref.UniqueWith {
			c = pq.QuoteIdentifier(c)
			join[i] = fmt.Sprintf("l.%[1]s = w.%[1]s", c)
		}
		on := strings.Join(join, " AND ")

		if models.RelationshipKind(ref.Table).Valid() {
			raise := fmt.Sprintf(`UPDATE %[1]s w SET confidence = GREATEST(w.confidence, l.confidence), updated_at = NOW()
FROM %[1]s l WHERE l.%[2]s = $1 AND w.%[2]s = $2 AND %[3]s AND l.confidence > w.confidence`, table, col, on)
			if _, err := conn.ExecContext(ctx, raise, loser, winner); err != nil {
				tracing.RecordError(span, err)
				log.WithError(err).Error("Failed to carry edge confidence")
				return 0, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to relink references")
			}
		}

		drop := fmt.Sprintf(`DELETE FROM %[1]s l USING %[1]s w WHERE l.%[2]s = $1 AND w.%[2]s = $2 AND %[3]s`, table, col, on)
		res, err := conn.ExecContext(ctx, drop, loser, winner)
		if err != nil {
			tracing.RecordError(span, err)
			log.WithError(err).Error("Failed to delete colliding references")
			return 0, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to relink references")
		}
		deleted, _ = res.RowsAffected()
	}

	move := fmt.Sprintf("UPDATE %s SET %s = $2 WHERE %s = $1", table, col, col)
	res, err := conn.ExecContext(ctx, move, loser, winner)
	if err != nil {
		tracing.RecordError(span, err)
		log.WithError(err).Error("Failed to move references")
		return 0, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to relink references")
	}
	moved, _ := res.RowsAffected()

	return moved, deleted, nil
}

func (r *Repository) SetEntityStatus(ctx context.Context, kind models.EntityKind, id uuid.UUID, status models.EntityStatus, mergedInto *uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.SetEntityStatus")
	defer span.End()

	table := kind.TableName()
	if table == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown entity kind %q", kind))
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("merged_into", mergedInto),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind, "id": id, "status": status}).Error("Failed to set entity status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update entity status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("%s %s not found", kind, id))
	}
	return nil
}

func (r *Repository) InsertMergeAudit(ctx context.Context, audit *models.MergeAudit) error {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.InsertMergeAudit")
	defer span.End()

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	if audit.Relinked.Data == nil {
		audit.Relinked.Data = map[string]int64{}
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("entity_merge_audit")
	ib.Cols(auditColumns...)
	ib.Values(audit.ID, audit.EntityKind, audit.Action, audit.LoserID, audit.WinnerID, audit.OldStatus, audit.NewStatus,
		audit.OldPointer, audit.NewPointer, audit.Actor, audit.Reason, audit.Relinked, audit.CreatedAt)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"loser_id": audit.LoserID}).Error("Failed to insert merge audit")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to write merge audit")
	}
	return nil
}

// ListAudits returns the audit trail of one entity, newest first.
func (r *Repository) ListAudits(ctx context.Context, kind models.EntityKind, entityID uuid.UUID) ([]models.MergeAudit, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.ListAudits")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(auditColumns...)
	sb.From("entity_merge_audit")
	sb.Where(
		sb.Equal("entity_kind", kind),
		sb.Or(sb.Equal("loser_id", entityID), sb.Equal("winner_id", entityID)),
	)
	sb.OrderBy("created_at DESC")

	query, args := sb.Build()
	audits := []models.MergeAudit{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &audits, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": entityID}).Error("Failed to list merge audits")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge audits")
	}
	return audits, nil
}
