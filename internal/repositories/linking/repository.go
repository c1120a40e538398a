package linking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// RequiredTables must exist before a linking run may start.
var RequiredTables = []string{
	"appointments", "cats", "people", "places", "person_cat", "person_place", "cat_place", "person_roles", "linking_runs",
}

const requiredExtension = "pg_trgm"

var runColumns = []string{
	"id", "status", "trigger", "started_at", "completed_at", "duration_ms", "stages", "warnings", "error",
}

// Repository serves the entity-linking orchestrator: appointment place
// backfill, propagation candidates, coverage and run records.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Preflight returns the names of required tables and extensions that are absent.
func (r *Repository) Preflight(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Repository.Preflight")
	defer span.End()

	conn := database.Conn(ctx, r.db)

	var present []string
	err := conn.SelectContext(ctx, &present,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ANY($1)`,
		pq.Array(RequiredTables))
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to inspect schema")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to inspect schema")
	}

	missing := []string{}
	for _, t := range RequiredTables {
		if !slices.Contains(present, t) {
			missing = append(missing, t)
		}
	}

	var hasExtension bool
	if err := conn.GetContext(ctx, &hasExtension, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = $1)`, requiredExtension); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to inspect extensions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to inspect schema")
	}
	if !hasExtension {
		missing = append(missing, "extension:"+requiredExtension)
	}

	return missing, nil
}

// AppointmentsNeedingPlace returns appointments with address text but no place,
// oldest first.
func (r *Repository) AppointmentsNeedingPlace(ctx context.Context) ([]models.Appointment, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Repository.AppointmentsNeedingPlace")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "source_system", "source_record_id", "cat_id", "person_id", "place_id", "address_text", "appointment_date", "created_at")
	sb.From("appointments")
	sb.Where(
		sb.IsNull("place_id"),
		"BTRIM(address_text) <> ''",
	)
	sb.OrderBy("appointment_date", "id")

	query, args := sb.Build()
	out := []models.Appointment{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list appointments needing a place")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list appointments")
	}
	return out, nil
}

func (r *Repository) SetAppointmentPlace(ctx context.Context, appointmentID, placeID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "linking.Repository.SetAppointmentPlace")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("appointments")
	ub.Set(ub.Assign("place_id", placeID))
	ub.Where(ub.Equal("id", appointmentID))

	query, args := ub.Build()
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"appointment_id": appointmentID}).Error("Failed to set appointment place")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update appointment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("appointment %s not found", appointmentID))
	}
	return nil
}

// the earliest appointment names the source of each pair
const catPlaceFromAppointmentsQuery = `
SELECT DISTINCT ON (a.cat_id, a.place_id) a.cat_id, a.place_id, a.source_system
FROM appointments a
JOIN cats c ON c.id = a.cat_id AND c.status = 'active'
JOIN places p ON p.id = a.place_id AND p.status = 'active'
ORDER BY a.cat_id, a.place_id, a.appointment_date, a.id`

func (r *Repository) CatPlaceFromAppointments(ctx context.Context) ([]models.CatPlacePair, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Repository.CatPlaceFromAppointments")
	defer span.End()

	out := []models.CatPlacePair{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, catPlaceFromAppointmentsQuery); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list cat-place pairs from appointments")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list appointment pairs")
	}
	return out, nil
}

const personChainQuery = `
SELECT pc.cat_id,
       pc.person_id,
       pc.relationship_type AS person_cat_type,
       pp.place_id,
       pp.confidence AS place_confidence,
       pp.updated_at AS place_updated_at,
       pc.source_system,
       EXISTS (SELECT 1 FROM cat_place cp WHERE cp.cat_id = pc.cat_id AND cp.place_id = pp.place_id) AS edge_exists
FROM person_cat pc
JOIN people pe ON pe.id = pc.person_id AND pe.status = 'active'
JOIN cats c ON c.id = pc.cat_id AND c.status = 'active'
JOIN person_place pp ON pp.person_id = pc.person_id
JOIN places pl ON pl.id = pp.place_id AND pl.status = 'active'
WHERE pc.relationship_type = ANY($1)
  AND NOT EXISTS (
	SELECT 1 FROM person_roles pr WHERE pr.person_id = pc.person_id AND pr.role = ANY($2)
  )
ORDER BY pc.person_id, pc.cat_id, pc.relationship_type, pp.place_id`

// PersonChainCandidates returns (cat, person, place) paths through active
// person-cat edges of the given types, skipping people with an excluded role.
func (r *Repository) PersonChainCandidates(ctx context.Context, excludedRoles []models.Role, personCatTypes []string) ([]models.PersonChainRow, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Repository.PersonChainCandidates")
	defer span.End()

	roles := make([]string, len(excludedRoles))
	for i, role := range excludedRoles {
		roles[i] = string(role)
	}

	out := []models.PersonChainRow{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, personChainQuery, pq.Array(personCatTypes), pq.Array(roles)); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list person chain candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list person chain candidates")
	}
	return out, nil
}

var coverageQueries = map[string]string{
	models.StageAppointmentPlace: `
SELECT COUNT(*) AS population,
       COUNT(*) FILTER (WHERE place_id IS NOT NULL) AS covered
FROM appointments
WHERE BTRIM(address_text) <> ''`,
	models.StageCatPlaceAppointment: `
WITH population AS (
	SELECT DISTINCT a.cat_id
	FROM appointments a
	JOIN cats c ON c.id = a.cat_id AND c.status = 'active'
	WHERE a.place_id IS NOT NULL
)
SELECT COUNT(*) AS population,
       COUNT(*) FILTER (WHERE EXISTS (SELECT 1 FROM cat_place cp WHERE cp.cat_id = population.cat_id)) AS covered
FROM population`,
	models.StageCatPlacePersonChain: `
WITH population AS (
	SELECT DISTINCT pc.cat_id
	FROM person_cat pc
	JOIN cats c ON c.id = pc.cat_id AND c.status = 'active'
)
SELECT COUNT(*) AS population,
       COUNT(*) FILTER (WHERE EXISTS (SELECT 1 FROM cat_place cp WHERE cp.cat_id = population.cat_id)) AS covered
FROM population`,
}

func (r *Repository) Coverage(ctx context.Context, stage string) (models.Coverage, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Repository.Coverage")
	defer span.End()

	query, ok := coverageQueries[stage]
	if !ok {
		return models.Coverage{}, fmt.Errorf("unknown linking stage %q", stage)
	}

	var cov models.Coverage
	if err := database.Conn(ctx, r.db).GetContext(ctx, &cov, query); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"stage": stage}).Error("Failed to compute coverage")
		return cov, httperror.NewHTTPError(http.StatusInternalServerError, "failed to compute coverage")
	}
	return cov, nil
}

func (r *Repository) CreateRun(ctx context.Context, run *models.LinkingRun) error {
	ctx, span := tracing.StartSpan(ctx, "linking.Repository.CreateRun")
	defer span.End()

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("linking_runs")
	ib.Cols(runColumns...)
	ib.Values(run.ID, run.Status, run.Trigger, run.StartedAt, run.CompletedAt, run.DurationMs, run.Stages, run.Warnings, run.Error)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to create linking run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create linking run")
	}
	return nil
}

func (r *Repository) FinishRun(ctx context.Context, run *models.LinkingRun) error {
	ctx, span := tracing.StartSpan(ctx, "linking.Repository.FinishRun")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("linking_runs")
	ub.Set(
		ub.Assign("status", run.Status),
		ub.Assign("completed_at", run.CompletedAt),
		ub.Assign("duration_ms", run.DurationMs),
		ub.Assign("stages", run.Stages),
		ub.Assign("warnings", run.Warnings),
		ub.Assign("error", run.Error),
	)
	ub.Where(ub.Equal("id", run.ID))

	query, args := ub.Build()
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to finish linking run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update linking run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("linking run %s not found", run.ID))
	}
	return nil
}

func (r *Repository) FindRun(ctx context.Context, id uuid.UUID) (*models.LinkingRun, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Repository.FindRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From("linking_runs")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var run models.LinkingRun
	if err := database.Conn(ctx, r.db).GetContext(ctx, &run, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": id}).Error("Failed to get linking run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get linking run")
	}
	return &run, nil
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]models.LinkingRun, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Repository.ListRuns")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From("linking_runs")
	sb.OrderBy("started_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	runs := []models.LinkingRun{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &runs, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list linking runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list linking runs")
	}
	return runs, nil
}
