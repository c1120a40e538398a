package person

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var personColumns = []string{
	"id", "display_name", "first_name", "last_name", "name_key", "is_organization", "is_skeleton",
	"data_quality", "source_system", "status", "merged_into", "created_at", "updated_at",
}

var identifierColumns = []string{
	"id", "person_id", "identifier_type", "raw_value", "normalized_value", "confidence", "source_system", "created_at",
}

// Repository handles people, their identifiers and roles.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) FindPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.FindPerson")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(personColumns...)
	sb.From("people")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var person models.Person
	if err := database.Conn(ctx, r.db).GetContext(ctx, &person, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"person_id": id}).Error("Failed to get person")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get person")
	}

	return &person, nil
}

func (r *Repository) CreatePerson(ctx context.Context, person *models.Person) error {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.CreatePerson")
	defer span.End()

	if person.ID == uuid.Nil {
		person.ID = uuid.New()
	}
	if person.CreatedAt.IsZero() {
		person.CreatedAt = time.Now().UTC()
	}
	if person.UpdatedAt.IsZero() {
		person.UpdatedAt = person.CreatedAt
	}
	if person.Status == "" {
		person.Status = models.StatusActive
	}
	if person.DataQuality == "" {
		person.DataQuality = models.DataQualityNormal
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("people")
	ib.Cols(personColumns...)
	ib.Values(person.ID, person.DisplayName, person.FirstName, person.LastName, person.NameKey, person.IsOrganization,
		person.IsSkeleton, person.DataQuality, person.SourceSystem, person.Status, person.MergedInto, person.CreatedAt, person.UpdatedAt)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"person_id": person.ID}).Error("Failed to create person")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create person")
	}

	return nil
}

// AttachIdentifier inserts the identifier unless (type, normalized_value) is
// already claimed. An existing claim is never reassigned.
func (r *Repository) AttachIdentifier(ctx context.Context, identifier *models.PersonIdentifier) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.AttachIdentifier")
	defer span.End()

	if identifier.ID == uuid.Nil {
		identifier.ID = uuid.New()
	}
	if identifier.CreatedAt.IsZero() {
		identifier.CreatedAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("person_identifiers")
	ib.Cols(identifierColumns...)
	ib.Values(identifier.ID, identifier.PersonID, identifier.Type, identifier.RawValue, identifier.NormalizedValue,
		identifier.Confidence, identifier.SourceSystem, identifier.CreatedAt)
	ib.OnConflictDoNothing("identifier_type", "normalized_value")

	query, args := ib.Build()
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"person_id":       identifier.PersonID,
			"identifier_type": identifier.Type,
		}).Error("Failed to attach identifier")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to attach identifier")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to attach identifier")
	}
	return n == 1, nil
}

func (r *Repository) ListIdentifiers(ctx context.Context, personID uuid.UUID) ([]models.PersonIdentifier, error) {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.ListIdentifiers")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(identifierColumns...)
	sb.From("person_identifiers")
	sb.Where(sb.Equal("person_id", personID))
	sb.OrderBy("identifier_type", "created_at")

	query, args := sb.Build()
	identifiers := []models.PersonIdentifier{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &identifiers, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"person_id": personID}).Error("Failed to list identifiers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list identifiers")
	}

	return identifiers, nil
}

// AddRole records a role; holding the same role twice is a no-op.
func (r *Repository) AddRole(ctx context.Context, role *models.PersonRole) error {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.AddRole")
	defer span.End()

	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("person_roles")
	ib.Cols("id", "person_id", "role", "source_system", "created_at")
	ib.Values(role.ID, role.PersonID, role.Role, role.SourceSystem, role.CreatedAt)
	ib.OnConflictDoNothing("person_id", "role")

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"person_id": role.PersonID, "role": role.Role}).Error("Failed to add role")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to add role")
	}
	return nil
}

type candidateRow struct {
	models.Person
	EmailMatch bool `db:"email_match"`
	PhoneMatch bool `db:"phone_match"`
}

const candidatesQuery = `
WITH claimed AS (
	SELECT person_id,
	       BOOL_OR(identifier_type = 'email') AS email_match,
	       BOOL_OR(identifier_type = 'phone') AS phone_match
	FROM person_identifiers
	WHERE ($1 <> '' AND identifier_type = 'email' AND normalized_value = $1)
	   OR ($2 <> '' AND identifier_type = 'phone' AND normalized_value = $2)
	GROUP BY person_id
)
SELECT p.id, p.display_name, p.first_name, p.last_name, p.name_key, p.is_organization, p.is_skeleton,
       p.data_quality, p.source_system, p.status, p.merged_into, p.created_at, p.updated_at,
       COALESCE(c.email_match, FALSE) AS email_match,
       COALESCE(c.phone_match, FALSE) AS phone_match
FROM people p
LEFT JOIN claimed c ON c.person_id = p.id
WHERE p.status = 'active'
  AND (
	c.person_id IS NOT NULL
	OR ($3 <> '' AND similarity(COALESCE(NULLIF(p.name_key, ''), LOWER(p.display_name)), $3) >= $4)
  )
ORDER BY (c.person_id IS NOT NULL) DESC, p.created_at ASC
LIMIT $5`

const candidateAddressesQuery = `
SELECT person_id, address FROM match_decisions
WHERE person_id = ANY($1) AND address <> ''
UNION
SELECT pp.person_id, pl.formatted_address AS address
FROM person_place pp
JOIN places pl ON pl.id = pp.place_id
WHERE pp.person_id = ANY($1) AND pl.formatted_address <> ''`

// FindCandidates returns active people holding the queried email or phone, or
// whose name key is trigram-similar to the queried one. Identifier hits sort
// first, then oldest first.
func (r *Repository) FindCandidates(ctx context.Context, q models.CandidateQuery) ([]models.PersonCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.FindCandidates")
	defer span.End()

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	conn := database.Conn(ctx, r.db)
	rows := []candidateRow{}
	if err := conn.SelectContext(ctx, &rows, candidatesQuery, q.Email, q.Phone, q.NameKey, q.MinNameSimilarity, limit); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find candidates")
	}
	if len(rows) == 0 {
		return []models.PersonCandidate{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID.String()
	}

	var addrRows []struct {
		PersonID uuid.UUID `db:"person_id"`
		Address  string    `db:"address"`
	}
	if err := conn.SelectContext(ctx, &addrRows, candidateAddressesQuery, pq.Array(ids)); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load candidate addresses")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find candidates")
	}

	addresses := map[uuid.UUID]map[string]struct{}{}
	for _, a := range addrRows {
		n := normalizers.NormalizeAddress(a.Address)
		if n == "" {
			continue
		}
		if addresses[a.PersonID] == nil {
			addresses[a.PersonID] = map[string]struct{}{}
		}
		addresses[a.PersonID][n] = struct{}{}
	}

	out := make([]models.PersonCandidate, 0, len(rows))
	for _, row := range rows {
		c := models.PersonCandidate{Person: row.Person, EmailMatch: row.EmailMatch, PhoneMatch: row.PhoneMatch}
		for a := range addresses[row.ID] {
			c.Addresses = append(c.Addresses, a)
		}
		sort.Strings(c.Addresses)
		out = append(out, c)
	}
	return out, nil
}

type scanRow struct {
	models.Person
	CatLinkCount int `db:"cat_link_count"`
}

// ListPersonsForScan pages active people by id with their person-cat edge counts.
func (r *Repository) ListPersonsForScan(ctx context.Context, afterID *uuid.UUID, limit int) ([]models.PersonLinkCount, error) {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.ListPersonsForScan")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(append(append([]string{}, personColumns...), "cat_link_count")...)
	sb.From("person_pollution_scan")
	if afterID != nil {
		sb.Where(sb.GreaterThan("id", *afterID))
	}
	sb.OrderBy("id")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	rows := []scanRow{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list people for pollution scan")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list people")
	}

	out := make([]models.PersonLinkCount, len(rows))
	for i, row := range rows {
		out[i] = models.PersonLinkCount{Person: row.Person, CatLinkCount: row.CatLinkCount}
	}
	return out, nil
}
