package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// metersPerDegree matches the mean earth radius used by places.Haversine.
const metersPerDegree = 6371008.8 * math.Pi / 180

func (m *Store) FindPlace(_ context.Context, id uuid.UUID) (*models.Place, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.s.places[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Store) FindActivePlaceByNormalizedAddress(_ context.Context, normalizedAddress string) (*models.Place, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.s.places {
		if p.Status == models.StatusActive && p.HasNormalizedAddress() && *p.NormalizedAddress == normalizedAddress {
			return &p, nil
		}
	}
	return nil, nil
}

// FindPlacesNear applies the same bounding box prefilter as the SQL query.
func (m *Store) FindPlacesNear(_ context.Context, lat, lng, meters float64) ([]models.Place, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dLat := meters / metersPerDegree
	dLng := meters / (metersPerDegree * math.Max(math.Cos(lat*math.Pi/180), 1e-6))

	out := []models.Place{}
	for _, p := range m.s.places {
		if p.Status != models.StatusActive || !p.HasLocation() || p.HasUnit() {
			continue
		}
		if math.Abs(*p.Latitude-lat) > dLat || math.Abs(*p.Longitude-lng) > dLng {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Store) UpsertAddress(_ context.Context, address *models.Address) (*models.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.s.addresses[address.NormalizedKey]; ok {
		return &existing, nil
	}
	m.s.addresses[address.NormalizedKey] = *address
	out := *address
	return &out, nil
}

func (m *Store) CreatePlace(_ context.Context, place *models.Place) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if place.HasNormalizedAddress() {
		for _, p := range m.s.places {
			if p.Status == models.StatusActive && p.HasNormalizedAddress() && *p.NormalizedAddress == *place.NormalizedAddress {
				return false, nil
			}
		}
	}
	m.s.places[place.ID] = *place
	return true, nil
}

// AddPlace seeds a place as-is.
func (m *Store) AddPlace(place models.Place) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.places[place.ID] = place
}

func (m *Store) Places() []models.Place {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sortedValues(m.s.places, func(a, b models.Place) bool {
		return a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && less(a.ID, b.ID))
	})
}

func (m *Store) FindCat(_ context.Context, id uuid.UUID) (*models.Cat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.s.cats[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Store) FindCatByIdentifier(_ context.Context, idType models.CatIdentifierType, value string) (*models.Cat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.s.catIdentifiers[identifierKey(idType, value)]
	if !ok {
		return nil, nil
	}
	c, ok := m.s.cats[id.CatID]
	if !ok || c.Status != models.StatusActive {
		return nil, nil
	}
	return &c, nil
}

func (m *Store) CreateCat(_ context.Context, cat *models.Cat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.s.cats[cat.ID]; ok {
		return fmt.Errorf("cat %s already exists", cat.ID)
	}
	m.s.cats[cat.ID] = *cat
	return nil
}

func (m *Store) UpdateCat(_ context.Context, cat *models.Cat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.s.cats[cat.ID]; !ok {
		return fmt.Errorf("cat %s not found", cat.ID)
	}
	m.s.cats[cat.ID] = *cat
	return nil
}

func (m *Store) AttachCatIdentifier(_ context.Context, identifier *models.CatIdentifier) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identifierKey(identifier.Type, identifier.Value)
	if _, ok := m.s.catIdentifiers[key]; ok {
		return false, nil
	}
	m.s.catIdentifiers[key] = *identifier
	return true, nil
}

func (m *Store) Cats() []models.Cat {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sortedValues(m.s.cats, func(a, b models.Cat) bool {
		return a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && less(a.ID, b.ID))
	})
}

func (m *Store) CatIdentifiers(catID uuid.UUID) []models.CatIdentifier {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.CatIdentifier{}
	for _, id := range m.s.catIdentifiers {
		if id.CatID == catID {
			out = append(out, id)
		}
	}
	return sortedSlice(out, func(a, b models.CatIdentifier) bool { return a.Value < b.Value })
}

// AddPerson seeds a person as-is.
func (m *Store) AddPerson(person models.Person) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.people[person.ID] = person
}

// AddCat seeds a cat as-is.
func (m *Store) AddCat(cat models.Cat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.cats[cat.ID] = cat
}

func (m *Store) EntityActive(_ context.Context, kind models.EntityKind, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.entityState(kind, id)
	return ok && state.IsActive(), nil
}

func (m *Store) entityState(kind models.EntityKind, id uuid.UUID) (models.EntityState, bool) {
	switch kind {
	case models.EntityPerson:
		if p, ok := m.s.people[id]; ok {
			return models.EntityState{ID: p.ID, Status: p.Status, MergedInto: p.MergedInto, UpdatedAt: p.UpdatedAt}, true
		}
	case models.EntityCat:
		if c, ok := m.s.cats[id]; ok {
			return models.EntityState{ID: c.ID, Status: c.Status, MergedInto: c.MergedInto, UpdatedAt: c.UpdatedAt}, true
		}
	case models.EntityPlace:
		if p, ok := m.s.places[id]; ok {
			return models.EntityState{ID: p.ID, Status: p.Status, MergedInto: p.MergedInto, UpdatedAt: p.UpdatedAt}, true
		}
	}
	return models.EntityState{}, false
}

// UpsertEdge keeps one edge per (subject, object, type) and only ever raises
// its confidence.
func (m *Store) UpsertEdge(_ context.Context, rel *models.Relationship) (*models.Relationship, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	edges, ok := m.s.edges[rel.Kind]
	if !ok {
		return nil, false, fmt.Errorf("unknown relationship kind %q", rel.Kind)
	}

	key := edgeKey{subject: rel.SubjectID, object: rel.ObjectID, relType: rel.RelationshipType}
	existing, ok := edges[key]
	if !ok {
		edges[key] = *rel
		out := *rel
		return &out, true, nil
	}

	if rel.Confidence > existing.Confidence {
		existing.Confidence = rel.Confidence
		existing.EvidenceType = rel.EvidenceType
	}
	existing.UpdatedAt = rel.UpdatedAt
	edges[key] = existing
	return &existing, false, nil
}

// AddEdge seeds an edge as-is.
func (m *Store) AddEdge(rel models.Relationship) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	m.s.edges[rel.Kind][edgeKey{subject: rel.SubjectID, object: rel.ObjectID, relType: rel.RelationshipType}] = rel
}

// Edges returns every edge of kind.
func (m *Store) Edges(kind models.RelationshipKind) []models.Relationship {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edgeList(kind)
}

// ListEdges returns the edges of kind touching entityID, strongest first.
func (m *Store) ListEdges(_ context.Context, kind models.RelationshipKind, entityID uuid.UUID) ([]models.Relationship, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown relationship kind %q", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.Relationship{}
	for _, e := range m.edgeList(kind) {
		if e.SubjectID == entityID || e.ObjectID == entityID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *Store) EntityState(_ context.Context, kind models.EntityKind, id uuid.UUID) (*models.EntityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.entityState(kind, id)
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *Store) SetEntityStatus(_ context.Context, kind models.EntityKind, id uuid.UUID, status models.EntityStatus, mergedInto *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	switch kind {
	case models.EntityPerson:
		p, ok := m.s.people[id]
		if !ok {
			return fmt.Errorf("person %s not found", id)
		}
		p.Status, p.MergedInto, p.UpdatedAt = status, mergedInto, now
		m.s.people[id] = p
	case models.EntityCat:
		c, ok := m.s.cats[id]
		if !ok {
			return fmt.Errorf("cat %s not found", id)
		}
		c.Status, c.MergedInto, c.UpdatedAt = status, mergedInto, now
		m.s.cats[id] = c
	case models.EntityPlace:
		p, ok := m.s.places[id]
		if !ok {
			return fmt.Errorf("place %s not found", id)
		}
		p.Status, p.MergedInto, p.UpdatedAt = status, mergedInto, now
		m.s.places[id] = p
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	return nil
}

func (m *Store) InsertMergeAudit(_ context.Context, audit *models.MergeAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.audits = append(m.s.audits, *audit)
	return nil
}

func (m *Store) Audits() []models.MergeAudit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.MergeAudit(nil), m.s.audits...)
}

// ListAudits returns the audit rows where entityID lost or won, newest first.
func (m *Store) ListAudits(_ context.Context, kind models.EntityKind, entityID uuid.UUID) ([]models.MergeAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.MergeAudit{}
	for i := len(m.s.audits) - 1; i >= 0; i-- {
		a := m.s.audits[i]
		if a.EntityKind != kind {
			continue
		}
		if a.LoserID == entityID || (a.WinnerID != nil && *a.WinnerID == entityID) {
			out = append(out, a)
		}
	}
	return out, nil
}

// RelinkReference moves every loser row of ref to winner. Edge and role rows
// that would duplicate one the winner already holds are deleted.
func (m *Store) RelinkReference(_ context.Context, ref models.Reference, loser, winner uuid.UUID) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var moved, deleted int64
	switch ref.Table {
	case "person_identifiers":
		for k, id := range m.s.identifiers {
			if id.PersonID == loser {
				id.PersonID = winner
				m.s.identifiers[k] = id
				moved++
			}
		}
	case "cat_identifiers":
		for k, id := range m.s.catIdentifiers {
			if id.CatID == loser {
				id.CatID = winner
				m.s.catIdentifiers[k] = id
				moved++
			}
		}
	case "person_cat", "person_place", "cat_place":
		kind := models.RelationshipKind(ref.Table)
		subjectCol, objectCol := kind.Columns()
		if ref.Column != subjectCol && ref.Column != objectCol {
			return 0, 0, fmt.Errorf("unknown reference %s", ref.Key())
		}
		moved, deleted = m.relinkEdges(kind, ref.Column == subjectCol, loser, winner)
	case "person_roles":
		held := map[models.Role]bool{}
		for _, r := range m.s.roles {
			if r.PersonID == winner {
				held[r.Role] = true
			}
		}
		for id, r := range m.s.roles {
			if r.PersonID != loser {
				continue
			}
			if held[r.Role] {
				delete(m.s.roles, id)
				deleted++
				continue
			}
			r.PersonID = winner
			held[r.Role] = true
			m.s.roles[id] = r
			moved++
		}
	case "appointments":
		for id, a := range m.s.appointments {
			var target **uuid.UUID
			switch ref.Column {
			case "person_id":
				target = &a.PersonID
			case "cat_id":
				target = &a.CatID
			case "place_id":
				target = &a.PlaceID
			default:
				return 0, 0, fmt.Errorf("unknown reference %s", ref.Key())
			}
			if *target != nil && **target == loser {
				w := winner
				*target = &w
				m.s.appointments[id] = a
				moved++
			}
		}
	case "match_decisions":
		for id, d := range m.s.decisions {
			target := &d.PersonID
			if ref.Column == "candidate_person_id" {
				target = &d.CandidatePersonID
			}
			if *target != nil && **target == loser {
				w := winner
				*target = &w
				m.s.decisions[id] = d
				moved++
			}
		}
	case "people":
		for id, p := range m.s.people {
			if p.MergedInto != nil && *p.MergedInto == loser {
				w := winner
				p.MergedInto = &w
				m.s.people[id] = p
				moved++
			}
		}
	case "cats":
		for id, c := range m.s.cats {
			if c.MergedInto != nil && *c.MergedInto == loser {
				w := winner
				c.MergedInto = &w
				m.s.cats[id] = c
				moved++
			}
		}
	case "places":
		for id, p := range m.s.places {
			if p.MergedInto != nil && *p.MergedInto == loser {
				w := winner
				p.MergedInto = &w
				m.s.places[id] = p
				moved++
			}
		}
	default:
		return 0, 0, fmt.Errorf("unknown reference %s", ref.Key())
	}
	return moved, deleted, nil
}

func (m *Store) relinkEdges(kind models.RelationshipKind, subjectSide bool, loser, winner uuid.UUID) (int64, int64) {
	var moved, deleted int64
	edges := m.s.edges[kind]
	for key, rel := range edges {
		endpoint := key.object
		if subjectSide {
			endpoint = key.subject
		}
		if endpoint != loser {
			continue
		}

		next := key
		if subjectSide {
			next.subject, rel.SubjectID = winner, winner
		} else {
			next.object, rel.ObjectID = winner, winner
		}
		delete(edges, key)
		if existing, ok := edges[next]; ok {
			if rel.Confidence > existing.Confidence {
				existing.Confidence = rel.Confidence
				edges[next] = existing
			}
			deleted++
			continue
		}
		edges[next] = rel
		moved++
	}
	return moved, deleted
}
