package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/similarity"
)

func (m *Store) FindPerson(_ context.Context, id uuid.UUID) (*models.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.s.people[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Store) CreatePerson(_ context.Context, person *models.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.s.people[person.ID]; ok {
		return fmt.Errorf("person %s already exists", person.ID)
	}
	m.s.people[person.ID] = *person
	return nil
}

func (m *Store) AttachIdentifier(_ context.Context, identifier *models.PersonIdentifier) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identifierKey(identifier.Type, identifier.NormalizedValue)
	if _, ok := m.s.identifiers[key]; ok {
		return false, nil
	}
	m.s.identifiers[key] = *identifier
	return true, nil
}

func (m *Store) ListIdentifiers(_ context.Context, personID uuid.UUID) ([]models.PersonIdentifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.PersonIdentifier{}
	for _, id := range m.s.identifiers {
		if id.PersonID == personID {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedValue < out[j].NormalizedValue })
	return out, nil
}

// AllIdentifiers returns every identifier row.
func (m *Store) AllIdentifiers() []models.PersonIdentifier {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sortedValues(m.s.identifiers, func(a, b models.PersonIdentifier) bool {
		return identifierKey(a.Type, a.NormalizedValue) < identifierKey(b.Type, b.NormalizedValue)
	})
}

// People returns every person regardless of status.
func (m *Store) People() []models.Person {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sortedValues(m.s.people, func(a, b models.Person) bool {
		return a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && less(a.ID, b.ID))
	})
}

func (m *Store) AddRole(role models.PersonRole) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	m.s.roles[role.ID] = role
}

func (m *Store) Roles(personID uuid.UUID) []models.PersonRole {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.PersonRole{}
	for _, r := range m.s.roles {
		if r.PersonID == personID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// FindCandidates mirrors the Postgres query: identifier hits and name-key
// trigram hits among active people.
func (m *Store) FindCandidates(_ context.Context, q models.CandidateQuery) ([]models.PersonCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner := func(kind models.IdentifierType, value string) uuid.UUID {
		if value == "" {
			return uuid.Nil
		}
		return m.s.identifiers[identifierKey(kind, value)].PersonID
	}
	emailOwner := owner(models.IdentifierEmail, q.Email)
	phoneOwner := owner(models.IdentifierPhone, q.Phone)

	out := []models.PersonCandidate{}
	for _, p := range m.s.people {
		if p.Status != models.StatusActive {
			continue
		}
		c := models.PersonCandidate{
			Person:     p,
			EmailMatch: emailOwner == p.ID,
			PhoneMatch: phoneOwner == p.ID,
		}
		nameHit := q.NameKey != "" && similarity.Trigram(q.NameKey, p.NameKeyOrDerived()) >= q.MinNameSimilarity
		if !c.EmailMatch && !c.PhoneMatch && !nameHit {
			continue
		}
		c.Addresses = m.addressesOf(p.ID)
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ai, bi := a.EmailMatch || a.PhoneMatch, b.EmailMatch || b.PhoneMatch
		if ai != bi {
			return ai
		}
		return a.Person.CreatedAt.Before(b.Person.CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Store) addressesOf(personID uuid.UUID) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(a string) {
		a = normalizers.NormalizeAddress(a)
		if a == "" {
			return
		}
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	for _, d := range m.s.decisions {
		if d.PersonID != nil && *d.PersonID == personID {
			add(d.Address)
		}
	}
	for k := range m.s.edges[models.RelationshipPersonPlace] {
		if k.subject == personID {
			add(m.s.places[k.object].FormattedAddress)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Store) InsertDecision(_ context.Context, d *models.MatchDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.s.decisions[d.ID]; ok {
		return fmt.Errorf("match decision %s already exists", d.ID)
	}
	m.s.decisions[d.ID] = *d
	return nil
}

func (m *Store) FindDecision(_ context.Context, id uuid.UUID) (*models.MatchDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.s.decisions[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Store) ListDecisions(_ context.Context, f models.DecisionFilter) ([]models.MatchDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.MatchDecision{}
	for _, d := range m.s.decisions {
		switch {
		case f.DecisionType != nil && d.DecisionType != *f.DecisionType:
			continue
		case f.ReviewStatus != nil && d.ReviewStatus != *f.ReviewStatus:
			continue
		case f.PersonID != nil && (d.PersonID == nil || *d.PersonID != *f.PersonID):
			continue
		case f.MinScore != nil && d.Score < *f.MinScore:
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return less(out[i].ID, out[j].ID)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.MatchDecision{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Store) UpdateDecisionReview(_ context.Context, id uuid.UUID, status models.ReviewStatus, reviewer string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.s.decisions[id]
	if !ok || d.ReviewStatus != models.ReviewPending {
		return false, nil
	}
	d.ReviewStatus = status
	d.ReviewedBy = &reviewer
	d.ReviewedAt = &at
	m.s.decisions[id] = d
	return true, nil
}

// Decisions returns every match decision, oldest first.
func (m *Store) Decisions() []models.MatchDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sortedValues(m.s.decisions, func(a, b models.MatchDecision) bool {
		return a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && less(a.ID, b.ID))
	})
}

func (m *Store) AddBlacklistEntry(e models.BlacklistEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.s.blacklist[identifierKey(e.IdentifierType, e.NormalizedValue)] = e
}

func (m *Store) FindBlacklistEntry(_ context.Context, idType models.IdentifierType, value string) (*models.BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.s.blacklist[identifierKey(idType, value)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// ListPersonsForScan pages active people by id with their person-cat counts.
func (m *Store) ListPersonsForScan(_ context.Context, afterID *uuid.UUID, limit int) ([]models.PersonLinkCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := map[uuid.UUID]int{}
	for k := range m.s.edges[models.RelationshipPersonCat] {
		counts[k.subject]++
	}

	people := sortedValues(m.s.people, func(a, b models.Person) bool { return less(a.ID, b.ID) })
	out := []models.PersonLinkCount{}
	for _, p := range people {
		if p.Status != models.StatusActive {
			continue
		}
		if afterID != nil && !less(*afterID, p.ID) {
			continue
		}
		out = append(out, models.PersonLinkCount{Person: p, CatLinkCount: counts[p.ID]})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
