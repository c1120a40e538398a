package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// AddAppointment seeds an appointment as ingestion would write it.
func (m *Store) AddAppointment(a models.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.s.appointments[a.ID] = a
}

func (m *Store) Appointments() []models.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedAppointments()
}

func (m *Store) sortedAppointments() []models.Appointment {
	return sortedValues(m.s.appointments, func(a, b models.Appointment) bool {
		if !a.AppointmentDate.Equal(b.AppointmentDate) {
			return a.AppointmentDate.Before(b.AppointmentDate)
		}
		return less(a.ID, b.ID)
	})
}

func (m *Store) AppointmentsNeedingPlace(_ context.Context) ([]models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.Appointment{}
	for _, a := range m.sortedAppointments() {
		if a.PlaceID == nil && strings.TrimSpace(a.AddressText) != "" {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Store) SetAppointmentPlace(_ context.Context, appointmentID, placeID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.s.appointments[appointmentID]
	if !ok {
		return fmt.Errorf("appointment %s not found", appointmentID)
	}
	a.PlaceID = &placeID
	m.s.appointments[appointmentID] = a
	return nil
}

func (m *Store) active(kind models.EntityKind, id uuid.UUID) bool {
	s, ok := m.entityState(kind, id)
	return ok && s.IsActive()
}

func (m *Store) CatPlaceFromAppointments(_ context.Context) ([]models.CatPlacePair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type pair struct{ cat, place uuid.UUID }
	seen := map[pair]struct{}{}
	out := []models.CatPlacePair{}
	for _, a := range m.sortedAppointments() {
		if a.CatID == nil || a.PlaceID == nil {
			continue
		}
		if !m.active(models.EntityCat, *a.CatID) || !m.active(models.EntityPlace, *a.PlaceID) {
			continue
		}
		p := pair{*a.CatID, *a.PlaceID}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, models.CatPlacePair{CatID: p.cat, PlaceID: p.place, SourceSystem: a.SourceSystem})
	}
	return out, nil
}

func (m *Store) catHasPlace(catID uuid.UUID, placeID *uuid.UUID) bool {
	for k := range m.s.edges[models.RelationshipCatPlace] {
		if k.subject == catID && (placeID == nil || k.object == *placeID) {
			return true
		}
	}
	return false
}

func (m *Store) PersonChainCandidates(_ context.Context, excludedRoles []models.Role, personCatTypes []string) ([]models.PersonChainRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	excluded := map[uuid.UUID]bool{}
	for _, r := range m.s.roles {
		if slices.Contains(excludedRoles, r.Role) {
			excluded[r.PersonID] = true
		}
	}

	out := []models.PersonChainRow{}
	for _, pc := range m.edgeList(models.RelationshipPersonCat) {
		if !slices.Contains(personCatTypes, pc.RelationshipType) || excluded[pc.SubjectID] {
			continue
		}
		if !m.active(models.EntityPerson, pc.SubjectID) || !m.active(models.EntityCat, pc.ObjectID) {
			continue
		}
		for _, pp := range m.edgeList(models.RelationshipPersonPlace) {
			if pp.SubjectID != pc.SubjectID || !m.active(models.EntityPlace, pp.ObjectID) {
				continue
			}
			placeID := pp.ObjectID
			out = append(out, models.PersonChainRow{
				CatID:           pc.ObjectID,
				PersonID:        pc.SubjectID,
				PersonCatType:   pc.RelationshipType,
				PlaceID:         placeID,
				PlaceConfidence: pp.Confidence,
				PlaceUpdatedAt:  pp.UpdatedAt,
				SourceSystem:    pc.SourceSystem,
				EdgeExists:      m.catHasPlace(pc.ObjectID, &placeID),
			})
		}
	}
	return out, nil
}

// edgeList expects mu to be held.
func (m *Store) edgeList(kind models.RelationshipKind) []models.Relationship {
	return sortedValues(m.s.edges[kind], func(a, b models.Relationship) bool {
		if a.SubjectID != b.SubjectID {
			return less(a.SubjectID, b.SubjectID)
		}
		if a.ObjectID != b.ObjectID {
			return less(a.ObjectID, b.ObjectID)
		}
		return a.RelationshipType < b.RelationshipType
	})
}

func (m *Store) Coverage(_ context.Context, stage string) (models.Coverage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cov models.Coverage
	switch stage {
	case models.StageAppointmentPlace:
		for _, a := range m.s.appointments {
			if strings.TrimSpace(a.AddressText) == "" {
				continue
			}
			cov.Population++
			if a.PlaceID != nil {
				cov.Covered++
			}
		}
	case models.StageCatPlaceAppointment:
		cats := map[uuid.UUID]struct{}{}
		for _, a := range m.s.appointments {
			if a.CatID != nil && a.PlaceID != nil && m.active(models.EntityCat, *a.CatID) {
				cats[*a.CatID] = struct{}{}
			}
		}
		cov = m.catCoverage(cats)
	case models.StageCatPlacePersonChain:
		cats := map[uuid.UUID]struct{}{}
		for k := range m.s.edges[models.RelationshipPersonCat] {
			if m.active(models.EntityCat, k.object) {
				cats[k.object] = struct{}{}
			}
		}
		cov = m.catCoverage(cats)
	default:
		return cov, fmt.Errorf("unknown linking stage %q", stage)
	}
	return cov, nil
}

func (m *Store) catCoverage(cats map[uuid.UUID]struct{}) models.Coverage {
	cov := models.Coverage{Population: len(cats)}
	for id := range cats {
		if m.catHasPlace(id, nil) {
			cov.Covered++
		}
	}
	return cov
}

func (m *Store) CreateRun(_ context.Context, run *models.LinkingRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.s.runs[run.ID]; ok {
		return fmt.Errorf("linking run %s already exists", run.ID)
	}
	m.s.runs[run.ID] = *run
	return nil
}

func (m *Store) FinishRun(_ context.Context, run *models.LinkingRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.s.runs[run.ID]; !ok {
		return fmt.Errorf("linking run %s not found", run.ID)
	}
	m.s.runs[run.ID] = *run
	return nil
}

func (m *Store) FindRun(_ context.Context, id uuid.UUID) (*models.LinkingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.s.runs[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) ListRuns(_ context.Context, limit int) ([]models.LinkingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := sortedValues(m.s.runs, func(a, b models.LinkingRun) bool {
		return a.StartedAt.After(b.StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
