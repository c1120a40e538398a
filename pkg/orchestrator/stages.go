package orchestrator

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/linking"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/places"
)

// EvidenceAppointment and EvidencePersonChain are the evidence types written
// by the pipeline.
const (
	EvidenceAppointment = "appointment"
	EvidencePersonChain = "person_chain"
)

func countSource(result *models.StageResult, source string, linked bool) {
	c := result.BySource[source]
	if linked {
		c.Linked++
	} else {
		c.Unmatched++
	}
	result.BySource[source] = c
}

// linkAppointmentPlaces resolves a place for every appointment that has
// address text but no place yet.
func (o *Orchestrator) linkAppointmentPlaces(ctx context.Context, result *models.StageResult) error {
	appointments, err := o.store.AppointmentsNeedingPlace(ctx)
	if err != nil {
		return err
	}

	log := o.logger.WithContext(ctx)
	for _, a := range appointments {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Processed++

		res, err := o.places.FindOrCreatePlace(ctx, places.PlaceInput{
			FormattedAddress: a.AddressText,
			SourceSystem:     a.SourceSystem,
		})
		if err != nil {
			if errors.Is(err, places.ErrEmptyAddress) {
				result.Unmatched++
				countSource(result, a.SourceSystem, false)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Errors++
			countSource(result, a.SourceSystem, false)
			log.WithError(err).WithFields(map[string]any{"appointment_id": a.ID}).Warn("Failed to resolve appointment place")
			continue
		}

		if err := o.store.SetAppointmentPlace(ctx, a.ID, res.PlaceID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Errors++
			countSource(result, a.SourceSystem, false)
			log.WithError(err).WithFields(map[string]any{"appointment_id": a.ID}).Warn("Failed to set appointment place")
			continue
		}
		result.Linked++
		countSource(result, a.SourceSystem, true)
	}
	return nil
}

// linkCatPlacesFromAppointments records direct clinical evidence.
func (o *Orchestrator) linkCatPlacesFromAppointments(ctx context.Context, result *models.StageResult) error {
	pairs, err := o.store.CatPlaceFromAppointments(ctx)
	if err != nil {
		return err
	}

	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Processed++

		res, err := o.linker.LinkCatPlace(ctx, linking.LinkInput{
			SubjectID:        p.CatID,
			ObjectID:         p.PlaceID,
			RelationshipType: models.CatPlaceTreatedAt,
			EvidenceType:     EvidenceAppointment,
			Confidence:       models.ConfidenceHigh,
			SourceSystem:     p.SourceSystem,
		})
		o.tally(ctx, result, p.SourceSystem, res, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// linkCatPlacesFromPersonChain propagates at most one place per person onto
// the cats linked to that person.
func (o *Orchestrator) linkCatPlacesFromPersonChain(ctx context.Context, result *models.StageResult) error {
	types := make([]string, 0, len(o.cfg.ChainMappings))
	for t := range o.cfg.ChainMappings {
		types = append(types, t)
	}
	sort.Strings(types)

	rows, err := o.store.PersonChainCandidates(ctx, o.cfg.ExcludedRoles, types)
	if err != nil {
		return err
	}

	best := BestPlacePerPerson(rows)

	type pair struct{ cat, place uuid.UUID }
	seen := make(map[pair]struct{})

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if best[row.PersonID] != row.PlaceID {
			continue
		}
		result.Processed++

		key := pair{row.CatID, row.PlaceID}
		if _, dup := seen[key]; dup || row.EdgeExists {
			result.Skipped++
			continue
		}
		seen[key] = struct{}{}

		mapping, ok := o.cfg.ChainMappings[row.PersonCatType]
		if !ok {
			result.Skipped++
			continue
		}

		res, err := o.linker.LinkCatPlace(ctx, linking.LinkInput{
			SubjectID:        row.CatID,
			ObjectID:         row.PlaceID,
			RelationshipType: mapping.CatPlaceType,
			EvidenceType:     EvidencePersonChain,
			Confidence:       mapping.Confidence,
			SourceSystem:     row.SourceSystem,
		})
		o.tally(ctx, result, row.SourceSystem, res, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) tally(ctx context.Context, result *models.StageResult, source string, res *linking.LinkResult, err error) {
	switch {
	case err != nil:
		result.Errors++
		countSource(result, source, false)
		o.logger.WithContext(ctx).WithError(err).Warn("Failed to link cat to place")
	case res.Linked:
		result.Linked++
		countSource(result, source, true)
	default:
		result.Skipped++
	}
}

// BestPlacePerPerson picks each person's highest-confidence place, breaking
// ties by the most recently updated edge.
func BestPlacePerPerson(rows []models.PersonChainRow) map[uuid.UUID]uuid.UUID {
	chosen := make(map[uuid.UUID]models.PersonChainRow)
	for _, row := range rows {
		cur, ok := chosen[row.PersonID]
		if !ok || better(row, cur) {
			chosen[row.PersonID] = row
		}
	}

	out := make(map[uuid.UUID]uuid.UUID, len(chosen))
	for person, row := range chosen {
		out[person] = row.PlaceID
	}
	return out
}

func better(a, b models.PersonChainRow) bool {
	if a.PlaceConfidence != b.PlaceConfidence {
		return a.PlaceConfidence > b.PlaceConfidence
	}
	if !a.PlaceUpdatedAt.Equal(b.PlaceUpdatedAt) {
		return a.PlaceUpdatedAt.After(b.PlaceUpdatedAt)
	}
	return a.PlaceID.String() < b.PlaceID.String()
}
