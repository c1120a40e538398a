// Package merging collapses duplicate canonical entities. A merge relinks
// every dependent reference from the loser to the winner, marks the loser
// merged and writes an audit row, all in one transaction.
package merging

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Skip reasons. A skipped merge is a no-op, not an error.
const (
	SkipSameEntity      = "same_entity"
	SkipLoserMissing    = "loser_missing"
	SkipWinnerMissing   = "winner_missing"
	SkipLoserNotActive  = "loser_not_active"
	SkipWinnerNotActive = "winner_not_active"
	SkipNotActive       = "not_active"
	SkipMissing         = "missing"
)

type Store interface {
	// EntityState returns the entity's lifecycle row, locked for the rest of
	// the transaction, or (nil, nil).
	EntityState(ctx context.Context, kind models.EntityKind, id uuid.UUID) (*models.EntityState, error)
	// RelinkReference moves loser rows to winner unless the winner already has
	// a row with the same unique key, then deletes what is left on the loser.
	RelinkReference(ctx context.Context, ref models.Reference, loser, winner uuid.UUID) (moved, deleted int64, err error)
	SetEntityStatus(ctx context.Context, kind models.EntityKind, id uuid.UUID, status models.EntityStatus, mergedInto *uuid.UUID) error
	InsertMergeAudit(ctx context.Context, audit *models.MergeAudit) error
}

// References lists every foreign key that must follow a merged entity of kind.
func References(kind models.EntityKind) []models.Reference {
	switch kind {
	case models.EntityPerson:
		return []models.Reference{
			{Table: "person_identifiers", Column: "person_id"},
			{Table: "person_cat", Column: "person_id", UniqueWith: []string{"cat_id", "relationship_type"}},
			{Table: "person_place", Column: "person_id", UniqueWith: []string{"place_id", "relationship_type"}},
			{Table: "person_roles", Column: "person_id", UniqueWith: []string{"role"}},
			{Table: "appointments", Column: "person_id"},
			{Table: "match_decisions", Column: "person_id"},
			{Table: "match_decisions", Column: "candidate_person_id"},
			{Table: "people", Column: "merged_into"},
		}
	case models.EntityCat:
		return []models.Reference{
			{Table: "cat_identifiers", Column: "cat_id"},
			{Table: "person_cat", Column: "cat_id", UniqueWith: []string{"person_id", "relationship_type"}},
			{Table: "cat_place", Column: "cat_id", UniqueWith: []string{"place_id", "relationship_type"}},
			{Table: "appointments", Column: "cat_id"},
			{Table: "cats", Column: "merged_into"},
		}
	case models.EntityPlace:
		return []models.Reference{
			{Table: "person_place", Column: "place_id", UniqueWith: []string{"person_id", "relationship_type"}},
			{Table: "cat_place", Column: "place_id", UniqueWith: []string{"cat_id", "relationship_type"}},
			{Table: "appointments", Column: "place_id"},
			{Table: "places", Column: "merged_into"},
		}
	}
	return nil
}

type MergeResult struct {
	Merged     bool             `json:"merged"`
	Archived   bool             `json:"archived,omitempty"`
	SkipReason string           `json:"skip_reason,omitempty"`
	Relinked   map[string]int64 `json:"relinked,omitempty"`
	AuditID    *uuid.UUID       `json:"audit_id,omitempty"`
}

type Engine struct {
	logger  ectologger.Logger
	store   Store
	tx      database.Transactor
	emitter *events.Emitter
	now     func() time.Time
}

func NewEngine(logger ectologger.Logger, store Store, tx database.Transactor, emitter *events.Emitter) *Engine {
	return &Engine{logger: logger, store: store, tx: tx, emitter: emitter, now: time.Now}
}

func (e *Engine) MergePersonInto(ctx context.Context, loserID, winnerID uuid.UUID, reason, actor string) (*MergeResult, error) {
	return e.Merge(ctx, models.EntityPerson, loserID, winnerID, reason, actor)
}

func (e *Engine) MergeCatInto(ctx context.Context, loserID, winnerID uuid.UUID, reason, actor string) (*MergeResult, error) {
	return e.Merge(ctx, models.EntityCat, loserID, winnerID, reason, actor)
}

func (e *Engine) MergePlaceInto(ctx context.Context, loserID, winnerID uuid.UUID, reason, actor string) (*MergeResult, error) {
	return e.Merge(ctx, models.EntityPlace, loserID, winnerID, reason, actor)
}

// Merge absorbs loser into winner. Calling it again for the same pair is a
// skip because the loser is no longer active.
func (e *Engine) Merge(ctx context.Context, kind models.EntityKind, loserID, winnerID uuid.UUID, reason, actor string) (*MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge")
	defer span.End()

	if !kind.Valid() {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	actor = resolveActor(ctx, actor)

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_kind": kind,
		"loser_id":    loserID,
		"winner_id":   winnerID,
		"actor":       actor,
	})

	if loserID == winnerID {
		return e.skip(ctx, kind, SkipSameEntity)
	}

	result := &MergeResult{}
	var audit *models.MergeAudit
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		loser, winner, err := e.lockPair(ctx, kind, loserID, winnerID)
		if err != nil {
			return err
		}
		switch {
		case loser == nil:
			result.SkipReason = SkipLoserMissing
		case winner == nil:
			result.SkipReason = SkipWinnerMissing
		case !loser.IsActive():
			result.SkipReason = SkipLoserNotActive
		case !winner.IsActive():
			result.SkipReason = SkipWinnerNotActive
		}
		if result.SkipReason != "" {
			return nil
		}

		result.Relinked = make(map[string]int64)
		for _, ref := range References(kind) {
			moved, deleted, err := e.store.RelinkReference(ctx, ref, loserID, winnerID)
			if err != nil {
				return fmt.Errorf("relink %s: %w", ref.Key(), err)
			}
			if moved > 0 {
				result.Relinked[ref.Key()] = moved
			}
			if deleted > 0 {
				result.Relinked[ref.Key()+":deleted"] = deleted
			}
		}

		if err := e.store.SetEntityStatus(ctx, kind, loserID, models.StatusMerged, &winnerID); err != nil {
			return err
		}

		audit = &models.MergeAudit{
			ID:         uuid.New(),
			EntityKind: kind,
			Action:     models.AuditActionMerge,
			LoserID:    loserID,
			WinnerID:   &winnerID,
			OldStatus:  loser.Status,
			NewStatus:  models.StatusMerged,
			OldPointer: loser.MergedInto,
			NewPointer: &winnerID,
			Actor:      actor,
			Reason:     reason,
			Relinked:   database.NewJSONB(result.Relinked),
			CreatedAt:  e.now().UTC(),
		}
		return e.store.InsertMergeAudit(ctx, audit)
	})
	if err != nil {
		log.WithError(err).Error("Merge failed and was rolled back")
		tracing.RecordError(span, err)
		metrics.RecordMerge(string(kind), "failed")
		return nil, err
	}

	if result.SkipReason != "" {
		return e.skip(ctx, kind, result.SkipReason)
	}

	result.Merged = true
	result.AuditID = &audit.ID
	metrics.RecordMerge(string(kind), "merged")
	e.emitter.EmitEntityMerged(ctx, audit)
	log.WithFields(map[string]any{"relinked": result.Relinked}).Info("Merged entity")

	return result, nil
}

// lockPair locks both rows in a fixed order so concurrent merges of the same
// pair cannot deadlock.
func (e *Engine) lockPair(ctx context.Context, kind models.EntityKind, loserID, winnerID uuid.UUID) (loser, winner *models.EntityState, err error) {
	first, second := loserID, winnerID
	swapped := bytes.Compare(first[:], second[:]) > 0
	if swapped {
		first, second = second, first
	}

	a, err := e.store.EntityState(ctx, kind, first)
	if err != nil {
		return nil, nil, err
	}
	b, err := e.store.EntityState(ctx, kind, second)
	if err != nil {
		return nil, nil, err
	}
	if swapped {
		return b, a, nil
	}
	return a, b, nil
}

// Archive retires an entity that is not a real duplicate, such as an
// organization that slipped through the identity gate.
func (e *Engine) Archive(ctx context.Context, kind models.EntityKind, id uuid.UUID, reason, actor string) (*MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Archive")
	defer span.End()

	if !kind.Valid() {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	actor = resolveActor(ctx, actor)

	result := &MergeResult{}
	var audit *models.MergeAudit
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		state, err := e.store.EntityState(ctx, kind, id)
		if err != nil {
			return err
		}
		switch {
		case state == nil:
			result.SkipReason = SkipMissing
			return nil
		case !state.IsActive():
			result.SkipReason = SkipNotActive
			return nil
		}

		if err := e.store.SetEntityStatus(ctx, kind, id, models.StatusArchived, nil); err != nil {
			return err
		}

		audit = &models.MergeAudit{
			ID:         uuid.New(),
			EntityKind: kind,
			Action:     models.AuditActionArchive,
			LoserID:    id,
			OldStatus:  state.Status,
			NewStatus:  models.StatusArchived,
			OldPointer: state.MergedInto,
			Actor:      actor,
			Reason:     reason,
			Relinked:   database.NewJSONB(map[string]int64{}),
			CreatedAt:  e.now().UTC(),
		}
		return e.store.InsertMergeAudit(ctx, audit)
	})
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Archive failed and was rolled back")
		tracing.RecordError(span, err)
		metrics.RecordMerge(string(kind), "failed")
		return nil, err
	}

	if result.SkipReason != "" {
		return e.skip(ctx, kind, result.SkipReason)
	}

	result.Archived = true
	result.AuditID = &audit.ID
	metrics.RecordMerge(string(kind), "archived")
	e.emitter.EmitEntityMerged(ctx, audit)
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_kind": kind,
		"entity_id":   id,
		"actor":       actor,
	}).Info("Archived entity")

	return result, nil
}

func (e *Engine) skip(ctx context.Context, kind models.EntityKind, reason string) (*MergeResult, error) {
	metrics.RecordMerge(string(kind), "skipped")
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_kind": kind,
		"skip_reason": reason,
	}).Info("Merge skipped")
	return &MergeResult{SkipReason: reason}, nil
}

func resolveActor(ctx context.Context, actor string) string {
	if actor != "" {
		return actor
	}
	if a := fernctx.GetActor(ctx); a != "" {
		return a
	}
	return "system"
}
