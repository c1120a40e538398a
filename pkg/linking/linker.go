// Package linking writes person-cat, person-place and cat-place edges. Edges
// are unique on (subject, object, type) and their confidence only ever rises.
package linking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Skip reasons.
const (
	SkipSubjectMissing          = "subject_missing_or_merged"
	SkipObjectMissing           = "object_missing_or_merged"
	SkipInvalidRelationshipType = "invalid_relationship_type"
	SkipInvalidConfidence       = "invalid_confidence"
)

// Store checks endpoints and upserts edges.
type Store interface {
	// EntityActive reports whether the entity exists with status active.
	EntityActive(ctx context.Context, kind models.EntityKind, id uuid.UUID) (bool, error)
	// UpsertEdge inserts or raises confidence to max(old, new) and returns the
	// stored edge.
	UpsertEdge(ctx context.Context, rel *models.Relationship) (*models.Relationship, bool, error)
}

// Config holds the accepted relationship types per edge kind.
type Config struct {
	Vocabulary map[models.RelationshipKind][]string
}

func DefaultConfig() Config {
	return Config{
		Vocabulary: map[models.RelationshipKind][]string{
			models.RelationshipPersonCat: {
				models.PersonCatOwner, models.PersonCatCaretaker, models.PersonCatFoster,
				models.PersonCatAdopter, models.PersonCatColonyCaretaker,
			},
			models.RelationshipPersonPlace: {
				models.PersonPlaceResident, models.PersonPlaceOwner, models.PersonPlaceManager,
				models.PersonPlaceCaretaker, models.PersonPlaceVolunteersAt,
			},
			models.RelationshipCatPlace: {
				models.CatPlaceHome, models.CatPlaceResidence, models.CatPlaceColonyMember,
				models.CatPlaceSighting, models.CatPlaceTrappedAt, models.CatPlaceTreatedAt,
				models.CatPlaceFoundAt,
			},
		},
	}
}

// Extend adds types to a kind's vocabulary.
func (c Config) Extend(kind models.RelationshipKind, types ...string) Config {
	vocab := make(map[models.RelationshipKind][]string, len(c.Vocabulary))
	for k, v := range c.Vocabulary {
		vocab[k] = append([]string(nil), v...)
	}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			vocab[kind] = append(vocab[kind], t)
		}
	}
	return Config{Vocabulary: vocab}
}

type LinkInput struct {
	SubjectID        uuid.UUID `json:"subject_id" validate:"required"`
	ObjectID         uuid.UUID `json:"object_id" validate:"required"`
	RelationshipType string    `json:"relationship_type" validate:"required"`
	EvidenceType     string    `json:"evidence_type"`
	Confidence       float64   `json:"confidence" validate:"gte=0,lte=1"`
	SourceSystem     string    `json:"source_system"`
}

// LinkResult is Linked=false with a SkipReason when nothing was written.
type LinkResult struct {
	Linked       bool                 `json:"linked"`
	Created      bool                 `json:"created"`
	Relationship *models.Relationship `json:"relationship,omitempty"`
	SkipReason   string               `json:"skip_reason,omitempty"`
}

type Linker struct {
	logger  ectologger.Logger
	store   Store
	emitter *events.Emitter
	vocab   map[models.RelationshipKind]map[string]struct{}
	now     func() time.Time
}

func NewLinker(logger ectologger.Logger, store Store, emitter *events.Emitter, cfg Config) *Linker {
	vocab := make(map[models.RelationshipKind]map[string]struct{}, len(cfg.Vocabulary))
	for kind, types := range cfg.Vocabulary {
		set := make(map[string]struct{}, len(types))
		for _, t := range types {
			set[t] = struct{}{}
		}
		vocab[kind] = set
	}
	return &Linker{logger: logger, store: store, emitter: emitter, vocab: vocab, now: time.Now}
}

func (l *Linker) LinkPersonCat(ctx context.Context, in LinkInput) (*LinkResult, error) {
	return l.Link(ctx, models.RelationshipPersonCat, in)
}

func (l *Linker) LinkPersonPlace(ctx context.Context, in LinkInput) (*LinkResult, error) {
	return l.Link(ctx, models.RelationshipPersonPlace, in)
}

func (l *Linker) LinkCatPlace(ctx context.Context, in LinkInput) (*LinkResult, error) {
	return l.Link(ctx, models.RelationshipCatPlace, in)
}

// Link validates both endpoints and upserts the edge. A missing or merged
// endpoint is a skip, not an error.
func (l *Linker) Link(ctx context.Context, kind models.RelationshipKind, in LinkInput) (*LinkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Linker.Link")
	defer span.End()

	if !kind.Valid() {
		return nil, fmt.Errorf("unknown relationship kind %q", kind)
	}

	log := l.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":              kind,
		"subject_id":        in.SubjectID,
		"object_id":         in.ObjectID,
		"relationship_type": in.RelationshipType,
	})

	skip := func(reason string) (*LinkResult, error) {
		metrics.RecordLink(string(kind), reason)
		log.WithFields(map[string]any{"skip_reason": reason}).Debug("Relationship skipped")
		return &LinkResult{SkipReason: reason}, nil
	}

	if _, ok := l.vocab[kind][in.RelationshipType]; !ok {
		return skip(SkipInvalidRelationshipType)
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return skip(SkipInvalidConfidence)
	}

	subjectKind, objectKind := kind.Endpoints()
	active, err := l.store.EntityActive(ctx, subjectKind, in.SubjectID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if !active {
		return skip(SkipSubjectMissing)
	}
	active, err = l.store.EntityActive(ctx, objectKind, in.ObjectID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if !active {
		return skip(SkipObjectMissing)
	}

	now := l.now().UTC()
	stored, created, err := l.store.UpsertEdge(ctx, &models.Relationship{
		ID:               uuid.New(),
		Kind:             kind,
		SubjectID:        in.SubjectID,
		ObjectID:         in.ObjectID,
		RelationshipType: in.RelationshipType,
		EvidenceType:     in.EvidenceType,
		Confidence:       in.Confidence,
		SourceSystem:     in.SourceSystem,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		log.WithError(err).Error("Failed to upsert relationship")
		tracing.RecordError(span, err)
		return nil, err
	}

	outcome := "updated"
	if created {
		outcome = "created"
	}
	metrics.RecordLink(string(kind), outcome)
	l.emitter.EmitRelationshipUpserted(ctx, stored, created)

	return &LinkResult{Linked: true, Created: created, Relationship: stored}, nil
}
