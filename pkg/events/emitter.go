// Package events publishes entity lifecycle changes to the configured sinks
// (the Kafka producer and the graph projector). Publishing is best-effort:
// a failing sink is logged and never fails the operation that emitted.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Sink receives every emitted event.
type Sink interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// Emitter fans events out to sinks. A nil *Emitter discards everything.
type Emitter struct {
	sinks  []Sink
	logger ectologger.Logger
}

func NewEmitter(logger ectologger.Logger, sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks, logger: logger}
}

func (e *Emitter) AddSink(sink Sink) {
	e.sinks = append(e.sinks, sink)
}

func (e *Emitter) emit(ctx context.Context, eventType EventType, kind, id string, data any) {
	if e == nil || len(e.sinks) == 0 {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emit")
	defer span.End()

	payload, err := json.Marshal(data)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to marshal %s event", eventType)
		return
	}

	event := Event{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		EntityKind:    kind,
		EntityID:      id,
		CorrelationID: fernctx.GetRequestID(ctx),
		Timestamp:     time.Now().UTC(),
		Data:          payload,
	}

	for _, sink := range e.sinks {
		if err := sink.Handle(ctx, event); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"sink":       sink.Name(),
				"event_type": eventType,
				"entity_id":  id,
			}).Warn("Failed to emit event")
		}
	}
}

func (e *Emitter) EmitPersonCreated(ctx context.Context, person *models.Person) {
	e.emit(ctx, EventTypePersonCreated, string(models.EntityPerson), person.ID.String(), person)
}

func (e *Emitter) EmitMatchDecision(ctx context.Context, decision *models.MatchDecision) {
	id := decision.ID.String()
	if decision.PersonID != nil {
		id = decision.PersonID.String()
	}
	e.emit(ctx, EventTypeMatchDecision, "match_decision", id, decision)
}

func (e *Emitter) EmitMatchReviewed(ctx context.Context, decision *models.MatchDecision) {
	e.emit(ctx, EventTypeMatchReviewed, "match_decision", decision.ID.String(), decision)
}

func (e *Emitter) EmitCatResolved(ctx context.Context, cat *models.Cat, created bool) {
	e.emit(ctx, EventTypeCatResolved, string(models.EntityCat), cat.ID.String(), map[string]any{
		"created": created,
		"cat":     cat,
	})
}

func (e *Emitter) EmitPlaceCreated(ctx context.Context, place *models.Place) {
	e.emit(ctx, EventTypePlaceCreated, string(models.EntityPlace), place.ID.String(), place)
}

func (e *Emitter) EmitRelationshipUpserted(ctx context.Context, rel *models.Relationship, created bool) {
	e.emit(ctx, EventTypeRelationshipUpserted, string(rel.Kind), rel.SubjectID.String(), RelationshipData{
		Kind:             string(rel.Kind),
		SubjectID:        rel.SubjectID.String(),
		ObjectID:         rel.ObjectID.String(),
		RelationshipType: rel.RelationshipType,
		Confidence:       rel.Confidence,
		EvidenceType:     rel.EvidenceType,
		Created:          created,
	})
}

func (e *Emitter) EmitEntityMerged(ctx context.Context, audit *models.MergeAudit) {
	data := MergeData{
		LoserID:  audit.LoserID.String(),
		Actor:    audit.Actor,
		Reason:   audit.Reason,
		Relinked: audit.Relinked.Data,
	}
	eventType := EventTypeEntityArchived
	if audit.WinnerID != nil {
		data.WinnerID = audit.WinnerID.String()
		eventType = EventTypeEntityMerged
	}
	e.emit(ctx, eventType, string(audit.EntityKind), audit.LoserID.String(), data)
}

func (e *Emitter) EmitLinkingRunFinished(ctx context.Context, run *models.LinkingRun) {
	e.emit(ctx, EventTypeLinkingRunFinished, "linking_run", run.ID.String(), run)
}

// Recorder is an in-memory sink, handy in tests and for the dry-run CLI.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Handle(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, event)
	return nil
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(eventType EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.Events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
