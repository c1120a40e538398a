// Package orchestrator runs the periodic entity-linking pipeline: appointments
// to places, cats to places via appointments, then cats to places via the
// people linked to them. Coverage is checked after every stage and each
// invocation leaves one run-history row.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/linking"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/places"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	ErrPreflightFailed = errors.New("linking preflight failed")
	ErrRunInProgress   = errors.New("a linking run is already in progress")
)

// PreflightError lists the tables and functions the pipeline needs but the
// store does not have.
type PreflightError struct {
	Missing []string `json:"missing"`
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrPreflightFailed, strings.Join(e.Missing, ", "))
}

func (e *PreflightError) Is(target error) bool {
	return target == ErrPreflightFailed
}

// LinkingStore is the read side of the pipeline plus the appointment place
// update.
type LinkingStore interface {
	// Preflight returns the names of required dependencies that are absent.
	Preflight(ctx context.Context) ([]string, error)
	AppointmentsNeedingPlace(ctx context.Context) ([]models.Appointment, error)
	SetAppointmentPlace(ctx context.Context, appointmentID, placeID uuid.UUID) error
	// CatPlaceFromAppointments returns distinct active (cat, place) pairs
	// from appointments that have both.
	CatPlaceFromAppointments(ctx context.Context) ([]models.CatPlacePair, error)
	// PersonChainCandidates returns (cat, person, place) paths through active
	// person-cat edges of the given types, skipping people holding an excluded role.
	PersonChainCandidates(ctx context.Context, excludedRoles []models.Role, personCatTypes []string) ([]models.PersonChainRow, error)
	Coverage(ctx context.Context, stage string) (models.Coverage, error)
}

type RunStore interface {
	CreateRun(ctx context.Context, run *models.LinkingRun) error
	FinishRun(ctx context.Context, run *models.LinkingRun) error
	FindRun(ctx context.Context, id uuid.UUID) (*models.LinkingRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.LinkingRun, error)
}

// PlaceResolver is satisfied by *places.Deduplicator.
type PlaceResolver interface {
	FindOrCreatePlace(ctx context.Context, in places.PlaceInput) (*places.Resolution, error)
}

// CatPlaceLinker is satisfied by *linking.Linker.
type CatPlaceLinker interface {
	LinkCatPlace(ctx context.Context, in linking.LinkInput) (*linking.LinkResult, error)
}

// ChainMapping turns a person-cat type into the cat-place edge it implies.
type ChainMapping struct {
	CatPlaceType string  `json:"cat_place_type"`
	Confidence   float64 `json:"confidence"`
}

type Config struct {
	MinCoveragePct float64
	ExcludedRoles  []models.Role
	ChainMappings  map[string]ChainMapping
}

func DefaultConfig() Config {
	return Config{
		MinCoveragePct: 50,
		ExcludedRoles:  []models.Role{models.RoleStaff, models.RoleTrapper},
		ChainMappings: map[string]ChainMapping{
			models.PersonCatOwner:           {CatPlaceType: models.CatPlaceHome, Confidence: models.ConfidenceHigh},
			models.PersonCatCaretaker:       {CatPlaceType: models.CatPlaceResidence, Confidence: models.ConfidenceMedium},
			models.PersonCatFoster:          {CatPlaceType: models.CatPlaceHome, Confidence: models.ConfidenceMedium},
			models.PersonCatAdopter:         {CatPlaceType: models.CatPlaceHome, Confidence: models.ConfidenceHigh},
			models.PersonCatColonyCaretaker: {CatPlaceType: models.CatPlaceColonyMember, Confidence: models.ConfidenceMedium},
		},
	}
}

type Orchestrator struct {
	logger  ectologger.Logger
	store   LinkingStore
	runs    RunStore
	places  PlaceResolver
	linker  CatPlaceLinker
	emitter *events.Emitter
	cfg     Config
	running atomic.Bool
	now     func() time.Time
}

func New(
	logger ectologger.Logger,
	store LinkingStore,
	runs RunStore,
	placeResolver PlaceResolver,
	linker CatPlaceLinker,
	emitter *events.Emitter,
	cfg Config,
) *Orchestrator {
	if len(cfg.ChainMappings) == 0 {
		cfg.ChainMappings = DefaultConfig().ChainMappings
	}
	return &Orchestrator{
		logger:  logger,
		store:   store,
		runs:    runs,
		places:  placeResolver,
		linker:  linker,
		emitter: emitter,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Running reports whether a run is in progress in this process.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Preflight returns a *PreflightError when a dependency is missing.
func (o *Orchestrator) Preflight(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.Preflight")
	defer span.End()

	missing, err := o.store.Preflight(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	if len(missing) > 0 {
		return &PreflightError{Missing: missing}
	}
	return nil
}

type stage struct {
	name string
	run  func(ctx context.Context, result *models.StageResult) error
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{models.StageAppointmentPlace, o.linkAppointmentPlaces},
		{models.StageCatPlaceAppointment, o.linkCatPlacesFromAppointments},
		{models.StageCatPlacePersonChain, o.linkCatPlacesFromPersonChain},
	}
}

// Run executes the pipeline once. The returned run is always persisted when
// the run row could be created; err reports aborts and failures.
func (o *Orchestrator) Run(ctx context.Context, trigger string) (*models.LinkingRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.Run")
	defer span.End()

	run := &models.LinkingRun{
		ID:        uuid.New(),
		Status:    models.RunStatusRunning,
		Trigger:   trigger,
		StartedAt: o.now().UTC(),
		Stages:    database.NewJSONB([]models.StageResult{}),
		Warnings:  database.NewJSONB([]string{}),
	}
	ctx = fernctx.SetRunID(ctx, run.ID.String())
	log := o.logger.WithContext(ctx).WithFields(map[string]any{"trigger": trigger})

	if err := o.runs.CreateRun(ctx, run); err != nil {
		log.WithError(err).Error("Failed to create linking run")
		tracing.RecordError(span, err)
		return nil, err
	}

	if err := o.Preflight(ctx); err != nil {
		var pre *PreflightError
		if errors.As(err, &pre) {
			log.WithFields(map[string]any{"missing": pre.Missing}).Error("Linking preflight failed, pipeline not started")
			return o.finish(ctx, run, models.RunStatusAborted, err)
		}
		return o.finish(ctx, run, models.RunStatusFailed, err)
	}

	for _, st := range o.stages() {
		result := models.StageResult{Name: st.name, BySource: map[string]models.SourceCounts{}}
		started := time.Now()

		err := st.run(ctx, &result)
		result.DurationMs = time.Since(started).Milliseconds()

		if err == nil {
			err = o.checkCoverage(ctx, &result)
		}
		run.Stages.Data = append(run.Stages.Data, result)
		if result.Warning != "" {
			run.Warnings.Data = append(run.Warnings.Data, result.Warning)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.WithFields(map[string]any{"stage": st.name}).Warn("Linking run interrupted")
				return o.finish(ctx, run, models.RunStatusAborted, err)
			}
			log.WithError(err).WithFields(map[string]any{"stage": st.name}).Error("Linking stage failed")
			return o.finish(ctx, run, models.RunStatusFailed, err)
		}

		log.WithFields(map[string]any{
			"stage":        st.name,
			"processed":    result.Processed,
			"linked":       result.Linked,
			"skipped":      result.Skipped,
			"unmatched":    result.Unmatched,
			"errors":       result.Errors,
			"coverage_pct": result.CoveragePct,
		}).Info("Linking stage finished")
	}

	status := models.RunStatusCompleted
	if len(run.Warnings.Data) > 0 {
		status = models.RunStatusCompletedWithWarnings
	}
	return o.finish(ctx, run, status, nil)
}

// checkCoverage records the stage's coverage and warns when it is implausibly low.
func (o *Orchestrator) checkCoverage(ctx context.Context, result *models.StageResult) error {
	cov, err := o.store.Coverage(ctx, result.Name)
	if err != nil {
		return err
	}
	result.Coverage = cov
	result.CoveragePct = cov.Pct()
	metrics.RecordStageCoverage(result.Name, result.CoveragePct)

	if cov.Population > 0 && result.CoveragePct < o.cfg.MinCoveragePct {
		result.Warning = fmt.Sprintf("%s coverage %.1f%% (%d/%d) is below %.1f%%",
			result.Name, result.CoveragePct, cov.Covered, cov.Population, o.cfg.MinCoveragePct)
	}
	if result.Errors > 0 {
		msg := fmt.Sprintf("%s had %d record errors", result.Name, result.Errors)
		if result.Warning != "" {
			msg = result.Warning + "; " + msg
		}
		result.Warning = msg
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, run *models.LinkingRun, status models.RunStatus, runErr error) (*models.LinkingRun, error) {
	// The run row is written even when the caller's context was cancelled.
	ctx = context.WithoutCancel(ctx)

	completed := o.now().UTC()
	run.Status = status
	run.CompletedAt = &completed
	run.DurationMs = completed.Sub(run.StartedAt).Milliseconds()
	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
	}

	if err := o.runs.FinishRun(ctx, run); err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to record linking run")
		return run, errors.Join(runErr, err)
	}

	metrics.RecordLinkingRun(string(status), float64(run.DurationMs)/1000)
	o.emitter.EmitLinkingRunFinished(ctx, run)

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"status":      status,
		"duration_ms": run.DurationMs,
		"warnings":    len(run.Warnings.Data),
	}).Info("Linking run finished")

	return run, runErr
}

// GetRun returns a run or (nil, nil).
func (o *Orchestrator) GetRun(ctx context.Context, id uuid.UUID) (*models.LinkingRun, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.GetRun")
	defer span.End()

	return o.runs.FindRun(ctx, id)
}

func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]models.LinkingRun, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.ListRuns")
	defer span.End()

	return o.runs.ListRuns(ctx, limit)
}
