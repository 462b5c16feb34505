package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jarto666/scriptforge/internal/domain"
	"github.com/jarto666/scriptforge/internal/events"
	"github.com/jarto666/scriptforge/internal/logger"
)

// BatchStore persists batch and script state. Persistence is best-effort from
// the coordinator's point of view: the in-memory counters are authoritative
// for event publication, and store failures are logged, never escalated.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *domain.Batch) error
	UpdateScript(ctx context.Context, script *domain.Script) error
	FinalizeBatch(ctx context.Context, batch *domain.Batch) error
}

// ArtifactExporter uploads a completed batch's scripts as a durable artifact.
type ArtifactExporter interface {
	ExportBatch(ctx context.Context, batch *domain.Batch, scripts []domain.Script) (string, error)
}

// Coordinator owns the lifecycle of generation batches: it validates and
// expands configurations, dispatches all units of a batch concurrently,
// keeps the aggregate counters linearizable across concurrent completions,
// and publishes progress and completion events to the bus.
type Coordinator struct {
	bus       *events.Bus
	generator Generator
	store     BatchStore
	artifacts ArtifactExporter
	logger    *logger.Logger

	mu   sync.Mutex
	runs map[string]*batchRun
}

// batchRun is the in-memory state of one running batch. The coordinator
// exclusively owns and mutates it; everything published is a value snapshot.
type batchRun struct {
	batch   *domain.Batch
	persona *domain.Persona
	cancel  context.CancelFunc

	mu       sync.Mutex
	counters domain.BatchCounters
	scripts  []domain.Script
	emitted  bool
}

// NewCoordinator creates a batch coordinator. store and artifacts may be nil;
// the coordinator then runs purely in memory.
func NewCoordinator(bus *events.Bus, generator Generator, store BatchStore, artifacts ArtifactExporter, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Coordinator{
		bus:       bus,
		generator: generator,
		store:     store,
		artifacts: artifacts,
		logger:    log,
		runs:      make(map[string]*batchRun),
	}
}

// CreateBatch validates the configuration, expands it into the deterministic
// unit set, and persists the batch with its pending scripts. Nothing is
// dispatched and nothing is published; a validation failure wraps
// domain.ErrInvalidConfiguration.
func (c *Coordinator) CreateBatch(ctx context.Context, projectID string, cfg domain.BatchConfig) (*domain.Batch, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.QualityTier == "" {
		cfg.QualityTier = domain.QualityTierStandard
	}

	units := cfg.ExpandUnits()
	batch := &domain.Batch{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		Status:       domain.BatchStatusCreated,
		BatchConfig:  cfg,
		TotalScripts: len(units),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	batch.Scripts = make([]domain.Script, len(units))
	for i, u := range units {
		batch.Scripts[i] = domain.Script{
			ID:          uuid.New().String(),
			BatchID:     batch.ID,
			Angle:       u.Angle,
			DurationSec: u.DurationSec,
			PersonaID:   cfg.PersonaID,
			Status:      domain.ScriptStatusPending,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
	}

	if c.store != nil {
		if err := c.store.CreateBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to persist batch: %w", err)
		}
	}

	return batch, nil
}

// Start dispatches every script of the batch for concurrent generation and
// returns immediately. Unit execution detaches from the caller's context;
// cancellation goes through Cancel.
func (c *Coordinator) Start(ctx context.Context, batch *domain.Batch, persona *domain.Persona) error {
	if batch.Status != domain.BatchStatusCreated {
		return fmt.Errorf("%w: batch %s is %s", domain.ErrBatchTerminal, batch.ID, batch.Status)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	now := time.Now()
	batch.Status = domain.BatchStatusGenerating
	batch.StartedAt = &now

	run := &batchRun{
		batch:   batch,
		persona: persona,
		cancel:  cancel,
		counters: domain.BatchCounters{
			Total:      len(batch.Scripts),
			Generating: len(batch.Scripts),
		},
		scripts: make([]domain.Script, len(batch.Scripts)),
	}
	copy(run.scripts, batch.Scripts)

	c.mu.Lock()
	c.runs[batch.ID] = run
	c.mu.Unlock()

	logger.CtxInfo(runCtx, "Dispatching batch %s: %d scripts, platform=%s",
		batch.ID, len(run.scripts), batch.Platform)

	for i := range run.scripts {
		go c.runUnit(runCtx, run, i)
	}
	return nil
}

// Cancel stops all outstanding units of a running batch. Cancelled units are
// accounted as failed; the batch still converges to its terminal state and
// emits its single completion event.
func (c *Coordinator) Cancel(batchID string) error {
	c.mu.Lock()
	run, ok := c.runs[batchID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}
	run.cancel()
	return nil
}

// Counters returns a live snapshot of a running batch's counters. The second
// return value is false once the batch is no longer in flight.
func (c *Coordinator) Counters(batchID string) (domain.BatchCounters, bool) {
	c.mu.Lock()
	run, ok := c.runs[batchID]
	c.mu.Unlock()
	if !ok {
		return domain.BatchCounters{}, false
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.counters, true
}

// runUnit executes one generation unit to its terminal status.
func (c *Coordinator) runUnit(ctx context.Context, run *batchRun, idx int) {
	script := &run.scripts[idx]

	script.Status = domain.ScriptStatusGenerating
	script.UpdatedAt = time.Now()
	c.persistScript(ctx, script)

	content, err := c.generator.Generate(ctx, script, run.batch.Platform, run.batch.QualityTier, run.persona)

	if err != nil {
		script.Status = domain.ScriptStatusFailed
		script.Error = err.Error()
		logger.With(logger.Fields{
			logger.FieldBatchID:  run.batch.ID,
			logger.FieldScriptID: script.ID,
		}).Warn(ctx, "Script generation failed: %v", err)
	} else {
		script.Status = domain.ScriptStatusSucceeded
		script.Hook = content.Hook
		script.Body = content.Body
		script.CTA = content.CTA
	}
	script.UpdatedAt = time.Now()
	c.persistScript(ctx, script)

	c.resolveUnit(ctx, run, script)
}

// resolveUnit applies one terminal transition to the batch counters and
// publishes the corresponding events. The counter update, the is-last check,
// and publication form a single critical section: snapshots published for a
// batch are non-decreasing in publish order, and the completion event is
// emitted by exactly one unit no matter how completions interleave.
func (c *Coordinator) resolveUnit(ctx context.Context, run *batchRun, script *domain.Script) {
	run.mu.Lock()

	run.counters.Generating--
	if script.Status == domain.ScriptStatusSucceeded {
		run.counters.Completed++
	} else {
		run.counters.Failed++
	}
	snap := run.counters

	isLast := snap.Terminal() && !run.emitted
	if isLast {
		run.emitted = true
	}

	c.bus.Publish(events.ProgressTopic(run.batch.ID), events.Progress{
		BatchID:         run.batch.ID,
		ScriptID:        script.ID,
		Status:          events.WireStatus(script.Status),
		CompletedCount:  snap.Completed,
		FailedCount:     snap.Failed,
		GeneratingCount: snap.Generating,
		TotalCount:      snap.Total,
		Progress:        snap.Progress(),
	})

	if isLast {
		c.bus.Publish(events.CompletedTopic(run.batch.ID), events.Completed{
			BatchID:          run.batch.ID,
			ProjectID:        run.batch.ProjectID,
			TotalScripts:     snap.Total,
			CompletedScripts: snap.Completed,
			FailedScripts:    snap.Failed,
		})
	}

	run.mu.Unlock()

	if isLast {
		c.finalize(ctx, run, snap)
	}
}

// finalize persists the terminal batch state, exports the artifact, and
// retires the in-memory run. The batch is immutable from here on.
func (c *Coordinator) finalize(ctx context.Context, run *batchRun, snap domain.BatchCounters) {
	now := time.Now()
	batch := run.batch
	batch.Status = domain.BatchStatusCompleted
	batch.CompletedScripts = snap.Completed
	batch.FailedScripts = snap.Failed
	batch.CompletedAt = &now
	batch.UpdatedAt = now

	if c.store != nil {
		if err := c.store.FinalizeBatch(ctx, batch); err != nil {
			logger.CtxError(ctx, "Failed to finalize batch %s: %v", batch.ID, err)
		}
	}

	if c.artifacts != nil {
		run.mu.Lock()
		scripts := make([]domain.Script, len(run.scripts))
		copy(scripts, run.scripts)
		run.mu.Unlock()

		if key, err := c.artifacts.ExportBatch(ctx, batch, scripts); err != nil {
			logger.CtxWarn(ctx, "Failed to export batch artifact %s: %v", batch.ID, err)
		} else {
			logger.CtxInfo(ctx, "Exported batch artifact %s to %s", batch.ID, key)
		}
	}

	c.mu.Lock()
	delete(c.runs, batch.ID)
	c.mu.Unlock()

	logger.With(logger.Fields{
		logger.FieldBatchID: batch.ID,
		logger.FieldCount:   snap.Total,
		"completed":         snap.Completed,
		"failed":            snap.Failed,
	}).Info(ctx, "Batch completed")
}

func (c *Coordinator) persistScript(ctx context.Context, script *domain.Script) {
	if c.store == nil {
		return
	}
	if err := c.store.UpdateScript(ctx, script); err != nil {
		logger.CtxWarn(ctx, "Failed to persist script %s: %v", script.ID, err)
	}
}
