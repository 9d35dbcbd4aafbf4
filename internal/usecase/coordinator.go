package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/ports"
)

// Outcome is the per-day result surfaced to the external scheduler.
type Outcome string

const (
	OutcomeSubmitted         Outcome = "submitted"
	OutcomeAlreadySubmitted  Outcome = "already-submitted"
	OutcomeSkipEmpty         Outcome = "skip-empty"
	OutcomeReconciled        Outcome = "reconciled"
	OutcomeAlreadyReconciled Outcome = "already-reconciled"
	OutcomeNotSubmitted      Outcome = "not-submitted"
	OutcomeTimeout           Outcome = "timeout"
	OutcomeJobFailed         Outcome = "job-failed"
	OutcomeError             Outcome = "error"
)

const (
	phaseSubmit    = "submit"
	phaseReconcile = "reconcile"
)

// DayResult pairs a day with its outcome for range processing.
type DayResult struct {
	Day     time.Time
	Outcome Outcome
	Err     error
}

// CoordinatorDeps wires the driven components into the two-phase driver.
type CoordinatorDeps struct {
	Store      ports.RecordStore
	State      ports.StateStore
	Dedup      *Deduplicator
	Submitter  *BatchSubmitter
	Reconciler *Reconciler
	Ledger     ports.RunLedger
	Wait       bool
	Logger     *slog.Logger
}

// Coordinator drives a day through the submit-phase / reconcile-phase
// protocol. The two phases are independent entry points sharing on-disk
// state; the remote job may outlive any single invocation.
type Coordinator struct {
	store      ports.RecordStore
	state      ports.StateStore
	dedup      *Deduplicator
	submitter  *BatchSubmitter
	reconciler *Reconciler
	ledger     ports.RunLedger
	wait       bool
	logger     *slog.Logger
}

// NewCoordinator constructs the orchestration component.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	return &Coordinator{
		store:      deps.Store,
		state:      deps.State,
		dedup:      deps.Dedup,
		submitter:  deps.Submitter,
		reconciler: deps.Reconciler,
		ledger:     deps.Ledger,
		wait:       deps.Wait,
		logger:     deps.Logger,
	}
}

// SubmitDay runs the submission phase for one day: marker check, dedup,
// submit. Re-invocation for an already submitted or reconciled day is a
// no-op; SkipEmpty writes no marker and creates no job.
func (c *Coordinator) SubmitDay(ctx context.Context, day time.Time) (Outcome, error) {
	dayKey := day.Format(domain.DayFormat)

	if c.store.EnrichedExists(day) {
		c.info("day already reconciled", "day", dayKey)
		return OutcomeAlreadyReconciled, nil
	}
	if c.state.MarkerExists(day) {
		c.info("day already submitted, awaiting results", "day", dayKey)
		return OutcomeAlreadySubmitted, nil
	}

	records, err := c.store.Load(day)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.info("no data for day", "day", dayKey)
			c.record(ctx, dayKey, phaseSubmit, OutcomeSkipEmpty, "", "no data")
			return OutcomeSkipEmpty, fmt.Errorf("day %s: %w", dayKey, domain.ErrSkipEmpty)
		}
		return OutcomeError, fmt.Errorf("load day %s: %w", dayKey, err)
	}

	decision, err := c.dedup.Decide(day, records)
	if err != nil {
		return OutcomeError, fmt.Errorf("dedup day %s: %w", dayKey, err)
	}
	if decision == SkipEmpty {
		c.info("day fully redundant with history", "day", dayKey, "records", len(records))
		c.record(ctx, dayKey, phaseSubmit, OutcomeSkipEmpty, "", "")
		return OutcomeSkipEmpty, fmt.Errorf("day %s: %w", dayKey, domain.ErrSkipEmpty)
	}

	handle, err := c.submitter.Submit(ctx, day, records)
	if err != nil {
		c.record(ctx, dayKey, phaseSubmit, OutcomeError, "", err.Error())
		return OutcomeError, err
	}

	c.info("submitted batch job", "day", dayKey, "job_id", handle.BatchID, "records", len(records))
	c.record(ctx, dayKey, phaseSubmit, OutcomeSubmitted, handle.BatchID, "")
	return OutcomeSubmitted, nil
}

// ReconcileDay runs the reconciliation phase for one day. A Timeout leaves
// the day submitted for a later retry and is not a pipeline failure.
func (c *Coordinator) ReconcileDay(ctx context.Context, day time.Time) (Outcome, error) {
	dayKey := day.Format(domain.DayFormat)

	if c.store.EnrichedExists(day) {
		c.info("day already reconciled", "day", dayKey)
		return OutcomeAlreadyReconciled, nil
	}
	if !c.state.MarkerExists(day) {
		c.info("day was never submitted", "day", dayKey)
		return OutcomeNotSubmitted, fmt.Errorf("day %s: %w", dayKey, domain.ErrNotSubmitted)
	}

	state, err := c.awaitState(ctx, day)
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			c.info("wait budget exhausted, job still running", "day", dayKey)
			c.record(ctx, dayKey, phaseReconcile, OutcomeTimeout, "", "")
			return OutcomeTimeout, err
		}
		c.record(ctx, dayKey, phaseReconcile, OutcomeError, "", err.Error())
		return OutcomeError, err
	}

	switch state {
	case domain.StateInProgress:
		c.info("job not terminal yet", "day", dayKey)
		c.record(ctx, dayKey, phaseReconcile, OutcomeTimeout, "", "")
		return OutcomeTimeout, fmt.Errorf("day %s: %w", dayKey, domain.ErrTimeout)
	case domain.StateFailed:
		c.info("job ended in a failed state", "day", dayKey)
		c.record(ctx, dayKey, phaseReconcile, OutcomeJobFailed, "", "")
		return OutcomeJobFailed, fmt.Errorf("day %s: %w", dayKey, domain.ErrJobFailed)
	}

	enriched, err := c.reconciler.Reconcile(ctx, day)
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			c.info("remote api unreachable, day stays submitted", "day", dayKey)
			c.record(ctx, dayKey, phaseReconcile, OutcomeTimeout, "", err.Error())
			return OutcomeTimeout, err
		}
		c.record(ctx, dayKey, phaseReconcile, OutcomeError, "", err.Error())
		return OutcomeError, err
	}

	ids := make([]string, len(enriched))
	for i, record := range enriched {
		ids[i] = record.ID
	}
	if c.ledger != nil {
		if err := c.ledger.RecordProcessed(ctx, dayKey, ids); err != nil {
			c.info("ledger processed-id write failed", "day", dayKey, "error", err)
		}
	}

	c.info("reconciled day", "day", dayKey, "records", len(enriched))
	c.record(ctx, dayKey, phaseReconcile, OutcomeReconciled, "", "")
	return OutcomeReconciled, nil
}

// SubmitRange processes days sequentially. The first submission failure
// aborts the remaining days: subsequent cost should not be incurred while
// the pipeline is broken. SkipEmpty days do not abort the range.
func (c *Coordinator) SubmitRange(ctx context.Context, days []time.Time) []DayResult {
	results := make([]DayResult, 0, len(days))
	for _, day := range days {
		outcome, err := c.SubmitDay(ctx, day)
		results = append(results, DayResult{Day: day, Outcome: outcome, Err: err})

		if err != nil && !errors.Is(err, domain.ErrSkipEmpty) {
			c.info("aborting remaining days after submission failure", "day", day.Format(domain.DayFormat))
			break
		}
	}
	return results
}

// ReconcileRange processes days sequentially. A Timeout or reconciliation
// failure on one day is recorded and does not abort its siblings.
func (c *Coordinator) ReconcileRange(ctx context.Context, days []time.Time) []DayResult {
	results := make([]DayResult, 0, len(days))
	for _, day := range days {
		outcome, err := c.ReconcileDay(ctx, day)
		results = append(results, DayResult{Day: day, Outcome: outcome, Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

func (c *Coordinator) awaitState(ctx context.Context, day time.Time) (domain.DayState, error) {
	if c.wait {
		return c.reconciler.Await(ctx, day)
	}
	return c.reconciler.Poll(ctx, day)
}

func (c *Coordinator) record(ctx context.Context, day, phase string, outcome Outcome, jobID, detail string) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.RecordRun(ctx, day, phase, string(outcome), jobID, detail); err != nil {
		c.info("ledger run write failed", "day", day, "error", err)
	}
}

func (c *Coordinator) info(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}
