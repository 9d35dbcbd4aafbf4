package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ArxivDigest/internal/config"
	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/infrastructure/ledger"
	"ArxivDigest/internal/infrastructure/openai"
	"ArxivDigest/internal/infrastructure/storage"
	"ArxivDigest/internal/logging"
	"ArxivDigest/internal/ports"
	"ArxivDigest/internal/usecase"
)

// Application wires configs to use cases and owns closable resources.
type Application struct {
	cfg         config.Config
	store       *storage.FileStore
	state       *storage.StateStore
	runLedger   ports.RunLedger
	coordinator *usecase.Coordinator
	logger      *slog.Logger
}

// Options tune per-invocation behavior of the coordinator.
type Options struct {
	Wait    bool
	MaxWait time.Duration
}

// New builds a runnable application instance.
func New(cfg config.Config, opts Options, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.NewFileStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	state, err := storage.NewStateStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	var runLedger ports.RunLedger
	if cfg.Ledger.Path != "" {
		runLedger, err = ledger.Open(cfg.Ledger.Path)
		if err != nil {
			// The ledger is audit-only; a broken ledger must not block the
			// pipeline.
			baseLogger.Warn("run ledger unavailable", "path", cfg.Ledger.Path, "error", err)
			runLedger = nil
		}
	}

	poll := usecase.PollSettings{
		Interval: cfg.Poll.IntervalDuration(),
		MaxWait:  cfg.Poll.MaxWaitDuration(),
	}
	if opts.MaxWait > 0 {
		poll.MaxWait = opts.MaxWait
	}

	api := openai.NewBatchClient(cfg.OpenAI)
	dedup := usecase.NewDeduplicator(store, cfg.Dedup.HistoryDays, baseLogger.With("component", "dedup"))
	submitter := usecase.NewBatchSubmitter(api, state, cfg.OpenAI, cfg.Prompt, baseLogger.With("component", "submitter"))
	reconciler := usecase.NewReconciler(api, store, state, poll, baseLogger.With("component", "reconciler"))

	coordinator := usecase.NewCoordinator(usecase.CoordinatorDeps{
		Store:      store,
		State:      state,
		Dedup:      dedup,
		Submitter:  submitter,
		Reconciler: reconciler,
		Ledger:     runLedger,
		Wait:       opts.Wait,
		Logger:     baseLogger.With("component", "coordinator"),
	})

	return &Application{
		cfg:         cfg,
		store:       store,
		state:       state,
		runLedger:   runLedger,
		coordinator: coordinator,
		logger:      baseLogger,
	}, nil
}

// Coordinator exposes the two-phase driver.
func (a *Application) Coordinator() *usecase.Coordinator {
	return a.coordinator
}

// DayStatus summarizes the on-disk state of one day for the status command.
// Indexed counts the day's ids already present in the ledger's processed-id
// index; for a reconciled day it equals Records.
type DayStatus struct {
	Day     string
	Records int
	State   domain.DayState
	JobID   string
	Indexed int
}

// Status reports every stored day with its current lifecycle state.
func (a *Application) Status(ctx context.Context) ([]DayStatus, error) {
	days, err := a.store.Days()
	if err != nil {
		return nil, err
	}

	statuses := make([]DayStatus, 0, len(days))
	for _, day := range days {
		records, err := a.store.Load(day)
		if err != nil {
			return nil, err
		}

		status := DayStatus{
			Day:     day.Format(domain.DayFormat),
			Records: len(records),
			State:   domain.StateNotSubmitted,
		}
		switch {
		case a.store.EnrichedExists(day):
			status.State = domain.StateReconciled
		case a.state.MarkerExists(day):
			status.State = domain.StateSubmitted
		}
		if handle, err := a.state.LoadHandle(day); err == nil {
			status.JobID = handle.BatchID
		}

		if a.runLedger != nil && len(records) > 0 {
			ids := make([]string, len(records))
			for i, record := range records {
				ids[i] = record.ID
			}
			indexed, err := a.runLedger.AlreadyProcessed(ctx, ids)
			if err != nil {
				a.logger.Warn("ledger processed-id query failed", "day", status.Day, "error", err)
			} else {
				status.Indexed = len(indexed)
			}
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// Close releases the ledger handle.
func (a *Application) Close() error {
	if a.runLedger == nil {
		return nil
	}
	return a.runLedger.Close()
}
