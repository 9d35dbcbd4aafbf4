package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/ports"
)

// Decision is the outcome of the dedup check for a day.
type Decision string

const (
	// Proceed means the day carries at least one id unseen in history and
	// the full candidate set should be submitted.
	Proceed Decision = "proceed"
	// SkipEmpty means the day is fully redundant with history (or empty)
	// and no job must be created for it.
	SkipEmpty Decision = "skip-empty"
)

// Deduplicator decides whether a day holds genuinely new content by
// comparing its ids against the union of ids stored for prior days inside a
// rolling window. The index is rebuilt from on-disk state per invocation so
// no stale cache survives a restart.
type Deduplicator struct {
	store       ports.RecordStore
	historyDays int
	logger      *slog.Logger
}

// NewDeduplicator wires the record store and the history window.
func NewDeduplicator(store ports.RecordStore, historyDays int, logger *slog.Logger) *Deduplicator {
	if historyDays <= 0 {
		historyDays = 7
	}
	return &Deduplicator{store: store, historyDays: historyDays, logger: logger}
}

// Decide checks candidates for a day against the historical id index.
func (d *Deduplicator) Decide(day time.Time, candidates []domain.Record) (Decision, error) {
	if len(candidates) == 0 {
		return SkipEmpty, nil
	}

	history, err := d.historyIndex(day)
	if err != nil {
		return "", err
	}

	fresh := 0
	for _, record := range candidates {
		if !history[record.ID] {
			fresh++
		}
	}

	d.debug("dedup decision", "day", day.Format(domain.DayFormat),
		"candidates", len(candidates), "history", len(history), "new", fresh)

	if fresh == 0 {
		return SkipEmpty, nil
	}
	return Proceed, nil
}

// historyIndex unions the ids of all raw day files strictly before day,
// bounded by the rolling window.
func (d *Deduplicator) historyIndex(day time.Time) (map[string]bool, error) {
	cutoff := day.AddDate(0, 0, -d.historyDays)

	days, err := d.store.Days()
	if err != nil {
		return nil, fmt.Errorf("list stored days: %w", err)
	}

	index := make(map[string]bool)
	for _, prior := range days {
		if !prior.Before(day) || prior.Before(cutoff) {
			continue
		}
		records, err := d.store.Load(prior)
		if err != nil {
			return nil, fmt.Errorf("load history %s: %w", prior.Format(domain.DayFormat), err)
		}
		for _, record := range records {
			index[record.ID] = true
		}
	}

	return index, nil
}

func (d *Deduplicator) debug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}
