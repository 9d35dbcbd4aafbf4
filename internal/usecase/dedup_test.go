package usecase

import (
	"testing"
	"time"

	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/infrastructure/storage"
)

func day(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(domain.DayFormat, value)
	if err != nil {
		t.Fatalf("parse day %s: %v", value, err)
	}
	return parsed
}

func records(ids ...string) []domain.Record {
	result := make([]domain.Record, len(ids))
	for i, id := range ids {
		result[i] = domain.Record{ID: id, Summary: "abstract of " + id}
	}
	return result
}

func newTestStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestDecideEmptyCandidates(t *testing.T) {
	t.Parallel()

	dedup := NewDeduplicator(newTestStore(t), 7, nil)
	decision, err := dedup.Decide(day(t, "2025-11-08"), nil)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision != SkipEmpty {
		t.Fatalf("expected SkipEmpty, got %s", decision)
	}
}

func TestDecideFullyRedundantDay(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Save(day(t, "2025-11-07"), records("a", "b")); err != nil {
		t.Fatalf("save history: %v", err)
	}

	dedup := NewDeduplicator(store, 7, nil)
	decision, err := dedup.Decide(day(t, "2025-11-08"), records("a", "b"))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision != SkipEmpty {
		t.Fatalf("expected SkipEmpty, got %s", decision)
	}
}

func TestDecideProceedsOnAnyNewID(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Save(day(t, "2025-11-07"), records("a")); err != nil {
		t.Fatalf("save history: %v", err)
	}

	dedup := NewDeduplicator(store, 7, nil)
	decision, err := dedup.Decide(day(t, "2025-11-08"), records("a", "b", "c"))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision != Proceed {
		t.Fatalf("expected Proceed, got %s", decision)
	}
}

func TestDecideIgnoresDaysOutsideWindow(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	// Same ids, but ten days back with a 7-day window: invisible to dedup.
	if err := store.Save(day(t, "2025-10-29"), records("a")); err != nil {
		t.Fatalf("save history: %v", err)
	}

	dedup := NewDeduplicator(store, 7, nil)
	decision, err := dedup.Decide(day(t, "2025-11-08"), records("a"))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision != Proceed {
		t.Fatalf("expected Proceed, got %s", decision)
	}
}

func TestDecideIgnoresTargetAndLaterDays(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Save(day(t, "2025-11-08"), records("a")); err != nil {
		t.Fatalf("save target day: %v", err)
	}
	if err := store.Save(day(t, "2025-11-09"), records("a")); err != nil {
		t.Fatalf("save later day: %v", err)
	}

	dedup := NewDeduplicator(store, 7, nil)
	decision, err := dedup.Decide(day(t, "2025-11-08"), records("a"))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision != Proceed {
		t.Fatalf("expected Proceed, got %s", decision)
	}
}
