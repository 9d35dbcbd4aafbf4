package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ArxivDigest/internal/domain"
)

func day(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(domain.DayFormat, value)
	if err != nil {
		t.Fatalf("parse day %s: %v", value, err)
	}
	return parsed
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	target := day(t, "2025-11-08")
	records := []domain.Record{
		{ID: "2501.00001", Title: "First", Summary: "about things", Categories: []string{"cs.AI"}},
		{ID: "2501.00002", Title: "Second", Categories: []string{"cs.CV", "cs.AI"}},
	}

	if store.Exists(target) {
		t.Fatalf("day should not exist yet")
	}
	if err := store.Save(target, records); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !store.Exists(target) {
		t.Fatalf("day should exist after save")
	}

	loaded, err := store.Load(target)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 records, got %d", len(loaded))
	}
	if loaded[0].ID != "2501.00001" || loaded[1].Title != "Second" {
		t.Fatalf("unexpected records: %+v", loaded)
	}
}

func TestFileStoreLoadMissingDay(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, err = store.Load(day(t, "2025-11-08"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	target := day(t, "2025-11-08")
	if err := store.Save(target, []domain.Record{{ID: "a"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestFileStoreDaysSkipsEnrichedAndForeignFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Save(day(t, "2025-11-08"), []domain.Record{{ID: "a"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(day(t, "2025-11-06"), []domain.Record{{ID: "b"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveEnriched(day(t, "2025-11-06"), []domain.Record{{ID: "b"}}); err != nil {
		t.Fatalf("save enriched: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write foreign file: %v", err)
	}

	days, err := store.Days()
	if err != nil {
		t.Fatalf("days: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d: %v", len(days), days)
	}
	if !days[0].Before(days[1]) {
		t.Fatalf("days not sorted: %v", days)
	}
}

func TestStateStoreMarkerAndHandle(t *testing.T) {
	t.Parallel()

	state, err := NewStateStore(t.TempDir())
	if err != nil {
		t.Fatalf("new state store: %v", err)
	}

	target := day(t, "2025-11-08")
	if state.MarkerExists(target) {
		t.Fatalf("marker should not exist yet")
	}
	if err := state.WriteMarker(target); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if !state.MarkerExists(target) {
		t.Fatalf("marker should exist after write")
	}

	handle := domain.JobHandle{
		BatchID:          "batch_abc",
		InputFileID:      "file_xyz",
		Day:              "2025-11-08",
		Model:            "gpt-4o-mini",
		CompletionWindow: "24h",
		SubmittedAt:      time.Now().UTC().Truncate(time.Second),
	}
	if err := state.SaveHandle(handle); err != nil {
		t.Fatalf("save handle: %v", err)
	}
	if !state.HandleExists(target) {
		t.Fatalf("handle should exist after save")
	}

	loaded, err := state.LoadHandle(target)
	if err != nil {
		t.Fatalf("load handle: %v", err)
	}
	if loaded.BatchID != handle.BatchID || loaded.InputFileID != handle.InputFileID {
		t.Fatalf("unexpected handle: %+v", loaded)
	}

	if err := state.ClearState(target); err != nil {
		t.Fatalf("clear state: %v", err)
	}
	if state.MarkerExists(target) || state.HandleExists(target) {
		t.Fatalf("state files should be gone after clear")
	}

	// Clearing an already-clean day is a no-op.
	if err := state.ClearState(target); err != nil {
		t.Fatalf("clear clean state: %v", err)
	}
}
