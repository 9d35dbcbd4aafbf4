package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ArxivDigest/internal/config"
	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/infrastructure/ledger"
	"ArxivDigest/internal/infrastructure/storage"
)

func TestStatusReportsIndexedIDs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.db")

	store, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	target := time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC)
	if err := store.Save(target, []domain.Record{{ID: "a"}, {ID: "b"}}); err != nil {
		t.Fatalf("save records: %v", err)
	}

	// Seed the processed-id index as if id "a" was reconciled on an earlier day.
	seed, err := ledger.Open(ledgerPath)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	if err := seed.RecordProcessed(context.Background(), "2025-11-07", []string{"a"}); err != nil {
		t.Fatalf("seed processed ids: %v", err)
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("close seed ledger: %v", err)
	}

	var cfg config.Config
	cfg.Storage.DataDir = dir
	cfg.Ledger.Path = ledgerPath

	application, err := New(cfg, Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer application.Close()

	statuses, err := application.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected one day, got %d", len(statuses))
	}
	got := statuses[0]
	if got.Day != "2025-11-08" || got.Records != 2 {
		t.Fatalf("unexpected day status: %+v", got)
	}
	if got.State != domain.StateNotSubmitted {
		t.Fatalf("expected not-submitted, got %s", got.State)
	}
	if got.Indexed != 1 {
		t.Fatalf("expected 1 indexed id, got %d", got.Indexed)
	}
}

func TestStatusWithoutLedger(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	target := time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC)
	if err := store.Save(target, []domain.Record{{ID: "a"}}); err != nil {
		t.Fatalf("save records: %v", err)
	}

	var cfg config.Config
	cfg.Storage.DataDir = dir

	application, err := New(cfg, Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer application.Close()

	statuses, err := application.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Indexed != 0 {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}
