package ports

import (
	"context"
	"time"

	"ArxivDigest/internal/domain"
)

// RecordStore persists per-day record files.
type RecordStore interface {
	Load(day time.Time) ([]domain.Record, error)
	Save(day time.Time, records []domain.Record) error
	Exists(day time.Time) bool
	LoadEnriched(day time.Time) ([]domain.Record, error)
	SaveEnriched(day time.Time, records []domain.Record) error
	EnrichedExists(day time.Time) bool
	Days() ([]time.Time, error)
}

// StateStore persists the marker and job-handle facts that survive restarts.
// The marker and the handle are deliberately separate files: a crash between
// remote job creation and local persistence must be distinguishable from
// "never submitted".
type StateStore interface {
	MarkerExists(day time.Time) bool
	WriteMarker(day time.Time) error
	SaveHandle(handle domain.JobHandle) error
	LoadHandle(day time.Time) (domain.JobHandle, error)
	HandleExists(day time.Time) bool
	ClearState(day time.Time) error
}

// BatchAPI is the remote asynchronous completion job API.
type BatchAPI interface {
	Upload(ctx context.Context, name string, payload []byte) (string, error)
	CreateJob(ctx context.Context, inputFileID, completionWindow string, metadata map[string]string) (domain.BatchStatus, error)
	JobStatus(ctx context.Context, jobID string) (domain.BatchStatus, error)
	DownloadOutput(ctx context.Context, fileID string) ([]byte, error)
}

// RunLedger records coordinator outcomes and reconciled ids for audit and
// the persisted processed-id index. Ledger failures must never stall the
// pipeline; callers log and continue.
type RunLedger interface {
	RecordRun(ctx context.Context, day, phase, outcome, jobID, detail string) error
	RecordProcessed(ctx context.Context, day string, ids []string) error
	AlreadyProcessed(ctx context.Context, ids []string) (map[string]bool, error)
	Close() error
}
