package usecase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"ArxivDigest/internal/config"
	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/infrastructure/storage"
)

// fakeBatchAPI records calls and plays back configured responses. Shared by
// the submitter, reconciler, and coordinator tests.
type fakeBatchAPI struct {
	uploads       int
	jobsCreated   int
	lastPayload   []byte
	uploadErr     error
	status        domain.BatchStatus
	statusErr     error
	statusCalls   int
	output        []byte
	downloadErr   error
	downloadCalls int
}

func (f *fakeBatchAPI) Upload(ctx context.Context, name string, payload []byte) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads++
	f.lastPayload = payload
	return fmt.Sprintf("file-%d", f.uploads), nil
}

func (f *fakeBatchAPI) CreateJob(ctx context.Context, inputFileID, completionWindow string, metadata map[string]string) (domain.BatchStatus, error) {
	f.jobsCreated++
	return domain.BatchStatus{ID: fmt.Sprintf("batch-%d", f.jobsCreated), Status: domain.RemoteValidating}, nil
}

func (f *fakeBatchAPI) JobStatus(ctx context.Context, jobID string) (domain.BatchStatus, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return domain.BatchStatus{}, f.statusErr
	}
	status := f.status
	if status.ID == "" {
		status.ID = jobID
	}
	return status, nil
}

func (f *fakeBatchAPI) DownloadOutput(ctx context.Context, fileID string) ([]byte, error) {
	f.downloadCalls++
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.output, nil
}

func newTestState(t *testing.T) *storage.StateStore {
	t.Helper()
	state, err := storage.NewStateStore(t.TempDir())
	if err != nil {
		t.Fatalf("new state store: %v", err)
	}
	return state
}

func testOpenAIConfig() config.OpenAIConfig {
	return config.OpenAIConfig{
		Endpoint:         "https://api.example.org/v1",
		Model:            "gpt-4o-mini",
		APIKey:           "sk-test",
		CompletionWindow: "24h",
	}
}

func newTestSubmitter(api *fakeBatchAPI, state *storage.StateStore) *BatchSubmitter {
	return NewBatchSubmitter(api, state, testOpenAIConfig(), config.PromptConfig{Language: "English"}, nil)
}

func TestSubmitPersistsHandleAndMarker(t *testing.T) {
	t.Parallel()

	api := &fakeBatchAPI{}
	state := newTestState(t)
	submitter := newTestSubmitter(api, state)

	target := day(t, "2025-11-08")
	handle, err := submitter.Submit(context.Background(), target, records("a", "b", "c"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if handle.BatchID != "batch-1" || handle.InputFileID != "file-1" {
		t.Fatalf("unexpected handle: %+v", handle)
	}
	if handle.Day != "2025-11-08" {
		t.Fatalf("unexpected handle day: %s", handle.Day)
	}
	if !state.MarkerExists(target) {
		t.Fatalf("marker missing after submit")
	}
	loaded, err := state.LoadHandle(target)
	if err != nil {
		t.Fatalf("load handle: %v", err)
	}
	if loaded.BatchID != "batch-1" {
		t.Fatalf("persisted handle mismatch: %+v", loaded)
	}
}

func TestSubmitSerializesOneRequestPerRecord(t *testing.T) {
	t.Parallel()

	api := &fakeBatchAPI{}
	submitter := newTestSubmitter(api, newTestState(t))

	if _, err := submitter.Submit(context.Background(), day(t, "2025-11-08"), records("a", "b")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var ids []string
	scan := bufio.NewScanner(bytes.NewReader(api.lastPayload))
	for scan.Scan() {
		var item struct {
			CustomID string `json:"custom_id"`
			URL      string `json:"url"`
			Body     struct {
				Model        string            `json:"model"`
				FunctionCall map[string]string `json:"function_call"`
			} `json:"body"`
		}
		if err := json.Unmarshal(scan.Bytes(), &item); err != nil {
			t.Fatalf("parse request line: %v", err)
		}
		if item.URL != "/v1/chat/completions" {
			t.Fatalf("unexpected request url: %s", item.URL)
		}
		if item.Body.Model != "gpt-4o-mini" {
			t.Fatalf("unexpected model: %s", item.Body.Model)
		}
		if item.Body.FunctionCall["name"] != structureFunctionName {
			t.Fatalf("function call not forced: %v", item.Body.FunctionCall)
		}
		ids = append(ids, item.CustomID)
	}

	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected custom ids: %v", ids)
	}
}

func TestSubmitAdoptsOrphanHandle(t *testing.T) {
	t.Parallel()

	api := &fakeBatchAPI{status: domain.BatchStatus{Status: domain.RemoteInProgress}}
	state := newTestState(t)
	submitter := newTestSubmitter(api, state)

	// Simulate a crash after job creation: handle on disk, marker missing.
	target := day(t, "2025-11-08")
	orphan := domain.JobHandle{BatchID: "batch-orphan", InputFileID: "file-orphan", Day: "2025-11-08", SubmittedAt: time.Now().UTC()}
	if err := state.SaveHandle(orphan); err != nil {
		t.Fatalf("save orphan handle: %v", err)
	}

	handle, err := submitter.Submit(context.Background(), target, records("a"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if handle.BatchID != "batch-orphan" {
		t.Fatalf("expected orphan to be adopted, got %+v", handle)
	}
	if api.jobsCreated != 0 {
		t.Fatalf("duplicate job created: %d", api.jobsCreated)
	}
	if !state.MarkerExists(target) {
		t.Fatalf("marker missing after adoption")
	}
}

func TestSubmitResubmitsWhenOrphanUnknownRemotely(t *testing.T) {
	t.Parallel()

	api := &fakeBatchAPI{statusErr: &domain.APIError{StatusCode: http.StatusNotFound, Message: "no batch found"}}
	state := newTestState(t)
	submitter := newTestSubmitter(api, state)

	target := day(t, "2025-11-08")
	orphan := domain.JobHandle{BatchID: "batch-ghost", Day: "2025-11-08"}
	if err := state.SaveHandle(orphan); err != nil {
		t.Fatalf("save orphan handle: %v", err)
	}

	handle, err := submitter.Submit(context.Background(), target, records("a"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if handle.BatchID != "batch-1" {
		t.Fatalf("expected fresh job, got %+v", handle)
	}
	if api.jobsCreated != 1 {
		t.Fatalf("expected exactly one job, got %d", api.jobsCreated)
	}
}

// An orphan handle whose verification fails for any reason other than a
// definitive 404 must not trigger a resubmission: the remote job may still
// be alive behind the outage.
func TestSubmitInconclusiveOrphanVerificationDoesNotResubmit(t *testing.T) {
	t.Parallel()

	api := &fakeBatchAPI{statusErr: errors.New("read tcp: connection reset by peer")}
	state := newTestState(t)
	submitter := newTestSubmitter(api, state)

	target := day(t, "2025-11-08")
	orphan := domain.JobHandle{BatchID: "batch-orphan", Day: "2025-11-08"}
	if err := state.SaveHandle(orphan); err != nil {
		t.Fatalf("save orphan handle: %v", err)
	}

	_, err := submitter.Submit(context.Background(), target, records("a"))
	var submission *domain.SubmissionError
	if !errors.As(err, &submission) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if api.uploads != 0 || api.jobsCreated != 0 {
		t.Fatalf("no remote mutation may happen: uploads=%d jobs=%d", api.uploads, api.jobsCreated)
	}
	if state.MarkerExists(target) {
		t.Fatalf("no marker may be written while verification is inconclusive")
	}
}
