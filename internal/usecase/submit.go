package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ArxivDigest/internal/config"
	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/ports"
)

const systemPromptFmt = "You are an expert research assistant. Read the paper abstract " +
	"you are given and respond by calling the Structure function. Write every field in %s."

const userPromptFmt = `Analyze the following paper abstract.

User interests: %s

Abstract:
%s`

const structureFunctionName = "Structure"

// BatchSubmitter turns a day's records into an enrichment request batch,
// uploads it, creates the remote job, and persists the handle plus marker.
type BatchSubmitter struct {
	api    ports.BatchAPI
	state  ports.StateStore
	openAI config.OpenAIConfig
	prompt config.PromptConfig
	logger *slog.Logger
}

// NewBatchSubmitter wires the remote API and local state persistence.
func NewBatchSubmitter(api ports.BatchAPI, state ports.StateStore, openAI config.OpenAIConfig, prompt config.PromptConfig, logger *slog.Logger) *BatchSubmitter {
	return &BatchSubmitter{api: api, state: state, openAI: openAI, prompt: prompt, logger: logger}
}

// Submit runs the four submission steps for a day. Each step fails fast with
// a SubmissionError; no retry happens inside this call.
//
// If a previous run crashed after job creation but before the marker write,
// a handle file exists without a marker. The live job is then adopted (the
// marker is rewritten) instead of creating a duplicate.
func (s *BatchSubmitter) Submit(ctx context.Context, day time.Time, records []domain.Record) (domain.JobHandle, error) {
	dayKey := day.Format(domain.DayFormat)

	if handle, ok, err := s.adoptOrphan(ctx, day); err != nil {
		return domain.JobHandle{}, err
	} else if ok {
		return handle, nil
	}

	payload, err := s.serializeRequests(records)
	if err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{Day: dayKey, Step: "serialize requests", Err: err}
	}

	fileID, err := s.api.Upload(ctx, dayKey+".requests.jsonl", payload)
	if err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{Day: dayKey, Step: "upload artifact", Err: err}
	}
	s.debug("uploaded batch input", "day", dayKey, "file_id", fileID, "records", len(records))

	status, err := s.api.CreateJob(ctx, fileID, s.openAI.CompletionWindow, map[string]string{
		"description": "daily paper enrichment",
		"day":         dayKey,
	})
	if err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{Day: dayKey, Step: "create job", Err: err}
	}
	s.debug("created batch job", "day", dayKey, "job_id", status.ID, "status", string(status.Status))

	handle := domain.JobHandle{
		BatchID:          status.ID,
		InputFileID:      fileID,
		Day:              dayKey,
		Model:            s.openAI.Model,
		CompletionWindow: s.openAI.CompletionWindow,
		SubmittedAt:      time.Now().UTC(),
	}

	if err := s.state.SaveHandle(handle); err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{Day: dayKey, Step: "persist handle", Err: err}
	}
	if err := s.state.WriteMarker(day); err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{Day: dayKey, Step: "write marker", Err: err}
	}

	return handle, nil
}

// adoptOrphan closes the at-least-once gap: a handle without a marker means
// the marker write failed after job creation. The job id is verified against
// the remote side before any new job is created.
func (s *BatchSubmitter) adoptOrphan(ctx context.Context, day time.Time) (domain.JobHandle, bool, error) {
	if !s.state.HandleExists(day) || s.state.MarkerExists(day) {
		return domain.JobHandle{}, false, nil
	}

	dayKey := day.Format(domain.DayFormat)
	handle, err := s.state.LoadHandle(day)
	if err != nil {
		return domain.JobHandle{}, false, &domain.SubmissionError{Day: dayKey, Step: "load orphan handle", Err: err}
	}

	if _, err := s.api.JobStatus(ctx, handle.BatchID); err != nil {
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			s.debug("orphan handle job not found remotely, resubmitting", "day", dayKey, "job_id", handle.BatchID)
			return domain.JobHandle{}, false, nil
		}
		// Anything else (network, auth, rate limit) is inconclusive; creating
		// a new job here could duplicate a live one.
		return domain.JobHandle{}, false, &domain.SubmissionError{Day: dayKey, Step: "verify orphan job", Err: err}
	}

	if err := s.state.WriteMarker(day); err != nil {
		return domain.JobHandle{}, false, &domain.SubmissionError{Day: dayKey, Step: "write marker", Err: err}
	}
	s.debug("adopted orphan batch job", "day", dayKey, "job_id", handle.BatchID)

	return handle, true, nil
}

// serializeRequests emits one chat-completions request item per record,
// tagged with the record id so results can be rejoined after download.
func (s *BatchSubmitter) serializeRequests(records []domain.Record) ([]byte, error) {
	interest := s.prompt.Interest
	if interest == "" {
		interest = "No interest provided"
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		item := requestItem{
			CustomID: record.ID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body: chatBody{
				Model: s.openAI.Model,
				Messages: []chatMessage{
					{Role: "system", Content: fmt.Sprintf(systemPromptFmt, s.prompt.Language)},
					{Role: "user", Content: fmt.Sprintf(userPromptFmt, interest, record.Summary)},
				},
				Functions:    []functionDef{structureFunction()},
				FunctionCall: map[string]string{"name": structureFunctionName},
			},
		}
		if err := encoder.Encode(item); err != nil {
			return nil, fmt.Errorf("encode request %s: %w", record.ID, err)
		}
	}

	return buf.Bytes(), nil
}

type requestItem struct {
	CustomID string   `json:"custom_id"`
	Method   string   `json:"method"`
	URL      string   `json:"url"`
	Body     chatBody `json:"body"`
}

type chatBody struct {
	Model        string            `json:"model"`
	Messages     []chatMessage     `json:"messages"`
	Functions    []functionDef     `json:"functions"`
	FunctionCall map[string]string `json:"function_call"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// structureFunction is the fixed output schema every request demands: a
// short summary plus a relevance classification from the closed set.
func structureFunction() functionDef {
	return functionDef{
		Name:        structureFunctionName,
		Description: "Analyze a paper abstract and extract key information",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tldr":       map[string]any{"type": "string", "description": "a too long; didn't read summary"},
				"motivation": map[string]any{"type": "string", "description": "motivation of this paper"},
				"method":     map[string]any{"type": "string", "description": "method of this paper"},
				"result":     map[string]any{"type": "string", "description": "result of this paper"},
				"conclusion": map[string]any{"type": "string", "description": "conclusion of this paper"},
				"relevance": map[string]any{
					"type":        "string",
					"description": "relevance between the abstract and user interests",
					"enum": []string{
						string(domain.RelevanceHigh),
						string(domain.RelevanceMedium),
						string(domain.RelevanceLow),
						string(domain.RelevanceIrrelevant),
					},
				},
				"tags": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "free-form topic tags",
				},
			},
			"required": []string{"tldr", "relevance"},
		},
	}
}

func (s *BatchSubmitter) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
