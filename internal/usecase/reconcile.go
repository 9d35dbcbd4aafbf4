package usecase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/ports"
)

const transientRetries = 3

// PollSettings bound the wait-until-terminal mode.
type PollSettings struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// Reconciler polls a day's batch job and merges completed output back onto
// the day's raw records, producing the enriched file.
type Reconciler struct {
	api          ports.BatchAPI
	store        ports.RecordStore
	state        ports.StateStore
	poll         PollSettings
	retryInitial time.Duration
	logger       *slog.Logger
}

// NewReconciler wires the remote API and the local stores.
func NewReconciler(api ports.BatchAPI, store ports.RecordStore, state ports.StateStore, poll PollSettings, logger *slog.Logger) *Reconciler {
	if poll.Interval <= 0 {
		poll.Interval = time.Minute
	}
	return &Reconciler{api: api, store: store, state: state, poll: poll, retryInitial: 500 * time.Millisecond, logger: logger}
}

// Poll returns the day's current state with a single status query.
func (r *Reconciler) Poll(ctx context.Context, day time.Time) (domain.DayState, error) {
	status, err := r.jobStatus(ctx, day)
	if err != nil {
		return "", err
	}
	return status.DayState(), nil
}

// Await polls on a fixed interval until the job is terminal or the wait
// budget is exhausted. Exhausting the budget is ErrTimeout, not a job
// failure; the day stays submitted for a later invocation.
func (r *Reconciler) Await(ctx context.Context, day time.Time) (domain.DayState, error) {
	deadline := time.Now().Add(r.poll.MaxWait)
	for {
		state, err := r.Poll(ctx, day)
		if err != nil {
			return "", err
		}
		if state != domain.StateInProgress {
			return state, nil
		}

		if time.Now().After(deadline) {
			return domain.StateInProgress, fmt.Errorf("day %s: %w", day.Format(domain.DayFormat), domain.ErrTimeout)
		}

		r.debug("job still in progress", "day", day.Format(domain.DayFormat), "interval", r.poll.Interval.String())
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.poll.Interval):
		}
	}
}

// Reconcile downloads and validates the completed output, merges it onto the
// raw records by id, and writes the enriched file. The enriched id set always
// equals the input id set; missing results carry the unavailable sentinel.
func (r *Reconciler) Reconcile(ctx context.Context, day time.Time) ([]domain.Record, error) {
	dayKey := day.Format(domain.DayFormat)

	handle, err := r.state.LoadHandle(day)
	if err != nil {
		return nil, &domain.ReconciliationError{Day: dayKey, Reason: "load handle", Err: err}
	}

	status, err := r.jobStatus(ctx, day)
	if err != nil {
		return nil, err
	}
	if status.DayState() != domain.StateCompleted {
		return nil, &domain.ReconciliationError{Day: dayKey, Reason: fmt.Sprintf("job %s is %s, not completed", handle.BatchID, status.Status)}
	}
	if status.OutputFileID == "" {
		return nil, &domain.ReconciliationError{Day: dayKey, Reason: "completed job has no output file"}
	}

	output, err := r.download(ctx, status.OutputFileID)
	if err != nil {
		// An unreachable remote is not a reconciliation failure: the day stays
		// submitted and a later invocation retries the download.
		if errors.Is(err, domain.ErrTimeout) {
			return nil, fmt.Errorf("day %s: %w", dayKey, err)
		}
		return nil, &domain.ReconciliationError{Day: dayKey, Reason: "download output", Err: err}
	}

	results, err := parseResults(output)
	if err != nil {
		return nil, &domain.ReconciliationError{Day: dayKey, Reason: "parse output", Err: err}
	}

	records, err := r.store.Load(day)
	if err != nil {
		return nil, &domain.ReconciliationError{Day: dayKey, Reason: "load raw records", Err: err}
	}

	enriched, matched := merge(records, results)
	if matched == 0 {
		return nil, &domain.ReconciliationError{Day: dayKey, Reason: "no result matched any input id"}
	}
	r.debug("merged batch output", "day", dayKey, "records", len(enriched), "matched", matched)

	if err := r.store.SaveEnriched(day, enriched); err != nil {
		return nil, &domain.ReconciliationError{Day: dayKey, Reason: "write enriched file", Err: err}
	}

	if err := r.state.ClearState(day); err != nil {
		// Enriched file is already in place; stale state files only cost a
		// no-op on the next invocation.
		r.debug("clear state failed", "day", dayKey, "error", err)
	}

	return enriched, nil
}

func (r *Reconciler) jobStatus(ctx context.Context, day time.Time) (domain.BatchStatus, error) {
	handle, err := r.state.LoadHandle(day)
	if err != nil {
		return domain.BatchStatus{}, fmt.Errorf("day %s: %w", day.Format(domain.DayFormat), domain.ErrNotSubmitted)
	}

	var status domain.BatchStatus
	operation := func() error {
		var opErr error
		status, opErr = r.api.JobStatus(ctx, handle.BatchID)
		return classifyTransient(opErr)
	}

	if err := backoff.Retry(operation, r.retryPolicy(ctx)); err != nil {
		return domain.BatchStatus{}, retriesSpent(fmt.Sprintf("poll job %s", handle.BatchID), err)
	}

	return status, nil
}

func (r *Reconciler) download(ctx context.Context, fileID string) ([]byte, error) {
	var output []byte
	operation := func() error {
		var opErr error
		output, opErr = r.api.DownloadOutput(ctx, fileID)
		return classifyTransient(opErr)
	}

	if err := backoff.Retry(operation, r.retryPolicy(ctx)); err != nil {
		return nil, retriesSpent("download file "+fileID, err)
	}

	return output, nil
}

func (r *Reconciler) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryInitial
	return backoff.WithContext(backoff.WithMaxRetries(policy, transientRetries), ctx)
}

// classifyTransient stops the retry loop on errors a retry cannot fix, such
// as auth failures or malformed requests.
func classifyTransient(err error) error {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && !apiErr.Transient() {
		return backoff.Permanent(err)
	}
	return err
}

// retriesSpent maps an exhausted transient-retry budget onto ErrTimeout: the
// remote side was unreachable, the day stays submitted, and a later
// invocation retries. Permanent API errors and context cancellation pass
// through unchanged.
func retriesSpent(what string, err error) error {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && !apiErr.Transient() {
		return fmt.Errorf("%s: %w", what, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%s: %w: %w", what, err, domain.ErrTimeout)
}

// merge attaches results by id, falling back to the unavailable sentinel so
// the output id set always equals the input id set.
func merge(records []domain.Record, results map[string]*domain.Enrichment) ([]domain.Record, int) {
	matched := 0
	enriched := make([]domain.Record, len(records))
	for i, record := range records {
		if result, ok := results[record.ID]; ok {
			record.Enrichment = result
			matched++
		} else {
			record.Enrichment = domain.Unavailable()
		}
		enriched[i] = record
	}
	return enriched, matched
}

type resultLine struct {
	CustomID string `json:"custom_id"`
	Response struct {
		Body struct {
			Choices []struct {
				Message struct {
					FunctionCall *functionCall `json:"function_call"`
					ToolCalls    []toolCall    `json:"tool_calls"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolCall struct {
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

// parseResults decodes the downloaded output JSONL into per-id enrichments.
// Relevance values outside the closed set fail the whole day; a line without
// a Structure call is skipped so its record picks up the sentinel on merge.
func parseResults(output []byte) (map[string]*domain.Enrichment, error) {
	results := make(map[string]*domain.Enrichment)

	scan := bufio.NewScanner(bytes.NewReader(output))
	scan.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scan.Bytes())
		if len(raw) == 0 {
			continue
		}

		var line resultLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if line.CustomID == "" {
			return nil, fmt.Errorf("line %d: missing custom_id", lineNo)
		}

		call := extractStructureCall(line)
		if call == nil {
			continue
		}

		var payload struct {
			TLDR       string   `json:"tldr"`
			Motivation string   `json:"motivation"`
			Method     string   `json:"method"`
			Result     string   `json:"result"`
			Conclusion string   `json:"conclusion"`
			Relevance  string   `json:"relevance"`
			Tags       []string `json:"tags"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &payload); err != nil {
			return nil, fmt.Errorf("line %d (%s): function arguments: %w", lineNo, line.CustomID, err)
		}

		relevance, err := domain.ParseRelevance(payload.Relevance)
		if err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", lineNo, line.CustomID, err)
		}

		results[line.CustomID] = &domain.Enrichment{
			TLDR:       payload.TLDR,
			Motivation: payload.Motivation,
			Method:     payload.Method,
			Result:     payload.Result,
			Conclusion: payload.Conclusion,
			Relevance:  relevance,
			Tags:       payload.Tags,
		}
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("scan output: %w", err)
	}

	return results, nil
}

// extractStructureCall handles both the function_call and tool_calls wire
// formats the completions API has emitted over time.
func extractStructureCall(line resultLine) *functionCall {
	if len(line.Response.Body.Choices) == 0 {
		return nil
	}
	message := line.Response.Body.Choices[0].Message

	if message.FunctionCall != nil && message.FunctionCall.Name == structureFunctionName {
		return message.FunctionCall
	}
	for _, call := range message.ToolCalls {
		if call.Type == "function" && call.Function.Name == structureFunctionName {
			return &call.Function
		}
	}
	return nil
}

func (r *Reconciler) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
