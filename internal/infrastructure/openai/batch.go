package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"ArxivDigest/internal/config"
	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/ports"
)

const completionsEndpoint = "/v1/chat/completions"

// BatchClient implements ports.BatchAPI against OpenAI-compatible batch APIs.
type BatchClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

var _ ports.BatchAPI = (*BatchClient)(nil)

// NewBatchClient builds a client from configuration.
func NewBatchClient(cfg config.OpenAIConfig) *BatchClient {
	return &BatchClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type fileObject struct {
	ID string `json:"id"`
}

type batchObject struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OutputFileID string `json:"output_file_id"`
}

// Upload pushes the serialized request batch as an input artifact with
// purpose "batch" and returns its file id.
func (c *BatchClient) Upload(ctx context.Context, name string, payload []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	if err := form.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", fmt.Errorf("write file part: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/files", &body)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var file fileObject
	if err := c.do(req, &file); err != nil {
		return "", fmt.Errorf("upload batch file: %w", err)
	}
	if file.ID == "" {
		return "", fmt.Errorf("upload batch file: empty file id in response")
	}

	return file.ID, nil
}

// CreateJob creates a batch job over the uploaded artifact with the given
// completion window.
func (c *BatchClient) CreateJob(ctx context.Context, inputFileID, completionWindow string, metadata map[string]string) (domain.BatchStatus, error) {
	payload, err := json.Marshal(map[string]any{
		"input_file_id":     inputFileID,
		"endpoint":          completionsEndpoint,
		"completion_window": completionWindow,
		"metadata":          metadata,
	})
	if err != nil {
		return domain.BatchStatus{}, fmt.Errorf("marshal batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/batches", bytes.NewReader(payload))
	if err != nil {
		return domain.BatchStatus{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var batch batchObject
	if err := c.do(req, &batch); err != nil {
		return domain.BatchStatus{}, fmt.Errorf("create batch job: %w", err)
	}
	if batch.ID == "" {
		return domain.BatchStatus{}, fmt.Errorf("create batch job: empty batch id in response")
	}

	return batch.toStatus(), nil
}

// JobStatus retrieves the current status of a batch job.
func (c *BatchClient) JobStatus(ctx context.Context, jobID string) (domain.BatchStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/batches/"+jobID, nil)
	if err != nil {
		return domain.BatchStatus{}, fmt.Errorf("new request: %w", err)
	}

	var batch batchObject
	if err := c.do(req, &batch); err != nil {
		return domain.BatchStatus{}, fmt.Errorf("retrieve batch %s: %w", jobID, err)
	}

	return batch.toStatus(), nil
}

// DownloadOutput fetches the raw content of the job's output file.
func (c *BatchClient) DownloadOutput(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.apiError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	return raw, nil
}

func (c *BatchClient) do(req *http.Request, v any) error {
	if c.apiKey == "" {
		return fmt.Errorf("api key is not configured")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (c *BatchClient) apiError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &domain.APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    strings.TrimSpace(string(payload)),
	}
}

func (b batchObject) toStatus() domain.BatchStatus {
	return domain.BatchStatus{
		ID:           b.ID,
		Status:       domain.RemoteStatus(b.Status),
		OutputFileID: b.OutputFileID,
	}
}
