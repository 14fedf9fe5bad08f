// Package orchestrate drives the client side of the revalidation workflow:
// submitting jobs, polling their status at a fixed cadence, tracking the job
// lifecycle through terminal states, validating schedules and projecting run
// history for display.
package orchestrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/driftcms/revalidator/pkg/types"
)

// AuthHeader is the shared-key header expected by the admin API
const AuthHeader = "X-Internal-Auth"

// Client talks to the revalidation admin API over HTTP
type Client struct {
	baseURL    string
	authKey    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an admin API client for the given base URL
func NewClient(baseURL, authKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		authKey: authKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Submit creates a revalidation job and returns its handle.
// Business-rule validation (non-empty routes/tags for their scopes) is the
// caller's responsibility; Submit only serializes the request.
func (c *Client) Submit(ctx context.Context, request types.RevalidationRequest) (types.JobHandle, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return types.JobHandle{}, &SubmissionError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	respBody, statusCode, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/admin/revalidate", body)
	if err != nil {
		c.logger.Error("Job submission request failed", zap.Error(err))
		return types.JobHandle{}, &SubmissionError{Err: err}
	}
	if statusCode < 200 || statusCode > 299 {
		c.logger.Warn("Job submission rejected",
			zap.Int("status_code", statusCode),
			zap.ByteString("response", respBody))
		return types.JobHandle{}, &SubmissionError{
			StatusCode: statusCode,
			Err:        fmt.Errorf("%s", string(respBody)),
		}
	}

	var handle types.JobHandle
	if err := json.Unmarshal(respBody, &handle); err != nil {
		return types.JobHandle{}, &SubmissionError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if handle.JobID == "" {
		return types.JobHandle{}, &SubmissionError{Err: fmt.Errorf("response missing jobId")}
	}

	c.logger.Debug("Job submitted",
		zap.String("job_id", handle.JobID),
		zap.String("environment", string(request.Environment)),
		zap.String("scope", string(request.Scope)))

	return handle, nil
}

// FetchStatus returns the current status snapshot for a job
func (c *Client) FetchStatus(ctx context.Context, jobID string) (types.JobStatus, error) {
	respBody, statusCode, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/admin/revalidate/"+jobID, nil)
	if err != nil {
		return types.JobStatus{}, &PollingFailure{JobID: jobID, Err: err}
	}
	if statusCode < 200 || statusCode > 299 {
		return types.JobStatus{}, &PollingFailure{
			JobID:      jobID,
			StatusCode: statusCode,
			Err:        fmt.Errorf("%s", string(respBody)),
		}
	}

	var status types.JobStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return types.JobStatus{}, &PollingFailure{JobID: jobID, Err: fmt.Errorf("failed to decode status: %w", err)}
	}
	return status, nil
}

// FetchHistory returns the run history, newest first
func (c *Client) FetchHistory(ctx context.Context) ([]types.HistoryEntry, error) {
	respBody, statusCode, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/admin/revalidate/history", nil)
	if err != nil {
		return nil, fmt.Errorf("history fetch failed: %w", err)
	}
	if statusCode < 200 || statusCode > 299 {
		return nil, fmt.Errorf("history fetch returned status %d: %s", statusCode, string(respBody))
	}

	var entries []types.HistoryEntry
	if err := json.Unmarshal(respBody, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return entries, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authKey != "" {
		req.Header.Set(AuthHeader, c.authKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return respBody, resp.StatusCode, nil
}
