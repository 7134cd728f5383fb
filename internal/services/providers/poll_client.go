// -----------------------------------------------------------------------
// Poll Client - generic HTTP provider with a submit/poll/result job API
// -----------------------------------------------------------------------

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

// pollClient talks to an external job service exposing the conventional
// submit/status/result endpoints. Auth is OAuth2 client credentials when a
// token endpoint is configured, otherwise plain HTTP.
type pollClient struct {
	name       string
	kind       models.JobKind
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

func newPollClient(name string, kind models.JobKind, config common.PollAPIConfig, logger arbor.ILogger) (*pollClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%s provider requires a base URL", name)
	}

	timeout := common.ParseDurationOr(config.RequestTimeout, 30*time.Second)
	spacing := common.ParseDurationOr(config.RateLimit, time.Second)

	httpClient := &http.Client{Timeout: timeout}
	if config.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     config.TokenURL,
		}
		httpClient = creds.Client(context.Background())
		httpClient.Timeout = timeout
	}

	logger.Info().
		Str("provider", name).
		Str("base_url", config.BaseURL).
		Bool("oauth", config.TokenURL != "").
		Msg("Polling provider initialized")

	return &pollClient{
		name:       name,
		kind:       kind,
		baseURL:    config.BaseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(spacing), 1),
		logger:     logger,
	}, nil
}

func (c *pollClient) Name() string         { return c.name }
func (c *pollClient) Kind() models.JobKind { return c.kind }

type submitResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Status    string  `json:"status"`
	Progress  int     `json:"progress"`
	Stage     string  `json:"stage,omitempty"`
	ResultURL string  `json:"result_url,omitempty"`
	Duration  float64 `json:"duration_seconds,omitempty"`
	SizeBytes int64   `json:"size_bytes,omitempty"`
	Error     string  `json:"error,omitempty"`
	Retryable bool    `json:"retryable,omitempty"`
}

// Submit posts the job and returns the provider-assigned id.
func (c *pollClient) Submit(ctx context.Context, spec models.JobSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", models.NewTerminalError(c.name, err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"subject_id": spec.SubjectID,
		"kind":       spec.Kind,
		"input":      spec.Input,
	})
	if err != nil {
		return "", models.NewTerminalError(c.name, fmt.Errorf("failed to encode job request: %w", err))
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", models.NewTerminalError(c.name, fmt.Errorf("provider accepted job but returned no id"))
	}

	c.logger.Debug().
		Str("provider", c.name).
		Str("subject_id", spec.SubjectID).
		Str("external_id", resp.JobID).
		Msg("Job submitted")
	return resp.JobID, nil
}

// PollStatus fetches the current job status.
func (c *pollClient) PollStatus(ctx context.Context, externalJobID string) (models.StatusSnapshot, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+externalJobID, nil, &resp); err != nil {
		return models.StatusSnapshot{}, err
	}
	return c.toSnapshot(resp)
}

// FetchResult fetches the artifact reference for a completed job.
func (c *pollClient) FetchResult(ctx context.Context, externalJobID string) (*models.ResultRef, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+externalJobID+"/result", nil, &resp); err != nil {
		return nil, err
	}
	if resp.ResultURL == "" {
		return nil, fmt.Errorf("provider returned no result url for %s", externalJobID)
	}
	return &models.ResultRef{
		URL:             resp.ResultURL,
		DurationSeconds: resp.Duration,
		SizeBytes:       resp.SizeBytes,
	}, nil
}

func (c *pollClient) toSnapshot(resp statusResponse) (models.StatusSnapshot, error) {
	snap := models.StatusSnapshot{
		Progress:  resp.Progress,
		Stage:     resp.Stage,
		Error:     resp.Error,
		Retryable: resp.Retryable,
	}
	switch resp.Status {
	case "queued", "pending":
		snap.Status = models.JobStatusPending
	case "processing", "running", "in_progress":
		snap.Status = models.JobStatusProcessing
	case "completed", "succeeded":
		snap.Status = models.JobStatusCompleted
		if resp.ResultURL != "" {
			snap.Result = &models.ResultRef{
				URL:             resp.ResultURL,
				DurationSeconds: resp.Duration,
				SizeBytes:       resp.SizeBytes,
			}
		}
	case "failed", "error":
		snap.Status = models.JobStatusFailed
	case "cancelled", "canceled":
		snap.Status = models.JobStatusCancelled
	default:
		return models.StatusSnapshot{}, models.NewTransientError(c.name, fmt.Errorf("unknown provider status: %q", resp.Status))
	}
	return snap, nil
}

// do executes one rate-limited request and decodes the JSON response.
// Network failures and retryable statuses surface as transient errors,
// other non-2xx statuses as terminal.
func (c *pollClient) do(ctx context.Context, method, path string, body io.Reader, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.NewTransientError(c.name, fmt.Errorf("rate limiter wait aborted: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return models.NewTerminalError(c.name, fmt.Errorf("failed to create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewTransientError(c.name, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, string(payload))
		if transientHTTPStatus(resp.StatusCode) {
			return models.NewTransientError(c.name, cause)
		}
		return models.NewTerminalError(c.name, cause)
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return models.NewTransientError(c.name, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

var _ interfaces.ProviderClient = (*pollClient)(nil)
