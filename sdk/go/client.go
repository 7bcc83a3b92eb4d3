// Package timetablesdk is a small client for the timetable generation HTTP API.
package timetablesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
)

// DefaultTimeout bounds each request made by a Client from New.
const DefaultTimeout = 10 * time.Second

// Client talks to the generation service. A nil HTTPClient falls back to
// http.DefaultClient. Configure fields before sharing a Client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// APIError wraps non-2xx responses. Code and Message are filled from the
// service's error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// DomainUpdate is the body of a validation domain update.
type DomainUpdate struct {
	Status     domain.DomainStatus `json:"status"`
	Count      int                 `json:"count"`
	Issues     []domain.Issue      `json:"issues,omitempty"`
	IssueCount *int                `json:"issue_count,omitempty"`
}

// FetchValidationSnapshot returns the readiness of every validation domain.
func (c *Client) FetchValidationSnapshot(ctx context.Context) (domain.ValidationSnapshot, error) {
	var resp domain.ValidationSnapshot
	err := c.do(ctx, http.MethodGet, "v0/validation", nil, &resp)
	return resp, err
}

// SetDomain records the validation state of one domain.
func (c *Client) SetDomain(ctx context.Context, d domain.ValidationDomain, update DomainUpdate) (domain.ValidationSnapshot, error) {
	var resp domain.ValidationSnapshot
	endpoint := fmt.Sprintf("v0/validation/%s", url.PathEscape(string(d)))
	err := c.do(ctx, http.MethodPut, endpoint, update, &resp)
	return resp, err
}

// FetchAlgorithmCatalog lists the algorithms the service can run.
func (c *Client) FetchAlgorithmCatalog(ctx context.Context) ([]domain.AlgorithmDescriptor, error) {
	var resp struct {
		Items []domain.AlgorithmDescriptor `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/algorithms", nil, &resp)
	return resp.Items, err
}

// FetchOptimizationGoals lists the selectable optimization goals.
func (c *Client) FetchOptimizationGoals(ctx context.Context) ([]domain.OptimizationGoal, error) {
	var resp struct {
		Items []domain.OptimizationGoal `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/optimization-goals", nil, &resp)
	return resp.Items, err
}

// SubmitGeneration starts a generation job.
func (c *Client) SubmitGeneration(ctx context.Context, req domain.GenerationRequest) (domain.SubmitResult, error) {
	var resp domain.SubmitResult
	err := c.do(ctx, http.MethodPost, "v0/timetables/generate", req, &resp)
	return resp, err
}

// FetchJobStatus returns the current state of a job.
func (c *Client) FetchJobStatus(ctx context.Context, jobID string) (domain.GenerationJob, error) {
	var resp domain.GenerationJob
	endpoint := fmt.Sprintf("v0/jobs/%s", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListJobs returns jobs, newest first, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.GenerationJob, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v0/jobs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []domain.GenerationJob `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DevLogin mints a bearer token for actorID on a service running in dev mode.
func (c *Client) DevLogin(ctx context.Context, actorID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", map[string]string{"actor_id": actorID}, &resp)
	return resp.Token, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
