// Package keygated is a Go client for the keygated daemon REST API.
package keygated

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Job types accepted by the daemon.
const (
	JobCreateWallet = "create_wallet"
	JobGetBalance   = "get_balance"
	JobGetAddress   = "get_address"
	JobTransfer     = "transfer"
	JobPrompt       = "prompt"
)

// Client wraps the HTTP interactions with the keygated API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// JobPayload carries the type specific job arguments.
type JobPayload struct {
	To      string `json:"to,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Message string `json:"message,omitempty"`
}

// JobRequest is the payload required to create a new job. A non-empty ID makes
// the submission idempotent.
type JobRequest struct {
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type"`
	WalletID string     `json:"wallet_id,omitempty"`
	Payload  JobPayload `json:"payload"`
}

// JobResult is the outcome of a succeeded job.
type JobResult struct {
	WalletID   string `json:"wallet_id,omitempty"`
	Address    string `json:"address,omitempty"`
	Balance    string `json:"balance,omitempty"`
	BalanceE8s uint64 `json:"balance_e8s,omitempty"`
	Intent     string `json:"intent,omitempty"`
	Reply      string `json:"reply,omitempty"`
}

// Job is the daemon's view of a queued wallet job.
type Job struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	WalletID   string     `json:"wallet_id,omitempty"`
	Payload    JobPayload `json:"payload"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"max_retries"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
	CreatedAt  int64      `json:"created_at"`
	UpdatedAt  int64      `json:"updated_at"`
}

// Done reports whether the job reached a terminal status.
func (j Job) Done() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// JobStats aggregates job counts by status and by job type.
type JobStats struct {
	Total           int            `json:"total"`
	Pending         int            `json:"pending"`
	Running         int            `json:"running"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	ByType          map[string]int `json:"by_type,omitempty"`
	OldestUpdatedAt int64          `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64          `json:"newest_updated_at,omitempty"`
}

// ListQuery filters ListJobs and Stats.
type ListQuery struct {
	Statuses  []string
	Types     []string
	WalletID  string
	Limit     int
	Offset    int
	Ascending bool
}

func (q ListQuery) encode() string {
	values := url.Values{}
	if len(q.Statuses) > 0 {
		values.Set("status", strings.Join(q.Statuses, ","))
	}
	if len(q.Types) > 0 {
		values.Set("type", strings.Join(q.Types, ","))
	}
	if q.WalletID != "" {
		values.Set("wallet_id", q.WalletID)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Ascending {
		values.Set("order", "asc")
	}
	return values.Encode()
}

// AgentReply is the response of SendMessage.
type AgentReply struct {
	Agent string `json:"agent"`
	Reply string `json:"reply"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("keygated api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("keygated api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the keygated API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the currently stored bearer token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token sent with every API call. Static
// tokens and JWTs are both accepted by the daemon.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SubmitJob creates a new job.
func (c *Client) SubmitJob(ctx context.Context, req JobRequest) (Job, error) {
	var job Job
	if err := c.post(ctx, "/api/v1/jobs", req, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob fetches a job by identifier.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return Job{}, errors.New("keygated: job id is required")
	}
	var job Job
	if err := c.get(ctx, "/api/v1/jobs/"+jobID, "", &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// ListJobs returns jobs matching the query.
func (c *Client) ListJobs(ctx context.Context, q ListQuery) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.get(ctx, "/api/v1/jobs", q.encode(), &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Stats returns aggregated job counts.
func (c *Client) Stats(ctx context.Context, q ListQuery) (JobStats, error) {
	var stats JobStats
	if err := c.get(ctx, "/api/v1/jobs/stats", q.encode(), &stats); err != nil {
		return JobStats{}, err
	}
	return stats, nil
}

// Wallets lists the wallet IDs persisted by the daemon.
func (c *Client) Wallets(ctx context.Context) ([]string, error) {
	var out struct {
		WalletIDs []string `json:"wallet_ids"`
	}
	if err := c.get(ctx, "/api/v1/wallets", "", &out); err != nil {
		return nil, err
	}
	return out.WalletIDs, nil
}

// SendMessage forwards a chat message to the daemon's agent.
func (c *Client) SendMessage(ctx context.Context, message string) (AgentReply, error) {
	var reply AgentReply
	if err := c.post(ctx, "/api/v1/agent/messages", map[string]string{"message": message}, &reply); err != nil {
		return AgentReply{}, err
	}
	return reply, nil
}

// Health checks the daemon's liveness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", "", nil)
}

// WaitForJob polls a job until it succeeds or fails, or ctx is done.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, "", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint, query string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint, query string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
