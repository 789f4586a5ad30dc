// Package client provides an HTTP client for the rice-eval API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ricesearch/rice-eval/internal/fusion"
	"github.com/ricesearch/rice-eval/internal/pipeline"
	"github.com/ricesearch/rice-eval/internal/report"
	"github.com/ricesearch/rice-eval/internal/run"
)

// Client is an HTTP client for the rice-eval API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	// BaseURL is the base URL of the API server.
	BaseURL string

	// APIKey is sent as X-API-Key when set.
	APIKey string

	// Timeout is the request timeout. Evaluations over large runs take a while.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle (keep-alive) connections.
	MaxIdleConns int

	// IdleConnTimeout is the maximum amount of time an idle connection will
	// remain idle before closing itself.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8080",
		Timeout:         5 * time.Minute,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:      cfg.MaxIdleConns,
		IdleConnTimeout:   cfg.IdleConnTimeout,
		ForceAttemptHTTP2: true,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// APIError is an error response of the API.
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RunResponse acknowledges an uploaded run.
type RunResponse struct {
	Method  string `json:"method"`
	Queries int    `json:"queries"`
}

// Health checks if the API is healthy.
func (c *Client) Health(ctx context.Context) (*pipeline.HealthResponse, error) {
	var resp pipeline.HealthResponse
	if err := c.get(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutJudgments replaces the server's judgments.
func (c *Client) PutJudgments(ctx context.Context, req pipeline.JudgmentsRequest) error {
	return c.post(ctx, "/v1/judgments", "application/json", req, nil)
}

// UploadRun registers a TREC run under method, replacing any earlier run of it.
func (c *Client) UploadRun(ctx context.Context, method string, trec io.Reader) (*RunResponse, error) {
	var resp RunResponse
	if err := c.post(ctx, "/v1/runs/"+url.PathEscape(method), "text/plain", trec, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Fuse fuses the lists of one query on the server.
func (c *Client) Fuse(ctx context.Context, req pipeline.FuseRequest) (*fusion.Ranking, error) {
	var ranking fusion.Ranking
	if err := c.post(ctx, "/v1/fuse", "application/json", req, &ranking); err != nil {
		return nil, err
	}
	return &ranking, nil
}

// FuseLists is Fuse for lists already held as candidate lists.
func (c *Client) FuseLists(ctx context.Context, queryID, configName string, lists []run.CandidateList) (*fusion.Ranking, error) {
	return c.Fuse(ctx, pipeline.FuseRequest{QueryID: queryID, ConfigName: configName, Lists: lists})
}

// Evaluate evaluates fusion configs over the server's runs and judgments.
func (c *Client) Evaluate(ctx context.Context, req pipeline.EvaluateRequest) (*pipeline.EvaluateResponse, error) {
	var resp pipeline.EvaluateResponse
	if err := c.post(ctx, "/v1/evaluate", "application/json", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportConfigs lists the configs with stored reports.
func (c *Client) ReportConfigs(ctx context.Context) ([]string, error) {
	var resp struct {
		Configs []string `json:"configs"`
	}
	if err := c.get(ctx, "/v1/reports", &resp); err != nil {
		return nil, err
	}
	return resp.Configs, nil
}

// LatestReport returns the most recent report of config.
func (c *Client) LatestReport(ctx context.Context, config string) (*report.Summary, error) {
	var s report.Summary
	if err := c.get(ctx, "/v1/reports/"+url.PathEscape(config), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ReportHistory returns the reports of config created at or after since.
func (c *Client) ReportHistory(ctx context.Context, config string, since time.Time) ([]*report.Summary, error) {
	var resp struct {
		Reports []*report.Summary `json:"reports"`
	}
	path := "/v1/reports/" + url.PathEscape(config) + "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, result)
}

// post performs a POST request. body is JSON encoded unless it is an io.Reader.
func (c *Client) post(ctx context.Context, path, contentType string, body, result interface{}) error {
	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		bodyReader = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// do executes a request.
func (c *Client) do(req *http.Request, result interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
