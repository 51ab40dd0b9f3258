package api

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
)

// Error is returned when a sync endpoint call fails. StatusCode is zero for
// transport-level failures.
type Error struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client abstracts HTTP communication with the sync server.
// Implementations must be safe for concurrent use.
type Client interface {
	// Health validates connectivity.
	Health(ctx context.Context) (*HealthResponse, error)

	// Push sends a batch of local mutations for the tenant.
	Push(ctx context.Context, tenantID string, req *PushRequest) (*PushResponse, error)

	// Pull retrieves the full replica snapshot for the tenant.
	Pull(ctx context.Context, tenantID string) (*PullResponse, error)
}

// DebugSink receives wire-level traffic when debug logging is enabled.
type DebugSink interface {
	LogRequest(method, url string, body []byte)
	LogResponse(statusCode int, status string, body []byte)
}

// HTTPClient implements Client using net/http.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	sourceID   string
	httpClient *http.Client
	debug      DebugSink
}

// NewHTTPClient creates a sync server client.
// sourceID is optional; if non-empty, it's sent as X-Brigade-Source-ID for observability.
func NewHTTPClient(serverURL, apiKey, sourceID string) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimSuffix(serverURL, "/"),
		apiKey:   apiKey,
		sourceID: sourceID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.httpClient = client
	return c
}

// WithDebug attaches a wire-level debug sink.
func (c *HTTPClient) WithDebug(sink DebugSink) *HTTPClient {
	c.debug = sink
	return c
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "brigade-client/1.0")
	if strings.TrimSpace(c.sourceID) != "" {
		req.Header.Set("X-Brigade-Source-ID", c.sourceID)
	}
}

func newAPIError(op string, statusCode int, body []byte) *Error {
	msg := ""
	if len(body) > 0 && statusCode >= 400 {
		if len(body) > 200 {
			msg = string(body[:200]) + "..."
		} else {
			msg = string(body)
		}
	}
	return &Error{
		Operation:  op,
		StatusCode: statusCode,
		Err:        fmt.Errorf("HTTP %d: %s", statusCode, msg),
	}
}

func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, &Error{Operation: "health", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Operation: "health", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newAPIError("health", resp.StatusCode, body)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, &Error{Operation: "health", Err: err}
	}
	return &health, nil
}

func (c *HTTPClient) Push(ctx context.Context, tenantID string, pushReq *PushRequest) (*PushResponse, error) {
	body, err := json.Marshal(pushReq)
	if err != nil {
		return nil, &Error{Operation: "push", Err: err}
	}

	reqURL := fmt.Sprintf("%s/api/v1/tenants/%s/sync/push", c.baseURL, url.PathEscape(tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Operation: "push", Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	if c.debug != nil {
		c.debug.LogRequest(http.MethodPost, reqURL, body)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Operation: "push", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Operation: "push", Err: err}
	}
	if c.debug != nil {
		c.debug.LogResponse(resp.StatusCode, resp.Status, respBody)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError("push", resp.StatusCode, respBody)
	}

	var result PushResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &Error{Operation: "push", Err: err}
	}
	return &result, nil
}

func (c *HTTPClient) Pull(ctx context.Context, tenantID string) (*PullResponse, error) {
	reqURL := fmt.Sprintf("%s/api/v1/tenants/%s/sync/pull", c.baseURL, url.PathEscape(tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &Error{Operation: "pull", Err: err}
	}
	c.setHeaders(req)

	if c.debug != nil {
		c.debug.LogRequest(http.MethodGet, reqURL, nil)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Operation: "pull", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Operation: "pull", Err: err}
	}
	if c.debug != nil {
		c.debug.LogResponse(resp.StatusCode, resp.Status, respBody)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError("pull", resp.StatusCode, respBody)
	}

	var result PullResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &Error{Operation: "pull", Err: err}
	}
	return &result, nil
}
