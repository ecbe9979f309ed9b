package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/offsync/offsync/pkg/api"
)

//go:generate moq -out client_mock.go . ClientAPI

// Transport-level errors. The engine classifies anything wrapping
// ErrUnavailable as transient and routes it to the retry/backoff path.
var (
	// ErrUnavailable indicates a transport failure, timeout or server error
	ErrUnavailable = errors.New("remote authority unavailable")

	// ErrNotFound indicates the record does not exist on the server
	ErrNotFound = errors.New("record not found on server")
)

// ClientAPI defines the remote authority operations the engine consumes
type ClientAPI interface {
	// Pull fetches the current authoritative snapshot of one record
	// Returns ErrNotFound if the server has no such record
	Pull(ctx context.Context, moduleID, recordID string) (*api.Snapshot, error)

	// Push submits one pending mutation. A baseline mismatch is not an
	// error: it is reported via PushResponse.Accepted == false together
	// with the server's current snapshot.
	Push(ctx context.Context, moduleID, recordID string, req api.PushRequest) (*api.PushResponse, error)

	// Ping probes the liveness endpoint
	Ping(ctx context.Context) error
}

// Client is the HTTP client for the remote authority API
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new API client. timeout bounds every individual call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Pull fetches the current authoritative snapshot of one record
func (c *Client) Pull(ctx context.Context, moduleID, recordID string) (*api.Snapshot, error) {
	url := fmt.Sprintf("%s/api/v1/records/%s/%s", c.baseURL, moduleID, recordID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull request failed: %w: %w", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pull response: %w: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var snap api.Snapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		return &snap, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("pull failed with status %d: %w", resp.StatusCode, ErrUnavailable)
	default:
		return nil, fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, string(body))
	}
}

// Push submits one pending mutation to the server
func (c *Client) Push(ctx context.Context, moduleID, recordID string, pushReq api.PushRequest) (*api.PushResponse, error) {
	url := fmt.Sprintf("%s/api/v1/records/%s/%s", c.baseURL, moduleID, recordID)

	payload, err := json.Marshal(pushReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push request failed: %w: %w", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read push response: %w: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusConflict:
		var pushResp api.PushResponse
		if err := json.Unmarshal(body, &pushResp); err != nil {
			return nil, fmt.Errorf("failed to decode push response: %w", err)
		}
		return &pushResp, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("push failed with status %d: %w", resp.StatusCode, ErrUnavailable)
	default:
		var errResp api.ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("push rejected (%d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("push failed with status %d: %s", resp.StatusCode, string(body))
	}
}

// Ping probes the liveness endpoint
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w: %w", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe failed with status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	return nil
}
