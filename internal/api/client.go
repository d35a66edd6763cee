// Package api is the REST client for the marketplace endpoints the sync layer reads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
	"github.com/eternisai/marketplace-sync/internal/logger"
)

// DefaultTimeout bounds every REST call.
const DefaultTimeout = 15 * time.Second

// Client is the marketplace REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a new API client. A zero timeout uses DefaultTimeout.
func New(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: NewLoggingTransport(log.WithComponent("api_client")),
		},
	}
}

// SetToken sets the bearer token sent with every request. An empty token clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// RecentActivities returns the latest activity records, newest first.
func (c *Client) RecentActivities(ctx context.Context, limit int) ([]Activity, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))

	var activities []Activity
	if err := c.get(ctx, "/activities/recent?"+params.Encode(), &activities); err != nil {
		return nil, fmt.Errorf("client.RecentActivities: %w", err)
	}
	return activities, nil
}

// MarkActivityRead marks one activity as read on the server.
func (c *Client) MarkActivityRead(ctx context.Context, id string) error {
	if err := c.doRequest(ctx, http.MethodPost, "/activities/"+url.PathEscape(id)+"/read", nil, nil); err != nil {
		return fmt.Errorf("client.MarkActivityRead: %w", err)
	}
	return nil
}

// DeleteActivity deletes one activity on the server.
func (c *Client) DeleteActivity(ctx context.Context, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/activities/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("client.DeleteActivity: %w", err)
	}
	return nil
}

// DashboardStats returns the dashboard counters.
func (c *Client) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	var stats DashboardStats
	if err := c.get(ctx, "/dashboard/stats", &stats); err != nil {
		return nil, fmt.Errorf("client.DashboardStats: %w", err)
	}
	return &stats, nil
}

// VerifyToken checks token against the server. A rejected token returns an
// error matching errors.ErrUnauthorized.
func (c *Client) VerifyToken(ctx context.Context, token string) error {
	if err := c.send(ctx, http.MethodGet, "/auth/verify", token, nil, nil); err != nil {
		return fmt.Errorf("client.VerifyToken: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	return c.send(ctx, method, path, c.currentToken(), body, out)
}

func (c *Client) send(ctx context.Context, method, path, token string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &apierrors.HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr apierrors.APIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Text() != "" {
			return &apierrors.HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Text()}
		}
		return &apierrors.HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
