// Package pool is the HTTP client for the pool coordinator (Andy API).
package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"andyhost/pkg/types"
)

// Endpoint paths on the coordinator.
const (
	PathJoin       = "/api/andy/join_pool"
	PathPing       = "/api/andy/ping_pool"
	PathLeave      = "/api/andy/leave_pool"
	PathCheckWork  = "/api/andy/check_for_work"
	PathPollWork   = "/api/andy/poll_for_work"
	PathSubmit     = "/api/andy/submit_work_result"
	PathPoolStatus = "/api/andy/pool_status"
)

// PollMode selects the work polling endpoint.
type PollMode string

const (
	// PollShort returns immediately when no work is queued.
	PollShort PollMode = "short"
	// PollLong lets the coordinator hold the request open until work arrives or it times out.
	PollLong PollMode = "long"
)

// Timeouts bounds each coordinator call. Zero values take package defaults.
type Timeouts struct {
	Connect time.Duration
	Join    time.Duration
	Ping    time.Duration
	Leave   time.Duration
	Poll    time.Duration
	Submit  time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	def := func(v, d time.Duration) time.Duration {
		if v <= 0 {
			return d
		}
		return v
	}
	t.Connect = def(t.Connect, 5*time.Second)
	t.Join = def(t.Join, 30*time.Second)
	t.Ping = def(t.Ping, 10*time.Second)
	t.Leave = def(t.Leave, 10*time.Second)
	t.Poll = def(t.Poll, 10*time.Second)
	t.Submit = def(t.Submit, 10*time.Second)
	return t
}

// Client talks to one coordinator base URL.
type Client struct {
	baseURL    string
	mode       PollMode
	timeouts   Timeouts
	httpClient *http.Client
}

// New constructs a coordinator client.
func New(baseURL string, mode PollMode, timeouts Timeouts) *Client {
	if mode == "" {
		mode = PollShort
	}
	timeouts = timeouts.withDefaults()
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeouts.Connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		mode:       mode,
		timeouts:   timeouts,
		httpClient: &http.Client{Transport: tr},
	}
}

// Join registers this host and returns the coordinator's answer.
// A 200 without host_id is treated as a rejected join.
func (c *Client) Join(ctx context.Context, info types.HostInfo) (types.JoinResponse, error) {
	var out types.JoinResponse
	status, body, err := c.post(ctx, c.timeouts.Join, PathJoin, types.JoinRequest{Info: info})
	if err != nil {
		return out, err
	}
	if status != http.StatusOK {
		return out, newStatusError(PathJoin, status, body)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode join response: %w", err)
	}
	if out.HostID == "" {
		return out, fmt.Errorf("join response without host_id")
	}
	return out, nil
}

// Ping sends a heartbeat. A 404 yields an error for which IsHostUnknown is true.
func (c *Client) Ping(ctx context.Context, req types.PingRequest) error {
	status, body, err := c.post(ctx, c.timeouts.Ping, PathPing, req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return newStatusError(PathPing, status, body)
	}
	return nil
}

// Leave tells the coordinator this host is going away.
func (c *Client) Leave(ctx context.Context, hostID string) error {
	status, body, err := c.post(ctx, c.timeouts.Leave, PathLeave, types.LeaveRequest{HostID: hostID})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return newStatusError(PathLeave, status, body)
	}
	return nil
}

// PollWork asks for a work item. It returns (nil, nil) when no work is available.
func (c *Client) PollWork(ctx context.Context, hostID string, models []string) (*types.WorkItem, error) {
	path := PathCheckWork
	if c.mode == PollLong {
		path = PathPollWork
	}
	status, body, err := c.post(ctx, c.timeouts.Poll, path, types.PollRequest{HostID: hostID, Models: models})
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, newStatusError(path, status, body)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	var item types.WorkItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}
	if item.WorkID == "" {
		return nil, nil
	}
	return &item, nil
}

// Submit delivers a work result.
func (c *Client) Submit(ctx context.Context, res types.WorkResult) error {
	status, body, err := c.post(ctx, c.timeouts.Submit, PathSubmit, res)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return newStatusError(PathSubmit, status, body)
	}
	return nil
}

// PoolStatus fetches the coordinator's view of the pool as raw JSON.
func (c *Client) PoolStatus(ctx context.Context) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Ping)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathPoolStatus, nil)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(ctx, req, PathPoolStatus)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, newStatusError(PathPoolStatus, status, body)
	}
	return json.RawMessage(body), nil
}

func (c *Client) post(ctx context.Context, timeout time.Duration, path string, payload any) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, req, path)
}

func (c *Client) do(ctx context.Context, req *http.Request, path string) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("coordinator %s: %w", path, ctx.Err())
		}
		return 0, nil, fmt.Errorf("coordinator %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("coordinator %s: read body: %w", path, err)
	}
	return resp.StatusCode, body, nil
}
