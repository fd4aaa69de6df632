// Package apiclient talks to a running ladder server over its HTTP API.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/pvp-ladder/pkg/ladderdto"
)

type Client struct {
	baseURL    string
	http       *fasthttp.Client
	actorID    int64
	adminToken string

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithActor sends X-Actor-Id on every request.
func WithActor(id int64) Option {
	return func(c *Client) { c.actorID = id }
}

// WithAdminToken sends X-Admin-Token on every request.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.adminToken = strings.TrimSpace(token) }
}

// WithDial replaces the TCP dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, nil)
}

func (c *Client) Register(ctx context.Context, playerID int64) (*ladderdto.RegisterResponse, error) {
	var resp ladderdto.RegisterResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/players/register", ladderdto.PlayerRequest{PlayerID: playerID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ReportMatch(ctx context.Context, req ladderdto.ReportMatchRequest) (*ladderdto.MatchResponse, error) {
	var resp ladderdto.MatchResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/matches", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Ban(ctx context.Context, playerID int64, reason string) (*ladderdto.BanResponse, error) {
	var resp ladderdto.BanResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/bans", ladderdto.BanRequest{PlayerID: playerID, Reason: reason}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Unban(ctx context.Context, playerID int64) (*ladderdto.BanResponse, error) {
	var resp ladderdto.BanResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/bans/remove", ladderdto.PlayerRequest{PlayerID: playerID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats returns the category record when category is set, otherwise the aggregate.
func (c *Client) Stats(ctx context.Context, playerID int64, category string) (*ladderdto.StatsResponse, error) {
	q := url.Values{}
	q.Set("player_id", strconv.FormatInt(playerID, 10))
	if category != "" {
		q.Set("category", category)
	}
	var resp ladderdto.StatsResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/v1/stats?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Leaderboard(ctx context.Context, category string, limit int) (*ladderdto.LeaderboardResponse, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp ladderdto.LeaderboardResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, withQuery("/v1/leaderboard", q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) History(ctx context.Context, playerID int64, category string, limit int) (*ladderdto.HistoryResponse, error) {
	q := url.Values{}
	if playerID != 0 {
		q.Set("player_id", strconv.FormatInt(playerID, 10))
	}
	if category != "" {
		q.Set("category", category)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp ladderdto.HistoryResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, withQuery("/v1/history", q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// doJSON sends one request. GETs are retried on transport errors and
// retryable server errors; writes are sent once.
func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.actorID != 0 {
		req.Header.Set("X-Actor-Id", strconv.FormatInt(c.actorID, 10))
	}
	if c.adminToken != "" {
		req.Header.Set("X-Admin-Token", c.adminToken)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if method == fasthttp.MethodGet && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			derr := decodeError(status, resp.Body())
			if !derr.Retryable && !shouldRetryStatus(status) {
				return derr
			}
			lastErr = derr
		} else {
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func decodeError(status int, body []byte) ladderdto.DomainError {
	var derr ladderdto.DomainError
	if err := json.Unmarshal(body, &derr); err != nil || derr.Code == "" {
		return ladderdto.DomainError{
			Code:      "http_" + strconv.Itoa(status),
			Message:   fmt.Sprintf("ladder api error: status=%d body=%s", status, truncate(string(body), 512)),
			Retryable: shouldRetryStatus(status),
		}
	}
	return derr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
