// ABOUTME: REST client for directory snapshots, message pages, accept and transfer
// ABOUTME: Retries idempotent calls; accept is fire-once and never retried

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-desk/internal/desk"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultRetries    = 2
	defaultRetryDelay = 250 * time.Millisecond
	maxErrorBody      = 4096
)

// Scope selects which sessions a directory snapshot contains.
type Scope string

const (
	ScopeQueue Scope = "queue"
	ScopeChat  Scope = "chat"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// AcceptResult is the backend's answer to an accept request.
type AcceptResult struct {
	Success         bool   `json:"success"`
	AssignedAgentID string `json:"assigned_agent_id"`
	Message         string `json:"message,omitempty"`
}

// Client talks to the backend REST API.
type Client struct {
	baseURL     string
	token       string
	localUserID string
	http        *http.Client
	retries     int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets how many extra attempts idempotent calls get.
func WithRetry(retries int, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.retryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client. localUserID is used to classify message
// senders in fetched history.
func NewClient(baseURL, token, localUserID string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		localUserID: localUserID,
		http:        &http.Client{Timeout: defaultTimeout},
		retries:     defaultRetries,
		retryDelay:  defaultRetryDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api")
	return c
}

// groupsResponse is the body of GET /api/groups.
type groupsResponse struct {
	Groups []desk.Group `json:"groups"`
}

// FetchGroups returns the directory snapshot for scope.
func (c *Client) FetchGroups(ctx context.Context, scope Scope) ([]desk.Group, error) {
	q := url.Values{}
	q.Set("scope", string(scope))

	var resp groupsResponse
	if err := c.doIdempotent(ctx, http.MethodGet, "/api/groups?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching groups: %w", err)
	}
	for i := range resp.Groups {
		if resp.Groups[i].Department == "" {
			resp.Groups[i].Department = resp.Groups[i].Session.Department
		}
	}
	return resp.Groups, nil
}

// wireMessage is a message as the backend sends it, in REST bodies and in
// realtime frames.
type wireMessage struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

type messagesResponse struct {
	Messages []wireMessage `json:"messages"`
}

// FetchMessages returns one page of history for sessionID, oldest first.
func (c *Client) FetchMessages(ctx context.Context, sessionID string, before *time.Time, limit int) ([]desk.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != nil {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages?" + q.Encode()

	var resp messagesResponse
	if err := c.doIdempotent(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	anchor := "head"
	if before != nil {
		anchor = strconv.FormatInt(before.UnixNano(), 10)
	}
	out := make([]desk.Message, len(resp.Messages))
	for i, wm := range resp.Messages {
		if wm.SessionID == "" {
			wm.SessionID = sessionID
		}
		msg := desk.NewMessage(wm.ID, wm.SessionID, wm.SenderID, wm.SenderRole, wm.Body, wm.Timestamp, c.localUserID)
		if msg.ID == "" {
			msg.ID = fmt.Sprintf("pos:%s:%s:%d", sessionID, anchor, i)
			msg.Positional = true
		}
		out[i] = msg
	}
	return out, nil
}

// AcceptSession claims a queued session for the caller. It is never retried.
func (c *Client) AcceptSession(ctx context.Context, chatGroupID string) (AcceptResult, error) {
	var resp AcceptResult
	path := "/api/groups/" + url.PathEscape(chatGroupID) + "/accept"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &resp); err != nil {
		return AcceptResult{}, fmt.Errorf("accepting session: %w", err)
	}
	return resp, nil
}

type transferRequest struct {
	TargetDeptID string `json:"target_dept_id"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// TransferSession moves a session to another department.
func (c *Client) TransferSession(ctx context.Context, chatGroupID, targetDeptID string) error {
	var resp successResponse
	path := "/api/groups/" + url.PathEscape(chatGroupID) + "/transfer"
	if err := c.doIdempotent(ctx, http.MethodPost, path, transferRequest{TargetDeptID: targetDeptID}, &resp); err != nil {
		return fmt.Errorf("transferring session: %w", err)
	}
	if !resp.Success {
		if resp.Message == "" {
			resp.Message = "transfer rejected"
		}
		return errors.New(resp.Message)
	}
	return nil
}

type departmentsResponse struct {
	Departments []desk.Department `json:"departments"`
}

// ListDepartments returns the department catalog.
func (c *Client) ListDepartments(ctx context.Context) ([]desk.Department, error) {
	var resp departmentsResponse
	if err := c.doIdempotent(ctx, http.MethodGet, "/api/departments", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing departments: %w", err)
	}
	return resp.Departments, nil
}

// doIdempotent retries do on transport errors and 5xx responses.
func (c *Client) doIdempotent(ctx context.Context, method, path string, body, out any) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request", "method", method, "path", path, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		err = c.do(ctx, method, path, body, out)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
