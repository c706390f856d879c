// Package client provides the tracevault Go SDK for recording audit events
// and verifying chain integrity over the HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ErrNotFound is returned when the requested entry does not exist.
var ErrNotFound = errors.New("entry not found")

// Entry is one record of the audit chain as returned by the API.
type Entry struct {
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Target    string         `json:"target"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
	Signature string         `json:"signature"`
}

// Violation is one finding from a verification run.
type Violation struct {
	Sequence int64  `json:"sequence"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
}

// Report is the outcome of a verification run.
type Report struct {
	RunID      string      `json:"run_id"`
	CheckedAt  time.Time   `json:"checked_at"`
	From       int64       `json:"from"`
	To         int64       `json:"to"`
	Entries    int64       `json:"entries"`
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Overview summarises the chain state.
type Overview struct {
	Entries int64  `json:"entries"`
	Tail    string `json:"tail"`
}

// RecordRequest is the payload for Record.
type RecordRequest struct {
	Actor   string         `json:"actor,omitempty"`
	Action  string         `json:"action"`
	Target  string         `json:"target,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// EntriesPage is one page of listed entries, newest first.
type EntriesPage struct {
	Entries []Entry `json:"entries"`
	Total   int64   `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}

// ListParams filter and paginate Entries. Zero values are omitted.
type ListParams struct {
	Page    int
	PerPage int
	Actor   string
	Action  string
	Target  string
}

// Client is the tracevault SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken attaches a pre-obtained operator token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a Client connected to base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Authenticate exchanges the operator password for a session token and
// caches it for subsequent operator-only calls.
func (c *Client) Authenticate(ctx context.Context, operator, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/token",
		map[string]string{"operator": operator, "password": password}, &resp)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

// Record appends a new audit event and returns the sealed entry.
func (c *Client) Record(ctx context.Context, req RecordRequest) (*Entry, error) {
	var entry Entry
	if err := c.do(ctx, http.MethodPost, "/api/v1/audit/entries", req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Overview returns the chain length and tail hash.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var ov Overview
	if err := c.do(ctx, http.MethodGet, "/api/v1/audit", nil, &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}

// Entry fetches a single entry by sequence number.
func (c *Client) Entry(ctx context.Context, seq int64) (*Entry, error) {
	var entry Entry
	path := "/api/v1/audit/entries/" + strconv.FormatInt(seq, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Entries returns a page of entries, newest first.
func (c *Client) Entries(ctx context.Context, params ListParams) (*EntriesPage, error) {
	q := url.Values{}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(params.PerPage))
	}
	if params.Actor != "" {
		q.Set("actor", params.Actor)
	}
	if params.Action != "" {
		q.Set("action", params.Action)
	}
	if params.Target != "" {
		q.Set("target", params.Target)
	}

	path := "/api/v1/audit/entries"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page EntriesPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Verify replays the chain range [from, to] and returns the integrity
// report. Zero bounds mean the whole chain.
func (c *Client) Verify(ctx context.Context, from, to int64) (*Report, error) {
	q := url.Values{}
	if from > 0 {
		q.Set("from", strconv.FormatInt(from, 10))
	}
	if to > 0 {
		q.Set("to", strconv.FormatInt(to, 10))
	}
	path := "/api/v1/audit/verify"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var report Report
	if err := c.do(ctx, http.MethodGet, path, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// VerifyAndRecord runs a full verification whose outcome is itself recorded
// in the chain. Requires Authenticate or WithToken.
func (c *Client) VerifyAndRecord(ctx context.Context) (*Report, error) {
	var report Report
	if err := c.do(ctx, http.MethodPost, "/api/v1/audit/verify", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Reset discards the whole chain and seeds a fresh one. Requires an
// operator token and a deployment with resets enabled.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/audit/reset",
		map[string]string{"confirm": "RESET"}, nil)
}

// do executes one API request, attaching the cached token when present.
func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBytes, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBytes))
	}

	if respBody != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
