package cplansdk

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

// Client is a minimal capacity planner HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Window narrows a run to a date range and bucket size. Empty fields use the
// server's configured defaults.
type Window struct {
	From        string
	To          string
	Granularity string
}

func (w Window) query() string {
	v := url.Values{}
	if w.From != "" {
		v.Set("from", w.From)
	}
	if w.To != "" {
		v.Set("to", w.To)
	}
	if w.Granularity != "" {
		v.Set("granularity", w.Granularity)
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

type Allocation struct {
	Date string  `json:"date"`
	Days float64 `json:"days"`
}

// Task is the scheduled task model (partial).
type Task struct {
	Name        string       `json:"name"`
	Workstream  string       `json:"workstream"`
	Assignee    string       `json:"assignee"`
	Status      string       `json:"status"`
	Priority    string       `json:"priority"`
	CurrentDays float64      `json:"current_days"`
	End         string       `json:"end"`
	Blocked     bool         `json:"blocked"`
	Allocations []Allocation `json:"allocations"`
}

type ExcludedTask struct {
	Name string `json:"name"`
	Row  int    `json:"row"`
	Code string `json:"code"`
}

type Bucket struct {
	Person       string   `json:"person"`
	Start        string   `json:"start"`
	Granularity  string   `json:"granularity"`
	Allocated    float64  `json:"allocated"`
	Available    float64  `json:"available"`
	Utilisation  *float64 `json:"utilisation"`
	OverCapacity bool     `json:"over_capacity"`
}

type Finding struct {
	ID         string `json:"id"`
	Severity   string `json:"severity"`
	Code       string `json:"code"`
	Entity     string `json:"entity"`
	Suggestion string `json:"suggestion,omitempty"`
	Excludes   bool   `json:"excludes"`
	Message    string `json:"message"`
}

type Plan struct {
	SnapshotID string         `json:"snapshot_id"`
	Tasks      []Task         `json:"tasks"`
	Excluded   []ExcludedTask `json:"excluded"`
}

type Capacity struct {
	SnapshotID  string   `json:"snapshot_id"`
	Granularity string   `json:"granularity"`
	Buckets     []Bucket `json:"buckets"`
}

type Findings struct {
	SnapshotID string         `json:"snapshot_id"`
	Counts     map[string]int `json:"counts"`
	Findings   []Finding      `json:"findings"`
}

// RunResult is the full response of POST /plan and /workspace/summary.
// Summary is left raw so callers can decode the parts they need.
type RunResult struct {
	SnapshotID string          `json:"snapshot_id"`
	Tasks      []Task          `json:"tasks"`
	Excluded   []ExcludedTask  `json:"excluded"`
	Buckets    []Bucket        `json:"buckets"`
	Findings   []Finding       `json:"findings"`
	Summary    json.RawMessage `json:"summary"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// RunSnapshot posts a snapshot document (any value that encodes to the
// team/workstreams/tasks document) and returns the full run.
func (c *Client) RunSnapshot(ctx context.Context, snapshot any, w Window) (RunResult, error) {
	body := map[string]any{"snapshot": snapshot}
	if w.From != "" {
		body["from"] = w.From
	}
	if w.To != "" {
		body["to"] = w.To
	}
	if w.Granularity != "" {
		body["granularity"] = w.Granularity
	}
	var resp RunResult
	err := c.do(ctx, http.MethodPost, c.path("plan"), body, &resp)
	return resp, err
}

// Plan returns the ordered schedule for the stored snapshot.
func (c *Client) Plan(ctx context.Context, w Window) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, c.path("workspace/plan")+w.query(), nil, &resp)
	return resp, err
}

// Capacity returns capacity buckets for the stored snapshot.
func (c *Client) Capacity(ctx context.Context, w Window) (Capacity, error) {
	var resp Capacity
	err := c.do(ctx, http.MethodGet, c.path("workspace/capacity")+w.query(), nil, &resp)
	return resp, err
}

// Findings returns validation findings for the stored snapshot.
func (c *Client) Findings(ctx context.Context, w Window) (Findings, error) {
	var resp Findings
	err := c.do(ctx, http.MethodGet, c.path("workspace/findings")+w.query(), nil, &resp)
	return resp, err
}

// Summary returns the run summary for the stored snapshot.
func (c *Client) Summary(ctx context.Context, w Window) (RunResult, error) {
	var resp RunResult
	err := c.do(ctx, http.MethodGet, c.path("workspace/summary")+w.query(), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		v.Set("cursor", cursor)
	}
	endpoint := c.path("workspace/events")
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+endpoint, &buf)
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
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) path(p string) string {
	base := "/" + strings.Trim(c.BasePath, "/")
	if base == "/" {
		base = ""
	}
	return base + "/" + strings.TrimLeft(p, "/")
}
