package archonsdk

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

// Client is a minimal Archon HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phase         string `json:"phase"`
	Status        string `json:"status"`
	CurrentTier   int    `json:"current_tier"`
	PendingGateID string `json:"pending_gate_id,omitempty"`
	BlockedOn     string `json:"blocked_on,omitempty"`
}

// GateOption is one architecture choice on a gate.
type GateOption struct {
	Label       string `json:"label"`
	Summary     string `json:"summary"`
	Recommended bool   `json:"recommended,omitempty"`
}

// Gate represents the API gate model.
type Gate struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	Type         string       `json:"gate_type"`
	Phase        string       `json:"phase"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Options      []GateOption `json:"options,omitempty"`
	Status       string       `json:"status"`
	ResponseType string       `json:"response_type,omitempty"`
	Conditions   []string     `json:"conditions,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	BuildTier        int      `json:"build_tier"`
	Type             string   `json:"task_type"`
	DependsOn        []string `json:"depends_on"`
	ParallelGroup    int      `json:"parallel_group"`
	Status           string   `json:"status"`
	AssignedProvider string   `json:"assigned_provider,omitempty"`
}

// Review represents one review result.
type Review struct {
	TaskID         string `json:"task_id"`
	Verdict        string `json:"verdict"`
	Stage2Feedback string `json:"stage2_feedback,omitempty"`
	InputTokens    int    `json:"input_tokens"`
	OutputTokens   int    `json:"output_tokens"`
}

// Event is one event-log row.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("archon api: status %d: %s", e.StatusCode, e.Body)
}

// PaginatedTasks is a cursor page of tasks.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// CreateProject creates a new project; id may be empty to auto-generate.
func (c *Client) CreateProject(ctx context.Context, id, name string) (Project, error) {
	body := map[string]any{"name": name}
	if id != "" {
		body["id"] = id
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// GetProject fetches the configured project.
func (c *Client) GetProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(""), nil, &resp)
	return resp, err
}

// VisionIntake submits the project brief and opens the vision gate.
func (c *Client) VisionIntake(ctx context.Context, brief string) (Gate, error) {
	var resp Gate
	err := c.do(ctx, http.MethodPost, c.projectPath("intake"), map[string]string{"brief": brief}, &resp)
	return resp, err
}

// Gates lists gates, optionally filtered by status.
func (c *Client) Gates(ctx context.Context, status string) ([]Gate, error) {
	endpoint := c.projectPath("gates")
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Gate
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RaiseGate opens an exception gate (scope_change or constitutional)
// on the project. Phase-boundary gates are opened by the server itself.
func (c *Client) RaiseGate(ctx context.Context, gateType, title, description string) (Gate, error) {
	body := map[string]string{"type": gateType, "title": title}
	if description != "" {
		body["description"] = description
	}
	var resp Gate
	err := c.do(ctx, http.MethodPost, c.projectPath("gates"), body, &resp)
	return resp, err
}

// RespondGate submits the single response a gate accepts.
func (c *Client) RespondGate(ctx context.Context, gateID, responseType, choice string, modifications []string) (Gate, error) {
	body := map[string]any{"type": responseType}
	if choice != "" {
		body["choice"] = choice
	}
	if len(modifications) > 0 {
		body["modifications"] = modifications
	}
	var resp Gate
	endpoint := c.projectPath(fmt.Sprintf("gates/%s/respond", url.PathEscape(gateID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Decompose plans a build tier; text may carry a pre-written decomposition.
func (c *Client) Decompose(ctx context.Context, tier int, text string) (PaginatedTasks, error) {
	body := map[string]any{"tier": tier}
	if text != "" {
		body["text"] = text
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodPost, c.projectPath("decompose"), body, &resp)
	return resp, err
}

// Tasks lists tasks with cursor pagination.
func (c *Client) Tasks(ctx context.Context, status string, tier, limit int, cursor string) (PaginatedTasks, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if tier > 0 {
		q.Set("tier", fmt.Sprintf("%d", tier))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("tasks")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DispatchTier runs a build tier and returns the raw dispatch result.
func (c *Client) DispatchTier(ctx context.Context, tier int) (json.RawMessage, error) {
	endpoint := c.projectPath(fmt.Sprintf("dispatch?tier=%d", tier))
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ReviewTier reviews a build tier's completed tasks.
func (c *Client) ReviewTier(ctx context.Context, tier int) ([]Review, error) {
	endpoint := c.projectPath(fmt.Sprintf("review?tier=%d", tier))
	var resp []Review
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events, newest last when after > 0.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", fmt.Sprintf("%d", after))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
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

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	if p == "" {
		return fmt.Sprintf("v0/projects/%s", project)
	}
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
