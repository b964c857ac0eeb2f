package server

import (
	"archon/internal/config"
	"archon/internal/domain"
	"archon/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

// RaiseGateRequest opens an out-of-band exception gate. Phase-boundary
// gates are opened by the engine itself, so only the exception types
// can be raised here.
type RaiseGateRequest struct {
	Type        string `json:"type" enum:"scope_change,constitutional"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type RespondGateRequest struct {
	Type          string   `json:"type" enum:"choose,choose_with_modifications,combine,revise_and_proceed,explore_differently,reject"`
	Choice        string   `json:"choice,omitempty"`
	Modifications []string `json:"modifications,omitempty"`
}

type VisionIntakeRequest struct {
	Brief string `json:"brief"`
}

type DecomposeRequest struct {
	Tier int    `json:"tier"`
	Text string `json:"text,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phase         string `json:"phase"`
	Status        string `json:"status"`
	CurrentTier   int    `json:"current_tier"`
	PendingGateID string `json:"pending_gate_id,omitempty"`
	BlockedOn     string `json:"blocked_on,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type GateResponse struct {
	ID           string              `json:"id"`
	ProjectID    string              `json:"project_id"`
	Type         string              `json:"gate_type"`
	Phase        string              `json:"phase"`
	Title        string              `json:"title"`
	Description  string              `json:"description,omitempty"`
	Options      []domain.GateOption `json:"options,omitempty"`
	Status       string              `json:"status"`
	Response     *string             `json:"response,omitempty"`
	ResponseType string              `json:"response_type,omitempty"`
	Conditions   []string            `json:"conditions,omitempty"`
	CreatedAt    string              `json:"created_at" format:"date-time"`
	RespondedAt  *string             `json:"responded_at,omitempty" format:"date-time"`
}

type TaskResponse struct {
	ID               string   `json:"id"`
	ProjectID        string   `json:"project_id"`
	Name             string   `json:"name"`
	BuildTier        int      `json:"build_tier"`
	Subsystem        string   `json:"subsystem,omitempty"`
	Type             string   `json:"task_type"`
	Objective        string   `json:"objective,omitempty"`
	DependsOn        []string `json:"depends_on"`
	ParallelGroup    int      `json:"parallel_group"`
	Status           string   `json:"status"`
	AssignedProvider string   `json:"assigned_provider,omitempty"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

type ReviewResponse struct {
	TaskID         string               `json:"task_id"`
	Verdict        string               `json:"verdict"`
	Stage1         []domain.CheckResult `json:"stage1,omitempty"`
	Stage2Feedback string               `json:"stage2_feedback,omitempty"`
	Stage3         []domain.CheckResult `json:"stage3,omitempty"`
	InputTokens    int                  `json:"input_tokens"`
	OutputTokens   int                  `json:"output_tokens"`
	CreatedAt      string               `json:"created_at,omitempty" format:"date-time"`
}

type DecisionResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Decision  string `json:"decision"`
	DeciderID string `json:"decider_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type StatusResponse struct {
	Project    ProjectResponse      `json:"project"`
	Health     domain.ProjectHealth `json:"health"`
	TaskCounts map[string]int       `json:"task_counts"`
}

type DispatchResponse struct {
	Result engine.BuildResult `json:"result"`
}

type configResponse struct {
	MaxParallel       int               `json:"max_parallel"`
	DefaultVerdict    string            `json:"default_verdict"`
	MaxRevisionRounds int               `json:"max_revision_rounds"`
	Providers         map[string]string `json:"providers"`
}

func providerModels(cfg *config.Config) map[string]string {
	out := make(map[string]string, len(cfg.Providers))
	for role, p := range cfg.Providers {
		out[role] = p.Model
	}
	return out
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// mapping helpers

func projectResponse(p domain.Project) ProjectResponse {
	out := ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Phase:       string(p.Phase),
		Status:      p.Status,
		CurrentTier: p.CurrentTier,
		BlockedOn:   p.BlockedOn,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.PendingGateID != nil {
		out.PendingGateID = *p.PendingGateID
	}
	return out
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func gateResponse(g domain.Gate) GateResponse {
	return GateResponse{
		ID:           g.ID,
		ProjectID:    g.ProjectID,
		Type:         string(g.Type),
		Phase:        string(g.Phase),
		Title:        g.Title,
		Description:  g.Description,
		Options:      g.Options,
		Status:       string(g.Status),
		Response:     g.Response,
		ResponseType: string(g.ResponseType),
		Conditions:   g.Conditions,
		CreatedAt:    g.CreatedAt,
		RespondedAt:  g.RespondedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	deps := t.DependsOn
	if deps == nil {
		deps = []string{}
	}
	return TaskResponse{
		ID:               t.ID,
		ProjectID:        t.ProjectID,
		Name:             t.Name,
		BuildTier:        t.BuildTier,
		Subsystem:        t.Subsystem,
		Type:             string(t.Type),
		Objective:        t.Objective,
		DependsOn:        deps,
		ParallelGroup:    t.ParallelGroup,
		Status:           string(t.Status),
		AssignedProvider: t.AssignedProvider,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func reviewResponse(r domain.ReviewResult) ReviewResponse {
	return ReviewResponse{
		TaskID:         r.TaskID,
		Verdict:        string(r.Verdict),
		Stage1:         r.Stage1,
		Stage2Feedback: r.Stage2Feedback,
		Stage3:         r.Stage3,
		InputTokens:    r.TokenUsage.InputTokens,
		OutputTokens:   r.TokenUsage.OutputTokens,
		CreatedAt:      r.CreatedAt,
	}
}

func decisionResponse(d domain.Decision) DecisionResponse {
	return DecisionResponse{
		ID:        d.ID,
		ProjectID: d.ProjectID,
		Title:     d.Title,
		Decision:  d.Decision,
		DeciderID: d.DeciderID,
		CreatedAt: d.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}
