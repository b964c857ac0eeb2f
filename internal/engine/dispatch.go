package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"archon/internal/domain"
	"archon/internal/events"
	"archon/internal/repo"
)

// BuildResult aggregates one dispatch run. Incomplete items and
// architect questions carry a [task_id] prefix so attribution survives
// aggregation. GateID names the tier_complete gate the run opened, or
// is empty when nothing was dispatched.
type BuildResult struct {
	TotalTasks int               `json:"total_tasks"`
	Completed  int               `json:"completed"`
	Failed     int               `json:"failed"`
	TokenUsage domain.TokenUsage `json:"token_usage"`
	Incomplete []string          `json:"incomplete,omitempty"`
	Questions  []string          `json:"questions,omitempty"`
	Manifests  []domain.Manifest `json:"manifests,omitempty"`
	GateID     string            `json:"gate_id,omitempty"`
}

type taskOutcome struct {
	task     domain.Task
	manifest domain.Manifest
	err      error
}

// DispatchTier runs every leveled task of a build tier. Groups run
// strictly in ascending parallel_group order; tasks within a group run
// concurrently and the group's results are combined only after every
// goroutine has finished. One tier_complete gate is opened after the
// run, summarizing completed and failed counts, whether or not every
// task succeeded.
func (e Engine) DispatchTier(ctx context.Context, projectID string, tier int, actorID string) (BuildResult, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return BuildResult{}, err
	}
	if p.PendingGateID != nil {
		return BuildResult{}, ErrGateBlocked
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID, BuildTier: tier})
	if err != nil {
		return BuildResult{}, err
	}
	var pending []domain.Task
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskPending, domain.TaskRevisionRequested:
			if t.ParallelGroup < 0 {
				return BuildResult{}, fmt.Errorf("task %s has no parallel group; run decomposition first", t.ID)
			}
			pending = append(pending, t)
		}
	}
	result, err := e.dispatchGroups(ctx, GroupByLevel(pending), actorID)
	if err != nil {
		return result, err
	}
	if result.TotalTasks == 0 {
		return result, nil
	}
	gate, err := e.CreateGate(ctx, projectID, domain.GateTierComplete, domain.PhaseBuildSupervision,
		fmt.Sprintf("Tier %d build complete", tier), tierBuildSummary(result), nil, actorID)
	if err != nil {
		return result, fmt.Errorf("open tier_complete gate: %w", err)
	}
	result.GateID = gate.ID
	return result, nil
}

func tierBuildSummary(r BuildResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d tasks completed, %d failed.", r.Completed, r.Failed)
	fmt.Fprintf(&b, "\nTokens: %d in / %d out.", r.TokenUsage.InputTokens, r.TokenUsage.OutputTokens)
	if len(r.Incomplete) > 0 {
		b.WriteString("\nIncomplete items:\n- " + strings.Join(r.Incomplete, "\n- "))
	}
	if len(r.Questions) > 0 {
		b.WriteString("\nQuestions:\n- " + strings.Join(r.Questions, "\n- "))
	}
	return b.String()
}

func (e Engine) dispatchGroups(ctx context.Context, groups [][]domain.Task, actorID string) (BuildResult, error) {
	maxParallel := e.Config.Dispatch.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}
	sem := make(chan struct{}, maxParallel)
	var result BuildResult
	for _, group := range groups {
		outcomes := make([]taskOutcome, len(group))
		var wg sync.WaitGroup
		for i, t := range group {
			wg.Add(1)
			go func(i int, t domain.Task) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				m, err := e.dispatchTask(ctx, t, actorID)
				outcomes[i] = taskOutcome{task: t, manifest: m, err: err}
			}(i, t)
		}
		wg.Wait()
		for _, o := range outcomes {
			result.TotalTasks++
			if o.err != nil {
				result.Failed++
				result.Incomplete = append(result.Incomplete, fmt.Sprintf("[%s] dispatch failed: %v", o.task.ID, o.err))
				continue
			}
			result.Completed++
			result.TokenUsage.Add(o.manifest.TokenUsage)
			for _, item := range o.manifest.Incomplete {
				result.Incomplete = append(result.Incomplete, fmt.Sprintf("[%s] %s", o.task.ID, item))
			}
			for _, q := range o.manifest.Questions {
				result.Questions = append(result.Questions, fmt.Sprintf("[%s] %s", o.task.ID, q))
			}
			result.Manifests = append(result.Manifests, o.manifest)
		}
	}
	return result, nil
}

// dispatchTask drives one task through dispatched -> completed,
// persisting the parsed manifest. A connector failure marks the task
// rejected and returns the error; the caller keeps going.
func (e Engine) dispatchTask(ctx context.Context, t domain.Task, actorID string) (domain.Manifest, error) {
	provider := t.AssignedProvider
	if provider == "" {
		provider = ProviderForType(t.Type)
	}
	conn, err := e.connector(provider)
	if err != nil {
		return domain.Manifest{}, err
	}
	if _, err := e.SetTaskStatus(ctx, t.ID, domain.TaskDispatched, actorID, false); err != nil {
		return domain.Manifest{}, err
	}

	reply, err := conn.SendPrompt(ctx, BuildExecutionPrompt(t), map[string]any{
		"task_id": t.ID, "provider": provider,
	})
	if err != nil {
		if _, statusErr := e.SetTaskStatus(ctx, t.ID, domain.TaskRejected, actorID, false); statusErr != nil {
			e.logger().Printf("task %s: mark rejected after dispatch failure: %v", t.ID, statusErr)
		}
		return domain.Manifest{}, fmt.Errorf("send prompt: %w", err)
	}

	m := ParseManifest(t.ID, reply.Content)
	if m.TokenUsage == (domain.TokenUsage{}) {
		m.TokenUsage = reply.Usage
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Manifest{}, err
	}
	defer tx.Rollback()
	now := e.nowRFC()
	if err := e.Repo.UpsertManifest(ctx, tx, m, now); err != nil {
		return domain.Manifest{}, fmt.Errorf("persist manifest: %w", err)
	}
	if err := e.Repo.UpdateTaskStatus(ctx, tx, t.ID, domain.TaskCompleted, now); err != nil {
		return domain.Manifest{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ManifestRecorded, t.ProjectID, "task", t.ID, actorID, events.EventPayload{
		"artifacts": len(m.Artifacts), "incomplete": len(m.Incomplete),
	}); err != nil {
		return domain.Manifest{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskStatusChanged, t.ProjectID, "task", t.ID, actorID, events.EventPayload{
		"from": string(domain.TaskDispatched), "to": string(domain.TaskCompleted),
	}); err != nil {
		return domain.Manifest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Manifest{}, err
	}
	return m, nil
}
