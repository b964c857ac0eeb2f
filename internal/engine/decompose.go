package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"archon/internal/domain"
	"archon/internal/events"
)

// complexTypes route to the builder_complex provider.
var complexTypes = map[domain.TaskType]bool{
	domain.TaskStateSchema:       true,
	domain.TaskFlow:              true,
	domain.TaskConstraint:        true,
	domain.TaskFailureRecovery:   true,
	domain.TaskDependencyCascade: true,
}

// ProviderForType maps a task type to its provider role.
func ProviderForType(t domain.TaskType) string {
	if complexTypes[t] {
		return "builder_complex"
	}
	return "builder_simple"
}

// ParseDecomposition salvages every well-formed TASK block from a
// decomposition response. Malformed blocks are skipped with a note
// instead of failing the whole response. __task_index_N dependency
// placeholders resolve to the generated id of the Nth parsed task;
// anything else on a Depends on line is kept verbatim.
func ParseDecomposition(projectID string, tier int, text string) ([]domain.Task, []string) {
	var tasks []domain.Task
	var notes []string
	indexToID := map[int]string{}
	rawDeps := map[string][]string{}

	lines := strings.Split(text, "\n")
	var current *domain.Task
	currentIndex := -1
	flush := func() {
		if current != nil {
			tasks = append(tasks, *current)
			current = nil
		}
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if idx, name, ok := parseTaskHeader(trimmed); ok {
			flush()
			if name == "" {
				notes = append(notes, fmt.Sprintf("skipped TASK [%d]: empty name", idx))
				currentIndex = -1
				continue
			}
			id := NewID("task")
			current = &domain.Task{
				ID:            id,
				ProjectID:     projectID,
				Name:          name,
				BuildTier:     tier,
				Type:          domain.TaskGeneral,
				ParallelGroup: -1,
				Status:        domain.TaskPending,
			}
			currentIndex = idx
			indexToID[idx] = id
			continue
		}
		if current == nil {
			continue
		}
		key, value, ok := splitField(trimmed)
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "type":
			if t, ok := parseTaskType(value); ok {
				current.Type = t
			} else {
				notes = append(notes, fmt.Sprintf("task %d: unknown type %q, using general", currentIndex, value))
			}
		case "subsystem":
			current.Subsystem = value
		case "objective":
			current.Objective = value
		case "must build":
			current.ScopeMustBuild = splitList(value, ";")
		case "must not touch":
			current.ScopeMustNotTouch = splitList(value, ";")
		case "rules":
			current.RulesToImplement = splitList(value, ";")
		case "constraints":
			current.ConstraintsToEnforce = splitList(value, ";")
		case "test criteria":
			current.TestCriteria = splitList(value, ";")
		case "depends on":
			if !strings.EqualFold(value, "none") {
				rawDeps[current.ID] = splitList(value, ",")
			}
		}
	}
	flush()

	for i := range tasks {
		deps, moreNotes := resolveDepRefs(rawDeps[tasks[i].ID], indexToID)
		tasks[i].DependsOn = deps
		notes = append(notes, moreNotes...)
		tasks[i].AssignedProvider = ProviderForType(tasks[i].Type)
	}
	return tasks, notes
}

func parseTaskHeader(line string) (index int, name string, ok bool) {
	if !strings.HasPrefix(line, "TASK [") {
		return 0, "", false
	}
	rest := line[len("TASK ["):]
	close := strings.Index(rest, "]")
	if close < 0 {
		return 0, "", false
	}
	idx, err := strconv.Atoi(strings.TrimSpace(rest[:close]))
	if err != nil {
		return 0, "", false
	}
	rest = strings.TrimSpace(rest[close+1:])
	rest = strings.TrimPrefix(rest, ":")
	name = strings.Trim(strings.TrimSpace(rest), `"`)
	return idx, name, true
}

func splitField(line string) (key, value string, ok bool) {
	i := strings.Index(line, ":")
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

func splitList(value, sep string) []string {
	var out []string
	for _, part := range strings.Split(value, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseTaskType(value string) (domain.TaskType, bool) {
	t := domain.TaskType(strings.ToLower(strings.TrimSpace(value)))
	switch t {
	case domain.TaskStateSchema, domain.TaskFlow, domain.TaskConstraint,
		domain.TaskFailureRecovery, domain.TaskDependencyCascade,
		domain.TaskUXLayer, domain.TaskGeneral:
		return t, true
	}
	return "", false
}

// resolveDepRefs maps __task_index_N placeholders to generated ids.
// Unresolvable indices are dropped with a note; non-placeholder refs
// pass through untouched.
func resolveDepRefs(refs []string, indexToID map[int]string) ([]string, []string) {
	var deps, notes []string
	for _, ref := range refs {
		if idx, ok := strings.CutPrefix(ref, "__task_index_"); ok {
			n, err := strconv.Atoi(idx)
			if err != nil {
				notes = append(notes, fmt.Sprintf("dropped malformed dependency reference %q", ref))
				continue
			}
			id, found := indexToID[n]
			if !found {
				notes = append(notes, fmt.Sprintf("dropped dependency on unknown task index %d", n))
				continue
			}
			deps = append(deps, id)
			continue
		}
		deps = append(deps, ref)
	}
	return deps, notes
}

// CostEstimate is a low/mid/high token projection for a task set.
type CostEstimate struct {
	LowTokens  int `json:"low_tokens"`
	MidTokens  int `json:"mid_tokens"`
	HighTokens int `json:"high_tokens"`
}

// EstimateCost sums per-type mid estimates from config; low and high
// are fixed fractions of mid.
func (e Engine) EstimateCost(tasks []domain.Task) CostEstimate {
	const defaultMid = 8000
	mid := 0
	for _, t := range tasks {
		est, ok := e.Config.Estimates[string(t.Type)]
		if !ok || est.MidTokens <= 0 {
			mid += defaultMid
			continue
		}
		mid += est.MidTokens
	}
	return CostEstimate{
		LowTokens:  int(float64(mid) * 0.6),
		MidTokens:  mid,
		HighTokens: int(float64(mid) * 1.8),
	}
}

// Decompose prompts the architect for a tier plan, parses and levels
// it, persists the tasks, and advances the phase.
func (e Engine) Decompose(ctx context.Context, projectID string, tier int, actorID string) ([]domain.Task, []string, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if p.PendingGateID != nil {
		return nil, nil, ErrGateBlocked
	}
	architecture, err := e.Repo.GetArtifact(ctx, projectID, "architecture_template")
	if err != nil {
		return nil, nil, fmt.Errorf("architecture template required before decomposition: %w", err)
	}
	conn, err := e.connector("architect")
	if err != nil {
		return nil, nil, err
	}
	reply, err := conn.SendPrompt(ctx, BuildDecompositionPrompt(architecture, tier), map[string]any{"project_id": projectID, "tier": tier})
	if err != nil {
		return nil, nil, fmt.Errorf("decomposition prompt: %w", err)
	}
	return e.DecomposeFromText(ctx, projectID, tier, reply.Content, actorID)
}

// DecomposeFromText runs parse+level+persist on already-obtained text.
func (e Engine) DecomposeFromText(ctx context.Context, projectID string, tier int, text, actorID string) ([]domain.Task, []string, error) {
	tasks, notes := ParseDecomposition(projectID, tier, text)
	if len(tasks) == 0 {
		return nil, notes, fmt.Errorf("no tasks parsed from decomposition response")
	}
	leveled, err := ResolveLevels(tasks)
	if err != nil {
		return nil, notes, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, notes, err
	}
	defer tx.Rollback()
	now := e.nowRFC()
	for i := range leveled {
		leveled[i].CreatedAt = now
		leveled[i].UpdatedAt = now
		if err := e.Repo.InsertTask(ctx, tx, leveled[i]); err != nil {
			return nil, notes, fmt.Errorf("insert task %s: %w", leveled[i].Name, err)
		}
		if err := e.Events.Append(ctx, tx, events.TaskCreated, projectID, "task", leveled[i].ID, actorID, events.EventPayload{
			"name": leveled[i].Name, "tier": tier, "parallel_group": leveled[i].ParallelGroup,
		}); err != nil {
			return nil, notes, err
		}
	}
	if _, err := e.advancePhaseTx(ctx, tx, projectID, TriggerDecomposed, "", actorID); err != nil {
		var pte PhaseTransitionError
		if !errors.As(err, &pte) {
			return nil, notes, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, notes, err
	}
	return leveled, notes, nil
}
