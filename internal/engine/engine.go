package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"archon/internal/config"
	"archon/internal/domain"
	"archon/internal/events"
	"archon/internal/repo"
)

// Engine owns all orchestration state transitions. Every operation
// runs in its own transaction and appends events in that transaction.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Connectors map[string]Connector
	Logger     *log.Logger
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:         db,
		Repo:       repo.New(db),
		Config:     cfg,
		Connectors: map[string]Connector{},
		Now:        time.Now,
	}
	e.Events = events.Writer{DB: db, Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e Engine) nowRFC() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// NewID returns prefix_ plus twelve hex chars, e.g. task_3fa9c2d1b044.
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "_" + hex[:12]
}

// connector returns the connector registered for a provider role.
func (e Engine) connector(role string) (Connector, error) {
	c, ok := e.Connectors[role]
	if !ok || c == nil {
		return nil, fmt.Errorf("no connector registered for provider %q", role)
	}
	return c, nil
}

// InitProject creates a project in vision_intake.
func (e Engine) InitProject(ctx context.Context, id, name, actorID string) (domain.Project, error) {
	if strings.TrimSpace(id) == "" {
		id = NewID("proj")
	}
	now := e.nowRFC()
	p := domain.Project{
		ID:          id,
		Name:        name,
		Phase:       domain.PhaseVisionIntake,
		Status:      "active",
		CurrentTier: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// Health summarizes task, gate, and token counters for a project.
func (e Engine) Health(ctx context.Context, projectID string) (domain.ProjectHealth, error) {
	var h domain.ProjectHealth
	counts, err := e.Repo.CountTasksByStatus(ctx, projectID)
	if err != nil {
		return h, err
	}
	for status, n := range counts {
		h.TasksTotal += n
		switch domain.TaskStatus(status) {
		case domain.TaskCompleted:
			h.TasksCompleted += n
		case domain.TaskRejected:
			h.TasksRejected += n
		}
	}
	gates, err := e.Repo.ListGates(ctx, projectID, string(domain.GatePending))
	if err != nil {
		return h, err
	}
	h.GatesPending = len(gates)
	row := e.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0) FROM manifests m JOIN tasks t ON t.id=m.task_id WHERE t.project_id=?`, projectID)
	if err := row.Scan(&h.TokensUsed.InputTokens, &h.TokensUsed.OutputTokens); err != nil {
		return h, err
	}
	return h, nil
}

// RecordDecision appends a decision row plus its event.
func (e Engine) RecordDecision(ctx context.Context, d domain.Decision, actorID string) (domain.Decision, error) {
	if d.ID == "" {
		d.ID = NewID("dec")
	}
	if d.CreatedAt == "" {
		d.CreatedAt = e.nowRFC()
	}
	if d.DeciderID == "" {
		d.DeciderID = actorID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDecision(ctx, tx, d); err != nil {
		return domain.Decision{}, fmt.Errorf("insert decision: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.DecisionRecorded, d.ProjectID, "decision", d.ID, actorID, events.EventPayload{"title": d.Title}); err != nil {
		return domain.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	return d, nil
}

// ensureTaskTransition guards task status changes. Force bypasses the
// table but never invents unknown statuses.
func ensureTaskTransition(old, new domain.TaskStatus, force bool) error {
	if old == new {
		return nil
	}
	if !validTaskStatus(new) {
		return fmt.Errorf("unknown task status %q", new)
	}
	if force {
		return nil
	}
	allowed := map[domain.TaskStatus][]domain.TaskStatus{
		domain.TaskPending:           {domain.TaskDispatched},
		domain.TaskDispatched:        {domain.TaskInProgress, domain.TaskCompleted, domain.TaskRejected},
		domain.TaskInProgress:        {domain.TaskCompleted, domain.TaskRejected},
		domain.TaskCompleted:         {domain.TaskRevisionRequested, domain.TaskRejected},
		domain.TaskRevisionRequested: {domain.TaskDispatched},
		domain.TaskRejected:          {domain.TaskDispatched},
	}
	for _, s := range allowed[old] {
		if s == new {
			return nil
		}
	}
	return fmt.Errorf("invalid task transition %s -> %s", old, new)
}

func validTaskStatus(s domain.TaskStatus) bool {
	switch s {
	case domain.TaskPending, domain.TaskDispatched, domain.TaskInProgress,
		domain.TaskCompleted, domain.TaskRejected, domain.TaskRevisionRequested:
		return true
	}
	return false
}

// SetTaskStatus applies a guarded status change with its event.
func (e Engine) SetTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus, actorID string, force bool) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureTaskTransition(t.Status, status, force); err != nil {
		return domain.Task{}, err
	}
	now := e.nowRFC()
	if err := e.Repo.UpdateTaskStatus(ctx, tx, taskID, status, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskStatusChanged, t.ProjectID, "task", taskID, actorID, events.EventPayload{"from": string(t.Status), "to": string(status)}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.Status = status
	t.UpdatedAt = now
	return t, nil
}
