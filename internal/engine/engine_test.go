package engine_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"archon/internal/config"
	"archon/internal/db"
	"archon/internal/domain"
	"archon/internal/engine"
	"archon/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	env := &testEnv{Ctx: context.Background(), clock: &start}
	eng.Now = func() time.Time { return *env.clock }
	env.Engine = eng
	if _, err := eng.InitProject(env.Ctx, "proj-1", "test project", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	if err := eng.Repo.UpsertProjectConfig(env.Ctx, "proj-1", cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return env
}

func (env *testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func (env *testEnv) insertTask(t *testing.T, task domain.Task) domain.Task {
	t.Helper()
	if task.ID == "" {
		task.ID = engine.NewID("task")
	}
	if task.ProjectID == "" {
		task.ProjectID = "proj-1"
	}
	if task.Type == "" {
		task.Type = domain.TaskGeneral
	}
	if task.Status == "" {
		task.Status = domain.TaskPending
	}
	if task.BuildTier == 0 {
		task.BuildTier = 1
	}
	now := env.clock.UTC().Format(time.RFC3339)
	task.CreatedAt = now
	task.UpdatedAt = now
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Engine.Repo.InsertTask(env.Ctx, tx, task)
	})
	return task
}

func (env *testEnv) inTx(t *testing.T, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func (env *testEnv) pendingGate(t *testing.T) domain.Gate {
	t.Helper()
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.PendingGateID == nil {
		t.Fatal("project has no pending gate")
	}
	g, err := env.Engine.Repo.GetGate(env.Ctx, *p.PendingGateID)
	if err != nil {
		t.Fatalf("get gate: %v", err)
	}
	return g
}

func (env *testEnv) approvePendingGate(t *testing.T) domain.Gate {
	t.Helper()
	g := env.pendingGate(t)
	resolved, err := env.Engine.RespondGate(env.Ctx, g.ID, engine.GateResponse{Type: domain.RespondChoose, Choice: "A"}, "tester")
	if err != nil {
		t.Fatalf("respond gate %s: %v", g.ID, err)
	}
	return resolved
}

func (env *testEnv) setPhase(t *testing.T, phase domain.Phase) {
	t.Helper()
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	p.Phase = phase
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Engine.Repo.UpdateProject(env.Ctx, tx, p)
	})
}

func TestInitProjectStartsInVisionIntake(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Phase != domain.PhaseVisionIntake {
		t.Fatalf("phase = %s, want %s", p.Phase, domain.PhaseVisionIntake)
	}
	if p.CurrentTier != 1 {
		t.Fatalf("current tier = %d, want 1", p.CurrentTier)
	}
	if p.Status != "active" {
		t.Fatalf("status = %s, want active", p.Status)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, "proj-1", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Type != "project.created" {
		t.Fatalf("expected one project.created event, got %+v", events)
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	task := env.insertTask(t, domain.Task{Name: "build parser"})

	task2, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, domain.TaskDispatched, "tester", false)
	if err != nil || task2.Status != domain.TaskDispatched {
		t.Fatalf("to dispatched: %v", err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, domain.TaskCompleted, "tester", false); err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, domain.TaskRevisionRequested, "tester", false); err != nil {
		t.Fatalf("to revision_requested: %v", err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, domain.TaskDispatched, "tester", false); err != nil {
		t.Fatalf("revision back to dispatched: %v", err)
	}

	// pending cannot jump straight to completed
	other := env.insertTask(t, domain.Task{Name: "other"})
	if _, err := env.Engine.SetTaskStatus(env.Ctx, other.ID, domain.TaskCompleted, "tester", false); err == nil {
		t.Fatal("expected transition error for pending -> completed")
	}
	// force bypasses the table
	if _, err := env.Engine.SetTaskStatus(env.Ctx, other.ID, domain.TaskCompleted, "tester", true); err != nil {
		t.Fatalf("forced transition: %v", err)
	}
	// but never invents unknown statuses
	if _, err := env.Engine.SetTaskStatus(env.Ctx, other.ID, "exploded", "tester", true); err == nil {
		t.Fatal("expected error for unknown status even with force")
	}
}

func TestHealthRollsUpTasksGatesAndTokens(t *testing.T) {
	env := newTestEnv(t)
	done := env.insertTask(t, domain.Task{Name: "a", Status: domain.TaskCompleted})
	env.insertTask(t, domain.Task{Name: "b", Status: domain.TaskRejected})
	env.insertTask(t, domain.Task{Name: "c"})
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Engine.Repo.UpsertManifest(env.Ctx, tx, domain.Manifest{
			TaskID:     done.ID,
			Artifacts:  []domain.Artifact{{Path: "internal/a.go"}},
			TokenUsage: domain.TokenUsage{InputTokens: 100, OutputTokens: 40},
		}, "2025-03-01T12:00:00Z")
	})
	if _, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateScopeChange, domain.PhaseBuildSupervision, "scope", "", nil, "tester"); err != nil {
		t.Fatalf("create gate: %v", err)
	}

	h, err := env.Engine.Health(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.TasksTotal != 3 || h.TasksCompleted != 1 || h.TasksRejected != 1 {
		t.Fatalf("task rollup = %+v", h)
	}
	if h.GatesPending != 1 {
		t.Fatalf("gates pending = %d, want 1", h.GatesPending)
	}
	if h.TokensUsed.InputTokens != 100 || h.TokensUsed.OutputTokens != 40 {
		t.Fatalf("tokens = %+v", h.TokensUsed)
	}
}

func TestRecordDecisionFillsDefaults(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.RecordDecision(env.Ctx, domain.Decision{
		ProjectID: "proj-1",
		Title:     "use sqlite",
		Decision:  "single-file db keeps the workspace portable",
	}, "tester")
	if err != nil {
		t.Fatalf("record decision: %v", err)
	}
	if d.ID == "" || d.DeciderID != "tester" || d.CreatedAt == "" {
		t.Fatalf("defaults not filled: %+v", d)
	}
	list, err := env.Engine.Repo.ListDecisions(env.Ctx, "proj-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list decisions: %v (%d)", err, len(list))
	}
}

func TestNewIDFormat(t *testing.T) {
	id := engine.NewID("task")
	if len(id) != len("task_")+12 {
		t.Fatalf("id %q has wrong length", id)
	}
	if id[:5] != "task_" {
		t.Fatalf("id %q missing prefix", id)
	}
	if id == engine.NewID("task") {
		t.Fatal("ids should not repeat")
	}
}
