package engine_test

import (
	"strings"
	"testing"

	"archon/internal/domain"
	"archon/internal/engine"
)

const flowPlan = `TASK [1]: "define order schema"
Type: state_schema
Objective: shape the order records
Depends on: none

TASK [2]: "checkout flow"
Type: flow
Objective: wire the checkout steps
Depends on: __task_index_1
`

// Walks a project from intake to completion on scripted connectors.
func TestFullBuildFlow(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Connectors["architect"] = scriptedArchitect(intakeReply)
	env.withBuilders(&scriptedBuilder{manifest: defaultManifest})
	reviewer := &scriptedReviewer{reply: "VERDICT: accept"}
	env.Engine.Connectors["reviewer"] = reviewer.connector()

	approve := func(gateID string) {
		t.Helper()
		if _, err := env.Engine.RespondGate(env.Ctx, gateID, engine.GateResponse{Type: domain.RespondChoose, Choice: "A"}, "tester"); err != nil {
			t.Fatalf("respond gate %s: %v", gateID, err)
		}
	}
	phase := func(want domain.Phase) {
		t.Helper()
		p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
		if err != nil {
			t.Fatalf("get project: %v", err)
		}
		if p.Phase != want {
			t.Fatalf("phase = %s, want %s", p.Phase, want)
		}
	}

	gate, _, err := env.Engine.RunVisionIntake(env.Ctx, "proj-1", "build a checkout service", "tester")
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	approve(gate.ID)
	phase(domain.PhaseSystemDesign)

	env.Engine.Connectors["architect"] = scriptedArchitect(designReply)
	gate, err = env.Engine.RunSystemDesign(env.Ctx, "proj-1", "tester")
	if err != nil {
		t.Fatalf("design: %v", err)
	}
	approve(gate.ID)
	phase(domain.PhaseDetailedDesign)
	if err := env.Engine.ProcessDesignResponse(env.Ctx, "proj-1", "tester"); err != nil {
		t.Fatalf("apply design: %v", err)
	}

	// applying the design leaves the detailed_design gate pending
	gate = env.pendingGate(t)
	if gate.Type != domain.GateDetailedDesign {
		t.Fatalf("gate type = %s, want detailed_design", gate.Type)
	}
	approve(gate.ID)
	phase(domain.PhaseBuildDecomposition)

	tasks, notes, err := env.Engine.DecomposeFromText(env.Ctx, "proj-1", 1, flowPlan, "tester")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(tasks) != 2 || len(notes) != 0 {
		t.Fatalf("tasks = %d, notes = %v", len(tasks), notes)
	}
	phase(domain.PhaseBuildSupervision)

	result, err := env.Engine.DispatchTier(env.Ctx, "proj-1", 1, "tester")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Completed != 2 || result.Failed != 0 {
		t.Fatalf("dispatch result = %+v", result)
	}

	// the dispatch run opens the tier_complete gate itself
	gate = env.pendingGate(t)
	if gate.Type != domain.GateTierComplete {
		t.Fatalf("gate type = %s, want tier_complete", gate.Type)
	}
	if !strings.Contains(gate.Description, "2 tasks completed, 0 failed") {
		t.Fatalf("tier summary = %q", gate.Description)
	}
	approve(gate.ID)
	phase(domain.PhaseValidation)

	reviews, err := env.Engine.ReviewTier(env.Ctx, "proj-1", 1, "tester")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if len(reviews) != 2 {
		t.Fatalf("reviews = %d", len(reviews))
	}
	for _, r := range reviews {
		if r.Verdict != domain.VerdictAccept {
			t.Fatalf("verdict for %s = %s", r.TaskID, r.Verdict)
		}
	}

	// the review run opens the final delivery gate
	gate = env.pendingGate(t)
	if gate.Type != domain.GateFinal {
		t.Fatalf("gate type = %s, want final", gate.Type)
	}
	if !strings.Contains(gate.Description, "Accepted: 2") {
		t.Fatalf("review summary = %q", gate.Description)
	}
	approve(gate.ID)
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Status != "complete" {
		t.Fatalf("project status = %s, want complete", p.Status)
	}

	health, err := env.Engine.Health(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.TasksTotal != 2 || health.TasksCompleted != 2 || health.GatesPending != 0 {
		t.Fatalf("health = %+v", health)
	}
	if health.TokensUsed.InputTokens == 0 || health.TokensUsed.OutputTokens == 0 {
		t.Fatal("token rollup empty after dispatch")
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, "proj-1", 200)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var hasPhaseAdvance bool
	for _, ev := range events {
		if strings.HasPrefix(ev.Type, "phase.") {
			hasPhaseAdvance = true
		}
	}
	if !hasPhaseAdvance {
		t.Fatal("no phase events recorded across the flow")
	}
}
