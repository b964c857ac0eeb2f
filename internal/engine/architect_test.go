package engine_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"archon/internal/domain"
	"archon/internal/engine"
)

const intakeReply = `Problem statement: Teams lose track of multi-step build plans.
Target users:
- platform engineers
- tech leads

Core capabilities:
- plan decomposition
- dependency tracking

Non-goals:
- billing

Success criteria:
- plans survive restarts

Before confirming:
- What is the expected team size?
- Is offline use required?
- ok?
`

const designReply = `Two viable shapes.

OPTION [A]: Modular monolith
Single binary, embedded storage.
Lowest operational cost.

OPTION [B]: Service split
Separate planner and executor services.
RECOMMENDED
Scales the executor independently.
`

func scriptedArchitect(reply string) engine.ConnectorFunc {
	return func(ctx context.Context, prompt string, promptContext map[string]any) (engine.Reply, error) {
		return engine.Reply{Content: reply, Usage: domain.TokenUsage{InputTokens: 50, OutputTokens: 40}}, nil
	}
}

func TestExtractVisionContract(t *testing.T) {
	v := engine.ExtractVisionContract(intakeReply)
	if v.ProblemStatement != "Teams lose track of multi-step build plans." {
		t.Fatalf("problem statement = %q", v.ProblemStatement)
	}
	if len(v.TargetUsers) != 2 || v.TargetUsers[1] != "tech leads" {
		t.Fatalf("target users = %v", v.TargetUsers)
	}
	if len(v.CoreCapabilities) != 2 {
		t.Fatalf("core capabilities = %v", v.CoreCapabilities)
	}
	if len(v.NonGoals) != 1 || v.NonGoals[0] != "billing" {
		t.Fatalf("non-goals = %v", v.NonGoals)
	}
	missing, _ := v.Validate()
	if len(missing) != 0 {
		t.Fatalf("unexpected missing fields: %v", missing)
	}
}

func TestExtractVisionContractReportsMissing(t *testing.T) {
	v := engine.ExtractVisionContract("just prose, no labels")
	missing, _ := v.Validate()
	want := map[string]bool{"problem_statement": true, "core_capabilities": true}
	if len(missing) != len(want) {
		t.Fatalf("missing = %v", missing)
	}
	for _, m := range missing {
		if !want[m] {
			t.Fatalf("unexpected missing field %q", m)
		}
	}
}

func TestExtractQuestions(t *testing.T) {
	qs := engine.ExtractQuestions(intakeReply)
	// "ok?" is too short to count
	if len(qs) != 2 {
		t.Fatalf("questions = %v", qs)
	}
	if qs[0] != "What is the expected team size?" {
		t.Fatalf("first question = %q", qs[0])
	}
}

func TestParseGateOptions(t *testing.T) {
	opts := engine.ParseGateOptions(designReply)
	if len(opts) != 2 {
		t.Fatalf("options = %+v", opts)
	}
	if opts[0].Label != "A" || opts[0].Recommended {
		t.Fatalf("option A = %+v", opts[0])
	}
	if !strings.HasPrefix(opts[0].Summary, "Modular monolith") {
		t.Fatalf("option A summary = %q", opts[0].Summary)
	}
	if opts[1].Label != "B" || !opts[1].Recommended {
		t.Fatalf("option B = %+v", opts[1])
	}
	if strings.Contains(opts[1].Summary, "RECOMMENDED") {
		t.Fatalf("marker leaked into summary: %q", opts[1].Summary)
	}
	if engine.ParseGateOptions("no cards here") != nil {
		t.Fatal("expected nil for text without option cards")
	}
}

func TestRunVisionIntake(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Connectors["architect"] = scriptedArchitect(intakeReply)

	gate, contract, err := env.Engine.RunVisionIntake(env.Ctx, "proj-1", "build a planner", "tester")
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if gate.Type != domain.GateVisionConfirmed || gate.Title != "Confirm project vision" {
		t.Fatalf("gate = %+v", gate)
	}
	if !strings.Contains(gate.Description, "Clarifying questions") {
		t.Fatalf("description = %q", gate.Description)
	}
	if contract.ProblemStatement == "" {
		t.Fatal("contract not extracted")
	}
	stored, err := env.Engine.Repo.GetArtifact(env.Ctx, "proj-1", "vision_contract")
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if !strings.Contains(stored, "multi-step build plans") {
		t.Fatalf("stored contract = %q", stored)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.PendingGateID == nil || *p.PendingGateID != gate.ID {
		t.Fatal("project not blocked on the new gate")
	}
}

func TestRunVisionIntakeRequiresIntakePhase(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Connectors["architect"] = scriptedArchitect(intakeReply)
	env.setPhase(t, domain.PhaseSystemDesign)
	if _, _, err := env.Engine.RunVisionIntake(env.Ctx, "proj-1", "brief", "tester"); err == nil {
		t.Fatal("expected phase error")
	}
}

func TestRunSystemDesignParsesOptionCards(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Connectors["architect"] = scriptedArchitect(designReply)
	env.setPhase(t, domain.PhaseSystemDesign)
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Engine.Repo.PutArtifact(env.Ctx, tx, "proj-1", "vision_contract", `{"problem_statement":"x"}`, env.clock.UTC().Format(time.RFC3339))
	})

	gate, err := env.Engine.RunSystemDesign(env.Ctx, "proj-1", "tester")
	if err != nil {
		t.Fatalf("design: %v", err)
	}
	if gate.Type != domain.GateSystemDesign || len(gate.Options) != 2 {
		t.Fatalf("gate = %+v", gate)
	}
	raw, err := env.Engine.Repo.GetArtifact(env.Ctx, "proj-1", "design_response")
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if raw != designReply {
		t.Fatal("raw design response not preserved")
	}
}

func TestRunSystemDesignRequiresVisionContract(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Connectors["architect"] = scriptedArchitect(designReply)
	env.setPhase(t, domain.PhaseSystemDesign)
	if _, err := env.Engine.RunSystemDesign(env.Ctx, "proj-1", "tester"); err == nil {
		t.Fatal("expected missing vision contract error")
	}
}

func TestRunSystemDesignFallsBackToSingleOption(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Connectors["architect"] = scriptedArchitect("One shape only: a single binary.")
	env.setPhase(t, domain.PhaseSystemDesign)
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Engine.Repo.PutArtifact(env.Ctx, tx, "proj-1", "vision_contract", "{}", env.clock.UTC().Format(time.RFC3339))
	})
	gate, err := env.Engine.RunSystemDesign(env.Ctx, "proj-1", "tester")
	if err != nil {
		t.Fatalf("design: %v", err)
	}
	if len(gate.Options) != 1 || gate.Options[0].Label != "A" || !gate.Options[0].Recommended {
		t.Fatalf("fallback option = %+v", gate.Options)
	}
}

func TestProcessDesignResponseBuildsTemplate(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Connectors["architect"] = scriptedArchitect(designReply)
	env.setPhase(t, domain.PhaseSystemDesign)
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Engine.Repo.PutArtifact(env.Ctx, tx, "proj-1", "vision_contract", "{}", env.clock.UTC().Format(time.RFC3339))
	})
	gate, err := env.Engine.RunSystemDesign(env.Ctx, "proj-1", "tester")
	if err != nil {
		t.Fatalf("design: %v", err)
	}
	if _, err := env.Engine.RespondGate(env.Ctx, gate.ID, engine.GateResponse{
		Type:          domain.RespondChooseModified,
		Choice:        "A",
		Modifications: []string{"add an audit log"},
	}, "tester"); err != nil {
		t.Fatalf("respond: %v", err)
	}

	if err := env.Engine.ProcessDesignResponse(env.Ctx, "proj-1", "tester"); err != nil {
		t.Fatalf("process: %v", err)
	}
	tpl, err := env.Engine.Repo.GetArtifact(env.Ctx, "proj-1", "architecture_template")
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if !strings.Contains(tpl, "Modular monolith") {
		t.Fatalf("chosen option not in template: %q", tpl)
	}
	if !strings.Contains(tpl, "Modifications:\n- add an audit log") {
		t.Fatalf("modifications missing: %q", tpl)
	}
	next := env.pendingGate(t)
	if next.Type != domain.GateDetailedDesign {
		t.Fatalf("gate type = %s, want detailed_design", next.Type)
	}
	if next.Description != tpl {
		t.Fatalf("detailed_design gate should present the template, got %q", next.Description)
	}
}

func TestProcessDesignResponseFallsBackToRecommended(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Connectors["architect"] = scriptedArchitect(designReply)
	env.setPhase(t, domain.PhaseSystemDesign)
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Engine.Repo.PutArtifact(env.Ctx, tx, "proj-1", "vision_contract", "{}", env.clock.UTC().Format(time.RFC3339))
	})
	gate, err := env.Engine.RunSystemDesign(env.Ctx, "proj-1", "tester")
	if err != nil {
		t.Fatalf("design: %v", err)
	}
	if _, err := env.Engine.RespondGate(env.Ctx, gate.ID, engine.GateResponse{
		Type:          domain.RespondReviseAndProceed,
		Modifications: []string{"tighten error handling"},
	}, "tester"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if err := env.Engine.ProcessDesignResponse(env.Ctx, "proj-1", "tester"); err != nil {
		t.Fatalf("process: %v", err)
	}
	tpl, err := env.Engine.Repo.GetArtifact(env.Ctx, "proj-1", "architecture_template")
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if !strings.Contains(tpl, "Service split") {
		t.Fatalf("recommended option not chosen: %q", tpl)
	}
}
