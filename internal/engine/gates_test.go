package engine_test

import (
	"errors"
	"strings"
	"testing"

	"archon/internal/domain"
	"archon/internal/engine"
)

func TestSinglePendingGate(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateVisionConfirmed, domain.PhaseVisionIntake, "Confirm vision", "", nil, "tester")
	if err != nil {
		t.Fatalf("create gate: %v", err)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.PendingGateID == nil || *p.PendingGateID != g.ID {
		t.Fatalf("pending gate not set: %+v", p)
	}
	if !strings.Contains(p.BlockedOn, "Confirm vision") {
		t.Fatalf("blocked_on = %q", p.BlockedOn)
	}

	if _, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateScopeChange, domain.PhaseVisionIntake, "second", "", nil, "tester"); !errors.Is(err, engine.ErrGatePending) {
		t.Fatalf("expected ErrGatePending, got %v", err)
	}
}

func TestGateAcceptsExactlyOneResponse(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateVisionConfirmed, domain.PhaseVisionIntake, "Confirm vision", "", nil, "tester")
	if err != nil {
		t.Fatalf("create gate: %v", err)
	}
	resolved, err := env.Engine.RespondGate(env.Ctx, g.ID, engine.GateResponse{Type: domain.RespondChoose, Choice: "A"}, "tester")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resolved.Status != domain.GateApproved {
		t.Fatalf("status = %s, want approved", resolved.Status)
	}
	if resolved.Response == nil || !strings.Contains(*resolved.Response, "option A") {
		t.Fatalf("response directive missing: %v", resolved.Response)
	}

	if _, err := env.Engine.RespondGate(env.Ctx, g.ID, engine.GateResponse{Type: domain.RespondReject}, "tester"); !errors.Is(err, engine.ErrGateAlreadyResolved) {
		t.Fatalf("expected ErrGateAlreadyResolved, got %v", err)
	}

	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.PendingGateID != nil || p.BlockedOn != "" {
		t.Fatalf("project still blocked: %+v", p)
	}
	if p.Phase != domain.PhaseSystemDesign {
		t.Fatalf("phase = %s, want %s", p.Phase, domain.PhaseSystemDesign)
	}

	// every gate response is a recorded decision
	decisions, err := env.Engine.Repo.ListDecisions(env.Ctx, "proj-1")
	if err != nil || len(decisions) != 1 {
		t.Fatalf("decisions: %v (%d)", err, len(decisions))
	}
	if !strings.Contains(decisions[0].Title, "Confirm vision") {
		t.Fatalf("decision title = %q", decisions[0].Title)
	}
}

func TestRejectResponseRejectsGateWithoutAdvancing(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateVisionConfirmed, domain.PhaseVisionIntake, "Confirm vision", "", nil, "tester")
	if err != nil {
		t.Fatalf("create gate: %v", err)
	}
	resolved, err := env.Engine.RespondGate(env.Ctx, g.ID, engine.GateResponse{Type: domain.RespondReject, Modifications: []string{"wrong problem"}}, "tester")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resolved.Status != domain.GateRejected {
		t.Fatalf("status = %s, want rejected", resolved.Status)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Phase != domain.PhaseVisionIntake {
		t.Fatalf("phase advanced on reject: %s", p.Phase)
	}
	if p.PendingGateID != nil {
		t.Fatal("project should unblock even on reject")
	}
}

func TestMidBuildGateApprovalTolerated(t *testing.T) {
	env := newTestEnv(t)
	env.setPhase(t, domain.PhaseBuildSupervision)
	g, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateScopeChange, domain.PhaseBuildSupervision, "Allow new subsystem", "", nil, "tester")
	if err != nil {
		t.Fatalf("create gate: %v", err)
	}
	// scope_change has no phase edge; approval must still succeed
	if _, err := env.Engine.RespondGate(env.Ctx, g.ID, engine.GateResponse{Type: domain.RespondChoose, Choice: "yes"}, "tester"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Phase != domain.PhaseBuildSupervision {
		t.Fatalf("phase = %s, want build_supervision", p.Phase)
	}
}

func TestTierCompleteAdvancesTierWhenHigherTiersExist(t *testing.T) {
	env := newTestEnv(t)
	env.setPhase(t, domain.PhaseBuildSupervision)
	env.insertTask(t, domain.Task{Name: "t1", BuildTier: 1, Status: domain.TaskCompleted})
	env.insertTask(t, domain.Task{Name: "t2", BuildTier: 2})

	g, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateTierComplete, domain.PhaseBuildSupervision, "Tier 1 complete", "", nil, "tester")
	if err != nil {
		t.Fatalf("create gate: %v", err)
	}
	if _, err := env.Engine.RespondGate(env.Ctx, g.ID, engine.GateResponse{Type: domain.RespondChoose}, "tester"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Phase != domain.PhaseBuildSupervision {
		t.Fatalf("phase = %s, want build_supervision", p.Phase)
	}
	if p.CurrentTier != 2 {
		t.Fatalf("current tier = %d, want 2", p.CurrentTier)
	}
}

func TestTierCompleteMovesToValidationOnLastTier(t *testing.T) {
	env := newTestEnv(t)
	env.setPhase(t, domain.PhaseBuildSupervision)
	env.insertTask(t, domain.Task{Name: "t1", BuildTier: 1, Status: domain.TaskCompleted})

	g, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateTierComplete, domain.PhaseBuildSupervision, "Tier 1 complete", "", nil, "tester")
	if err != nil {
		t.Fatalf("create gate: %v", err)
	}
	if _, err := env.Engine.RespondGate(env.Ctx, g.ID, engine.GateResponse{Type: domain.RespondChoose}, "tester"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Phase != domain.PhaseValidation {
		t.Fatalf("phase = %s, want validation", p.Phase)
	}
	if p.CurrentTier != 1 {
		t.Fatalf("tier should not advance past the last, got %d", p.CurrentTier)
	}
}

func TestFinalGateCompletesProject(t *testing.T) {
	env := newTestEnv(t)
	env.setPhase(t, domain.PhaseValidation)
	g, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateFinal, domain.PhaseValidation, "Ship it", "", nil, "tester")
	if err != nil {
		t.Fatalf("create gate: %v", err)
	}
	if _, err := env.Engine.RespondGate(env.Ctx, g.ID, engine.GateResponse{Type: domain.RespondChoose}, "tester"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Status != "complete" {
		t.Fatalf("status = %s, want complete", p.Status)
	}
	if p.Phase != domain.PhaseValidation {
		t.Fatalf("phase = %s, want validation", p.Phase)
	}
}

func TestFinalGateHoldsWhileTasksUnfinished(t *testing.T) {
	env := newTestEnv(t)
	env.setPhase(t, domain.PhaseValidation)
	env.insertTask(t, domain.Task{Name: "ok", Status: domain.TaskCompleted})
	env.insertTask(t, domain.Task{Name: "redo", Status: domain.TaskRevisionRequested})

	g, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateFinal, domain.PhaseValidation, "Ship it", "", nil, "tester")
	if err != nil {
		t.Fatalf("create gate: %v", err)
	}
	resolved, err := env.Engine.RespondGate(env.Ctx, g.ID, engine.GateResponse{Type: domain.RespondReviseAndProceed, Modifications: []string{"fix the redo task"}}, "tester")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resolved.Status != domain.GateApproved {
		t.Fatalf("status = %s, want approved", resolved.Status)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Status == "complete" {
		t.Fatal("project must not complete with a revision outstanding")
	}
	if p.PendingGateID != nil {
		t.Fatal("approval must still unblock the project")
	}
}

func TestDeferGateKeepsProjectBlocked(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateVisionConfirmed, domain.PhaseVisionIntake, "Confirm vision", "", nil, "tester")
	if err != nil {
		t.Fatalf("create gate: %v", err)
	}
	deferred, err := env.Engine.DeferGate(env.Ctx, g.ID, "tester")
	if err != nil {
		t.Fatalf("defer: %v", err)
	}
	if deferred.Status != domain.GateDeferred {
		t.Fatalf("status = %s, want deferred", deferred.Status)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.PendingGateID == nil {
		t.Fatal("defer must keep the project blocked")
	}
}

func TestBuildResponseDirectives(t *testing.T) {
	cases := []struct {
		rt   domain.GateResponseType
		want string
	}{
		{domain.RespondChoose, "Proceed with option B as presented."},
		{domain.RespondChooseModified, "with these modifications"},
		{domain.RespondCombine, "Combine the selected options"},
		{domain.RespondReviseAndProceed, "without another gate"},
		{domain.RespondExploreDifferent, "Explore a different direction"},
		{domain.RespondReject, "Stop and await new direction"},
	}
	for _, c := range cases {
		got := engine.BuildResponseDirective(c.rt, "B", []string{"keep it small"})
		if !strings.Contains(got, c.want) {
			t.Errorf("%s: directive %q missing %q", c.rt, got, c.want)
		}
	}
}

func TestNextPhaseRejectsUnknownEdges(t *testing.T) {
	if _, err := engine.NextPhase(domain.PhaseVisionIntake, engine.TriggerGateApproved, domain.GateSystemDesign); err == nil {
		t.Fatal("expected error for wrong gate type")
	}
	var pte engine.PhaseTransitionError
	_, err := engine.NextPhase(domain.PhaseValidation, engine.TriggerDecomposed, "")
	if !errors.As(err, &pte) {
		t.Fatalf("expected PhaseTransitionError, got %v", err)
	}
	next, err := engine.NextPhase(domain.PhaseDetailedDesign, engine.TriggerGateApproved, domain.GateDetailedDesign)
	if err != nil || next != domain.PhaseBuildDecomposition {
		t.Fatalf("detailed_design approval: %v -> %s", err, next)
	}
}

func TestAdvancePhaseBlockedByPendingGate(t *testing.T) {
	env := newTestEnv(t)
	env.setPhase(t, domain.PhaseBuildDecomposition)
	if _, err := env.Engine.CreateGate(env.Ctx, "proj-1", domain.GateConstitutional, domain.PhaseBuildDecomposition, "hold", "", nil, "tester"); err != nil {
		t.Fatalf("create gate: %v", err)
	}
	_, err := env.Engine.AdvancePhase(env.Ctx, "proj-1", engine.TriggerDecomposed, "", "tester")
	if !errors.Is(err, engine.ErrGateBlocked) {
		t.Fatalf("expected ErrGateBlocked, got %v", err)
	}
}
