package engine

import (
	"context"
	"fmt"
	"strings"

	"archon/internal/domain"
	"archon/internal/events"
	"archon/internal/repo"
)

// ReviewBatch is the cross-task context Stage 3 checks against.
type ReviewBatch struct {
	CompletedTaskIDs map[string]bool
	// ArtifactOwners maps artifact path to the first task that claimed it.
	ArtifactOwners map[string]string
}

func NewReviewBatch() *ReviewBatch {
	return &ReviewBatch{
		CompletedTaskIDs: map[string]bool{},
		ArtifactOwners:   map[string]string{},
	}
}

// Stage 1: automated checks against the manifest alone. Any hard
// failure rejects the task without a reviewer call.

func checkManifestCompleteness(m domain.Manifest) domain.CheckResult {
	if len(m.Artifacts) == 0 {
		return domain.CheckResult{Name: "manifest_completeness", Passed: false, Message: "manifest lists no artifacts"}
	}
	for _, a := range m.Artifacts {
		if strings.TrimSpace(a.Path) == "" {
			return domain.CheckResult{Name: "manifest_completeness", Passed: false, Message: "artifact with empty path"}
		}
	}
	return domain.CheckResult{Name: "manifest_completeness", Passed: true}
}

func checkScopeCompliance(t domain.Task, m domain.Manifest) domain.CheckResult {
	for _, boundary := range t.ScopeMustNotTouch {
		b := strings.ToLower(strings.TrimSpace(boundary))
		if b == "" {
			continue
		}
		for _, a := range m.Artifacts {
			if strings.Contains(strings.ToLower(a.Path), b) {
				return domain.CheckResult{
					Name:    "scope_compliance",
					Passed:  false,
					Message: fmt.Sprintf("artifact %s touches forbidden boundary %q", a.Path, boundary),
				}
			}
		}
	}
	return domain.CheckResult{Name: "scope_compliance", Passed: true}
}

func checkTestCoverage(t domain.Task, m domain.Manifest) domain.CheckResult {
	if len(t.TestCriteria) == 0 {
		return domain.CheckResult{Name: "test_coverage", Passed: true, Message: "no test criteria declared"}
	}
	for _, a := range m.Artifacts {
		if strings.Contains(strings.ToLower(a.Path), "test") {
			return domain.CheckResult{Name: "test_coverage", Passed: true}
		}
	}
	return domain.CheckResult{Name: "test_coverage", Passed: false, Message: "test criteria declared but no test artifact produced"}
}

// checkConstraintPresence is advisory only: it warns when a declared
// constraint is never mentioned, but still passes.
func checkConstraintPresence(t domain.Task, m domain.Manifest) domain.CheckResult {
	if len(t.ConstraintsToEnforce) == 0 {
		return domain.CheckResult{Name: "constraint_presence", Passed: true}
	}
	var blob strings.Builder
	for _, a := range m.Artifacts {
		blob.WriteString(strings.ToLower(a.Path))
		blob.WriteString(" ")
		blob.WriteString(strings.ToLower(a.Summary))
		blob.WriteString(" ")
	}
	text := blob.String()
	var missing []string
	for _, c := range t.ConstraintsToEnforce {
		if !strings.Contains(text, strings.ToLower(c)) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return domain.CheckResult{Name: "constraint_presence", Passed: true, Message: "Warning: constraints not evidenced in manifest: " + strings.Join(missing, "; ")}
	}
	return domain.CheckResult{Name: "constraint_presence", Passed: true}
}

func checkIncompleteItems(m domain.Manifest) domain.CheckResult {
	if len(m.Incomplete) > 0 {
		return domain.CheckResult{Name: "incomplete_items", Passed: false, Message: fmt.Sprintf("%d incomplete item(s) reported", len(m.Incomplete))}
	}
	return domain.CheckResult{Name: "incomplete_items", Passed: true}
}

func runStage1(t domain.Task, m domain.Manifest) []domain.CheckResult {
	return []domain.CheckResult{
		checkManifestCompleteness(m),
		checkScopeCompliance(t, m),
		checkTestCoverage(t, m),
		checkConstraintPresence(t, m),
		checkIncompleteItems(m),
	}
}

// Stage 3: integration checks against the rest of the batch.

func checkInterfaceMatching(t domain.Task, m domain.Manifest) domain.CheckResult {
	if len(t.InterfacesProduces) == 0 {
		return domain.CheckResult{Name: "interface_matching", Passed: true}
	}
	var blob strings.Builder
	for _, a := range m.Artifacts {
		blob.WriteString(strings.ToLower(a.Path))
		blob.WriteString(" ")
		blob.WriteString(strings.ToLower(a.Summary))
		blob.WriteString(" ")
	}
	text := blob.String()
	for _, iface := range t.InterfacesProduces {
		if !strings.Contains(text, strings.ToLower(iface)) {
			return domain.CheckResult{Name: "interface_matching", Passed: false, Message: fmt.Sprintf("declared interface %q not evidenced in manifest", iface)}
		}
	}
	return domain.CheckResult{Name: "interface_matching", Passed: true}
}

func checkDependencySatisfaction(t domain.Task, batch *ReviewBatch) domain.CheckResult {
	for _, dep := range t.DependsOn {
		if !batch.CompletedTaskIDs[dep] {
			return domain.CheckResult{Name: "dependency_satisfaction", Passed: false, Message: fmt.Sprintf("dependency %s not completed", dep)}
		}
	}
	return domain.CheckResult{Name: "dependency_satisfaction", Passed: true}
}

func checkDuplicateArtifacts(t domain.Task, m domain.Manifest, batch *ReviewBatch) domain.CheckResult {
	for _, a := range m.Artifacts {
		owner, seen := batch.ArtifactOwners[a.Path]
		if seen && owner != t.ID {
			return domain.CheckResult{Name: "duplicate_artifacts", Passed: false, Message: fmt.Sprintf("artifact %s also produced by task %s", a.Path, owner)}
		}
	}
	return domain.CheckResult{Name: "duplicate_artifacts", Passed: true}
}

func runStage3(t domain.Task, m domain.Manifest, batch *ReviewBatch) []domain.CheckResult {
	return []domain.CheckResult{
		checkInterfaceMatching(t, m),
		checkDependencySatisfaction(t, batch),
		checkDuplicateArtifacts(t, m, batch),
	}
}

func anyFailed(checks []domain.CheckResult) bool {
	for _, c := range checks {
		if !c.Passed {
			return true
		}
	}
	return false
}

// parseVerdict scans reviewer text for a VERDICT line. The second
// return reports whether a verdict token was actually found.
func parseVerdict(text string) (domain.ReviewVerdict, bool) {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		if !strings.HasPrefix(upper, "VERDICT:") {
			continue
		}
		token := strings.ToLower(strings.TrimSpace(trimmed[len("VERDICT:"):]))
		token = strings.Trim(token, ".!")
		switch domain.ReviewVerdict(token) {
		case domain.VerdictAccept, domain.VerdictRevise, domain.VerdictReject, domain.VerdictEscalate:
			return domain.ReviewVerdict(token), true
		}
	}
	return "", false
}

// ComposeVerdict folds the three stages into one verdict, in strict
// priority order.
func ComposeVerdict(stage1 []domain.CheckResult, stage2 domain.ReviewVerdict, stage3 []domain.CheckResult) domain.ReviewVerdict {
	if anyFailed(stage1) {
		return domain.VerdictReject
	}
	switch stage2 {
	case domain.VerdictReject:
		return domain.VerdictReject
	case domain.VerdictEscalate:
		return domain.VerdictEscalate
	case domain.VerdictRevise:
		return domain.VerdictRevise
	}
	if anyFailed(stage3) {
		return domain.VerdictRevise
	}
	return domain.VerdictAccept
}

// ReviewTask runs the full pipeline for one task. Stage 1 failures
// short-circuit before any reviewer call.
func (e Engine) ReviewTask(ctx context.Context, t domain.Task, m domain.Manifest, batch *ReviewBatch, actorID string) (domain.ReviewResult, error) {
	result := domain.ReviewResult{TaskID: t.ID}
	result.Stage1 = runStage1(t, m)
	if anyFailed(result.Stage1) {
		result.Verdict = domain.VerdictReject
		return e.persistReview(ctx, t, result, actorID)
	}

	conn, err := e.connector("reviewer")
	if err != nil {
		return domain.ReviewResult{}, err
	}
	reply, err := conn.SendPrompt(ctx, BuildReviewPrompt(t, m), map[string]any{"task_id": t.ID})
	if err != nil {
		return domain.ReviewResult{}, fmt.Errorf("review prompt: %w", err)
	}
	result.TokenUsage.Add(reply.Usage)
	result.Stage2Feedback = reply.Content
	stage2, found := parseVerdict(reply.Content)
	if !found {
		stage2 = domain.ReviewVerdict(e.Config.Review.DefaultVerdict)
		e.logger().Printf("task %s: reviewer response had no verdict token, defaulting to %s", t.ID, stage2)
		result.Stage2Feedback += fmt.Sprintf("\n[no verdict token found; defaulted to %s]", stage2)
	}

	result.Stage3 = runStage3(t, m, batch)
	result.Verdict = ComposeVerdict(result.Stage1, stage2, result.Stage3)
	if result.Verdict == domain.VerdictRevise {
		capped, err := e.revisionCapReached(ctx, t.ID)
		if err != nil {
			return domain.ReviewResult{}, err
		}
		if capped {
			result.Verdict = domain.VerdictEscalate
			result.Stage2Feedback += fmt.Sprintf("\n[revision limit of %d rounds reached; escalating]", e.Config.Review.MaxRevisionRounds)
			e.logger().Printf("task %s: revision limit of %d rounds reached, escalating", t.ID, e.Config.Review.MaxRevisionRounds)
		}
	}
	return e.persistReview(ctx, t, result, actorID)
}

// revisionCapReached reports whether the task has already burned every
// allowed revision round. A max_revision_rounds of 0 means no cap.
func (e Engine) revisionCapReached(ctx context.Context, taskID string) (bool, error) {
	max := e.Config.Review.MaxRevisionRounds
	if max <= 0 {
		return false, nil
	}
	prior, err := e.Repo.ListReviews(ctx, taskID)
	if err != nil {
		return false, err
	}
	rounds := 0
	for _, r := range prior {
		if r.Verdict == domain.VerdictRevise {
			rounds++
		}
	}
	return rounds >= max, nil
}

func (e Engine) persistReview(ctx context.Context, t domain.Task, result domain.ReviewResult, actorID string) (domain.ReviewResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReviewResult{}, err
	}
	defer tx.Rollback()
	now := e.nowRFC()
	result.CreatedAt = now
	if err := e.Repo.InsertReview(ctx, tx, result, now); err != nil {
		return domain.ReviewResult{}, fmt.Errorf("insert review: %w", err)
	}
	status := statusForVerdict(result.Verdict)
	if status != "" {
		if err := e.Repo.UpdateTaskStatus(ctx, tx, t.ID, status, now); err != nil {
			return domain.ReviewResult{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.ReviewRecorded, t.ProjectID, "task", t.ID, actorID, events.EventPayload{
		"verdict": string(result.Verdict),
	}); err != nil {
		return domain.ReviewResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReviewResult{}, err
	}
	return result, nil
}

func statusForVerdict(v domain.ReviewVerdict) domain.TaskStatus {
	switch v {
	case domain.VerdictReject:
		return domain.TaskRejected
	case domain.VerdictRevise:
		return domain.TaskRevisionRequested
	case domain.VerdictAccept:
		return domain.TaskCompleted
	}
	// escalate leaves the task where it is
	return ""
}

// ReviewTier reviews every completed task of a tier, skipping tasks
// already reviewed since their last status change. The batch is seeded
// with all completed task ids so dependency checks see the whole tier.
// One summary gate is opened after the run, counting tasks per verdict;
// any escalate verdict turns it into a scope_change gate.
func (e Engine) ReviewTier(ctx context.Context, projectID string, tier int, actorID string) ([]domain.ReviewResult, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.PendingGateID != nil {
		return nil, ErrGateBlocked
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID, BuildTier: tier, Status: string(domain.TaskCompleted)})
	if err != nil {
		return nil, err
	}
	batch := NewReviewBatch()
	type pair struct {
		task     domain.Task
		manifest domain.Manifest
	}
	var pairs []pair
	for _, t := range tasks {
		batch.CompletedTaskIDs[t.ID] = true
		m, err := e.Repo.GetManifest(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("manifest for task %s: %w", t.ID, err)
		}
		for _, a := range m.Artifacts {
			if _, seen := batch.ArtifactOwners[a.Path]; !seen {
				batch.ArtifactOwners[a.Path] = t.ID
			}
		}
		pairs = append(pairs, pair{task: t, manifest: m})
	}
	// Earlier tiers count as satisfied dependencies too.
	done, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID, Status: string(domain.TaskCompleted)})
	if err != nil {
		return nil, err
	}
	for _, t := range done {
		batch.CompletedTaskIDs[t.ID] = true
	}

	var results []domain.ReviewResult
	for _, pr := range pairs {
		existing, err := e.Repo.ListReviews(ctx, pr.task.ID)
		if err != nil {
			return nil, err
		}
		if alreadyReviewed(existing, pr.task.UpdatedAt) {
			continue
		}
		res, err := e.ReviewTask(ctx, pr.task, pr.manifest, batch, actorID)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if len(results) > 0 {
		gateType := domain.GateFinal
		title := fmt.Sprintf("Tier %d review complete", tier)
		accepted, revise, rejected, escalated := countVerdicts(results)
		if escalated > 0 {
			gateType = domain.GateScopeChange
			title = "Scope change required"
		}
		summary := fmt.Sprintf("%d tasks reviewed. Accepted: %d. Need revision: %d. Rejected: %d. Escalated: %d.",
			len(results), accepted, revise, rejected, escalated)
		if _, err := e.CreateGate(ctx, projectID, gateType, p.Phase, title, summary, nil, actorID); err != nil {
			return results, fmt.Errorf("open review gate: %w", err)
		}
	}
	return results, nil
}

func countVerdicts(results []domain.ReviewResult) (accepted, revise, rejected, escalated int) {
	for _, r := range results {
		switch r.Verdict {
		case domain.VerdictAccept:
			accepted++
		case domain.VerdictRevise:
			revise++
		case domain.VerdictReject:
			rejected++
		case domain.VerdictEscalate:
			escalated++
		}
	}
	return accepted, revise, rejected, escalated
}

// alreadyReviewed reports whether a review exists at or after the
// task's last update; revision rounds bump updated_at and re-arm.
func alreadyReviewed(reviews []domain.ReviewResult, taskUpdatedAt string) bool {
	for _, r := range reviews {
		if r.CreatedAt >= taskUpdatedAt {
			return true
		}
	}
	return false
}
