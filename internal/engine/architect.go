package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"archon/internal/domain"
)

// Artifact keys used by the architect session.
const (
	artifactVisionContract = "vision_contract"
	artifactArchitecture   = "architecture_template"
	artifactDesignResponse = "design_response"
)

// RunVisionIntake sends the project brief to the architect, extracts
// the vision contract and clarifying questions, and opens the
// vision_confirmed gate.
func (e Engine) RunVisionIntake(ctx context.Context, projectID, brief, actorID string) (domain.Gate, domain.VisionContract, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Gate{}, domain.VisionContract{}, err
	}
	if p.Phase != domain.PhaseVisionIntake {
		return domain.Gate{}, domain.VisionContract{}, fmt.Errorf("vision intake requires phase %s, project is in %s", domain.PhaseVisionIntake, p.Phase)
	}
	conn, err := e.connector("architect")
	if err != nil {
		return domain.Gate{}, domain.VisionContract{}, err
	}
	reply, err := conn.SendPrompt(ctx, BuildVisionPrompt(brief), map[string]any{"project_id": projectID})
	if err != nil {
		return domain.Gate{}, domain.VisionContract{}, fmt.Errorf("vision prompt: %w", err)
	}

	contract := ExtractVisionContract(reply.Content)
	contract.ProjectName = p.Name
	if missing, _ := contract.Validate(); len(missing) > 0 {
		e.logger().Printf("project %s: vision contract missing required fields: %s", projectID, strings.Join(missing, ", "))
	}
	contractJSON, _ := json.Marshal(contract)

	questions := ExtractQuestions(reply.Content)
	description := reply.Content
	if len(questions) > 0 {
		description = "Clarifying questions:\n- " + strings.Join(questions, "\n- ")
	}

	gate, err := e.CreateGate(ctx, projectID, domain.GateVisionConfirmed, domain.PhaseVisionIntake,
		"Confirm project vision", description, nil, actorID)
	if err != nil {
		return domain.Gate{}, domain.VisionContract{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Gate{}, domain.VisionContract{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.PutArtifact(ctx, tx, projectID, artifactVisionContract, string(contractJSON), e.nowRFC()); err != nil {
		return domain.Gate{}, domain.VisionContract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Gate{}, domain.VisionContract{}, err
	}
	return gate, contract, nil
}

// RunSystemDesign asks the architect for candidate architectures and
// opens the system_design gate with the parsed option cards.
func (e Engine) RunSystemDesign(ctx context.Context, projectID, actorID string) (domain.Gate, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Gate{}, err
	}
	if p.Phase != domain.PhaseSystemDesign {
		return domain.Gate{}, fmt.Errorf("system design requires phase %s, project is in %s", domain.PhaseSystemDesign, p.Phase)
	}
	vision, err := e.Repo.GetArtifact(ctx, projectID, artifactVisionContract)
	if err != nil {
		return domain.Gate{}, fmt.Errorf("vision contract required before system design: %w", err)
	}
	conn, err := e.connector("architect")
	if err != nil {
		return domain.Gate{}, err
	}
	reply, err := conn.SendPrompt(ctx, BuildSystemDesignPrompt(vision), map[string]any{"project_id": projectID})
	if err != nil {
		return domain.Gate{}, fmt.Errorf("design prompt: %w", err)
	}

	options := ParseGateOptions(reply.Content)
	if len(options) == 0 {
		options = []domain.GateOption{{Label: "A", Summary: reply.Content, Recommended: true}}
	}

	gate, err := e.CreateGate(ctx, projectID, domain.GateSystemDesign, domain.PhaseSystemDesign,
		"Choose system architecture", "", options, actorID)
	if err != nil {
		return domain.Gate{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Gate{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.PutArtifact(ctx, tx, projectID, artifactDesignResponse, reply.Content, e.nowRFC()); err != nil {
		return domain.Gate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Gate{}, err
	}
	return gate, nil
}

// ProcessDesignResponse stores the chosen option's summary as the
// architecture template after the system_design gate is approved, then
// opens the detailed_design gate presenting the template for sign-off.
func (e Engine) ProcessDesignResponse(ctx context.Context, projectID string, actorID string) error {
	gates, err := e.Repo.ListGates(ctx, projectID, string(domain.GateApproved))
	if err != nil {
		return err
	}
	var designGate *domain.Gate
	for i := range gates {
		if gates[i].Type == domain.GateSystemDesign {
			designGate = &gates[i]
		}
	}
	if designGate == nil {
		return fmt.Errorf("no approved system_design gate for project %s", projectID)
	}
	choice := ""
	if designGate.Response != nil {
		choice = *designGate.Response
	}
	chosen := chooseOption(designGate.Options, choice)
	template := chosen.Summary
	if len(designGate.Conditions) > 0 {
		template += "\n\nModifications:\n- " + strings.Join(designGate.Conditions, "\n- ")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.PutArtifact(ctx, tx, projectID, artifactArchitecture, template, e.nowRFC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	_, err = e.CreateGate(ctx, projectID, domain.GateDetailedDesign, domain.PhaseDetailedDesign,
		"Approve architecture template", template, nil, actorID)
	return err
}

// chooseOption picks the option named in the response directive,
// falling back to the recommended card, then the first.
func chooseOption(options []domain.GateOption, response string) domain.GateOption {
	if len(options) == 0 {
		return domain.GateOption{}
	}
	upper := strings.ToUpper(response)
	for _, o := range options {
		if o.Label != "" && strings.Contains(upper, "OPTION "+strings.ToUpper(o.Label)) {
			return o
		}
	}
	for _, o := range options {
		if o.Recommended {
			return o
		}
	}
	return options[0]
}

// ExtractQuestions returns lines that end with a question mark and
// carry enough text to be a real question.
func ExtractQuestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimPrefix(trimmed, "- ")
		trimmed = strings.TrimPrefix(trimmed, "* ")
		if strings.HasSuffix(trimmed, "?") && len(trimmed) > 10 {
			out = append(out, trimmed)
		}
	}
	return out
}

// ParseGateOptions parses OPTION [X] cards; a "★ RECOMMENDED" line
// inside a card marks it recommended.
func ParseGateOptions(text string) []domain.GateOption {
	var options []domain.GateOption
	var current *domain.GateOption
	var body []string
	flush := func() {
		if current != nil {
			current.Summary = strings.TrimSpace(strings.Join(body, "\n"))
			options = append(options, *current)
			current = nil
			body = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if label, rest, ok := parseOptionHeader(trimmed); ok {
			flush()
			current = &domain.GateOption{Label: label}
			if rest != "" {
				body = append(body, rest)
			}
			continue
		}
		if current == nil {
			continue
		}
		if strings.Contains(trimmed, "RECOMMENDED") {
			current.Recommended = true
			continue
		}
		body = append(body, line)
	}
	flush()
	return options
}

func parseOptionHeader(line string) (label, rest string, ok bool) {
	if !strings.HasPrefix(line, "OPTION [") {
		return "", "", false
	}
	s := line[len("OPTION ["):]
	close := strings.Index(s, "]")
	if close <= 0 {
		return "", "", false
	}
	label = strings.TrimSpace(s[:close])
	rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s[close+1:]), ":"))
	return label, rest, true
}

// ExtractVisionContract scrapes the labeled fields and bullet lists
// from an intake response. Missing fields stay empty; Validate reports
// them.
func ExtractVisionContract(text string) domain.VisionContract {
	var v domain.VisionContract
	v.ProblemStatement = extractField(text, "Problem statement")
	v.TargetUsers = extractBulletList(text, "Target users")
	v.CoreCapabilities = extractBulletList(text, "Core capabilities")
	v.NonGoals = extractBulletList(text, "Non-goals")
	v.Constraints = extractBulletList(text, "Constraints")
	v.SuccessCriteria = extractBulletList(text, "Success criteria")
	return v
}

func extractField(text, label string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := cutLabel(trimmed, label); ok {
			return rest
		}
	}
	return ""
}

func extractBulletList(text, label string) []string {
	lines := strings.Split(text, "\n")
	var out []string
	collecting := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if _, ok := cutLabel(trimmed, label); ok {
			collecting = true
			continue
		}
		if !collecting {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			item := strings.TrimSpace(trimmed[2:])
			if item != "" {
				out = append(out, item)
			}
			continue
		}
		if trimmed == "" {
			continue
		}
		break
	}
	return out
}

func cutLabel(line, label string) (rest string, ok bool) {
	if len(line) < len(label) || !strings.EqualFold(line[:len(label)], label) {
		return "", false
	}
	rest = strings.TrimSpace(line[len(label):])
	rest = strings.TrimPrefix(rest, ":")
	return strings.TrimSpace(rest), true
}
