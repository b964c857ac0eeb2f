package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"archon/internal/domain"
	"archon/internal/events"
)

var (
	// ErrGateAlreadyResolved is returned on a second response to a gate.
	ErrGateAlreadyResolved = errors.New("gate already resolved")
	// ErrGatePending is returned when creating a gate while one is open.
	ErrGatePending = errors.New("project already has a pending gate")
)

// CreateGate opens a pending gate and blocks the project on it.
func (e Engine) CreateGate(ctx context.Context, projectID string, gateType domain.GateType, phase domain.Phase, title, description string, options []domain.GateOption, actorID string) (domain.Gate, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Gate{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Gate{}, err
	}
	if p.PendingGateID != nil {
		return domain.Gate{}, ErrGatePending
	}

	now := e.nowRFC()
	g := domain.Gate{
		ID:          NewID("gate"),
		ProjectID:   projectID,
		Type:        gateType,
		Phase:       phase,
		Title:       title,
		Description: description,
		Options:     options,
		Status:      domain.GatePending,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertGate(ctx, tx, g); err != nil {
		return domain.Gate{}, fmt.Errorf("insert gate: %w", err)
	}
	p.PendingGateID = &g.ID
	p.BlockedOn = "awaiting gate: " + title
	p.UpdatedAt = now
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return domain.Gate{}, err
	}
	if err := e.Events.Append(ctx, tx, events.GateCreated, projectID, "gate", g.ID, actorID, events.EventPayload{
		"gate_type": string(gateType), "title": title,
	}); err != nil {
		return domain.Gate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Gate{}, err
	}
	return g, nil
}

// GateResponse is the human answer handed to RespondGate.
type GateResponse struct {
	Type          domain.GateResponseType
	Choice        string
	Modifications []string
}

// RespondGate records exactly one response on a pending gate, unblocks
// the project, logs a decision, and drives the phase machine.
func (e Engine) RespondGate(ctx context.Context, gateID string, resp GateResponse, actorID string) (domain.Gate, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Gate{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGateTx(ctx, tx, gateID)
	if err != nil {
		return domain.Gate{}, err
	}
	if g.Status != domain.GatePending {
		return domain.Gate{}, fmt.Errorf("%w: gate %s is %s", ErrGateAlreadyResolved, gateID, g.Status)
	}

	now := e.nowRFC()
	directive := BuildResponseDirective(resp.Type, resp.Choice, resp.Modifications)
	g.Response = &directive
	g.ResponseType = resp.Type
	g.Conditions = resp.Modifications
	g.RespondedAt = &now
	if resp.Type == domain.RespondReject {
		g.Status = domain.GateRejected
	} else {
		g.Status = domain.GateApproved
	}
	if err := e.Repo.UpdateGate(ctx, tx, g); err != nil {
		return domain.Gate{}, err
	}

	p, err := e.Repo.GetProjectTx(ctx, tx, g.ProjectID)
	if err != nil {
		return domain.Gate{}, err
	}
	p.PendingGateID = nil
	p.BlockedOn = ""
	p.UpdatedAt = now
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return domain.Gate{}, err
	}

	if err := e.Events.Append(ctx, tx, events.GateResponded, g.ProjectID, "gate", g.ID, actorID, events.EventPayload{
		"gate_type": string(g.Type), "status": string(g.Status), "response_type": string(resp.Type),
	}); err != nil {
		return domain.Gate{}, err
	}

	// Every gate response is a recorded decision.
	contextJSON, _ := json.Marshal(map[string]any{"gate_id": g.ID, "gate_type": g.Type, "choice": resp.Choice})
	rationaleJSON, _ := json.Marshal(resp.Modifications)
	if err := e.Repo.InsertDecision(ctx, tx, domain.Decision{
		ID:            NewID("dec"),
		ProjectID:     g.ProjectID,
		Title:         "gate response: " + g.Title,
		ContextJSON:   string(contextJSON),
		Decision:      directive,
		RationaleJSON: string(rationaleJSON),
		DeciderID:     actorID,
		CreatedAt:     now,
	}); err != nil {
		return domain.Gate{}, err
	}

	if g.Status == domain.GateApproved {
		advance := true
		trigger := TriggerGateApproved
		gateType := g.Type
		switch g.Type {
		case domain.GateTierComplete:
			more, err := e.hasHigherTier(ctx, tx, p.ID, p.CurrentTier)
			if err != nil {
				return domain.Gate{}, err
			}
			if !more {
				trigger = TriggerTierDone
				gateType = ""
			}
		case domain.GateFinal:
			// Final delivery only completes the project once every
			// task has been accepted; with revisions outstanding the
			// approval just records the directive.
			unfinished, err := e.hasUnfinishedTasks(ctx, tx, p.ID)
			if err != nil {
				return domain.Gate{}, err
			}
			advance = !unfinished
		}
		if !advance {
			if err := tx.Commit(); err != nil {
				return domain.Gate{}, err
			}
			return g, nil
		}
		if _, err := e.advancePhaseTx(ctx, tx, g.ProjectID, trigger, gateType, actorID); err != nil {
			// Mid-build gates (scope_change, constitutional) approve
			// without a phase edge; that is not a failure.
			var pte PhaseTransitionError
			if !errors.As(err, &pte) {
				return domain.Gate{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Gate{}, err
	}
	return g, nil
}

func (e Engine) hasHigherTier(ctx context.Context, tx *sql.Tx, projectID string, tier int) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=? AND build_tier>?`, projectID, tier).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (e Engine) hasUnfinishedTasks(ctx context.Context, tx *sql.Tx, projectID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=? AND status<>?`, projectID, string(domain.TaskCompleted)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeferGate marks a gate deferred; the project stays blocked.
func (e Engine) DeferGate(ctx context.Context, gateID, actorID string) (domain.Gate, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Gate{}, err
	}
	defer tx.Rollback()
	g, err := e.Repo.GetGateTx(ctx, tx, gateID)
	if err != nil {
		return domain.Gate{}, err
	}
	if g.Status != domain.GatePending {
		return domain.Gate{}, fmt.Errorf("%w: gate %s is %s", ErrGateAlreadyResolved, gateID, g.Status)
	}
	g.Status = domain.GateDeferred
	if err := e.Repo.UpdateGate(ctx, tx, g); err != nil {
		return domain.Gate{}, err
	}
	if err := e.Events.Append(ctx, tx, events.GateDeferred, g.ProjectID, "gate", g.ID, actorID, nil); err != nil {
		return domain.Gate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Gate{}, err
	}
	return g, nil
}

// BuildResponseDirective renders the instruction handed back to the
// architect for each response type.
func BuildResponseDirective(responseType domain.GateResponseType, choice string, modifications []string) string {
	mods := strings.Join(modifications, "; ")
	switch responseType {
	case domain.RespondChoose:
		return fmt.Sprintf("Proceed with option %s as presented.", choice)
	case domain.RespondChooseModified:
		return fmt.Sprintf("Proceed with option %s, with these modifications: %s", choice, mods)
	case domain.RespondCombine:
		return fmt.Sprintf("Combine the selected options (%s) into a single approach: %s", choice, mods)
	case domain.RespondReviseAndProceed:
		return fmt.Sprintf("Revise per the feedback, then proceed without another gate: %s", mods)
	case domain.RespondExploreDifferent:
		return fmt.Sprintf("None of the presented options fit. Explore a different direction: %s", mods)
	case domain.RespondReject:
		return fmt.Sprintf("Rejected. Stop and await new direction. Feedback: %s", mods)
	default:
		return fmt.Sprintf("Proceed with option %s.", choice)
	}
}
