package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"archon/internal/domain"
	"archon/internal/events"
)

// Trigger is the reason a project may leave its current phase.
type Trigger string

const (
	// TriggerGateApproved carries the gate type in transition lookups.
	TriggerGateApproved Trigger = "gate_approved"
	TriggerDecomposed   Trigger = "decomposed"
	TriggerTierDone     Trigger = "tier_done"
)

// ErrGateBlocked is returned when a pending gate prevents advancement.
var ErrGateBlocked = errors.New("project blocked on pending gate")

// PhaseTransitionError reports a transition the table does not allow.
type PhaseTransitionError struct {
	From    domain.Phase
	Trigger Trigger
	Gate    domain.GateType
}

func (e PhaseTransitionError) Error() string {
	if e.Trigger == TriggerGateApproved {
		return fmt.Sprintf("no transition from phase %s on approval of gate %s", e.From, e.Gate)
	}
	return fmt.Sprintf("no transition from phase %s on trigger %s", e.From, e.Trigger)
}

type transitionKey struct {
	From    domain.Phase
	Trigger Trigger
	Gate    domain.GateType
}

// phaseTable is the whole phase machine. Tier iteration and project
// completion are handled in applyTransition since they mutate more
// than the phase field.
var phaseTable = map[transitionKey]domain.Phase{
	{domain.PhaseVisionIntake, TriggerGateApproved, domain.GateVisionConfirmed}:  domain.PhaseSystemDesign,
	{domain.PhaseSystemDesign, TriggerGateApproved, domain.GateSystemDesign}:     domain.PhaseDetailedDesign,
	{domain.PhaseDetailedDesign, TriggerGateApproved, domain.GateDetailedDesign}: domain.PhaseBuildDecomposition,
	{domain.PhaseBuildDecomposition, TriggerDecomposed, ""}:                      domain.PhaseBuildSupervision,
	{domain.PhaseBuildSupervision, TriggerGateApproved, domain.GateTierComplete}: domain.PhaseBuildSupervision,
	{domain.PhaseBuildSupervision, TriggerTierDone, ""}:                          domain.PhaseValidation,
	{domain.PhaseValidation, TriggerGateApproved, domain.GateFinal}:              domain.PhaseValidation,
}

// NextPhase consults the table without mutating anything.
func NextPhase(from domain.Phase, trigger Trigger, gate domain.GateType) (domain.Phase, error) {
	next, ok := phaseTable[transitionKey{from, trigger, gate}]
	if !ok {
		return "", PhaseTransitionError{From: from, Trigger: trigger, Gate: gate}
	}
	return next, nil
}

// AdvancePhase drives the project phase machine in its own transaction.
func (e Engine) AdvancePhase(ctx context.Context, projectID string, trigger Trigger, gate domain.GateType, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	p, err := e.advancePhaseTx(ctx, tx, projectID, trigger, gate, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) advancePhaseTx(ctx context.Context, tx *sql.Tx, projectID string, trigger Trigger, gate domain.GateType, actorID string) (domain.Project, error) {
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.PendingGateID != nil {
		return domain.Project{}, ErrGateBlocked
	}
	next, err := NextPhase(p.Phase, trigger, gate)
	if err != nil {
		return domain.Project{}, err
	}
	from := p.Phase
	p = applyTransition(p, trigger, gate, next)
	p.UpdatedAt = e.nowRFC()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.PhaseAdvanced, p.ID, "project", p.ID, actorID, events.EventPayload{
		"from": string(from), "to": string(p.Phase), "trigger": string(trigger), "tier": p.CurrentTier, "status": p.Status,
	}); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func applyTransition(p domain.Project, trigger Trigger, gate domain.GateType, next domain.Phase) domain.Project {
	switch {
	case trigger == TriggerGateApproved && gate == domain.GateTierComplete:
		p.CurrentTier++
	case trigger == TriggerGateApproved && gate == domain.GateFinal:
		p.Status = "complete"
	}
	p.Phase = next
	return p
}
