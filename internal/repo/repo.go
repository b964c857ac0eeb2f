package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"archon/internal/config"
	"archon/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

type Repo struct {
	DB *sql.DB
}

func New(db *sql.DB) Repo {
	return Repo{DB: db}
}

// querier lets read helpers run inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// Projects

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id, name, phase, status, current_tier, pending_gate_id, blocked_on, created_at, updated_at FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT id, name, phase, status, current_tier, pending_gate_id, blocked_on, created_at, updated_at FROM projects WHERE id=?`, id))
}

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var pendingGate, blockedOn sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Phase, &p.Status, &p.CurrentTier, &pendingGate, &blockedOn, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Project{}, ErrNotFound
	}
	if err != nil {
		return domain.Project{}, err
	}
	if pendingGate.Valid {
		p.PendingGateID = &pendingGate.String
	}
	if blockedOn.Valid {
		p.BlockedOn = blockedOn.String
	}
	return p, nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, phase, status, current_tier, pending_gate_id, blocked_on, created_at, updated_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		var pendingGate, blockedOn sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Phase, &p.Status, &p.CurrentTier, &pendingGate, &blockedOn, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if pendingGate.Valid {
			p.PendingGateID = &pendingGate.String
		}
		if blockedOn.Valid {
			p.BlockedOn = blockedOn.String
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id, name, phase, status, current_tier, pending_gate_id, blocked_on, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Phase, p.Status, p.CurrentTier, nullablePtr(p.PendingGateID), nullable(p.BlockedOn), p.CreatedAt, p.UpdatedAt)
	return err
}

// UpdateProject rewrites the mutable project columns wholesale.
func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET name=?, phase=?, status=?, current_tier=?, pending_gate_id=?, blocked_on=?, updated_at=? WHERE id=?`,
		p.Name, p.Phase, p.Status, p.CurrentTier, nullablePtr(p.PendingGateID), nullable(p.BlockedOn), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Project config

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO project_configs(project_id, yaml, updated_at) VALUES (?,?,?)
		ON CONFLICT(project_id) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`, projectID, string(data), now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT yaml FROM project_configs WHERE project_id=?`, projectID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}

// Tasks

const taskColumns = `id, project_id, name, build_tier, subsystem, task_type, objective,
	inputs_json, scope_must_build_json, scope_must_not_json, rules_json, constraints_json,
	ifaces_receives_json, ifaces_produces_json, test_criteria_json,
	parallel_group, status, assigned_provider, created_at, updated_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Name, t.BuildTier, nullable(t.Subsystem), t.Type, nullable(t.Objective),
		marshalStringSlice(t.Inputs), marshalStringSlice(t.ScopeMustBuild), marshalStringSlice(t.ScopeMustNotTouch),
		marshalStringSlice(t.RulesToImplement), marshalStringSlice(t.ConstraintsToEnforce),
		marshalStringSlice(t.InterfacesReceives), marshalStringSlice(t.InterfacesProduces),
		marshalStringSlice(t.TestCriteria),
		t.ParallelGroup, t.Status, nullable(t.AssignedProvider), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	for _, dep := range t.DependsOn {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id, depends_on) VALUES (?,?)`, t.ID, dep); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.getTask(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return r.getTask(ctx, tx, id)
}

func (r Repo) getTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if err != nil {
		return domain.Task{}, err
	}
	deps, err := r.taskDeps(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	t.DependsOn = deps
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var subsystem, objective, provider sql.NullString
	var inputs, mustBuild, mustNot, rules, constraints, recv, prod, criteria sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.BuildTier, &subsystem, &t.Type, &objective,
		&inputs, &mustBuild, &mustNot, &rules, &constraints, &recv, &prod, &criteria,
		&t.ParallelGroup, &t.Status, &provider, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	t.Subsystem = subsystem.String
	t.Objective = objective.String
	t.AssignedProvider = provider.String
	t.Inputs = unmarshalStringSlice(inputs)
	t.ScopeMustBuild = unmarshalStringSlice(mustBuild)
	t.ScopeMustNotTouch = unmarshalStringSlice(mustNot)
	t.RulesToImplement = unmarshalStringSlice(rules)
	t.ConstraintsToEnforce = unmarshalStringSlice(constraints)
	t.InterfacesReceives = unmarshalStringSlice(recv)
	t.InterfacesProduces = unmarshalStringSlice(prod)
	t.TestCriteria = unmarshalStringSlice(criteria)
	return t, nil
}

func (r Repo) taskDeps(ctx context.Context, tx *sql.Tx, taskID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT depends_on FROM task_deps WHERE task_id=? ORDER BY depends_on`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// TaskFilters narrows ListTasks. Zero values mean no filter; the
// ParallelGroup filter is a pointer so group 0 stays filterable.
type TaskFilters struct {
	ProjectID       string
	Status          string
	BuildTier       int
	ParallelGroup   *int
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []any
	if f.ProjectID != "" {
		conds = append(conds, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, f.Status)
	}
	if f.BuildTier > 0 {
		conds = append(conds, "build_tier=?")
		args = append(args, f.BuildTier)
	}
	if f.ParallelGroup != nil {
		conds = append(conds, "parallel_group=?")
		args = append(args, *f.ParallelGroup)
	}
	if f.CursorCreatedAt != "" {
		conds = append(conds, "(created_at > ? OR (created_at = ? AND id > ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range tasks {
		deps, err := r.taskDeps(ctx, nil, tasks[i].ID)
		if err != nil {
			return nil, err
		}
		tasks[i].DependsOn = deps
	}
	return tasks, nil
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id string, status domain.TaskStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTaskGroup(ctx context.Context, tx *sql.Tx, id string, group int, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET parallel_group=?, updated_at=? WHERE id=?`, group, updatedAt, id)
	return err
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Gates

const gateColumns = `id, project_id, gate_type, phase, title, description, options_json, status, response, response_type, conditions_json, created_at, responded_at`

func (r Repo) InsertGate(ctx context.Context, tx *sql.Tx, g domain.Gate) error {
	options, err := json.Marshal(g.Options)
	if err != nil {
		return fmt.Errorf("marshal gate options: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO gates(`+gateColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.ProjectID, g.Type, g.Phase, g.Title, nullable(g.Description), string(options),
		g.Status, nullablePtr(g.Response), nullable(string(g.ResponseType)), marshalStringSlice(g.Conditions),
		g.CreatedAt, nullablePtr(g.RespondedAt))
	return err
}

func (r Repo) GetGate(ctx context.Context, id string) (domain.Gate, error) {
	return r.getGate(ctx, nil, id)
}

func (r Repo) GetGateTx(ctx context.Context, tx *sql.Tx, id string) (domain.Gate, error) {
	return r.getGate(ctx, tx, id)
}

func (r Repo) getGate(ctx context.Context, tx *sql.Tx, id string) (domain.Gate, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+gateColumns+` FROM gates WHERE id=?`, id)
	return scanGate(row)
}

func scanGate(row rowScanner) (domain.Gate, error) {
	var g domain.Gate
	var description, options, response, responseType, conditions, respondedAt sql.NullString
	err := row.Scan(&g.ID, &g.ProjectID, &g.Type, &g.Phase, &g.Title, &description, &options,
		&g.Status, &response, &responseType, &conditions, &g.CreatedAt, &respondedAt)
	if err == sql.ErrNoRows {
		return domain.Gate{}, ErrNotFound
	}
	if err != nil {
		return domain.Gate{}, err
	}
	g.Description = description.String
	if options.Valid && options.String != "" {
		_ = json.Unmarshal([]byte(options.String), &g.Options)
	}
	if response.Valid {
		g.Response = &response.String
	}
	g.ResponseType = domain.GateResponseType(responseType.String)
	g.Conditions = unmarshalStringSlice(conditions)
	if respondedAt.Valid {
		g.RespondedAt = &respondedAt.String
	}
	return g, nil
}

func (r Repo) ListGates(ctx context.Context, projectID, status string) ([]domain.Gate, error) {
	query := `SELECT ` + gateColumns + ` FROM gates WHERE project_id=?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var gates []domain.Gate
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, err
		}
		gates = append(gates, g)
	}
	return gates, rows.Err()
}

func (r Repo) UpdateGate(ctx context.Context, tx *sql.Tx, g domain.Gate) error {
	res, err := tx.ExecContext(ctx, `UPDATE gates SET status=?, response=?, response_type=?, conditions_json=?, responded_at=? WHERE id=?`,
		g.Status, nullablePtr(g.Response), nullable(string(g.ResponseType)), marshalStringSlice(g.Conditions), nullablePtr(g.RespondedAt), g.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Manifests

func (r Repo) UpsertManifest(ctx context.Context, tx *sql.Tx, m domain.Manifest, createdAt string) error {
	artifacts, err := json.Marshal(m.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO manifests(task_id, builder_session_id, artifacts_json, incomplete_json, questions_json, input_tokens, output_tokens, notes_json, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(task_id) DO UPDATE SET builder_session_id=excluded.builder_session_id, artifacts_json=excluded.artifacts_json,
			incomplete_json=excluded.incomplete_json, questions_json=excluded.questions_json,
			input_tokens=excluded.input_tokens, output_tokens=excluded.output_tokens, notes_json=excluded.notes_json`,
		m.TaskID, nullable(m.BuilderSessionID), string(artifacts), marshalStringSlice(m.Incomplete),
		marshalStringSlice(m.Questions), m.TokenUsage.InputTokens, m.TokenUsage.OutputTokens,
		marshalStringSlice(m.Notes), createdAt)
	return err
}

func (r Repo) GetManifest(ctx context.Context, taskID string) (domain.Manifest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT task_id, builder_session_id, artifacts_json, incomplete_json, questions_json, input_tokens, output_tokens, notes_json FROM manifests WHERE task_id=?`, taskID)
	var m domain.Manifest
	var session, artifacts, incomplete, questions, notes sql.NullString
	err := row.Scan(&m.TaskID, &session, &artifacts, &incomplete, &questions, &m.TokenUsage.InputTokens, &m.TokenUsage.OutputTokens, &notes)
	if err == sql.ErrNoRows {
		return domain.Manifest{}, ErrNotFound
	}
	if err != nil {
		return domain.Manifest{}, err
	}
	m.BuilderSessionID = session.String
	if artifacts.Valid && artifacts.String != "" {
		_ = json.Unmarshal([]byte(artifacts.String), &m.Artifacts)
	}
	m.Incomplete = unmarshalStringSlice(incomplete)
	m.Questions = unmarshalStringSlice(questions)
	m.Notes = unmarshalStringSlice(notes)
	return m, nil
}

// Reviews

func (r Repo) InsertReview(ctx context.Context, tx *sql.Tx, res domain.ReviewResult, createdAt string) error {
	stage1, err := json.Marshal(res.Stage1)
	if err != nil {
		return err
	}
	stage3, err := json.Marshal(res.Stage3)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO reviews(task_id, verdict, stage1_json, stage2_feedback, stage3_json, input_tokens, output_tokens, created_at) VALUES (?,?,?,?,?,?,?,?)`,
		res.TaskID, res.Verdict, string(stage1), nullable(res.Stage2Feedback), string(stage3),
		res.TokenUsage.InputTokens, res.TokenUsage.OutputTokens, createdAt)
	return err
}

func (r Repo) ListReviews(ctx context.Context, taskID string) ([]domain.ReviewResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id, verdict, stage1_json, stage2_feedback, stage3_json, input_tokens, output_tokens, created_at FROM reviews WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReviews(rows)
}

func (r Repo) ListProjectReviews(ctx context.Context, projectID string) ([]domain.ReviewResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT rv.task_id, rv.verdict, rv.stage1_json, rv.stage2_feedback, rv.stage3_json, rv.input_tokens, rv.output_tokens, rv.created_at
		FROM reviews rv JOIN tasks t ON t.id = rv.task_id WHERE t.project_id=? ORDER BY rv.id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReviews(rows)
}

func collectReviews(rows *sql.Rows) ([]domain.ReviewResult, error) {
	var out []domain.ReviewResult
	for rows.Next() {
		var res domain.ReviewResult
		var stage1, feedback, stage3 sql.NullString
		if err := rows.Scan(&res.TaskID, &res.Verdict, &stage1, &feedback, &stage3, &res.TokenUsage.InputTokens, &res.TokenUsage.OutputTokens, &res.CreatedAt); err != nil {
			return nil, err
		}
		if stage1.Valid && stage1.String != "" {
			_ = json.Unmarshal([]byte(stage1.String), &res.Stage1)
		}
		res.Stage2Feedback = feedback.String
		if stage3.Valid && stage3.String != "" {
			_ = json.Unmarshal([]byte(stage3.String), &res.Stage3)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Decisions

func (r Repo) InsertDecision(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO decisions(id, project_id, title, context_json, decision, rationale_json, alternatives_json, decider_id, created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.Title, nullable(d.ContextJSON), d.Decision, nullable(d.RationaleJSON), nullable(d.AlternativesJSON), d.DeciderID, d.CreatedAt)
	return err
}

func (r Repo) ListDecisions(ctx context.Context, projectID string) ([]domain.Decision, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, project_id, title, context_json, decision, rationale_json, alternatives_json, decider_id, created_at FROM decisions WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Decision
	for rows.Next() {
		var d domain.Decision
		var contextJSON, rationale, alternatives sql.NullString
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Title, &contextJSON, &d.Decision, &rationale, &alternatives, &d.DeciderID, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.ContextJSON = contextJSON.String
		d.RationaleJSON = rationale.String
		d.AlternativesJSON = alternatives.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// Artifacts: project-level key/value store for the vision contract,
// chosen architecture template, and raw gate responses.

func (r Repo) PutArtifact(ctx context.Context, tx *sql.Tx, projectID, key, value, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO artifacts(project_id, key, value, updated_at) VALUES (?,?,?,?)
		ON CONFLICT(project_id, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		projectID, key, value, updatedAt)
	return err
}

func (r Repo) GetArtifact(ctx context.Context, projectID, key string) (string, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM artifacts WHERE project_id=? AND key=?`, projectID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// Events

func (r Repo) LatestEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id, ts, type, project_id, entity_kind, entity_id, actor_id, payload_json FROM events WHERE project_id=? ORDER BY id DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (r Repo) EventsAfter(ctx context.Context, projectID string, afterID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id, ts, type, project_id, entity_kind, entity_id, actor_id, payload_json FROM events WHERE project_id=? AND id>? ORDER BY id LIMIT ?`, projectID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE project_id=?`, projectID).Scan(&id)
	return id, err
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.ProjectID = projectID.String
		e.EntityID = entityID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// helpers

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func marshalStringSlice(values []string) any {
	if len(values) == 0 {
		return nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return string(data)
}

func unmarshalStringSlice(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(v.String), &out)
	return out
}
