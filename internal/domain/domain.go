package domain

import "strings"

// Phase names the stage a project currently sits in.
type Phase string

const (
	PhaseVisionIntake       Phase = "vision_intake"
	PhaseSystemDesign       Phase = "system_design"
	PhaseDetailedDesign     Phase = "detailed_design"
	PhaseBuildDecomposition Phase = "build_decomposition"
	PhaseBuildSupervision   Phase = "build_supervision"
	PhaseValidation         Phase = "validation"
)

// GateType identifies which approval a gate asks for.
type GateType string

const (
	GateVisionConfirmed GateType = "vision_confirmed"
	GateSystemDesign    GateType = "system_design"
	GateDetailedDesign  GateType = "detailed_design"
	GateTierComplete    GateType = "tier_complete"
	GateScopeChange     GateType = "scope_change"
	GateConstitutional  GateType = "constitutional"
	GateFinal           GateType = "final"
)

type GateStatus string

const (
	GatePending  GateStatus = "pending"
	GateApproved GateStatus = "approved"
	GateRejected GateStatus = "rejected"
	GateDeferred GateStatus = "deferred"
)

// GateResponseType is how the human chose to answer a gate.
type GateResponseType string

const (
	RespondChoose           GateResponseType = "choose"
	RespondChooseModified   GateResponseType = "choose_with_modifications"
	RespondCombine          GateResponseType = "combine"
	RespondReviseAndProceed GateResponseType = "revise_and_proceed"
	RespondExploreDifferent GateResponseType = "explore_differently"
	RespondReject           GateResponseType = "reject"
)

type ReviewVerdict string

const (
	VerdictAccept   ReviewVerdict = "accept"
	VerdictRevise   ReviewVerdict = "revise"
	VerdictReject   ReviewVerdict = "reject"
	VerdictEscalate ReviewVerdict = "escalate"
)

type TaskType string

const (
	TaskStateSchema       TaskType = "state_schema"
	TaskFlow              TaskType = "flow"
	TaskConstraint        TaskType = "constraint"
	TaskFailureRecovery   TaskType = "failure_recovery"
	TaskDependencyCascade TaskType = "dependency_cascade"
	TaskUXLayer           TaskType = "ux_layer"
	TaskGeneral           TaskType = "general"
)

type TaskStatus string

const (
	TaskPending           TaskStatus = "pending"
	TaskDispatched        TaskStatus = "dispatched"
	TaskInProgress        TaskStatus = "in_progress"
	TaskCompleted         TaskStatus = "completed"
	TaskRejected          TaskStatus = "rejected"
	TaskRevisionRequested TaskStatus = "revision_requested"
)

type Project struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Phase         Phase   `json:"phase"`
	Status        string  `json:"status" enum:"active,complete,abandoned"`
	CurrentTier   int     `json:"current_tier"`
	PendingGateID *string `json:"pending_gate_id,omitempty"`
	BlockedOn     string  `json:"blocked_on,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

// Task is the contract handed to a builder: what to build, what not to
// touch, and how it will be judged.
type Task struct {
	ID                   string     `json:"id"`
	ProjectID            string     `json:"project_id"`
	Name                 string     `json:"name"`
	BuildTier            int        `json:"build_tier"`
	Subsystem            string     `json:"subsystem,omitempty"`
	Type                 TaskType   `json:"task_type"`
	Objective            string     `json:"objective,omitempty"`
	Inputs               []string   `json:"inputs,omitempty"`
	ScopeMustBuild       []string   `json:"scope_must_build,omitempty"`
	ScopeMustNotTouch    []string   `json:"scope_must_not_touch,omitempty"`
	RulesToImplement     []string   `json:"rules_to_implement,omitempty"`
	ConstraintsToEnforce []string   `json:"constraints_to_enforce,omitempty"`
	InterfacesReceives   []string   `json:"interfaces_receives,omitempty"`
	InterfacesProduces   []string   `json:"interfaces_produces,omitempty"`
	TestCriteria         []string   `json:"test_criteria,omitempty"`
	DependsOn            []string   `json:"depends_on,omitempty"`
	ParallelGroup        int        `json:"parallel_group"`
	Status               TaskStatus `json:"status"`
	AssignedProvider     string     `json:"assigned_provider,omitempty"`
	CreatedAt            string     `json:"created_at" format:"date-time"`
	UpdatedAt            string     `json:"updated_at" format:"date-time"`
}

// GateOption is one architecture or decision card presented at a gate.
type GateOption struct {
	Label       string `json:"label"`
	Summary     string `json:"summary"`
	Recommended bool   `json:"recommended,omitempty"`
}

type Gate struct {
	ID           string           `json:"id"`
	ProjectID    string           `json:"project_id"`
	Type         GateType         `json:"gate_type"`
	Phase        Phase            `json:"phase"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	Options      []GateOption     `json:"options,omitempty"`
	Status       GateStatus       `json:"status"`
	Response     *string          `json:"response,omitempty"`
	ResponseType GateResponseType `json:"response_type,omitempty"`
	Conditions   []string         `json:"conditions,omitempty"`
	CreatedAt    string           `json:"created_at" format:"date-time"`
	RespondedAt  *string          `json:"responded_at,omitempty" format:"date-time"`
}

type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// Artifact is one file or asset a builder reports producing.
type Artifact struct {
	Path    string `json:"path"`
	Kind    string `json:"kind,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Manifest is what a builder hands back after working a task.
type Manifest struct {
	TaskID           string     `json:"task_id"`
	BuilderSessionID string     `json:"builder_session_id,omitempty"`
	Artifacts        []Artifact `json:"artifacts"`
	Incomplete       []string   `json:"incomplete,omitempty"`
	Questions        []string   `json:"questions_for_architect,omitempty"`
	TokenUsage       TokenUsage `json:"token_usage"`
	Notes            []string   `json:"notes,omitempty"`
}

type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

type ReviewResult struct {
	TaskID         string        `json:"task_id"`
	Verdict        ReviewVerdict `json:"verdict"`
	Stage1         []CheckResult `json:"stage1,omitempty"`
	Stage2Feedback string        `json:"stage2_feedback,omitempty"`
	Stage3         []CheckResult `json:"stage3,omitempty"`
	TokenUsage     TokenUsage    `json:"token_usage"`
	CreatedAt      string        `json:"created_at,omitempty" format:"date-time"`
}

// VisionContract captures what intake must establish before design starts.
type VisionContract struct {
	ProjectName      string   `json:"project_name,omitempty"`
	ProblemStatement string   `json:"problem_statement,omitempty"`
	TargetUsers      []string `json:"target_users,omitempty"`
	CoreCapabilities []string `json:"core_capabilities,omitempty"`
	NonGoals         []string `json:"non_goals,omitempty"`
	Constraints      []string `json:"constraints,omitempty"`
	SuccessCriteria  []string `json:"success_criteria,omitempty"`
}

// Validate reports missing required fields as errors and missing
// recommended fields as warnings.
func (v VisionContract) Validate() (missing, warnings []string) {
	if strings.TrimSpace(v.ProblemStatement) == "" {
		missing = append(missing, "problem_statement")
	}
	if len(v.CoreCapabilities) == 0 {
		missing = append(missing, "core_capabilities")
	}
	if len(v.TargetUsers) == 0 {
		warnings = append(warnings, "target_users")
	}
	if len(v.NonGoals) == 0 {
		warnings = append(warnings, "non_goals")
	}
	if len(v.SuccessCriteria) == 0 {
		warnings = append(warnings, "success_criteria")
	}
	return missing, warnings
}

type Decision struct {
	ID               string `json:"id"`
	ProjectID        string `json:"project_id"`
	Title            string `json:"title"`
	ContextJSON      string `json:"context_json,omitempty"`
	Decision         string `json:"decision"`
	RationaleJSON    string `json:"rationale_json,omitempty"`
	AlternativesJSON string `json:"alternatives_json,omitempty"`
	DeciderID        string `json:"decider_id"`
	CreatedAt        string `json:"created_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ProjectHealth is the rollup shown by status.
type ProjectHealth struct {
	TasksTotal     int        `json:"tasks_total"`
	TasksCompleted int        `json:"tasks_completed"`
	TasksRejected  int        `json:"tasks_rejected"`
	GatesPending   int        `json:"gates_pending"`
	TokensUsed     TokenUsage `json:"tokens_used"`
}
