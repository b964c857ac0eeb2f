package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"archon/internal/domain"
	"archon/internal/engine"
	"archon/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"gate_conflict"`
	Message string         `json:"message" example:"gate already resolved"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Archon API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Archon API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerGates(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerReviews(group, cfg.Engine)
	registerDecisions(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrGateAlreadyResolved):
		return newAPIError(http.StatusConflict, "gate_conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrGatePending), errors.Is(err, engine.ErrGateBlocked):
		return newAPIError(http.StatusConflict, "gate_blocked", err.Error(), nil)
	}
	var cycErr engine.CyclicDependencyError
	if errors.As(err, &cycErr) {
		return newAPIError(http.StatusUnprocessableEntity, "cyclic_dependency", err.Error(), map[string]any{
			"processed": cycErr.Processed, "total": cycErr.Total,
		})
	}
	var phaseErr engine.PhaseTransitionError
	if errors.As(err, &phaseErr) {
		return newAPIError(http.StatusConflict, "phase_conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "missing"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Archon API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id := ""
		if input.Body.ID != nil {
			id = *input.Body.ID
		}
		p, err := e.InitProject(ctx, id, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		health, err := e.Health(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountTasksByStatus(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{Project: projectResponse(p), Health: health, TaskCounts: counts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "vision-intake",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/intake",
		Summary:     "Run vision intake",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      VisionIntakeRequest `json:"body"`
	}) (*struct {
		Body GateResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Brief) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "brief is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		gate, _, err := e.RunVisionIntake(ctx, input.ProjectID, input.Body.Brief, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GateResponse `json:"body"`
		}{Body: gateResponse(gate)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "system-design",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/design",
		Summary:     "Run system design",
		Errors:      []int{http.StatusConflict, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body GateResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		gate, err := e.RunSystemDesign(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GateResponse `json:"body"`
		}{Body: gateResponse(gate)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-design-response",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/design/apply",
		Summary:     "Apply the resolved design gate to the architecture template",
		Errors:      []int{http.StatusConflict, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ProcessDesignResponse(ctx, input.ProjectID, actorID); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "estimate-tier",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/estimate",
		Summary:     "Estimate token cost for a build tier",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Tier      int    `query:"tier"`
	}) (*struct {
		Body engine.CostEstimate `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: input.ProjectID, BuildTier: input.Tier})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CostEstimate `json:"body"`
		}{Body: e.EstimateCost(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get project configuration",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body configResponse `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetProjectConfig(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body configResponse `json:"body"`
		}{Body: configResponse{
			MaxParallel:       cfg.Dispatch.MaxParallel,
			DefaultVerdict:    cfg.Review.DefaultVerdict,
			MaxRevisionRounds: cfg.Review.MaxRevisionRounds,
			Providers:         providerModels(cfg),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decompose",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/decompose",
		Summary:     "Decompose a build tier into tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      DecomposeRequest `json:"body"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		if input.Body.Tier < 1 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "tier must be >= 1", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var tasks []TaskResponse
		if input.Body.Text != "" {
			parsed, _, err := e.DecomposeFromText(ctx, input.ProjectID, input.Body.Tier, input.Body.Text, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			tasks = mapTasks(parsed)
		} else {
			parsed, _, err := e.Decompose(ctx, input.ProjectID, input.Body.Tier, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			tasks = mapTasks(parsed)
		}
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: paginatedTasks{Items: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dispatch-tier",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/dispatch",
		Summary:     "Dispatch a build tier",
		Errors:      []int{http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Tier      int    `query:"tier" default:"1"`
	}) (*struct {
		Body DispatchResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		result, err := e.DispatchTier(ctx, input.ProjectID, input.Tier, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DispatchResponse `json:"body"`
		}{Body: DispatchResponse{Result: result}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-tier",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/review",
		Summary:     "Review a build tier",
		Errors:      []int{http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Tier      int    `query:"tier" default:"1"`
	}) (*struct {
		Body []ReviewResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		results, err := e.ReviewTier(ctx, input.ProjectID, input.Tier, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ReviewResponse, 0, len(results))
		for _, r := range results {
			out = append(out, reviewResponse(r))
		}
		return &struct {
			Body []ReviewResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerGates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-gates",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/gates",
		Summary:     "List gates",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
	}) (*struct {
		Body []GateResponse `json:"body"`
	}, error) {
		gates, err := e.Repo.ListGates(ctx, input.ProjectID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]GateResponse, 0, len(gates))
		for _, g := range gates {
			out = append(out, gateResponse(g))
		}
		return &struct {
			Body []GateResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "raise-gate",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/gates",
		Summary:     "Raise an exception gate",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      RaiseGateRequest `json:"body"`
	}) (*struct {
		Body GateResponse `json:"body"`
	}, error) {
		gateType := domain.GateType(input.Body.Type)
		if gateType != domain.GateScopeChange && gateType != domain.GateConstitutional {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "type must be scope_change or constitutional", nil)
		}
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		g, err := e.CreateGate(ctx, input.ProjectID, gateType, p.Phase, input.Body.Title, input.Body.Description, nil, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GateResponse `json:"body"`
		}{Body: gateResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-gate",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/gates/{id}/respond",
		Summary:     "Respond to a gate",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		ID        string             `path:"id"`
		Body      RespondGateRequest `json:"body"`
	}) (*struct {
		Body GateResponse `json:"body"`
	}, error) {
		if input.Body.Type == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "type is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.RespondGate(ctx, input.ID, engine.GateResponse{
			Type:          domain.GateResponseType(input.Body.Type),
			Choice:        input.Body.Choice,
			Modifications: input.Body.Modifications,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GateResponse `json:"body"`
		}{Body: gateResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "defer-gate",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/gates/{id}/defer",
		Summary:     "Defer a gate",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body GateResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.DeferGate(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GateResponse `json:"body"`
		}{Body: gateResponse(g)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
		Tier      int    `query:"tier"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID:       input.ProjectID,
			Status:          input.Status,
			BuildTier:       input.Tier,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: []TaskResponse{}}
		if len(tasks) > limit {
			resp.NextCursor = composeCursor(tasks[limit].CreatedAt, tasks[limit].ID)
			tasks = tasks[:limit]
		}
		resp.Items = mapTasks(tasks)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if t.ProjectID != input.ProjectID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found in project", nil)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	type levelGroup struct {
		ParallelGroup int            `json:"parallel_group"`
		Tasks         []TaskResponse `json:"tasks"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "task-levels",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/levels",
		Summary:     "Tasks grouped by parallel level",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Tier      int    `query:"tier"`
	}) (*struct {
		Body []levelGroup `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: input.ProjectID, BuildTier: input.Tier})
		if err != nil {
			return nil, handleError(err)
		}
		var out []levelGroup
		for _, group := range engine.GroupByLevel(tasks) {
			out = append(out, levelGroup{ParallelGroup: group[0].ParallelGroup, Tasks: mapTasks(group)})
		}
		if out == nil {
			out = []levelGroup{}
		}
		return &struct {
			Body []levelGroup `json:"body"`
		}{Body: out}, nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reviews",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/reviews",
		Summary:     "List reviews",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		TaskID    string `query:"task_id"`
	}) (*struct {
		Body []ReviewResponse `json:"body"`
	}, error) {
		var (
			results []domain.ReviewResult
			err     error
		)
		if input.TaskID != "" {
			results, err = e.Repo.ListReviews(ctx, input.TaskID)
		} else {
			results, err = e.Repo.ListProjectReviews(ctx, input.ProjectID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]ReviewResponse, 0, len(results))
		for _, r := range results {
			items = append(items, reviewResponse(r))
		}
		return &struct {
			Body []ReviewResponse `json:"body"`
		}{Body: items}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/decisions",
		Summary:     "List decisions",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []DecisionResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListDecisions(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]DecisionResponse, 0, len(items))
		for _, d := range items {
			out = append(out, decisionResponse(d))
		}
		return &struct {
			Body []DecisionResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List events",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		After     int64  `query:"after"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		var (
			items []domain.Event
			err   error
		)
		if input.After > 0 {
			items, err = e.Repo.EventsAfter(ctx, input.ProjectID, input.After, input.Limit)
		} else {
			items, err = e.Repo.LatestEvents(ctx, input.ProjectID, input.Limit)
		}
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func composeCursor(createdAt, id string) string {
	return createdAt + "|" + id
}

func parseCompositeCursor(cursor string) (createdAt, id string, err error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}
