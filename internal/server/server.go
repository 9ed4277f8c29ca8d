package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"capplan/internal/domain"
	"capplan/internal/engine"
	"capplan/internal/metrics"
	"capplan/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Gatherer backs GET /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"workspace_not_initialised"`
	Message string         `json:"message" example:"workspace not initialised; run cplan init"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the {"error":{...}} envelope every failure uses.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the planner API.
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
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Capacity Planner API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerMe(group)
	registerPlan(group, cfg.Engine)
	registerWorkspace(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if cfg.Auth.AllowDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	serveOpenAPI(router, api, basePath, openRoutes(basePath, cfg.Auth.AllowDevLogin))
	if cfg.Gatherer != nil {
		router.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, engine.ErrNoWorkspace):
		return newAPIError(http.StatusConflict, "workspace_not_initialised", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidSnapshot), errors.Is(err, errBadWindow):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

var statusCodes = map[int]string{
	http.StatusBadRequest:          "bad_request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusNotFound:            "not_found",
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: "validation_failed",
	http.StatusInternalServerError: "internal_error",
}

func defaultCodeForStatus(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

var errBadWindow = errors.New("invalid report window")

// runOptions parses the shared window and granularity parameters.
func runOptions(from, to, granularity string) (engine.RunOptions, error) {
	var opts engine.RunOptions
	parse := func(key, v string) (*time.Time, error) {
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", errBadWindow, key)
		}
		return &t, nil
	}
	var err error
	if opts.From, err = parse("from", from); err != nil {
		return opts, err
	}
	if opts.To, err = parse("to", to); err != nil {
		return opts, err
	}
	if opts.From != nil && opts.To != nil && opts.To.Before(*opts.From) {
		return opts, fmt.Errorf("%w: to is before from", errBadWindow)
	}
	if granularity != "" {
		g, ok := domain.ParseGranularity(granularity)
		if !ok {
			return opts, fmt.Errorf("%w: granularity must be week or month", errBadWindow)
		}
		opts.Granularity = g
	}
	return opts, nil
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

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, err := principalFromContext(ctx)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: p.ActorID, Source: p.Source}}, nil
	})
}

func registerPlan(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "plan",
		Method:      http.MethodPost,
		Path:        "/plan",
		Summary:     "Run the planner over a snapshot document",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body PlanRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		opts, err := runOptions(input.Body.From, input.Body.To, input.Body.Granularity)
		if err != nil {
			return nil, handleError(err)
		}
		res := e.RunDocument(&input.Body.Snapshot, opts)
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(res)}, nil
	})
}

// runWorkspace runs over the stored snapshot for the workspace endpoints.
func runWorkspace(ctx context.Context, e engine.Engine, q windowQuery) (engine.Result, huma.StatusError) {
	opts, err := runOptions(q.From, q.To, q.Granularity)
	if err != nil {
		return engine.Result{}, handleError(err)
	}
	res, err := e.RunWorkspace(ctx, opts)
	if err != nil {
		return engine.Result{}, handleError(err)
	}
	return res, nil
}

func registerWorkspace(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-workspace",
		Method:      http.MethodGet,
		Path:        "/workspace",
		Summary:     "Workspace info and active config",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WorkspaceResponse `json:"body"`
	}, error) {
		info, err := e.Workspace(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := WorkspaceResponse{
			Name:       info.Name,
			CreatedAt:  info.CreatedAt,
			SnapshotID: info.SnapshotID,
			ImportedAt: info.ImportedAt,
			Counts:     info.Counts,
		}
		if cfg, err := e.Repo.GetConfig(ctx); err == nil {
			resp.Config = cfg
		}
		return &struct {
			Body WorkspaceResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workspace-plan",
		Method:      http.MethodGet,
		Path:        "/workspace/plan",
		Summary:     "Ordered schedule for the stored snapshot",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, q *windowQuery) (*struct {
		Body TasksResponse `json:"body"`
	}, error) {
		res, err := runWorkspace(ctx, e, *q)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body TasksResponse `json:"body"`
		}{Body: TasksResponse{SnapshotID: res.SnapshotID, Tasks: nonNilSlice(res.Tasks), Excluded: nonNilSlice(res.Excluded)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workspace-capacity",
		Method:      http.MethodGet,
		Path:        "/workspace/capacity",
		Summary:     "Capacity buckets and concurrency notes",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, q *windowQuery) (*struct {
		Body CapacityResponse `json:"body"`
	}, error) {
		res, err := runWorkspace(ctx, e, *q)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body CapacityResponse `json:"body"`
		}{Body: CapacityResponse{
			SnapshotID:  res.SnapshotID,
			Granularity: res.Granularity,
			Buckets:     nonNilSlice(res.Buckets),
			Concurrency: nonNilSlice(res.Concurrency),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workspace-findings",
		Method:      http.MethodGet,
		Path:        "/workspace/findings",
		Summary:     "Validation findings",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, q *struct {
		windowQuery
		Severity string `query:"severity" doc:"Only return findings of this severity (error, warning, invariant)"`
	}) (*struct {
		Body FindingsResponse `json:"body"`
	}, error) {
		res, err := runWorkspace(ctx, e, q.windowQuery)
		if err != nil {
			return nil, err
		}
		items := res.Findings
		if q.Severity != "" {
			sev, ok := domain.ParseSeverity(q.Severity)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "severity must be error, warning or invariant", nil)
			}
			items = nil
			for _, f := range res.Findings {
				if f.Severity == sev {
					items = append(items, f)
				}
			}
		}
		return &struct {
			Body FindingsResponse `json:"body"`
		}{Body: FindingsResponse{
			SnapshotID: res.SnapshotID,
			Counts:     domain.CountBySeverity(res.Findings),
			Findings:   findingResponses(items),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workspace-summary",
		Method:      http.MethodGet,
		Path:        "/workspace/summary",
		Summary:     "Status, priority, workstream and risk summary",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, q *windowQuery) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		res, err := runWorkspace(ctx, e, *q)
		if err != nil {
			return nil, err
		}
		resp := planResponse(res)
		resp.Tasks, resp.Buckets, resp.Concurrency = []domain.ResolvedTask{}, []domain.CapacityBucket{}, []domain.ConcurrencyNote{}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/workspace/events",
		Summary:     "List recent workspace events",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := e.Workspace(ctx); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

// registerDevAuth signs with wall time; the engine clock only drives planning.
func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
