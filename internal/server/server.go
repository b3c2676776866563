package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"devmatch/internal/engine"
	"devmatch/internal/metrics"
	"devmatch/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"batch_not_active"`
	Message string         `json:"message" example:"batch is completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"completed\"}"`
}

type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the devmatch API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
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
	router.Use(instrument(log))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	hcfg := huma.DefaultConfig("devmatch API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerBatches(group, cfg.Engine)
	registerCandidates(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerMaintenance(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// instrument records request counts and latency per route pattern.
func instrument(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("elapsed", elapsed),
			)
		})
	}
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

// statusForKind maps engine error kinds to HTTP statuses.
var statusForKind = map[engine.Kind]int{
	engine.KindCandidateNotFound:     http.StatusNotFound,
	engine.KindNotYourAssignment:     http.StatusForbidden,
	engine.KindProjectNotEligible:    http.StatusConflict,
	engine.KindBatchNotActive:        http.StatusConflict,
	engine.KindInvalidResponseStatus: http.StatusConflict,
	engine.KindDeadlinePassed:        http.StatusConflict,
	engine.KindAlreadyClaimed:        http.StatusConflict,
	engine.KindNoEligibleCandidates:  http.StatusUnprocessableEntity,
	engine.KindInvalidInput:          http.StatusBadRequest,
	engine.KindConflict:              http.StatusServiceUnavailable,
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		status, ok := statusForKind[ee.Kind]
		if !ok {
			status = http.StatusBadRequest
		}
		return newAPIError(status, string(ee.Kind), ee.Message, ee.Details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusServiceUnavailable, "conflict", "request cancelled", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

// requireProjectAccess allows the project's client and admins.
func requireProjectAccess(ctx context.Context, e engine.Engine, projectID string) (Principal, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	if principal.HasRole(RoleAdmin) {
		return principal, nil
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return Principal{}, handleError(err)
	}
	if p.ClientID != principal.UserID {
		return Principal{}, newAPIError(http.StatusForbidden, "forbidden", "project belongs to another client", map[string]any{"project_id": projectID})
	}
	return principal, nil
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
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

type batchInput struct {
	ProjectID string              `path:"project_id"`
	Body      *LevelCountsRequest `json:"body,omitempty" required:"false"`
}

func (in *batchInput) options(ctx context.Context, actorID string) engine.BatchOptions {
	opts := engine.BatchOptions{ProjectID: in.ProjectID, ActorID: actorID}
	if in.Body != nil && len(bodyBytes(ctx)) > 0 {
		opts.Counts = in.Body.counts()
	}
	return opts
}

func registerBatches(api huma.API, e engine.Engine) {
	batchErrors := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
		http.StatusServiceUnavailable,
	}

	huma.Register(api, huma.Operation{
		OperationID:   "generate-batch",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/batches",
		Summary:       "Generate a candidate batch",
		DefaultStatus: http.StatusCreated,
		Errors:        batchErrors,
	}, func(ctx context.Context, input *batchInput) (*struct {
		Body BatchResultResponse `json:"body"`
	}, error) {
		principal, err := requireProjectAccess(ctx, e, input.ProjectID)
		if err != nil {
			return nil, err
		}
		res, err := e.GenerateBatch(ctx, input.options(ctx, principal.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResultResponse `json:"body"`
		}{Body: batchResultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "refresh-batch",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/batches/refresh",
		Summary:       "Replace the current batch",
		DefaultStatus: http.StatusCreated,
		Errors:        batchErrors,
	}, func(ctx context.Context, input *batchInput) (*struct {
		Body BatchResultResponse `json:"body"`
	}, error) {
		principal, err := requireProjectAccess(ctx, e, input.ProjectID)
		if err != nil {
			return nil, err
		}
		res, err := e.RefreshBatch(ctx, input.options(ctx, principal.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResultResponse `json:"body"`
		}{Body: batchResultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "current-batch",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/batches/current",
		Summary:     "Current batch and its candidates",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body BatchViewResponse `json:"body"`
	}, error) {
		if _, err := requireProjectAccess(ctx, e, input.ProjectID); err != nil {
			return nil, err
		}
		view, err := e.CurrentBatch(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchViewResponse `json:"body"`
		}{Body: BatchViewResponse{
			Project:    projectResponse(view.Project),
			Batch:      batchResponse(view.Batch),
			Candidates: candidateResponses(view.Candidates),
		}}, nil
	})
}

func registerCandidates(api huma.API, e engine.Engine) {
	type candidatePath struct {
		CandidateID string `path:"candidate_id"`
	}
	respondErrors := []int{
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusServiceUnavailable,
	}

	huma.Register(api, huma.Operation{
		OperationID: "accept-candidate",
		Method:      http.MethodPost,
		Path:        "/candidates/{candidate_id}/accept",
		Summary:     "Accept an offer",
		Errors:      respondErrors,
	}, func(ctx context.Context, input *candidatePath) (*struct {
		Body CandidateResultResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AcceptCandidate(ctx, input.CandidateID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CandidateResultResponse `json:"body"`
		}{Body: candidateResultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-candidate",
		Method:      http.MethodPost,
		Path:        "/candidates/{candidate_id}/reject",
		Summary:     "Decline an offer",
		Errors:      respondErrors,
	}, func(ctx context.Context, input *candidatePath) (*struct {
		Body CandidateResultResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RejectCandidate(ctx, input.CandidateID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CandidateResultResponse `json:"body"`
		}{Body: candidateResultResponse(res)}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "my-offers",
		Method:      http.MethodGet,
		Path:        "/me/offers",
		Summary:     "Offers addressed to the current developer",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,accepted,rejected,expired,invalidated"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []CandidateResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.CandidatesForDeveloper(ctx, principal.UserID, input.Status, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CandidateResponse `json:"body"`
		}{Body: candidateResponses(items)}, nil
	})
}

func registerMaintenance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "expire-candidates",
		Method:      http.MethodPost,
		Path:        "/maintenance/expire",
		Summary:     "Expire offers past their deadline",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ExpireResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !principal.HasRole(RoleAdmin) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		n, err := e.ExpirePendingCandidates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExpireResponse `json:"body"`
		}{Body: ExpireResponse{Expired: n}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, err := requireProjectAccess(ctx, e, input.ProjectID); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListEvents(ctx, repo.EventFilters{
			ProjectID: input.ProjectID,
			Type:      input.Type,
			Limit:     normalizeLimit(input.Limit),
		})
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

func bodyBytes(ctx context.Context) []byte {
	if v := ctx.Value(bodyBytesKey{}); v != nil {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
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
