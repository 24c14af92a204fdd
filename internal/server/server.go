package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"courtline/internal/caseid"
	"courtline/internal/domain"
	"courtline/internal/engine"
	"courtline/internal/engine/auth"
	"courtline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"no edge from draft to closed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"draft\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Courtline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Courtline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCases(group, cfg.Engine)
	registerCitations(group, cfg.Engine)
	registerHearings(group, cfg.Engine)
	registerDeadlines(group, cfg.Engine)
	registerIdentifiers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerMe(group)
	if cfg.Auth.AllowDevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

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
	var it engine.IllegalTransitionError
	if errors.As(err, &it) {
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(), map[string]any{"from": it.From, "to": it.To})
	}
	var ft auth.ForbiddenTransitionError
	if errors.As(err, &ft) {
		return newAPIError(http.StatusForbidden, "forbidden_transition", err.Error(), map[string]any{"role": ft.Role, "from": ft.From, "to": ft.To})
	}
	var fa auth.ForbiddenActionError
	if errors.As(err, &fa) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": fa.Role})
	}
	var pe engine.PreconditionError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusUnprocessableEntity, "precondition_failed", err.Error(), nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var su engine.StorageUnavailableError
	if errors.As(err, &su) {
		return newAPIError(http.StatusServiceUnavailable, "storage_unavailable", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
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
		return "precondition_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusServiceUnavailable:
		return "storage_unavailable"
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
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Courtline API Docs</title>
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

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "file-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open a draft case",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body FileCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CaseCreateOptions{
			Materia: input.Body.Materia,
			Venue:   input.Body.Venue,
			Subject: input.Body.Subject,
			ActorID: principal.ActorID,
			Role:    principal.Role,
		}
		if input.Body.JudgeID != nil {
			opts.JudgeID = *input.Body.JudgeID
		}
		for _, p := range input.Body.Parties {
			opts.Parties = append(opts.Parties, engine.PartyInput{
				Role:    p.Role,
				Name:    p.Name,
				ActorID: p.ActorID,
			})
		}
		c, err := e.CreateCase(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State string `query:"state" enum:",draft,filed,service_pending,answer_pending,hearing_scheduled,hearing_in_progress,judgment_pending,judgment,closed,suspended"`
	}) (*struct {
		Body []CaseResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCases(ctx, input.State)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CaseResponse `json:"body"`
		}{Body: mapCases(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		parties, err := e.Repo.ListParties(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		c.Parties = parties
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/transition",
		Summary:     "Request a case state transition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   TransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RequestTransition(ctx, input.CaseID, input.Body.TargetState, principal.ActorID, principal.Role)
		if err != nil {
			return nil, handleError(err)
		}
		resp := TransitionResponse{Case: caseResponse(res.Case)}
		for _, d := range res.Deadlines {
			resp.Deadlines = append(resp.Deadlines, deadlineResponse(d, ""))
		}
		resp.Citations = append(resp.Citations, mapCitations(res.Citations)...)
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-deadlines",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/deadlines",
		Summary:     "List case deadlines with urgency",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []DeadlineResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDeadlines(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]DeadlineResponse, 0, len(items))
		for _, d := range items {
			urgency := ""
			if d.Status == domain.DeadlineActive {
				if due, perr := time.Parse("2006-01-02", d.DueDate); perr == nil {
					urgency = e.ClassifyUrgency(due)
				}
			}
			out = append(out, deadlineResponse(d, urgency))
		}
		return &struct {
			Body []DeadlineResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-citations",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/citations",
		Summary:     "List case citations",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []CitationResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCitationsByCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range items {
			attempts, err := e.Repo.ListAttempts(ctx, items[i].ID)
			if err != nil {
				return nil, handleError(err)
			}
			items[i].Attempts = attempts
		}
		return &struct {
			Body []CitationResponse `json:"body"`
		}{Body: mapCitations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-hearings",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/hearings",
		Summary:     "List case hearings",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []HearingResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListHearings(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []HearingResponse `json:"body"`
		}{Body: mapHearings(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "schedule-hearing",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/hearings",
		Summary:       "Schedule a hearing",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string                 `path:"case_id"`
		Body   ScheduleHearingRequest `json:"body"`
	}) (*struct {
		Body HearingResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		scheduledAt, err := time.Parse(time.RFC3339, input.Body.ScheduledAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "scheduled_at must be RFC 3339", nil)
		}
		h, err := e.ScheduleHearing(ctx, input.CaseID, input.Body.Kind, scheduledAt, principal.ActorID, principal.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HearingResponse `json:"body"`
		}{Body: hearingResponse(h)}, nil
	})
}

func registerCitations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-citation",
		Method:      http.MethodGet,
		Path:        "/citations/{citation_id}",
		Summary:     "Get citation with attempt log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CitationID string `path:"citation_id"`
	}) (*struct {
		Body CitationResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		cit, err := e.Repo.GetCitation(ctx, input.CitationID)
		if err != nil {
			return nil, handleError(err)
		}
		attempts, err := e.Repo.ListAttempts(ctx, cit.ID)
		if err != nil {
			return nil, handleError(err)
		}
		cit.Attempts = attempts
		return &struct {
			Body CitationResponse `json:"body"`
		}{Body: citationResponse(cit)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-citation-attempt",
		Method:        http.MethodPost,
		Path:          "/citations/{citation_id}/attempts",
		Summary:       "Record a service attempt",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CitationID string               `path:"citation_id"`
		Body       RecordAttemptRequest `json:"body"`
	}) (*struct {
		Body AttemptResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RecordCitationAttempt(ctx, engine.AttemptOptions{
			CitationID:  input.CitationID,
			Method:      input.Body.Method,
			Outcome:     input.Body.Outcome,
			Description: input.Body.Description,
			EvidenceRef: input.Body.EvidenceRef,
			ActorID:     principal.ActorID,
			Role:        principal.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttemptResponse `json:"body"`
		}{Body: AttemptResponse{
			Citation:      citationResponse(res.Citation),
			Attempt:       res.Attempt,
			CaseState:     res.CaseState,
			EdictRequired: res.EdictRequired,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "order-edict-service",
		Method:        http.MethodPost,
		Path:          "/citations/{citation_id}/edict",
		Summary:       "Order publication-based service",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CitationID string `path:"citation_id"`
	}) (*struct {
		Body CitationResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		edict, err := e.OrderEdictService(ctx, input.CitationID, principal.ActorID, principal.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CitationResponse `json:"body"`
		}{Body: citationResponse(edict)}, nil
	})
}

func registerHearings(api huma.API, e engine.Engine) {
	resolve := func(opID, pathSuffix, summary string, fn func(context.Context, string, string, string) (engine.HearingResult, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/hearings/{hearing_id}/" + pathSuffix,
			Summary:     summary,
			Errors: []int{
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			HearingID string `path:"hearing_id"`
		}) (*struct {
			Body HearingResolveResponse `json:"body"`
		}, error) {
			principal, authErr := principalFromRequest(ctx)
			if authErr != nil {
				return nil, authErr
			}
			res, err := fn(ctx, input.HearingID, principal.ActorID, principal.Role)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body HearingResolveResponse `json:"body"`
			}{Body: HearingResolveResponse{
				Hearing:   hearingResponse(res.Hearing),
				CaseState: res.CaseState,
			}}, nil
		})
	}
	resolve("complete-hearing", "complete", "Complete a hearing", e.CompleteHearing)
	resolve("cancel-hearing", "cancel", "Cancel a hearing", e.CancelHearing)
}

func registerDeadlines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "compute-deadline",
		Method:      http.MethodGet,
		Path:        "/deadlines/compute",
		Summary:     "Compute a business-day due date",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Start string `query:"start" format:"date"`
		Days  int    `query:"days" minimum:"0"`
	}) (*struct {
		Body ComputeDeadlineResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		start, err := time.Parse("2006-01-02", input.Start)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "start must be YYYY-MM-DD", nil)
		}
		due, err := e.ComputeDeadline(start, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComputeDeadlineResponse `json:"body"`
		}{Body: ComputeDeadlineResponse{
			StartDate:    start.Format("2006-01-02"),
			DueDate:      due.Format("2006-01-02"),
			BusinessDays: input.Days,
			Urgency:      e.ClassifyUrgency(due),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-deadlines",
		Method:      http.MethodPost,
		Path:        "/deadlines/sweep",
		Summary:     "Expire overdue deadlines",
		Errors: []int{
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		switch principal.Role {
		case auth.RoleClerk, auth.RoleJudge, auth.RoleAdmin:
		default:
			return nil, handleError(auth.ForbiddenActionError{Role: principal.Role, Action: "sweep deadlines"})
		}
		n, err := e.SweepDeadlines(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{Expired: n}}, nil
	})
}

func registerIdentifiers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "allocate-identifier",
		Method:        http.MethodPost,
		Path:          "/identifiers",
		Summary:       "Allocate a case identifier",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body AllocateIdentifierRequest `json:"body"`
	}) (*struct {
		Body IdentifierResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.AllocateIdentifier(ctx, input.Body.Materia, input.Body.Venue)
		if err != nil {
			return nil, handleError(err)
		}
		id, _ := caseid.Parse(s)
		return &struct {
			Body IdentifierResponse `json:"body"`
		}{Body: IdentifierResponse{
			ID:    s,
			Year:  id.Year,
			Code:  id.Code,
			Seq:   id.Seq,
			Check: id.Check,
			Valid: true,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-identifier",
		Method:      http.MethodGet,
		Path:        "/identifiers/{identifier}",
		Summary:     "Parse and validate an identifier",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Identifier string `path:"identifier"`
	}) (*struct {
		Body IdentifierResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		id, ok := caseid.Parse(input.Identifier)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "malformed identifier", map[string]any{"identifier": input.Identifier})
		}
		return &struct {
			Body IdentifierResponse `json:"body"`
		}{Body: IdentifierResponse{
			ID:    id.String(),
			Year:  id.Year,
			Code:  id.Code,
			Seq:   id.Seq,
			Check: id.Check,
			Valid: caseid.Validate(input.Identifier),
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-case-events",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/events",
		Summary:     "List recent case events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListEvents(ctx, input.CaseID, normalizeLimit(input.Limit))
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

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List notifications for the caller",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []NotificationResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListNotifications(ctx, principal.ActorID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]NotificationResponse, 0, len(items))
		for _, n := range items {
			out = append(out, notificationResponse(n))
		}
		return &struct {
			Body []NotificationResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID: principal.ActorID,
			Role:    principal.Role,
			Source:  principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		role := strings.TrimSpace(input.Body.Role)
		if actor == "" || role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role are required", nil)
		}
		if role == auth.RoleSystem {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "system role cannot be minted", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, role, time.Now().UTC())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if raw, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return raw
	}
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err == nil {
			return data
		}
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
