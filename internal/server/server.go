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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"careline/internal/config"
	"careline/internal/domain"
	"careline/internal/feed"
	"careline/internal/repo"
	"careline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Store    *store.Store
	Plan     *config.Plan
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"duplicate_identifier"`
	Message string         `json:"message" example:"activity medication.ibuprofen: duplicate activity identifier"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Careline API, plus a stop
// func that halts the webhook dispatcher. Call stop before closing the
// store.
func New(cfg Config) (http.Handler, func(), error) {
	if cfg.Store == nil {
		return nil, nil, errors.New("server: store is required")
	}
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Careline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPlan(group, cfg.Store)
	registerActivities(group, cfg.Store)
	registerEvents(group, cfg.Store)
	registerAdherence(group, cfg.Store)
	registerChanges(group, cfg.Store)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	stop := func() {}
	if cfg.Plan != nil {
		stop = startWebhookDispatcher(cfg.Store, cfg.Plan.Webhooks)
	}
	return router, stop, nil
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
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, store.ErrDuplicateIdentifier):
		return newAPIError(http.StatusConflict, "duplicate_identifier", err.Error(), nil)
	case errors.Is(err, store.ErrInvalidTransition):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidDate), errors.Is(err, domain.ErrInvalidArgument):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, store.ErrClosed):
		return newAPIError(http.StatusServiceUnavailable, "store_closed", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
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

func registerPlan(api huma.API, s *store.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plan",
		Summary:     "Stored care plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body *config.Plan `json:"body"`
	}, error) {
		p, err := s.PlanConfig(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Plan `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-plan",
		Method:      http.MethodPost,
		Path:        "/plan/import",
		Summary:     "Import a care plan document",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		RawBody []byte `contentType:"application/yaml"`
	}) (*struct {
		Body store.PlanImportSummary `json:"body"`
	}, error) {
		plan, err := config.FromYAML(input.RawBody)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		summary, err := s.ImportPlan(ctx, plan)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body store.PlanImportSummary `json:"body"`
		}{Body: summary}, nil
	})
}

func registerActivities(api huma.API, s *store.Store) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-activity",
		Method:        http.MethodPost,
		Path:          "/activities",
		Summary:       "Add an activity",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateActivityRequest `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		a, err := input.Body.toDomain()
		if err != nil {
			return nil, handleError(err)
		}
		added, err := s.AddActivity(ctx, a)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: added}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "List activities",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type  string `query:"type"`
		Group string `query:"group"`
	}) (*struct {
		Body []domain.Activity `json:"body"`
	}, error) {
		var (
			items []domain.Activity
			err   error
		)
		switch {
		case input.Type != "":
			items, err = s.ActivitiesOfType(ctx, domain.ActivityType(input.Type))
		case input.Group != "":
			items, err = s.ActivitiesWithGroupIdentifier(ctx, input.Group)
		default:
			items, err = s.Activities(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Activity `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-activity",
		Method:      http.MethodGet,
		Path:        "/activities/{identifier}",
		Summary:     "Fetch one activity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Identifier string `path:"identifier"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		a, err := s.ActivityForIdentifier(ctx, input.Identifier)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-activity",
		Method:        http.MethodDelete,
		Path:          "/activities/{identifier}",
		Summary:       "Remove an activity and its events",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Identifier string `path:"identifier"`
	}) (*struct{}, error) {
		if err := s.RemoveActivity(ctx, input.Identifier); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-end-date",
		Method:      http.MethodPatch,
		Path:        "/activities/{identifier}/end-date",
		Summary:     "End an activity's schedule",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Identifier string            `path:"identifier"`
		Body       SetEndDateRequest `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		end, err := domain.ParseDate(input.Body.EndDate)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := s.SetEndDate(ctx, input.Identifier, end)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-thresholds",
		Method:      http.MethodGet,
		Path:        "/activities/{identifier}/thresholds",
		Summary:     "Evaluate thresholds for a day",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Identifier string `path:"identifier"`
		Date       string `query:"date" example:"2026-01-10"`
	}) (*struct {
		Body []domain.Threshold `json:"body"`
	}, error) {
		date, err := parseDateParam(input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		triggered, err := s.EvaluateThresholds(ctx, input.Identifier, date)
		if err != nil {
			return nil, handleError(err)
		}
		if triggered == nil {
			triggered = []domain.Threshold{}
		}
		return &struct {
			Body []domain.Threshold `json:"body"`
		}{Body: triggered}, nil
	})
}

func registerEvents(api huma.API, s *store.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "events-on-date",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Events for one day, grouped by activity",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" example:"2026-01-10"`
		Type string `query:"type"`
	}) (*struct {
		Body [][]domain.Event `json:"body"`
	}, error) {
		date, err := parseDateParam(input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		var types []domain.ActivityType
		if input.Type != "" {
			types = append(types, domain.ActivityType(input.Type))
		}
		groups, err := s.EventsOnDate(ctx, date, types...)
		if err != nil {
			return nil, handleError(err)
		}
		if groups == nil {
			groups = [][]domain.Event{}
		}
		return &struct {
			Body [][]domain.Event `json:"body"`
		}{Body: groups}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activity-events",
		Method:      http.MethodGet,
		Path:        "/activities/{identifier}/events",
		Summary:     "Events of one activity across a date range",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Identifier string `path:"identifier"`
		From       string `query:"from" example:"2026-01-05"`
		To         string `query:"to" example:"2026-01-12"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		from, err := parseDateParam(input.From)
		if err != nil {
			return nil, handleError(err)
		}
		to, err := parseDateParam(input.To)
		if err != nil {
			return nil, handleError(err)
		}
		events := []domain.Event{}
		err = s.EnumerateEvents(ctx, input.Identifier, from, to, func(e domain.Event) bool {
			events = append(events, e)
			return true
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: events}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-event",
		Method:      http.MethodPut,
		Path:        "/activities/{identifier}/events/{date}/{occurrence}",
		Summary:     "Set an event's state and result",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Identifier string             `path:"identifier"`
		Date       string             `path:"date" example:"2026-01-10"`
		Occurrence int                `path:"occurrence"`
		Body       UpdateEventRequest `json:"body"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		date, err := parseDateParam(input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		e, err := s.UpdateEvent(ctx, input.Identifier, date, input.Occurrence, domain.EventState(input.Body.State), input.Body.Result)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: e}, nil
	})
}

func registerAdherence(api huma.API, s *store.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "daily-completion",
		Method:      http.MethodGet,
		Path:        "/adherence",
		Summary:     "Daily completion status across a date range",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		From string `query:"from" example:"2026-01-05"`
		To   string `query:"to" example:"2026-01-12"`
	}) (*struct {
		Body []DayStatusResponse `json:"body"`
	}, error) {
		from, err := parseDateParam(input.From)
		if err != nil {
			return nil, handleError(err)
		}
		to, err := parseDateParam(input.To)
		if err != nil {
			return nil, handleError(err)
		}
		days := []DayStatusResponse{}
		err = s.DailyCompletionStatus(ctx, from, to, func(d domain.Date, completed, total int) bool {
			days = append(days, DayStatusResponse{Date: d.String(), Completed: completed, Total: total})
			return true
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DayStatusResponse `json:"body"`
		}{Body: days}, nil
	})
}

func registerChanges(api huma.API, s *store.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-changes",
		Method:      http.MethodGet,
		Path:        "/changes",
		Summary:     "Change feed rows after a cursor",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after"`
		Limit int   `query:"limit" default:"100" maximum:"1000"`
	}) (*struct {
		Body []feed.Change `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 100
		}
		changes, err := s.Changes(ctx, limit, input.After)
		if err != nil {
			return nil, handleError(err)
		}
		if changes == nil {
			changes = []feed.Change{}
		}
		return &struct {
			Body []feed.Change `json:"body"`
		}{Body: changes}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !authCfg.DevLogin {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		subject := strings.TrimSpace(input.Body.Subject)
		if subject == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "subject is required", nil)
		}
		token, err := mintToken(subject, authCfg.JWTSecret, 24*time.Hour)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func parseDateParam(s string) (domain.Date, error) {
	if strings.TrimSpace(s) == "" {
		return domain.Date{}, fmt.Errorf("date is required: %w", domain.ErrInvalidDate)
	}
	return domain.ParseDate(s)
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Careline API docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: %q,
        dom_id: '#swagger-ui',
      });
    </script>
  </body>
</html>`, specURL)
}
