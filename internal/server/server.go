// Package server exposes a read-only HTTP view of the board for dashboards
// and remote agents. All mutation stays on the CLI path; the API never takes
// the board lock.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"crewboard/internal/domain"
	"crewboard/internal/engine"
	"crewboard/internal/graph"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"ITEM_NOT_FOUND"`
	Message string         `json:"message" example:"item 42 not found"`
	ItemID  string         `json:"itemId,omitempty" example:"42"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope shared with the CLI's JSON output.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the board API.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Crewboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerBoard(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerDeps(group, cfg.Engine)
	registerActivity(group, cfg.Engine)

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

// handleError maps engine errors onto the HTTP envelope, preserving the
// structured code, item id, and details.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return &apiError{
			status: statusForCode(de.Code),
			Body: apiErrorBody{
				Code:    string(de.Code),
				Message: de.Message,
				ItemID:  de.ItemID,
				Details: de.Details,
			},
		}
	}
	return newAPIError(http.StatusInternalServerError, string(domain.CodeServerError), "internal error",
		map[string]any{"error": err.Error()})
}

func statusForCode(code domain.Code) int {
	switch code {
	case domain.CodeItemNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidTransition, domain.CodeInvalidStage,
		domain.CodeWIPLimitExceeded, domain.CodeDependencyBlocked:
		return http.StatusUnprocessableEntity
	case domain.CodeAlreadyClaimed, domain.CodeDuplicateID,
		domain.CodeInvalidAgent, domain.CodeLockTimeout:
		return http.StatusConflict
	case domain.CodeValidation, domain.CodeAgentRequired,
		domain.CodeDependencyCycle, domain.CodeMissingDependency:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(domain.CodeValidation)
	case http.StatusNotFound:
		return string(domain.CodeItemNotFound)
	case http.StatusInternalServerError:
		return string(domain.CodeServerError)
	default:
		return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
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

func registerBoard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/board",
		Summary:     "Board snapshot",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body *domain.Board `json:"body"`
	}, error) {
		board, err := e.Board()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.Board `json:"body"`
		}{Body: board}, nil
	})
}

type itemList struct {
	Items []*domain.WorkItem `json:"items"`
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List work items",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stage string `query:"stage"`
		Agent string `query:"agent"`
		Type  string `query:"type"`
		Group string `query:"group"`
	}) (*struct {
		Body itemList `json:"body"`
	}, error) {
		filters := engine.ListFilters{Agent: input.Agent, Type: input.Type, Group: input.Group}
		if input.Stage != "" {
			stage, err := domain.ParseStage(input.Stage)
			if err != nil {
				return nil, handleError(err)
			}
			filters.Stage = stage
		}
		items, err := e.ListItems(filters)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []*domain.WorkItem{}
		}
		return &struct {
			Body itemList `json:"body"`
		}{Body: itemList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{id}",
		Summary:     "Get a work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body itemDetail `json:"body"`
	}, error) {
		item, body, err := e.GetItem(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body itemDetail `json:"body"`
		}{Body: itemDetail{Item: item, Content: string(body)}}, nil
	})
}

type itemDetail struct {
	Item    *domain.WorkItem `json:"item"`
	Content string           `json:"content,omitempty"`
}

type depsResponse struct {
	Report *graph.Report `json:"report"`
	Ready  []string      `json:"ready"`
}

func registerDeps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "deps-report",
		Method:      http.MethodGet,
		Path:        "/deps",
		Summary:     "Dependency graph report",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body depsResponse `json:"body"`
	}, error) {
		report, ready, err := e.DepsReport()
		if err != nil {
			return nil, handleError(err)
		}
		if ready == nil {
			ready = []string{}
		}
		return &struct {
			Body depsResponse `json:"body"`
		}{Body: depsResponse{Report: report, Ready: ready}}, nil
	})
}

type activityResponse struct {
	Lines []string `json:"lines"`
}

func registerActivity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "activity-tail",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "Tail the activity feed",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body activityResponse `json:"body"`
	}, error) {
		lines, err := e.Events.Tail(input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if lines == nil {
			lines = []string{}
		}
		return &struct {
			Body activityResponse `json:"body"`
		}{Body: activityResponse{Lines: lines}}, nil
	})
}
