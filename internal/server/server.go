package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"faceline/internal/engine"
	"faceline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"image is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Faceline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
	hcfg := huma.DefaultConfig("Faceline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRegister(group, cfg.Engine, cfg.Log)
	registerAuthenticate(group, cfg.Engine, cfg.Log)
	registerHistory(group, cfg.Engine)
	registerUsers(group, cfg.Engine)

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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
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

func registerRegister(api huma.API, e engine.Engine, log zerolog.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "register-face",
		Method:      http.MethodPost,
		Path:        "/register",
		Summary:     "Register a user from a still frame",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body RegisterResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		frame, err := decodeImageField(input.Body.Image)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		res, err := e.RegisterFace(ctx, actorFromContext(ctx), input.Body.Name, frame)
		if err != nil {
			// Recognition trouble is part of the structured contract, not an
			// HTTP failure.
			log.Error().Err(err).Str("name", input.Body.Name).Msg("registration failed")
			return &struct {
				Body RegisterResponse `json:"body"`
			}{Body: RegisterResponse{Message: "Server error: " + err.Error()}}, nil
		}
		return &struct {
			Body RegisterResponse `json:"body"`
		}{Body: RegisterResponse{
			Success:       res.Success,
			Message:       res.Message,
			UserID:        res.UserID,
			LivenessScore: livenessForResponse(res.Success, res.LivenessScore),
		}}, nil
	})
}

func registerAuthenticate(api huma.API, e engine.Engine, log zerolog.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "authenticate-face",
		Method:      http.MethodPost,
		Path:        "/authenticate",
		Summary:     "Recognize a face and record the next punch",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body AuthenticateRequest `json:"body"`
	}) (*struct {
		Body AuthenticateResponse `json:"body"`
	}, error) {
		frame, err := decodeImageField(input.Body.Image)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		res, err := e.RecognizeFace(ctx, actorFromContext(ctx), frame)
		if err != nil {
			log.Error().Err(err).Msg("authentication failed")
			return &struct {
				Body AuthenticateResponse `json:"body"`
			}{Body: AuthenticateResponse{Message: "Server error: " + err.Error()}}, nil
		}
		return &struct {
			Body AuthenticateResponse `json:"body"`
		}{Body: AuthenticateResponse{
			Success:       res.Success,
			Message:       res.Message,
			Name:          res.Name,
			PunchType:     res.PunchType,
			Confidence:    res.Confidence,
			LivenessScore: livenessForResponse(res.Success, res.LivenessScore),
			Timestamp:     res.Timestamp,
		}}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "Attendance history for the trailing day window",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Days int `query:"days" default:"7" minimum:"1" maximum:"365"`
	}) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		entries, err := e.History(ctx, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]HistoryEntryResponse, 0, len(entries))
		for _, h := range entries {
			out = append(out, HistoryEntryResponse{
				Name:       h.Name,
				PunchType:  h.PunchType,
				Timestamp:  h.Timestamp,
				Confidence: h.Confidence,
			})
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{Success: true, History: out}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "Registered roster",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UsersResponse `json:"body"`
	}, error) {
		users, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]UserSummary, 0, len(users))
		for _, u := range users {
			out = append(out, UserSummary{ID: u.ID, Name: u.Name})
		}
		return &struct {
			Body UsersResponse `json:"body"`
		}{Body: UsersResponse{Success: true, Users: out}}, nil
	})
}

// livenessForResponse keeps the score out of failure responses; failure
// messages already embed it where relevant.
func livenessForResponse(success bool, score float64) float64 {
	if !success {
		return 0
	}
	return score
}
