package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"bookforge/internal/domain"
	"bookforge/internal/infra"
	"bookforge/internal/middleware"
	"bookforge/internal/plangate"
	"bookforge/internal/research"
)

// Submitter routes a generation request by plan.
type Submitter interface {
	Submit(ctx context.Context, ownerID string, req domain.GenerationRequest, flags domain.StageFlags) (plangate.Submission, error)
}

// JobReader reads owner scoped jobs.
type JobReader interface {
	GetJob(ctx context.Context, ownerID, jobID string) (*domain.Job, error)
}

// Researcher answers market research requests.
type Researcher interface {
	Analyze(ctx context.Context, req research.Request) (*research.Result, error)
	Trending(ctx context.Context) ([]research.TrendingGenre, error)
}

type App struct {
	Gate     Submitter
	Previews Previews
	Jobs     JobReader
	Credits  domain.CreditLedger
	Research Researcher
	Logger   infra.Logger
	// Checks are run by Health, keyed by dependency name.
	Checks map[string]func(context.Context) error
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// fail maps domain errors onto HTTP statuses. Anything unrecognised is a 500
// with a generic message; the cause is only logged.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *domain.ValidationError
		limit      *domain.PlanLimitError
		transition *domain.InvalidTransitionError
		stage      *domain.StageFailure
	)
	switch {
	case errors.As(err, &validation):
		a.error(w, http.StatusBadRequest, "invalid_request", validation.Error())
	case errors.As(err, &limit):
		code := "plan_limit"
		if limit.Reason == plangate.ReasonCreditsExhausted {
			code = plangate.ReasonCreditsExhausted
		}
		a.error(w, http.StatusForbidden, code, limit.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing or unknown account")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.As(err, &transition):
		a.error(w, http.StatusConflict, "invalid_state", transition.Reason)
	case errors.As(err, &stage):
		a.Logger.Warn().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("stage", stage.Stage).
			Msg("generation failed")
		a.error(w, http.StatusBadGateway, "generation_failed", stage.Message())
	default:
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
