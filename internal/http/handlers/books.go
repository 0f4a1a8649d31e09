package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookforge/internal/domain"
	"bookforge/internal/export"
	"bookforge/internal/middleware"
	"bookforge/internal/plangate"
)

const maxRequestBytes = 1 << 20

type acceptedResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

// JobStatusResponse is the body of GET /v1/books/jobs/{job_id}.
type JobStatusResponse struct {
	JobID            string             `json:"job_id"`
	Status           domain.JobStatus   `json:"status"`
	Progress         int                `json:"progress"`
	Step             *string            `json:"step"`
	Result           *domain.BookResult `json:"result"`
	Error            *string            `json:"error"`
	CreditsRemaining *int               `json:"credits_remaining,omitempty"`
}

// GenerateBook answers 200 with the finished book on the sync path and 202
// with a job id on the async path.
func (a *App) GenerateBook(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req domain.SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Language == "" {
		req.Language = middleware.LocaleFromContext(r.Context())
	}

	sub, err := a.Gate.Submit(r.Context(), userID, req.GenerationRequest, req.StageFlags)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if sub.Kind == plangate.KindSync {
		a.json(w, http.StatusOK, sub.Result)
		return
	}
	w.Header().Set("Location", "/v1/books/jobs/"+sub.JobID)
	a.json(w, http.StatusAccepted, acceptedResponse{JobID: sub.JobID, Status: domain.JobStatusQueued})
}

func (a *App) BookJobStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Jobs.GetJob(r.Context(), userID, chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := JobStatusResponse{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Step:     nullable(job.Step),
		Result:   job.Result,
		Error:    nullable(job.Error),
	}
	if a.Credits != nil {
		if balance, err := a.Credits.Balance(r.Context(), userID); err == nil {
			resp.CreditsRemaining = &balance
		} else {
			a.Logger.Warn().Err(err).Str("owner_id", userID).Msg("read credit balance")
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	a.json(w, http.StatusOK, resp)
}

// nullable maps an empty string to a JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ExportBook renders a completed job's manuscript on demand.
func (a *App) ExportBook(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	job, err := a.Jobs.GetJob(r.Context(), userID, chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job.Status != domain.JobStatusCompleted || job.Result == nil {
		a.error(w, http.StatusConflict, "job_not_ready", fmt.Sprintf("job is %s", job.Status))
		return
	}
	m := export.FromResult(job.Request, *job.Result)
	data, err := export.Render(m, format)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", m.Filename(format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
