package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bookforge/internal/domain"
	"bookforge/internal/middleware"
	"bookforge/internal/research"
)

func (a *App) ResearchAnalyze(w http.ResponseWriter, r *http.Request) {
	if a.currentUserID(r) == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if a.Research == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "market research is not configured")
		return
	}
	var req research.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Language == "" {
		req.Language = middleware.LocaleFromContext(r.Context())
	}
	res, err := a.Research.Analyze(r.Context(), req)
	if err != nil {
		a.researchFailed(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) ResearchTrending(w http.ResponseWriter, r *http.Request) {
	if a.currentUserID(r) == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if a.Research == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "market research is not configured")
		return
	}
	genres, err := a.Research.Trending(r.Context())
	if err != nil {
		a.researchFailed(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"genres": genres})
}

func (a *App) researchFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrProviderFailure) {
		a.Logger.Warn().Err(err).Msg("research provider failed")
		a.error(w, http.StatusBadGateway, "provider_failure", "market research is temporarily unavailable")
		return
	}
	a.fail(w, r, err)
}
