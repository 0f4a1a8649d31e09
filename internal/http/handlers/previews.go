package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"bookforge/internal/domain"
	"bookforge/internal/export"
	"bookforge/internal/middleware"
)

// Previews runs single stages outside the job flow.
type Previews interface {
	Outline(ctx context.Context, ownerID string, req domain.GenerationRequest) (*domain.Outline, error)
	Cover(ctx context.Context, ownerID, prompt string) (*domain.Media, error)
	Audiobook(ctx context.Context, ownerID, text, voiceID string) (*domain.Media, error)
}

type coverRequest struct {
	Prompt string `json:"prompt"`
}

// CoverResponse is the body of POST /v1/books/cover.
type CoverResponse struct {
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

type audiobookRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	Title   string `json:"title"`
}

// OutlineOnly generates just the outline, for a fast preview.
func (a *App) OutlineOnly(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req domain.GenerationRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Language == "" {
		req.Language = middleware.LocaleFromContext(r.Context())
	}
	outline, err := a.Previews.Outline(r.Context(), userID, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, outline)
}

// Cover renders a cover image from a free-form prompt.
func (a *App) Cover(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req coverRequest
	if !a.decode(w, r, &req) {
		return
	}
	img, err := a.Previews.Cover(r.Context(), userID, req.Prompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, CoverResponse{
		ImageBase64: base64.StdEncoding.EncodeToString(img.Data),
		MimeType:    img.MimeType,
	})
}

// Audiobook streams a narrated preview as an MP3 download.
func (a *App) Audiobook(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req audiobookRequest
	if !a.decode(w, r, &req) {
		return
	}
	audio, err := a.Previews.Audiobook(r.Context(), userID, req.Text, req.VoiceID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", audio.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.AudioFilename(req.Title)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}
