// Package notify sends transactional e-mail through Resend.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"bookforge/internal/domain"
)

// BookReady describes a finished book for the notification e-mail.
type BookReady struct {
	To         string
	Title      string
	Plan       domain.PlanTier
	ModelLabel string
	FullBook   bool
	Cover      bool
	Audiobook  bool
}

type Options struct {
	APIKey     string
	From       string
	BaseURL    string
	HTTPClient *http.Client
}

// Resend is a minimal client for the Resend e-mail API.
type Resend struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

var bookReadyTemplate = template.Must(template.New("book_ready").Parse(`<div style="font-family:Arial,sans-serif;max-width:640px;margin:0 auto;padding:24px;">
  <h2 style="margin:0 0 12px;color:#111827;">Your BOOKFORGE book is ready</h2>
  <p style="color:#374151;line-height:1.6;">Great news: <strong>{{.Title}}</strong> has finished generating.</p>
  <ul style="color:#374151;line-height:1.7;">
    <li>Plan: <strong>{{.Plan}}</strong></li>
    <li>Model: <strong>{{.Model}}</strong></li>
    <li>Output: <strong>{{.Extras}}</strong></li>
  </ul>
  <p style="color:#6b7280;line-height:1.6;">Open BOOKFORGE to download your files and continue publishing to Amazon KDP.</p>
</div>`))

func NewResend(opts Options) (*Resend, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("resend api key is required")
	}
	if strings.TrimSpace(opts.From) == "" {
		return nil, errors.New("resend sender address is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Resend{apiKey: strings.TrimSpace(opts.APIKey), from: opts.From, baseURL: baseURL, client: client}, nil
}

// SendBookReady delivers the "book ready" e-mail.
func (r *Resend) SendBookReady(ctx context.Context, msg BookReady) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("notify: recipient is required")
	}
	var html bytes.Buffer
	err := bookReadyTemplate.Execute(&html, map[string]string{
		"Title":  msg.Title,
		"Plan":   cases.Title(language.English).String(string(msg.Plan)),
		"Model":  msg.ModelLabel,
		"Extras": featureSummary(msg),
	})
	if err != nil {
		return fmt.Errorf("notify: render: %w", err)
	}
	body, err := json.Marshal(emailRequest{
		From:    r.from,
		To:      []string{msg.To},
		Subject: fmt.Sprintf("Your BOOKFORGE book %q is ready", msg.Title),
		HTML:    html.String(),
	})
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: resend: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: resend status %d: %s", domain.ErrProviderFailure, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

func featureSummary(msg BookReady) string {
	var features []string
	if msg.FullBook {
		features = append(features, "full chapter draft")
	}
	if msg.Cover {
		features = append(features, "cover image")
	}
	if msg.Audiobook {
		features = append(features, "audiobook preview")
	}
	if len(features) == 0 {
		return "standard generation package"
	}
	return strings.Join(features, ", ")
}
