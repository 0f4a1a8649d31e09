package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"bookforge/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func respond(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{}}
}

func imageBody(mimeKey string) string {
	data := base64.StdEncoding.EncodeToString([]byte("\x89PNG"))
	return `{"candidates":[{"content":{"parts":[{"text":"here"},{"` + mimeKey + `":{"mimeType":"image/jpeg","data":"` + data + `"}}]}}]}`
}

func TestGenerateCoverFirstPayload(t *testing.T) {
	var calls int
	client, err := NewClient(Options{
		APIKey:  "g-key",
		BaseURL: "https://gemini.test/v1beta",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			if r.URL.Path != "/v1beta/models/gemini-2.5-flash-image:generateContent" {
				t.Errorf("path = %s", r.URL.Path)
			}
			if r.Header.Get("x-goog-api-key") != "g-key" {
				t.Errorf("missing api key header")
			}
			var body geminiGenerateContentRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.GenerationConfig == nil || len(body.GenerationConfig.ResponseModalities) != 2 {
				t.Errorf("first payload should request image modality: %+v", body)
			}
			return respond(200, imageBody("inlineData")), nil
		})},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	img, err := client.GenerateCover(context.Background(), "a cover")
	if err != nil {
		t.Fatalf("GenerateCover: %v", err)
	}
	if string(img.Data) != "\x89PNG" || img.MimeType != "image/jpeg" || calls != 1 {
		t.Fatalf("img = %+v calls = %d", img, calls)
	}
}

func TestGenerateCoverFallsBackToPlainPayload(t *testing.T) {
	var calls int
	client, _ := NewClient(Options{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return respond(400, `{"error":{"code":400,"message":"responseModalities unsupported"}}`), nil
			}
			var body geminiGenerateContentRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.GenerationConfig != nil {
				t.Errorf("second payload should be plain")
			}
			return respond(200, imageBody("inline_data")), nil
		})},
	})
	img, err := client.GenerateCover(context.Background(), "a cover")
	if err != nil {
		t.Fatalf("GenerateCover: %v", err)
	}
	if calls != 2 || len(img.Data) == 0 {
		t.Fatalf("calls = %d img = %+v", calls, img)
	}
}

func TestGenerateCoverReportsLastError(t *testing.T) {
	client, _ := NewClient(Options{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return respond(200, `{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`), nil
		})},
	})
	_, err := client.GenerateCover(context.Background(), "a cover")
	if !errors.Is(err, domain.ErrProviderFailure) || !strings.Contains(err.Error(), "no inline image") {
		t.Fatalf("error = %v", err)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatalf("NewClient without key succeeded")
	}
}
