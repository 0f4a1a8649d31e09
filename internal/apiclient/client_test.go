package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bookforge/internal/domain"
	"bookforge/internal/export"
	"bookforge/internal/research"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", "tok", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		body      any
		wantJobID string
		wantSync  bool
	}{
		{name: "sync result", status: http.StatusOK, body: domain.BookResult{ModelUsed: "GPT-5"}, wantSync: true},
		{name: "queued job", status: http.StatusAccepted, body: map[string]string{"job_id": "job-1", "status": "queued"}, wantJobID: "job-1"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/v1/books/generate" {
					t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer tok" {
					t.Errorf("Authorization = %q", got)
				}
				var req domain.SubmitRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Genre != "fantasy" {
					t.Errorf("request = %+v err = %v", req, err)
				}
				writeJSON(w, tc.status, tc.body)
			})
			req := domain.SubmitRequest{GenerationRequest: domain.GenerationRequest{Genre: "fantasy"}}
			got, err := c.Generate(context.Background(), req)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if got.JobID != tc.wantJobID || (got.Result != nil) != tc.wantSync {
				t.Fatalf("Generate = %+v", got)
			}
		})
	}
}

func TestErrorsMapToDomainSentinels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		code   string
		want   error
	}{
		{status: http.StatusNotFound, code: "not_found", want: domain.ErrNotFound},
		{status: http.StatusUnauthorized, code: "unauthorized", want: domain.ErrUnauthorized},
		{status: http.StatusBadGateway, code: "provider_failure", want: domain.ErrProviderFailure},
	}
	for _, tc := range tests {
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tc.status, map[string]any{"error": map[string]string{"code": tc.code, "message": "nope"}})
		})
		_, err := c.FetchStatus(context.Background(), "job-1")
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != tc.code || apiErr.Message != "nope" {
			t.Fatalf("status %d: APIError = %+v", tc.status, apiErr)
		}
	}
}

func TestPlanLimitIsNotASentinel(t *testing.T) {
	t.Parallel()
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": map[string]string{"code": "credits_exhausted", "message": "no credits"}})
	})
	_, err := c.Generate(context.Background(), domain.SubmitRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden || apiErr.Unwrap() != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestFetchStatus(t *testing.T) {
	t.Parallel()
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/books/jobs/job 1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": "job 1", "status": "running", "progress": 40, "step": "Building outline", "credits_remaining": 3})
	})
	st, err := c.FetchStatus(context.Background(), "job 1")
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if st.Status != domain.JobStatusRunning || st.Progress != 40 || st.Step != "Building outline" {
		t.Fatalf("status = %+v", st)
	}
	if st.CreditsRemaining == nil || *st.CreditsRemaining != 3 {
		t.Fatalf("credits = %v", st.CreditsRemaining)
	}
}

func TestExport(t *testing.T) {
	t.Parallel()
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "epub" {
			t.Errorf("format = %q", r.URL.Query().Get("format"))
		}
		w.Header().Set("Content-Type", "application/epub+zip")
		w.Header().Set("Content-Disposition", `attachment; filename="the-tea-dragon-inn.epub"`)
		_, _ = w.Write([]byte("PK"))
	})
	data, name, err := c.Export(context.Background(), "job-1", export.FormatEPUB)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if string(data) != "PK" || name != "the-tea-dragon-inn.epub" {
		t.Fatalf("Export = %q, %q", data, name)
	}
}

func TestResearch(t *testing.T) {
	t.Parallel()
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/research/analyze":
			writeJSON(w, http.StatusOK, research.Result{MarketSummary: "rising"})
		case "/v1/research/trending":
			writeJSON(w, http.StatusOK, map[string]any{"genres": []research.TrendingGenre{{Genre: "romantasy", Score: 90}}})
		}
	})
	res, err := c.Analyze(context.Background(), research.Request{Topic: "tea"})
	if err != nil || res.MarketSummary != "rising" {
		t.Fatalf("Analyze = %+v, %v", res, err)
	}
	genres, err := c.Trending(context.Background())
	if err != nil || len(genres) != 1 || genres[0].Genre != "romantasy" {
		t.Fatalf("Trending = %+v, %v", genres, err)
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := New("  ", "tok"); err == nil {
		t.Fatal("expected error")
	}
}
