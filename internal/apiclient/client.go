// Package apiclient talks to the bookforge HTTP API on behalf of one
// authenticated account.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bookforge/internal/domain"
	"bookforge/internal/export"
	"bookforge/internal/poller"
	"bookforge/internal/research"
)

// APIError is a non-2xx response decoded from the API error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: %s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap lets callers match domain sentinels with errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusBadGateway:
		return domain.ErrProviderFailure
	}
	return nil
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ poller.Fetcher = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func New(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("apiclient: base url required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submitted is the outcome of Generate. Exactly one of Result and JobID is
// set: starter plans answer inline, higher plans queue a job.
type Submitted struct {
	JobID  string
	Result *domain.BookResult
}

func (c *Client) Generate(ctx context.Context, req domain.SubmitRequest) (*Submitted, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/books/generate", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result domain.BookResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("apiclient: decode result: %w", err)
		}
		return &Submitted{Result: &result}, nil
	case http.StatusAccepted:
		var accepted struct {
			JobID string `json:"job_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
			return nil, fmt.Errorf("apiclient: decode job: %w", err)
		}
		if accepted.JobID == "" {
			return nil, errors.New("apiclient: accepted response without job_id")
		}
		return &Submitted{JobID: accepted.JobID}, nil
	}
	return nil, decodeError(resp)
}

// FetchStatus reads one job snapshot.
func (c *Client) FetchStatus(ctx context.Context, jobID string) (*poller.Status, error) {
	var status poller.Status
	if err := c.getJSON(ctx, "/v1/books/jobs/"+url.PathEscape(jobID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Export downloads a completed job's manuscript and returns the file body
// and the server suggested filename.
func (c *Client) Export(ctx context.Context, jobID string, format export.Format) ([]byte, string, error) {
	path := "/v1/books/jobs/" + url.PathEscape(jobID) + "/export?format=" + url.QueryEscape(string(format))
	resp, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("apiclient: read export: %w", err)
	}
	filename := "book." + string(format)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return data, filename, nil
}

func (c *Client) Analyze(ctx context.Context, req research.Request) (*research.Result, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/research/analyze", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var result research.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("apiclient: decode research: %w", err)
	}
	return &result, nil
}

func (c *Client) Trending(ctx context.Context) ([]research.TrendingGenre, error) {
	var body struct {
		Genres []research.TrendingGenre `json:"genres"`
	}
	if err := c.getJSON(ctx, "/v1/research/trending", &body); err != nil {
		return nil, err
	}
	return body.Genres, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("apiclient: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
