// Package tts synthesizes audiobook previews with ElevenLabs.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bookforge/internal/domain"
)

const (
	DefaultVoiceID = "JBFqnCBsd6RMkjVDRZzb"
	DefaultModelID = "eleven_multilingual_v2"

	// MaxChars is the largest script accepted in one request.
	MaxChars = 4500

	maxAudioBytes = 64 << 20
)

type Options struct {
	APIKey       string
	BaseURL      string
	DefaultVoice string
	HTTPClient   *http.Client
}

// Client is an ElevenLabs text-to-speech client.
type Client struct {
	apiKey  string
	baseURL string
	voice   string
	client  *http.Client
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Audio is synthesized speech.
type Audio struct {
	Data     []byte
	MimeType string
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("elevenlabs api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io/v1"
	}
	voice := strings.TrimSpace(opts.DefaultVoice)
	if voice == "" {
		voice = DefaultVoiceID
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 180 * time.Second}
	}
	return &Client{apiKey: strings.TrimSpace(opts.APIKey), baseURL: baseURL, voice: voice, client: client}, nil
}

// Synthesize converts text to MP3. An empty voiceID selects the default voice.
// Callers must keep text within MaxChars.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) (*Audio, error) {
	if len([]rune(text)) > MaxChars {
		return nil, fmt.Errorf("tts: script exceeds %d characters", MaxChars)
	}
	voice := strings.TrimSpace(voiceID)
	if voice == "" {
		voice = c.voice
	}
	body, err := json.Marshal(speechRequest{
		Text:          text,
		ModelID:       DefaultModelID,
		VoiceSettings: voiceSettings{Stability: 0.45, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, fmt.Errorf("tts: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/text-to-speech/%s", c.baseURL, url.PathEscape(voice))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: elevenlabs: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: elevenlabs status %d: %s", domain.ErrProviderFailure, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: elevenlabs: read audio: %v", domain.ErrProviderFailure, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: elevenlabs returned no audio", domain.ErrProviderFailure)
	}
	return &Audio{Data: data, MimeType: "audio/mpeg"}, nil
}
