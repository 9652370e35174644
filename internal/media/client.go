// internal/media/client.go

// Package media talks to the secondary (image/voice) provider, persists the
// generated bytes under a public directory, and serves quota queries for the
// usage-aware allocator.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"laststand/internal/keypool"
)

// Client is the HTTP client for the secondary provider.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a media provider client with production timeouts.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

type quotaResponse struct {
	Remaining int64 `json:"remaining"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// RemainingQuota queries how many quota units a credential has left.
func (c *Client) RemainingQuota(ctx context.Context, key string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/usage", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build quota request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)

	var parsed quotaResponse
	if err := c.do(req, &parsed); err != nil {
		return 0, err
	}
	return parsed.Remaining, nil
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		B64 string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateImage renders an illustration for the given prompt, returning raw
// PNG bytes.
func (c *Client) GenerateImage(ctx context.Context, key, prompt string) ([]byte, error) {
	payload, _ := json.Marshal(imageRequest{Prompt: prompt, Size: "1024x1024"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	var parsed imageResponse
	if err := c.do(req, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("image provider returned no data")
	}
	raw, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64)
	if err != nil {
		return nil, fmt.Errorf("image provider returned undecodable payload: %w", err)
	}
	return raw, nil
}

type voiceRequest struct {
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// GenerateVoice synthesizes narration audio (MP3 bytes) for the given text.
func (c *Client) GenerateVoice(ctx context.Context, key, text string) ([]byte, error) {
	payload, _ := json.Marshal(voiceRequest{Input: text, Voice: "onyx"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build voice request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach media provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read media response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &keypool.StatusError{Status: resp.StatusCode, Message: errMessage(body)}
	}
	return body, nil
}

// do runs a JSON request/response cycle, converting non-2xx into StatusError.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach media provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read media response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &keypool.StatusError{Status: resp.StatusCode, Message: errMessage(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse media response: %w", err)
	}
	return nil
}

func errMessage(body []byte) string {
	var parsed struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}
