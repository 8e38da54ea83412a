package links

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Shortener calls the Bitly shorten API on behalf of a tenant-supplied
// access token.
type Shortener struct {
	client   *http.Client
	endpoint string
}

func NewShortener(endpoint string) *Shortener {
	return &Shortener{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
	}
}

type shortenRequest struct {
	LongURL string `json:"long_url"`
}

type shortenResponse struct {
	Link    string `json:"link"`
	Message string `json:"message"`
}

func (s *Shortener) Shorten(ctx context.Context, longURL, accessToken string) (string, error) {
	body, err := json.Marshal(shortenRequest{LongURL: longURL})
	if err != nil {
		return "", fmt.Errorf("marshal shorten request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build shorten request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("shorten request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read shorten response: %w", err)
	}

	var parsed shortenResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse shorten response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("bitly API error: HTTP %d: %s", resp.StatusCode, parsed.Message)
	}
	return parsed.Link, nil
}
