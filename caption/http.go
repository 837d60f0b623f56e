package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTP posts {"image_url": ...} to an endpoint and reads "alt_text" from
// the JSON response.
type HTTP struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTP returns an HTTP backend. client may be nil.
func NewHTTP(endpoint, apiKey string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{endpoint: endpoint, apiKey: apiKey, client: client}
}

type describeRequest struct {
	ImageURL string `json:"image_url"`
}

type describeResponse struct {
	AltText string `json:"alt_text"`
}

// Describe implements Describer.
func (h *HTTP) Describe(ctx context.Context, imageURL string) (string, error) {
	if h.apiKey == "" || h.endpoint == "" {
		return "", ErrNoCredentials
	}
	body, err := json.Marshal(describeRequest{ImageURL: imageURL})
	if err != nil {
		return "", fmt.Errorf("caption: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("caption: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("caption: post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("caption: read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("caption: status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", fmt.Errorf("%w: %w", ErrNoCredentials, err)
		}
		return "", err
	}
	var out describeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("caption: decode: %w", err)
	}
	return out.AltText, nil
}
