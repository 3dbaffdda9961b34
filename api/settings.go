package api

import (
	"context"
	"fmt"

	"github.com/hatcher/kbchat/models"
)

type saveKeyRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
}

// SaveAPIKey stores or replaces the LLM provider credential.
func (c *Client) SaveAPIKey(ctx context.Context, provider, apiKey string) error {
	_, err := c.post(ctx, "/api/settings/keys", saveKeyRequest{Provider: provider, APIKey: apiKey})
	return err
}

// ListAPIKeys returns the configured provider keys, masked by the server.
func (c *Client) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	env, err := c.get(ctx, "/api/settings/keys", nil)
	if err != nil {
		return nil, err
	}
	keys, err := decodeData[[]models.APIKey](env)
	if err != nil {
		return nil, err
	}
	return *keys, nil
}

func (c *Client) DeleteAPIKey(ctx context.Context, provider string) error {
	_, err := c.delete(ctx, fmt.Sprintf("/api/settings/keys/%s", provider))
	return err
}

// ToggleAPIKey flips a key's active flag and returns the new state.
func (c *Client) ToggleAPIKey(ctx context.Context, provider string) (bool, error) {
	env, err := c.post(ctx, fmt.Sprintf("/api/settings/keys/%s/toggle", provider), nil)
	if err != nil {
		return false, err
	}
	data, err := decodeData[struct {
		IsActive bool `json:"is_active"`
	}](env)
	if err != nil {
		return false, err
	}
	return data.IsActive, nil
}

// AvailableModels lists selectable models per provider with an active key.
func (c *Client) AvailableModels(ctx context.Context) (map[string][]models.ModelInfo, error) {
	env, err := c.get(ctx, "/api/settings/models", nil)
	if err != nil {
		return nil, err
	}
	result, err := decodeData[map[string][]models.ModelInfo](env)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// Stats is the per-user usage summary.
type Stats struct {
	Documents struct {
		Total     int64 `json:"total"`
		Completed int64 `json:"completed"`
	} `json:"documents"`
	Chat struct {
		Sessions int64 `json:"sessions"`
		Messages int64 `json:"messages"`
	} `json:"chat"`
	APIKeys int64 `json:"api_keys"`
}

func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	env, err := c.get(ctx, "/api/stats", nil)
	if err != nil {
		return nil, err
	}
	return decodeData[Stats](env)
}
