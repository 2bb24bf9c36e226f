// Package gemini implements llm.Client on top of the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/RosarioB/eliza-nft/internal/llm"
)

const defaultModelName = "gemini-2.0-flash"

// generator is the subset of *genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config holds the Gemini API settings.
type Config struct {
	APIKey string
	Models llm.Models
}

// Client calls Gemini in JSON response mode.
type Client struct {
	models    generator
	modelTier llm.Models
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{models: client.Models, modelTier: cfg.Models}, nil
}

// GenerateObject implements llm.Client.
func (c *Client) GenerateObject(ctx context.Context, req llm.Request) (map[string]any, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("gemini: prompt is required")
	}
	model := c.modelTier.For(req.Tier, defaultModelName)
	resp, err := c.models.GenerateContent(ctx, model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil {
		return nil, errors.New("gemini: empty response")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, errors.New("gemini: response has no text")
	}
	return llm.ParseObject(text)
}

var _ llm.Client = (*Client)(nil)
