// Package openai generates brand kits with the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
	"github.com/JakeFAU/brandkit-crawler/internal/llm"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// ErrAPIKeyNotSet is returned when no API key is configured.
var ErrAPIKeyNotSet = errors.New("openai api key not set")

// Config holds client settings.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// Client implements brandkit.Generator.
type Client struct {
	client    openai.Client
	model     string
	maxTokens int
}

// New builds a client. SDK retries are disabled; the sequencer owns retries.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1200
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Name identifies the backend and model.
func (c *Client) Name() string { return "openai/" + c.model }

// Generate requests a JSON object describing the brand.
func (c *Client) Generate(ctx context.Context, req brandkit.GenerateRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(llm.SystemPrompt),
			openai.UserMessage(llm.UserPrompt(req)),
		},
		MaxTokens:   openai.Int(int64(c.maxTokens)),
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(completion.Choices) == 0 {
		return "", errcode.Newf(errcode.AIEmpty, "no completion choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errcode.Wrap(errcode.AITimeout, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return errcode.Wrap(errcode.AIRateLimit, err)
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout:
			return errcode.Wrap(errcode.AITimeout, err)
		case apiErr.StatusCode >= 500:
			// Provider side outage; retried with the rate limit backoff.
			return errcode.Wrap(errcode.AIRateLimit, err)
		}
	}
	return errcode.Wrap(errcode.AIFailed, fmt.Errorf("openai chat completion: %w", err))
}
