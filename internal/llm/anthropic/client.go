// Package anthropic generates brand kits with the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
	"github.com/JakeFAU/brandkit-crawler/internal/llm"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-3-5-haiku-latest"

// ErrAPIKeyNotSet is returned when no API key is configured.
var ErrAPIKeyNotSet = errors.New("anthropic api key not set")

// Config holds client settings.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// Client implements brandkit.Generator.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// New builds a client with SDK retries disabled.
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
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Name identifies the backend and model.
func (c *Client) Name() string { return "anthropic/" + c.model }

// Generate asks the model for a JSON brand kit and concatenates its text blocks.
func (c *Client) Generate(ctx context.Context, req brandkit.GenerateRequest) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: llm.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(llm.UserPrompt(req))),
		},
		Temperature: anthropic.Float(0.2),
	}
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errcode.Wrap(errcode.AITimeout, err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return errcode.Wrap(errcode.AIRateLimit, err)
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout:
			return errcode.Wrap(errcode.AITimeout, err)
		case apiErr.StatusCode >= 500:
			// 529 overloaded and other provider side failures.
			return errcode.Wrap(errcode.AIRateLimit, err)
		}
	}
	return errcode.Wrap(errcode.AIFailed, fmt.Errorf("anthropic messages: %w", err))
}
