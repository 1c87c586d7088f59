package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/ObiAU/disasterfeed/internal/upstream"
)

const (
	DefaultOpenAIModel = "gpt-4o-mini"

	openAIService = "openai"
)

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIClient is the alternative TextGenerator backed by the chat completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

func NewOpenAIClient(cfg OpenAIConfig, httpClient *http.Client) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &upstream.ConfigurationError{Field: "OPENAI_API_KEY"}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	// Retries belong to callers, so the SDK's own retry loop is disabled.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &OpenAIClient{client: openai.NewClient(opts...), model: cfg.Model}, nil
}

func (c *OpenAIClient) Name() string {
	return openAIService
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You analyze social media posts and images for disaster response teams. Answer tersely."),
			openai.UserMessage(prompt),
		},
		Temperature:         openai.Float(0.1),
		MaxCompletionTokens: openai.Int(400),
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if len(response.Choices) == 0 {
		return "", nil
	}
	return response.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &upstream.UpstreamError{Service: openAIService, StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
	}
	return &upstream.TransportError{Op: "POST " + openAIService, Err: err}
}
