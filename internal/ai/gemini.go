package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ObiAU/disasterfeed/internal/upstream"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-pro"

	geminiService = "gemini"
)

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type GeminiClient struct {
	apiKey   string
	endpoint string
	client   upstream.Doer
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiClient(cfg GeminiConfig, client upstream.Doer) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &upstream.ConfigurationError{Field: "GEMINI_API_KEY"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if client == nil {
		client = upstream.NewHTTPClient(0)
	}

	return &GeminiClient{
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/models/" + cfg.Model + ":generateContent",
		client:   client,
	}, nil
}

func (c *GeminiClient) Name() string {
	return geminiService
}

// Generate posts the prompt as a single text part. Only the first candidate's
// first part is read; an answer without candidates yields "".
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("encode gemini request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+url.QueryEscape(c.apiKey), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := upstream.Execute(c.client, geminiService, req)
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	if err := upstream.DecodeJSON(geminiService, body, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
