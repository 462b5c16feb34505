package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jarto666/scriptforge/internal/domain"
	"github.com/jarto666/scriptforge/internal/prompts"
)

// Generator produces the content for one script. The call is a black box to
// the coordinator: it either returns a result or fails, and it owns its own
// timeout policy via the context and client configuration.
type Generator interface {
	Generate(ctx context.Context, script *domain.Script, platform domain.Platform, tier domain.QualityTier, persona *domain.Persona) (*domain.ScriptContent, error)
}

// GeneratorConfig holds configuration for the OpenAI-compatible generator.
type GeneratorConfig struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

// OpenAIGenerator generates scripts through an OpenAI-compatible
// chat-completions endpoint.
type OpenAIGenerator struct {
	client    *resty.Client
	model     string
	endpoint  string
	maxTokens int
}

// NewOpenAIGenerator creates a generator backed by a chat-completions API.
func NewOpenAIGenerator(cfg *GeneratorConfig) *OpenAIGenerator {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 900
	}

	return &OpenAIGenerator{
		client:    client,
		model:     cfg.Model,
		endpoint:  baseURL + "/chat/completions",
		maxTokens: maxTokens,
	}
}

// GetModel returns the model name being used.
func (g *OpenAIGenerator) GetModel() string {
	return g.model
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate produces one script draft for the given unit.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - script: the generation unit (angle, duration).
//   - platform: target platform for pacing and framing.
//   - tier: quality tier requested for the batch.
//   - persona: optional voice to write in; may be nil.
//
// Returns:
//   - *domain.ScriptContent: generated hook/body/cta on success.
//   - error: non-nil if the API request or response parsing fails.
func (g *OpenAIGenerator) Generate(ctx context.Context, script *domain.Script, platform domain.Platform, tier domain.QualityTier, persona *domain.Persona) (*domain.ScriptContent, error) {
	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompts.ScriptSystemPrompt},
			{Role: "user", Content: prompts.UserPrompt(script, platform, tier, persona)},
		},
		MaxTokens: g.maxTokens,
	}

	var resp chatResponse
	httpResp, err := g.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(g.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to call generation API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return nil, fmt.Errorf("generation API returned error: %s", errorMsg)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("generation API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from generation API (status: %d)", httpResp.StatusCode())
	}

	content, err := parseScriptContent(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated script: %w", err)
	}
	return content, nil
}

// parseScriptContent decodes the model output into structured content.
// Models occasionally wrap JSON in markdown fences despite instructions,
// so fences are stripped before decoding.
func parseScriptContent(raw string) (*domain.ScriptContent, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var content domain.ScriptContent
	if err := json.Unmarshal([]byte(trimmed), &content); err != nil {
		return nil, err
	}
	if content.Hook == "" && content.Body == "" {
		return nil, fmt.Errorf("generated content is empty")
	}
	return &content, nil
}
