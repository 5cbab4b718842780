package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ritzau/knowledge-map/pkg/logging"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gpt-4o-mini"

// SystemPrompt asks the model for a short answer and its core concepts
const SystemPrompt = "You are a concise assistant for a 3D knowledge map. " +
	"Answer in 1-3 short sentences. " +
	"Return 3-7 short keyword phrases that capture the core concepts. " +
	"Respond only with valid JSON using this schema:\n" +
	`{"answer": "...", "keywords": ["...", "..."]}` + "\n"

var (
	// ErrEmptyResponse is returned when the model produced no text
	ErrEmptyResponse = errors.New("model response was empty")
	// ErrMalformedResponse is returned when the model text is not the expected JSON
	ErrMalformedResponse = errors.New("model response parsing failed")
)

// Answer is a generated reply with its sanitized keywords
type Answer struct {
	Text     string
	Keywords []string
}

// Answerer generates an answer for a question
type Answerer interface {
	Answer(ctx context.Context, question string) (*Answer, error)
}

// ParseAnswer decodes {"answer": ..., "keywords": [...]} model output.
// Keywords that are not a list of strings are dropped rather than failing.
func ParseAnswer(text string) (*Answer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var payload struct {
		Answer   json.RawMessage `json:"answer"`
		Keywords json.RawMessage `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var answer string
	if err := json.Unmarshal(payload.Answer, &answer); err != nil || strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("%w: missing answer", ErrMalformedResponse)
	}

	var keywords []string
	if err := json.Unmarshal(payload.Keywords, &keywords); err != nil {
		keywords = nil
	}

	return &Answer{
		Text:     strings.TrimSpace(answer),
		Keywords: SanitizeKeywords(keywords),
	}, nil
}

// OpenAIConfig selects the endpoint and model of an OpenAI-compatible API
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // empty uses the OpenAI default
}

// OpenAIAnswerer answers through the chat completions API in JSON mode
type OpenAIAnswerer struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnswerer creates an answerer. An API key is required.
func NewOpenAIAnswerer(cfg OpenAIConfig) (*OpenAIAnswerer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key is not set")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
		logging.Warn("llm model not set, using default", "model", model)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	logging.Info("initializing answerer", "model", model, "baseURL", clientConfig.BaseURL)
	return &OpenAIAnswerer{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Answer implements Answerer
func (o *OpenAIAnswerer) Answer(ctx context.Context, question string) (*Answer, error) {
	logging.DebugContext(ctx, "generating answer", "model", o.model)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	logging.DebugContext(ctx, "received completion", "finishReason", resp.Choices[0].FinishReason)

	return ParseAnswer(resp.Choices[0].Message.Content)
}
