// Package languagemodel wraps an OpenAI-compatible chat completion endpoint
// used for structured entity/relationship extraction over transcripts.
// Messages carry a role and content only; there is no tool-call support.
package languagemodel

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/localmemory/memcore/internal/memerr"
)

const requestTimeout = 30 * time.Second

// Message is a single chat turn passed to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LanguageModel produces structured JSON completions from a transcript.
// Extraction prompts ask the model to return a JSON object; callers
// unmarshal the result themselves since the expected shape varies by
// caller (entities, relationships, episode summaries).
type LanguageModel interface {
	IsAvailable() bool
	Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error)
	CompleteJSON(ctx context.Context, systemPrompt string, messages []Message, out any) error
}

// Client is a LanguageModel backed by an OpenAI-compatible chat endpoint.
type Client struct {
	client *openai.Client
	model  string
	log    zerolog.Logger

	mu        sync.RWMutex
	available bool
}

// New builds a Client pointed at baseURL's /chat/completions route.
func New(baseURL, apiKey, model string, log zerolog.Logger) *Client {
	if apiKey == "" {
		apiKey = "not-needed"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	return &Client{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		log:       log.With().Str("component", "languagemodel").Logger(),
		available: true,
	}
}

// IsAvailable reports whether the last completion attempt succeeded.
func (c *Client) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *Client) setAvailable(v bool) {
	c.mu.Lock()
	c.available = v
	c.mu.Unlock()
}

func toOpenAIMessages(systemPrompt string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Complete requests a single non-streaming chat completion and returns the
// raw assistant content.
func (c *Client) Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(systemPrompt, messages),
	})
	if err != nil {
		c.setAvailable(false)
		return "", memerr.Wrap(memerr.KindLanguageModelUnavailable, "chat completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		c.setAvailable(false)
		return "", memerr.New(memerr.KindLanguageModelUnavailable, "chat completion returned no choices")
	}
	c.setAvailable(true)
	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON requests a completion constrained to JSON object output and
// unmarshals it into out. Extraction prompts must instruct the model on the
// exact shape expected; this only enforces that the response is valid JSON.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt string, messages []Message, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       toOpenAIMessages(systemPrompt, messages),
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		c.setAvailable(false)
		return memerr.Wrap(memerr.KindLanguageModelUnavailable, "json completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		c.setAvailable(false)
		return memerr.New(memerr.KindLanguageModelUnavailable, "json completion returned no choices")
	}
	c.setAvailable(true)

	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return memerr.Wrap(memerr.KindLanguageModelUnavailable, "json completion returned unparseable content", err)
	}
	return nil
}

// Probe issues a minimal completion to confirm the endpoint is reachable.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.Complete(ctx, "", []Message{{Role: "user", Content: "ping"}})
	return err
}
