// Package embedder wraps an OpenAI-compatible embeddings endpoint (a local
// model runtime such as LM Studio or Ollama's OpenAI shim) behind a small
// interface the rest of the engine depends on instead of the HTTP client
// directly.
package embedder

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/localmemory/memcore/internal/memerr"
)

const requestTimeout = 30 * time.Second

// Embedder produces fixed-dimension vectors for text. Dimension is fixed
// per configuration; a mismatch against the store's vec0 column width is
// fatal at startup, not a per-call error.
type Embedder interface {
	IsAvailable() bool
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Client is an Embedder backed by an OpenAI-compatible /embeddings endpoint.
type Client struct {
	client *openai.Client
	model  string
	dims   int
	log    zerolog.Logger

	mu        sync.RWMutex
	available bool
}

// New builds a Client pointed at baseURL (must serve an OpenAI-compatible
// /embeddings route). apiKey may be empty for local servers that don't
// check authorization; go-openai still requires a non-empty string.
func New(baseURL, apiKey, model string, dims int, log zerolog.Logger) *Client {
	if apiKey == "" {
		apiKey = "not-needed"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	return &Client{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dims:      dims,
		log:       log.With().Str("component", "embedder").Logger(),
		available: true,
	}
}

// Dimensions returns the configured embedding width.
func (c *Client) Dimensions() int { return c.dims }

// IsAvailable reports whether the last call succeeded. Recall and remember
// paths consult this before attempting to embed, so they can fall back to
// lexical-only behavior without paying a request timeout on every call.
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

// Embed requests a single embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch requests embeddings for multiple texts in one round trip.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		c.setAvailable(false)
		return nil, memerr.Wrap(memerr.KindEmbeddingUnavailable, "embed request failed", err)
	}
	if len(resp.Data) != len(texts) {
		c.setAvailable(false)
		return nil, memerr.New(memerr.KindEmbeddingUnavailable, "embed response returned fewer vectors than requested")
	}
	c.setAvailable(true)

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) != c.dims {
			return nil, memerr.New(memerr.KindSchemaMismatch, "embedding dimension mismatch against configuration")
		}
		vec := make([]float32, len(d.Embedding))
		copy(vec, d.Embedding)
		out[i] = vec
	}
	return out, nil
}

// Probe issues a one-word embedding request to confirm the configured
// model and dimension match the running server, called once at startup.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.Embed(ctx, "ping")
	return err
}
