// Package embedding provides the header/field embedding provider used by
// the field matcher: an OpenAI-backed core.Embedder, an LRU cache in front
// of any embedder, and a helper that attaches field vectors to a catalog.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = string(openai.SmallEmbedding3)

// DefaultBatchSize bounds the texts sent in one request.
const DefaultBatchSize = 256

// Config configures the OpenAI client.
type Config struct {
	APIKey string
	Model  string

	// BaseURL points at an OpenAI-compatible endpoint. Empty uses the
	// public API.
	BaseURL string

	BatchSize int

	// RequestsPerMinute throttles calls to the provider. Zero disables it.
	RequestsPerMinute int

	// Timeout bounds one request. Zero means no extra bound.
	Timeout time.Duration
}

// OpenAI embeds texts through the embeddings endpoint.
type OpenAI struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	batchSize int
	timeout   time.Duration
	limiter   *rate.Limiter
}

// NewOpenAI builds a client. An API key is required.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding: API key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	o := &OpenAI{
		client:    openai.NewClientWithConfig(oc),
		model:     openai.EmbeddingModel(cfg.Model),
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
	}
	if o.model == "" {
		o.model = openai.EmbeddingModel(DefaultModel)
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	if cfg.RequestsPerMinute > 0 {
		o.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	slog.Info("embedding provider configured", "model", o.model, "base_url", oc.BaseURL)
	return o, nil
}

// Embed returns one vector per text, in input order.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += o.batchSize {
		end := min(start+o.batchSize, len(texts))
		if err := o.embedBatch(ctx, texts[start:end], out[start:end]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (o *OpenAI) embedBatch(ctx context.Context, texts []string, out [][]float32) error {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("embedding rate limit: %w", err)
		}
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: o.model,
	})
	if err != nil {
		return fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return fmt.Errorf("create embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return fmt.Errorf("create embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if len(v) == 0 {
			return fmt.Errorf("create embeddings: no vector for text %d", i)
		}
	}
	return nil
}
