package embedding

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
)

// LocalProvider implements Provider using an Ollama-compatible embeddings API.
type LocalProvider struct {
	endpoint  string
	model     string
	dimension int
	client    *http.Client

	observed atomic.Int64
}

// NewLocalProvider creates a new LocalProvider from the given Config.
func NewLocalProvider(cfg Config) *LocalProvider {
	return &LocalProvider{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    httpClient(cfg),
	}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed calls the endpoint once per text; the Ollama API has no batch form.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var result localResponse
		if err := postJSON(ctx, p.client, p.endpoint+"/api/embeddings", "", localRequest{Model: p.model, Prompt: text}, &result); err != nil {
			return nil, err
		}
		embeddings = append(embeddings, result.Embedding)
	}
	if n := len(embeddings[0]); n > 0 {
		p.observed.CompareAndSwap(0, int64(n))
	}
	return embeddings, nil
}

// Dimension returns the size seen in the first successful response, or the
// configured value before any call.
func (p *LocalProvider) Dimension() int {
	if n := p.observed.Load(); n > 0 {
		return int(n)
	}
	return p.dimension
}
