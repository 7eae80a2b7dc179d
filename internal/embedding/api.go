package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
)

// APIProvider implements Provider using an OpenAI-compatible embeddings API.
type APIProvider struct {
	endpoint  string
	model     string
	apiKey    string
	dimension int
	client    *http.Client

	observed atomic.Int64
}

// NewAPIProvider creates a new APIProvider from the given Config.
func NewAPIProvider(cfg Config) *APIProvider {
	return &APIProvider{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		client:    httpClient(cfg),
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type apiResponse struct {
	Data []apiEmbeddingData `json:"data"`
}

// Embed sends all texts in one batch. Results are placed by their index
// field since servers may reorder them.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var result apiResponse
	if err := postJSON(ctx, p.client, p.endpoint+"/embeddings", p.apiKey, apiRequest{Model: p.model, Input: texts}, &result); err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(result.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for i, d := range result.Data {
		idx := d.Index
		if idx < 0 || idx >= len(texts) || embeddings[idx] != nil {
			idx = i
		}
		embeddings[idx] = d.Embedding
	}
	if n := len(embeddings[0]); n > 0 {
		p.observed.CompareAndSwap(0, int64(n))
	}
	return embeddings, nil
}

// Dimension returns the size seen in the first successful response, or the
// configured value before any call.
func (p *APIProvider) Dimension() int {
	if n := p.observed.Load(); n > 0 {
		return int(n)
	}
	return p.dimension
}
