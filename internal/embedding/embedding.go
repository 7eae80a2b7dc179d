// Package embedding turns memory text into vectors for the long-term tier.
package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/philippgille/chromem-go"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "hash", "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
	TimeoutMS int    `json:"timeout_ms"`
	// CacheEntries bounds the in-process vector cache; 0 disables it.
	CacheEntries int64 `json:"cache_entries"`
}

// New builds the provider named by cfg.Provider, wrapped in a cache when
// cfg.CacheEntries is positive.
func New(cfg Config) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "", "hash":
		p = NewHashProvider(cfg.Dimension)
	case "api":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedding: api provider needs an endpoint")
		}
		p = NewAPIProvider(cfg)
	case "local":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedding: local provider needs an endpoint")
		}
		p = NewLocalProvider(cfg)
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
	if cfg.CacheEntries > 0 {
		return NewCached(p, cfg.CacheEntries)
	}
	return p, nil
}

// EmbeddingFunc adapts p to chromem's single-text embedding callback.
func EmbeddingFunc(p Provider) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := p.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return nil, fmt.Errorf("embedding: provider returned %d vectors for one text", len(vecs))
		}
		return vecs[0], nil
	}
}

func httpClient(cfg Config) *http.Client {
	timeout := 30 * time.Second
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	return &http.Client{Timeout: timeout}
}
