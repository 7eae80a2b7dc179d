package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes another provider's vectors by exact text. Remember and
// promotion embed the same sentence repeatedly, as do repeated queries.
type Cached struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache holding roughly maxEntries vectors.
func NewCached(inner Provider, maxEntries int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v.([]float32)
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for %d texts", len(vecs), len(missing))
	}
	for j, v := range vecs {
		out[missingIdx[j]] = v
		c.cache.Set(missing[j], v, 1)
	}
	return out, nil
}

func (c *Cached) Dimension() int { return c.inner.Dimension() }

// Close releases the cache.
func (c *Cached) Close() { c.cache.Close() }
