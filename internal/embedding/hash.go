package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider is a deterministic, dependency-free embedder. Each word is
// hashed into one signed bucket, so texts sharing words get similar vectors.
// It needs no model server and is the default for development and tests.
type HashProvider struct {
	dimension int
}

// NewHashProvider returns a HashProvider. Dimensions below 16 fall back to 384.
func NewHashProvider(dimension int) *HashProvider {
	if dimension < 16 {
		dimension = 384
	}
	return &HashProvider{dimension: dimension}
}

func (p *HashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *HashProvider) Dimension() int { return p.dimension }

func (p *HashProvider) vector(text string) []float32 {
	vec := make([]float32, p.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dimension))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Empty or symbol-only text: any unit vector will do.
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
