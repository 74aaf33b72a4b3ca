// Package embedding implements the Embedder contract: a deterministic
// text→unit-vector mapping with a stable model identity. Loading an
// actual neural embedding model is out of scope here — this package
// gives the rest of the core a concrete, reproducible stand-in with the
// exact same interface a real model client would expose, so swapping
// one in later is a one-file change.
package embedding

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
)

// Embedder maps text to a fixed-dimensional unit-norm vector and exposes
// the identity of the model producing it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
	ModelRevision() string
	Dimensions() int
}

// HashEmbedder is a deterministic, dependency-free embedder: it expands a
// streaming FNV hash of the (lowercased, whitespace-normalized) input into
// Dimensions() pseudo-random components and L2-normalizes the result.
// Identical text always yields an identical vector for the lifetime of a
// given (modelID, revision) pair, giving callers a stable embedding
// contract without pulling in a real model runtime.
type HashEmbedder struct {
	modelID  string
	revision string
	dims     int
}

func NewHashEmbedder(modelID, revision string, dims int) *HashEmbedder {
	return &HashEmbedder{modelID: modelID, revision: revision, dims: dims}
}

func (e *HashEmbedder) ModelID() string      { return e.modelID }
func (e *HashEmbedder) ModelRevision() string { return e.revision }
func (e *HashEmbedder) Dimensions() int      { return e.dims }

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	normalized := normalize(text)
	vec := make([]float32, e.dims)

	// Derive each dimension from a distinct seeded FNV stream so
	// components are decorrelated enough for cosine search to be useful
	// on near-duplicate text without needing an actual model.
	for i := 0; i < e.dims; i++ {
		h := fnv.New64a()
		var seed [8]byte
		binary.LittleEndian.PutUint64(seed[:], uint64(i)+1)
		h.Write(seed[:])
		h.Write([]byte(normalized))
		v := h.Sum64()
		// Map the 64-bit hash into [-1, 1).
		vec[i] = float32(int64(v))/float32(math.MaxInt64)
	}

	return l2Normalize(vec), nil
}

func normalize(text string) string {
	out := make([]byte, 0, len(text))
	prevSpace := false
	for _, r := range text {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !prevSpace {
				out = append(out, ' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, []byte(string(r))...)
	}
	return string(out)
}

func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// CosineDistance returns 1 - cosine_similarity(a, b); 0 means identical
// direction, 2 means opposite. Vectors are assumed unit-norm.
func CosineDistance(a, b []float32) float64 {
	var dot float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}
