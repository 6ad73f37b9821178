// Package hashing provides a deterministic, network-free embedder based on
// feature hashing of lowercase word unigrams and bigrams. It lets the index and
// retriever run offline and makes retrieval reproducible in tests.
package hashing

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/sweetpotato0/carebridge/vector"
)

// Embedder hashes tokens into a fixed number of buckets and L2-normalises the result.
type Embedder struct {
	dimension int
}

// New returns an embedder producing vectors of the given dimension.
func New(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &Embedder{dimension: dimension}
}

var _ vector.Embedder = (*Embedder)(nil)

func (e *Embedder) Dimension() int { return e.dimension }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dimension)
	tokens := tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return vector.Normalize(vec), nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// add uses one hash bit as the sign so unrelated features tend to cancel.
func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
