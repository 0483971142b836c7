package embedders

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashEmbedder derives a deterministic unit vector from the SHA-256 of the
// text. It carries no semantics beyond exact-match similarity and exists so
// the agent works without an embedding backend.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 1536
	}
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Dimension() int { return e.dimension }
func (e *HashEmbedder) Model() string  { return "sha256" }

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, 0, e.dimension)
	var block [sha256.Size]byte
	var counter [4]byte
	for i := uint32(0); len(vec) < e.dimension; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		h := sha256.New()
		h.Write(counter[:])
		h.Write([]byte(text))
		h.Sum(block[:0])
		for _, b := range block {
			if len(vec) == e.dimension {
				break
			}
			vec = append(vec, (float32(b)-127.5)/127.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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
