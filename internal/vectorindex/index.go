// Package vectorindex is a flat cosine-similarity index over chunk
// embeddings, persisted per session.
package vectorindex

import (
	"math"
	"sort"

	"document-portal/internal/model"
)

// Index is a loaded, read-only vector index.
type Index struct {
	SessionID      string `json:"session_id"`
	Dimension      int    `json:"dimension"`
	ChunkCount     int    `json:"chunk_count"`
	StoragePath    string `json:"-"`
	EmbeddingModel string `json:"embedding_model,omitempty"`

	chunks  []model.TextChunk
	vectors []float32 // ChunkCount rows of Dimension values
	norms   []float32
}

func newIndex(sessionID, path, embeddingModel string, dim int, chunks []model.TextChunk, vectors []float32) *Index {
	ix := &Index{
		SessionID:      sessionID,
		Dimension:      dim,
		ChunkCount:     len(chunks),
		StoragePath:    path,
		EmbeddingModel: embeddingModel,
		chunks:         chunks,
		vectors:        vectors,
		norms:          make([]float32, len(chunks)),
	}
	for i := range chunks {
		ix.norms[i] = norm(ix.row(i))
	}
	return ix
}

func (ix *Index) row(i int) []float32 {
	return ix.vectors[i*ix.Dimension : (i+1)*ix.Dimension]
}

// Chunks returns the indexed chunks in insertion order.
func (ix *Index) Chunks() []model.TextChunk {
	out := make([]model.TextChunk, len(ix.chunks))
	copy(out, ix.chunks)
	return out
}

// SearchVector returns the min(k, ChunkCount) most similar chunks, most similar
// first. Ties keep insertion order.
func (ix *Index) SearchVector(query []float32, k int) []model.ScoredChunk {
	if k <= 0 || ix.ChunkCount == 0 || len(query) != ix.Dimension {
		return nil
	}
	qn := norm(query)
	hits := make([]model.ScoredChunk, ix.ChunkCount)
	for i := range ix.chunks {
		hits[i] = model.ScoredChunk{TextChunk: ix.chunks[i], Score: cosine(query, qn, ix.row(i), ix.norms[i])}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}

func norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

func cosine(a []float32, na float32, b []float32, nb float32) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (float64(na) * float64(nb)))
}
