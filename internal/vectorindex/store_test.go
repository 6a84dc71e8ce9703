package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-portal/internal/apperr"
	"document-portal/internal/model"
	"document-portal/internal/session"
)

var vocabulary = []string{"apple", "banana", "cherry", "durian"}

// wordEmbedder embeds text as word counts over a fixed vocabulary.
type wordEmbedder struct {
	mu      sync.Mutex
	batches []int
	fail    error
}

func (e *wordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(vocabulary))
	for _, w := range strings.Fields(strings.ToLower(text)) {
		for i, term := range vocabulary {
			if w == term {
				v[i]++
			}
		}
	}
	return v
}

func (e *wordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches = append(e.batches, len(texts))
	e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func chunksOf(texts ...string) []model.TextChunk {
	out := make([]model.TextChunk, len(texts))
	for i, t := range texts {
		out[i] = model.TextChunk{Content: t, SourceDocument: "doc.txt", SequenceIndex: i}
	}
	return out
}

const sid = "session_20250101_000000_abcdef12"

func TestBuildPersistsAndLoadRoundTrips(t *testing.T) {
	emb := &wordEmbedder{}
	store := NewStore(t.TempDir(), emb, nil, WithEmbeddingModel("words"))
	chunks := chunksOf("apple apple banana", "cherry", "banana durian", "apple cherry cherry", "durian")

	built, err := store.Build(context.Background(), sid, chunks)
	require.NoError(t, err)
	assert.Equal(t, len(chunks), built.ChunkCount)
	assert.Equal(t, len(vocabulary), built.Dimension)
	assert.FileExists(t, filepath.Join(store.Path(sid), "index.json"))
	assert.FileExists(t, filepath.Join(store.Path(sid), "index.vec"))

	loaded, err := store.Load(context.Background(), sid, Expect{Dimension: len(vocabulary), ChunkCount: len(chunks)})
	require.NoError(t, err)
	assert.Equal(t, built.Chunks(), loaded.Chunks())

	query := emb.vector("apple cherry")
	for k := 1; k <= len(chunks); k++ {
		assert.Equal(t, built.SearchVector(query, k), loaded.SearchVector(query, k), "k=%d", k)
	}
}

func TestBuildEmbedsInBatchesOfTen(t *testing.T) {
	emb := &wordEmbedder{}
	store := NewStore(t.TempDir(), emb, nil)
	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("apple %d", i)
	}

	_, err := store.Build(context.Background(), sid, chunksOf(texts...))
	require.NoError(t, err)
	assert.Equal(t, []int{10, 10, 3}, emb.batches)
}

func TestSearchOrderAndBounds(t *testing.T) {
	emb := &wordEmbedder{}
	store := NewStore(t.TempDir(), emb, nil)
	ix, err := store.Build(context.Background(), sid, chunksOf("banana", "apple", "apple banana"))
	require.NoError(t, err)

	r := NewRetriever(ix, emb)
	hits, err := r.Retrieve(context.Background(), "apple", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "apple", hits[0].Content)
	assert.Equal(t, "apple banana", hits[1].Content)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	hits, err = r.Retrieve(context.Background(), "apple", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}

	_, err = r.Retrieve(context.Background(), "apple", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestLoadMissingIndex(t *testing.T) {
	store := NewStore(t.TempDir(), &wordEmbedder{}, nil)
	_, err := store.Load(context.Background(), sid)
	assert.ErrorIs(t, err, apperr.ErrIndexNotFound)
	assert.NoDirExists(t, store.Path(sid))
	assert.False(t, store.Exists(sid))
}

func TestLoadRejectsMismatch(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, &wordEmbedder{}, nil, WithEmbeddingModel("words"))
	_, err := store.Build(context.Background(), sid, chunksOf("apple", "banana"))
	require.NoError(t, err)

	_, err = store.Load(context.Background(), sid, Expect{ChunkCount: 3})
	assert.ErrorIs(t, err, apperr.ErrIndexMismatch)

	_, err = store.Load(context.Background(), sid, Expect{Dimension: 8})
	assert.ErrorIs(t, err, apperr.ErrIndexMismatch)

	other := NewStore(root, &wordEmbedder{}, nil, WithEmbeddingModel("another-model"))
	_, err = other.Load(context.Background(), sid)
	assert.ErrorIs(t, err, apperr.ErrIndexMismatch)

	// truncated vectors
	vec := filepath.Join(store.Path(sid), "index.vec")
	require.NoError(t, os.Truncate(vec, 4))
	_, err = store.Load(context.Background(), sid)
	assert.ErrorIs(t, err, apperr.ErrIndexMismatch)
}

func TestFailedBuildKeepsPreviousIndex(t *testing.T) {
	root := t.TempDir()
	emb := &wordEmbedder{}
	store := NewStore(root, emb, nil)
	_, err := store.Build(context.Background(), sid, chunksOf("apple"))
	require.NoError(t, err)

	emb.fail = apperr.External("embed", errors.New("timeout"))
	_, err = store.Build(context.Background(), sid, chunksOf("banana", "cherry"))
	assert.ErrorIs(t, err, apperr.ErrExternalService)

	ix, err := store.Load(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.ChunkCount)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary directories may remain")
}

func TestRebuildReplacesIndexAtomically(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, &wordEmbedder{}, nil)
	_, err := store.Build(context.Background(), sid, chunksOf("apple"))
	require.NoError(t, err)
	_, err = store.Build(context.Background(), sid, chunksOf("banana", "cherry", "durian"))
	require.NoError(t, err)

	ix, err := store.Load(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, 3, ix.ChunkCount)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sid, entries[0].Name())
}

func TestConcurrentBuildsAndLoadsOnOneSession(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, &wordEmbedder{}, session.NewLocks())
	_, err := store.Build(context.Background(), sid, chunksOf("apple"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			texts := make([]string, n+1)
			for j := range texts {
				texts[j] = "banana"
			}
			_, err := store.Build(context.Background(), sid, chunksOf(texts...))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			ix, err := store.Load(context.Background(), sid)
			if assert.NoError(t, err) {
				assert.Equal(t, ix.ChunkCount, len(ix.Chunks()))
			}
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBuildRejectsEmptyAndInvalid(t *testing.T) {
	store := NewStore(t.TempDir(), &wordEmbedder{}, nil)
	_, err := store.Build(context.Background(), sid, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = store.Build(context.Background(), "../x", chunksOf("apple"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
