package vectorindex

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"document-portal/internal/apperr"
	"document-portal/internal/logger"
	"document-portal/internal/metrics"
	"document-portal/internal/model"
	"document-portal/internal/session"
)

const (
	DefaultIndexName   = "index"
	embeddingBatchSize = 10 // provider batch limit
	formatVersion      = 1
)

// Embedder is the embedding capability the builder consumes.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Expect optionally pins the shape a loaded index must have.
type Expect struct {
	Dimension  int
	ChunkCount int
}

type manifest struct {
	Version        int               `json:"version"`
	SessionID      string            `json:"session_id"`
	Dimension      int               `json:"dimension"`
	ChunkCount     int               `json:"chunk_count"`
	EmbeddingModel string            `json:"embedding_model,omitempty"`
	Chunks         []model.TextChunk `json:"chunks"`
}

// Store builds and loads the indexes kept under {root}/{session_id}/.
type Store struct {
	root           string
	name           string
	embeddingModel string
	embedder       Embedder
	locks          *session.Locks
	log            *zap.Logger
	metrics        *metrics.Metrics
}

type Option func(*Store)

// WithIndexName sets the base name of the index files.
func WithIndexName(name string) Option {
	return func(s *Store) {
		if strings.TrimSpace(name) != "" {
			s.name = name
		}
	}
}

// WithEmbeddingModel records the model name in the manifest; a loaded index built
// with a different model is rejected.
func WithEmbeddingModel(name string) Option {
	return func(s *Store) { s.embeddingModel = name }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = metrics.OrNop(m) }
}

func NewStore(root string, embedder Embedder, locks *session.Locks, opts ...Option) *Store {
	if locks == nil {
		locks = session.NewLocks()
	}
	s := &Store{
		root:     root,
		name:     DefaultIndexName,
		embedder: embedder,
		locks:    locks,
		log:      zap.NewNop(),
		metrics:  metrics.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path is the published index directory of a session.
func (s *Store) Path(sessionID string) string { return filepath.Join(s.root, sessionID) }

func (s *Store) manifestFile(dir string) string { return filepath.Join(dir, s.name+".json") }

func (s *Store) vectorFile(dir string) string { return filepath.Join(dir, s.name+".vec") }

// Exists reports whether a published index is present for the session.
func (s *Store) Exists(sessionID string) bool {
	_, err := os.Stat(s.manifestFile(s.Path(sessionID)))
	return err == nil
}

// Build embeds chunks, writes the index to a temporary directory and publishes
// it by rename. Builds on the same session are serialized; an earlier index is
// replaced only once the new one is complete.
func (s *Store) Build(ctx context.Context, sessionID string, chunks []model.TextChunk) (*Index, error) {
	const op = "build index"
	if err := session.ValidateID(sessionID); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, apperr.WithSession(apperr.Validation(op, "no chunks to index"), sessionID)
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	ix, err := s.build(ctx, sessionID, chunks)
	if err != nil {
		s.metrics.IndexBuilds.WithLabelValues("error").Inc()
		return nil, apperr.WithSession(err, sessionID)
	}
	s.metrics.IndexBuilds.WithLabelValues("ok").Inc()
	s.metrics.ChunksIndexed.Add(float64(ix.ChunkCount))
	s.log.Info("index published",
		zap.String("session_id", sessionID),
		zap.Int("chunks", ix.ChunkCount),
		zap.Int("dimension", ix.Dimension),
		zap.String("path", ix.StoragePath))
	return ix, nil
}

func (s *Store) build(ctx context.Context, sessionID string, chunks []model.TextChunk) (*Index, error) {
	const op = "build index"
	dim := 0
	vectors := make([]float32, 0, len(chunks)*256)
	for start := 0; start < len(chunks); start += embeddingBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+embeddingBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		batch, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(batch) != len(texts) {
			return nil, apperr.External(op, fmt.Errorf("embedding count mismatch: got %d, want %d", len(batch), len(texts)))
		}
		for _, v := range batch {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) == 0 || len(v) != dim {
				return nil, apperr.External(op, fmt.Errorf("inconsistent embedding dimension %d, want %d", len(v), dim))
			}
			vectors = append(vectors, v...)
		}
		s.log.Debug("embedded batch", zap.String("session_id", sessionID), zap.Int("from", start), zap.Int("to", end))
	}

	final := s.Path(sessionID)
	if err := s.publish(sessionID, final, manifest{
		Version:        formatVersion,
		SessionID:      sessionID,
		Dimension:      dim,
		ChunkCount:     len(chunks),
		EmbeddingModel: s.embeddingModel,
		Chunks:         chunks,
	}, vectors); err != nil {
		return nil, err
	}
	return newIndex(sessionID, final, s.embeddingModel, dim, chunks, vectors), nil
}

// publish writes into a sibling temporary directory, then swaps it into place.
func (s *Store) publish(sessionID, final string, m manifest, vectors []float32) (err error) {
	const op = "publish index"
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return apperr.IO(op, sessionID, s.root, err)
	}
	tmp, err := os.MkdirTemp(s.root, "."+sessionID+".tmp-")
	if err != nil {
		return apperr.IO(op, sessionID, s.root, err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := writeVectors(s.vectorFile(tmp), vectors); err != nil {
		return apperr.IO(op, sessionID, tmp, err)
	}
	if err := writeJSON(s.manifestFile(tmp), m); err != nil {
		return apperr.IO(op, sessionID, tmp, err)
	}

	var old string
	if _, statErr := os.Stat(final); statErr == nil {
		old = filepath.Join(s.root, strings.Replace(filepath.Base(tmp), ".tmp-", ".old-", 1))
		if err := os.Rename(final, old); err != nil {
			return apperr.IO(op, sessionID, final, err)
		}
	}
	if err := os.Rename(tmp, final); err != nil {
		if old != "" {
			_ = os.Rename(old, final)
		}
		return apperr.IO(op, sessionID, final, err)
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			s.log.Warn("could not remove replaced index", zap.String("session_id", sessionID), zap.String("path", old), zap.Error(err))
		}
	}
	return nil
}

// Load reads the published index of a session. It never creates one.
func (s *Store) Load(ctx context.Context, sessionID string, expect ...Expect) (*Index, error) {
	const op = "load index"
	if err := session.ValidateID(sessionID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.locks.RLock(sessionID)
	defer unlock()

	dir := s.Path(sessionID)
	raw, err := os.ReadFile(s.manifestFile(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.IndexNotFound(op, sessionID, dir)
	}
	if err != nil {
		return nil, apperr.IO(op, sessionID, dir, err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperr.IndexMismatch(op, sessionID, dir, fmt.Errorf("decode manifest: %w", err))
	}
	vectors, err := readVectors(s.vectorFile(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.IndexNotFound(op, sessionID, dir)
	}
	if err != nil {
		return nil, apperr.IO(op, sessionID, dir, err)
	}

	if err := s.check(m, len(vectors), expect); err != nil {
		return nil, apperr.IndexMismatch(op, sessionID, dir, err)
	}
	s.log.Debug("index loaded", zap.String("session_id", sessionID), zap.Int("chunks", m.ChunkCount), zap.Int("dimension", m.Dimension))
	return newIndex(sessionID, dir, m.EmbeddingModel, m.Dimension, m.Chunks, vectors), nil
}

func (s *Store) check(m manifest, values int, expect []Expect) error {
	if m.Version != formatVersion {
		return fmt.Errorf("unsupported index version %d", m.Version)
	}
	if m.Dimension <= 0 || m.ChunkCount != len(m.Chunks) || values != m.ChunkCount*m.Dimension {
		return fmt.Errorf("manifest records %d chunks of dimension %d, found %d chunks and %d values",
			m.ChunkCount, m.Dimension, len(m.Chunks), values)
	}
	if s.embeddingModel != "" && m.EmbeddingModel != "" && m.EmbeddingModel != s.embeddingModel {
		return fmt.Errorf("index built with embedding model %q, configured %q", m.EmbeddingModel, s.embeddingModel)
	}
	for _, e := range expect {
		if e.Dimension > 0 && e.Dimension != m.Dimension {
			return fmt.Errorf("dimension %d, expected %d", m.Dimension, e.Dimension)
		}
		if e.ChunkCount > 0 && e.ChunkCount != m.ChunkCount {
			return fmt.Errorf("chunk count %d, expected %d", m.ChunkCount, e.ChunkCount)
		}
	}
	return nil
}

// Remove deletes a published index.
func (s *Store) Remove(sessionID string) error {
	if err := session.ValidateID(sessionID); err != nil {
		return err
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	if err := os.RemoveAll(s.Path(sessionID)); err != nil {
		return apperr.IO("remove index", sessionID, s.Path(sessionID), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeVectors(path string, vectors []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	var buf [4]byte
	for _, v := range vectors {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := w.Write(buf[:]); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readVectors(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := io.ReadAll(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("vector file has %d bytes, not a multiple of 4", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
