package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"document-portal/internal/apperr"
	"document-portal/internal/logger"
	"document-portal/internal/metrics"
	"document-portal/internal/model"
	"document-portal/internal/session"
)

// FailedDocument is a document that was accepted but could not be read.
type FailedDocument struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type IngestResult struct {
	Chunks   []model.TextChunk `json:"-"`
	Accepted []string          `json:"accepted"`
	Skipped  []string          `json:"skipped,omitempty"`
	Failed   []FailedDocument  `json:"failed,omitempty"`
	// StoredFiles maps each accepted document name to the file written in the session.
	StoredFiles map[string]string `json:"-"`
}

type Pipeline struct {
	locks      *session.Locks
	extractors Extractors
	failFast   bool
	log        *zap.Logger
	metrics    *metrics.Metrics
}

type PipelineOption func(*Pipeline)

// WithFailFast selects whether one unreadable document aborts the batch.
func WithFailFast(on bool) PipelineOption {
	return func(p *Pipeline) { p.failFast = on }
}

func WithExtractors(e Extractors) PipelineOption {
	return func(p *Pipeline) {
		if e != nil {
			p.extractors = e
		}
	}
}

func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = metrics.OrNop(m) }
}

func NewPipeline(locks *session.Locks, opts ...PipelineOption) *Pipeline {
	if locks == nil {
		locks = session.NewLocks()
	}
	p := &Pipeline{
		locks:      locks,
		extractors: DefaultExtractors(),
		failFast:   true,
		log:        zap.NewNop(),
		metrics:    metrics.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest stores the supported documents in sess, extracts their text and splits
// it. Unsupported extensions are skipped with a warning.
func (p *Pipeline) Ingest(ctx context.Context, sess model.Session, docs []model.UploadedDocument, opts ...SplitOption) (IngestResult, error) {
	const op = "ingest"
	var res IngestResult

	accepted := make([]model.UploadedDocument, 0, len(docs))
	for _, d := range docs {
		reason := ""
		switch {
		case !IsSupported(d.Extension):
			reason = "unsupported_extension"
		case len(d.Data) == 0:
			reason = "empty_file"
		}
		if reason != "" {
			p.log.Warn("skipping document",
				zap.String("session_id", sess.ID),
				zap.String("file", d.Name),
				zap.String("extension", d.Extension),
				zap.String("reason", reason))
			p.metrics.DocumentsSkipped.WithLabelValues(reason).Inc()
			res.Skipped = append(res.Skipped, d.Name)
			continue
		}
		accepted = append(accepted, d)
	}
	if len(accepted) == 0 {
		return res, apperr.WithSession(apperr.Validation(op, "no valid documents"), sess.ID)
	}

	unlock := p.locks.Lock(sess.ID)
	defer unlock()

	res.StoredFiles = make(map[string]string, len(accepted))
	for _, d := range accepted {
		path, err := store(sess.StorageRoot, d)
		if err != nil {
			return res, apperr.IO(op, sess.ID, d.Name, err)
		}
		res.StoredFiles[d.Name] = path
		p.log.Debug("document stored", zap.String("session_id", sess.ID), zap.String("file", d.Name), zap.String("path", path))
	}

	texts, failures, err := p.extractAll(ctx, sess.ID, accepted)
	if err != nil {
		return res, err
	}

	splitter := NewSplitter(opts...)
	for i, d := range accepted {
		if reason, bad := failures[i]; bad {
			res.Failed = append(res.Failed, FailedDocument{Name: d.Name, Reason: reason})
			continue
		}
		chunks := splitter.Chunks(d.Name, texts[i])
		if len(chunks) == 0 {
			p.log.Warn("document has no extractable text", zap.String("session_id", sess.ID), zap.String("file", d.Name))
			res.Failed = append(res.Failed, FailedDocument{Name: d.Name, Reason: "no extractable text"})
			continue
		}
		res.Accepted = append(res.Accepted, d.Name)
		res.Chunks = append(res.Chunks, chunks...)
		p.metrics.DocumentsIngested.WithLabelValues(d.Extension).Inc()
	}
	if len(res.Chunks) == 0 {
		return res, apperr.WithSession(apperr.Validation(op, "no valid documents"), sess.ID)
	}

	p.log.Info("documents ingested",
		zap.String("session_id", sess.ID),
		zap.Int("documents", len(res.Accepted)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("chunks", len(res.Chunks)),
		zap.Int("chunk_size", splitter.Size()),
		zap.Int("chunk_overlap", splitter.Overlap()))
	return res, nil
}

// extractAll extracts every document concurrently. In fail-fast mode the first
// unreadable document aborts the call; otherwise failures are returned by index.
func (p *Pipeline) extractAll(ctx context.Context, sessionID string, docs []model.UploadedDocument) ([]string, map[int]string, error) {
	texts := make([]string, len(docs))
	errs := make([]error, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, d := range docs {
		i, d := i, d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := p.extractors.Extract(d.Extension, d.Data)
			if err != nil {
				errs[i] = unreadable(sessionID, d.Name, err)
				if p.failFast {
					return errs[i]
				}
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}

	failures := make(map[int]string)
	for i, err := range errs {
		if err == nil {
			continue
		}
		p.log.Warn("skipping unreadable document",
			zap.String("session_id", sessionID),
			zap.String("file", docs[i].Name),
			zap.Error(err))
		p.metrics.DocumentsSkipped.WithLabelValues("unreadable").Inc()
		failures[i] = err.Error()
	}
	return texts, failures, nil
}

func unreadable(sessionID, name string, err error) error {
	if errors.Is(err, ErrEncrypted) {
		return apperr.Encrypted("extract text", sessionID, name)
	}
	return apperr.Unreadable("extract text", sessionID, name, err)
}

// store writes the raw upload under a generated name that keeps the extension.
func store(dir string, d model.UploadedDocument) (string, error) {
	name := strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + "." + d.Extension
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, d.Data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
