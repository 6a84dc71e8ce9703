// Package rag answers questions over a session index in three ordered stages:
// rewrite the question against the history, retrieve context for the rewritten
// question, then synthesize an answer from that context.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"document-portal/internal/apperr"
	"document-portal/internal/logger"
	"document-portal/internal/metrics"
	"document-portal/internal/model"
)

// NoAnswer is returned in place of an empty model answer.
const NoAnswer = "no answer generated"

const DefaultTopK = 5

type Stage string

const (
	StageRewrite    Stage = "rewrite"
	StageRetrieve   Stage = "retrieve"
	StageSynthesize Stage = "synthesize"
)

// StageError reports the stage an answer call failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Result is the outcome of one answer call.
type Result struct {
	Answer    string              `json:"answer"`
	Rewritten string              `json:"rewritten_question"`
	Sources   []model.ScoredChunk `json:"sources"`
	// Empty is set when the model produced no answer and Answer holds NoAnswer.
	Empty bool `json:"empty"`
}

// Chain holds the rewrite and synthesis stages. The retriever is bound
// separately so a freshly loaded index can be swapped in with WithRetriever.
type Chain struct {
	rewriter    *Rewriter
	synthesizer *Synthesizer
	retriever   Retriever
	topK        int
	sessionID   string
	log         *zap.Logger
	metrics     *metrics.Metrics
}

type Option func(*Chain)

func WithTopK(k int) Option {
	return func(c *Chain) {
		if k > 0 {
			c.topK = k
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Chain) { c.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Chain) { c.metrics = metrics.OrNop(m) }
}

func NewChain(llm Generator, opts ...Option) *Chain {
	c := &Chain{
		rewriter:    NewRewriter(llm),
		synthesizer: NewSynthesizer(llm),
		topK:        DefaultTopK,
		log:         zap.NewNop(),
		metrics:     metrics.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithRetriever returns a chain sharing c's stages but reading from r.
// sessionID is only used to tag logs and errors.
func (c *Chain) WithRetriever(sessionID string, r Retriever) *Chain {
	cp := *c
	cp.retriever = r
	cp.sessionID = sessionID
	return &cp
}

// Answer runs rewrite, retrieve and synthesize in order. k <= 0 selects the
// chain's default. history is read, never modified.
func (c *Chain) Answer(ctx context.Context, question string, history model.ChatHistory, k int) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, apperr.WithSession(apperr.Validation("answer", "question is empty"), c.sessionID)
	}
	if c.retriever == nil {
		return Result{}, apperr.WithSession(apperr.Validation("answer", "no retriever bound"), c.sessionID)
	}
	if k <= 0 {
		k = c.topK
	}
	log := c.log.With(zap.String("session_id", c.sessionID))

	var res Result
	var err error

	res.Rewritten, err = timed(c, StageRewrite, func() (string, error) {
		return c.rewriter.Rewrite(ctx, question, history)
	})
	if err != nil {
		return c.fail(log, StageRewrite, err)
	}
	if res.Rewritten == "" {
		res.Rewritten = question
	}
	log.Debug("question rewritten", zap.String("stage", string(StageRewrite)), zap.String("rewritten", res.Rewritten))

	res.Sources, err = timed(c, StageRetrieve, func() ([]model.ScoredChunk, error) {
		return c.retriever.Retrieve(ctx, res.Rewritten, k)
	})
	if err != nil {
		return c.fail(log, StageRetrieve, err)
	}
	log.Debug("context retrieved", zap.String("stage", string(StageRetrieve)), zap.Int("k", k), zap.Int("chunks", len(res.Sources)))

	res.Answer, err = timed(c, StageSynthesize, func() (string, error) {
		return c.synthesizer.Synthesize(ctx, FormatContext(res.Sources), question, history)
	})
	if err != nil {
		return c.fail(log, StageSynthesize, err)
	}

	if res.Answer == "" {
		log.Warn("no answer generated", zap.String("stage", string(StageSynthesize)), zap.String("question", question))
		res.Answer = NoAnswer
		res.Empty = true
		c.metrics.Answers.WithLabelValues("empty").Inc()
		return res, nil
	}
	c.metrics.Answers.WithLabelValues("ok").Inc()
	log.Info("answer generated", zap.Int("chunks", len(res.Sources)), zap.Int("answer_len", len(res.Answer)))
	return res, nil
}

func (c *Chain) fail(log *zap.Logger, stage Stage, err error) (Result, error) {
	c.metrics.Answers.WithLabelValues("error").Inc()
	log.Error("answer failed", zap.String("stage", string(stage)), zap.Error(err))
	err = apperr.WithSession(err, c.sessionID)
	var se *StageError
	if errors.As(err, &se) {
		return Result{}, err
	}
	return Result{}, &StageError{Stage: stage, Err: err}
}

func timed[T any](c *Chain, stage Stage, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	c.metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	return out, err
}
