// Package compare diffs two PDF documents page by page through the language
// model, storing each comparison in its own session.
package compare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"document-portal/internal/ai"
	"document-portal/internal/apperr"
	"document-portal/internal/logger"
	"document-portal/internal/metrics"
	"document-portal/internal/model"
	"document-portal/internal/pkg/pdfextract"
	"document-portal/internal/session"
)

const defaultFileName = "document.pdf"

const systemPrompt = "You compare two documents. The input holds a reference document and an " +
	"actual document, each introduced by a \"Document: <name>\" line and split into pages. " +
	"Compare them page by page and list every difference. Respond with JSON only: an array of " +
	"objects {\"Page\": \"<page number>\", \"Changes\": \"<description>\"}. Use \"NO CHANGE\" " +
	"for pages that are identical."

// Generator is the language-model capability used for the diff.
type Generator interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

// Result is one comparison run.
type Result struct {
	SessionID string                `json:"session_id"`
	Rows      []model.ComparisonRow `json:"rows"`
}

type Engine struct {
	sessions *session.Manager
	llm      Generator
	extract  func([]byte) (string, error)
	log      *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics.OrNop(m) }
}

// WithExtractor replaces the PDF text extractor.
func WithExtractor(fn func([]byte) (string, error)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.extract = fn
		}
	}
}

// NewEngine stores comparison sessions under the root of sessions, which must
// not be shared with the chat upload root.
func NewEngine(sessions *session.Manager, llm Generator, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		llm:      llm,
		extract:  pdfextract.ExtractText,
		log:      zap.NewNop(),
		metrics:  metrics.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compare stores reference and actual in a session (a fresh one when sessionID
// is empty), replacing whatever the session held, and asks the model for a
// page-level diff of the combined text.
func (e *Engine) Compare(ctx context.Context, sessionID string, reference, actual model.UploadedDocument) (Result, error) {
	const op = "compare"
	for _, d := range []model.UploadedDocument{reference, actual} {
		if d.Extension != "pdf" {
			return Result{}, apperr.Validation(op, fmt.Sprintf("%q is not a pdf", d.Name))
		}
		if len(d.Data) == 0 {
			return Result{}, apperr.Validation(op, fmt.Sprintf("%q is empty", d.Name))
		}
	}

	sess, err := e.sessions.CreateOrReuse(sessionID)
	if err != nil {
		return Result{}, err
	}
	combined, err := e.stage(sess, reference, actual)
	if err != nil {
		e.metrics.Comparisons.WithLabelValues("error").Inc()
		return Result{}, apperr.WithSession(err, sess.ID)
	}

	reply, err := e.llm.Complete(ctx, []ai.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: combined},
	})
	if err != nil {
		e.metrics.Comparisons.WithLabelValues("error").Inc()
		return Result{}, apperr.WithSession(err, sess.ID)
	}
	rows, err := ParseRows(reply)
	if err != nil {
		e.metrics.Comparisons.WithLabelValues("format_error").Inc()
		e.log.Error("unparseable comparison response", zap.String("session_id", sess.ID), zap.Error(err))
		return Result{}, apperr.WithSession(err, sess.ID)
	}

	e.metrics.Comparisons.WithLabelValues("ok").Inc()
	e.log.Info("documents compared",
		zap.String("session_id", sess.ID),
		zap.String("reference", reference.Name),
		zap.String("actual", actual.Name),
		zap.Int("rows", len(rows)))
	return Result{SessionID: sess.ID, Rows: rows}, nil
}

// stage clears the session, writes both files and returns their combined text.
func (e *Engine) stage(sess model.Session, reference, actual model.UploadedDocument) (string, error) {
	unlock := e.sessions.Locks().Lock(sess.ID)
	defer unlock()

	if err := e.sessions.Clear(sess.ID); err != nil {
		return "", err
	}
	refName := reference.BaseName(defaultFileName)
	actName := actual.BaseName(defaultFileName)
	if actName == refName {
		actName = strings.TrimSuffix(actName, filepath.Ext(actName)) + "_actual.pdf"
	}
	for _, f := range []struct {
		name string
		data []byte
	}{{refName, reference.Data}, {actName, actual.Data}} {
		path := filepath.Join(sess.StorageRoot, f.name)
		if err := os.WriteFile(path, f.data, 0o644); err != nil {
			return "", apperr.IO("compare", sess.ID, path, err)
		}
	}
	return e.CombineDocuments(sess)
}

// CombineDocuments concatenates the text of every PDF in the session, ordered by
// file name, each introduced by a "Document: <name>" line.
func (e *Engine) CombineDocuments(sess model.Session) (string, error) {
	entries, err := os.ReadDir(sess.StorageRoot)
	if err != nil {
		return "", apperr.IO("combine documents", sess.ID, sess.StorageRoot, err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.Type().IsRegular() && strings.EqualFold(filepath.Ext(ent.Name()), ".pdf") {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(sess.StorageRoot, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", apperr.IO("combine documents", sess.ID, path, err)
		}
		text, err := e.extract(data)
		if err != nil {
			if errors.Is(err, pdfextract.ErrEncrypted) {
				return "", apperr.Encrypted("combine documents", sess.ID, name)
			}
			return "", apperr.Unreadable("combine documents", sess.ID, name, err)
		}
		parts = append(parts, "Document: "+name+"\n"+text)
	}
	return strings.Join(parts, "\n\n"), nil
}

// ParseRows decodes the model's diff into rows. Anything that is not a JSON array
// of rows is a format error.
func ParseRows(reply string) ([]model.ComparisonRow, error) {
	const op = "parse comparison"
	raw, err := ai.ExtractJSON(reply)
	if err != nil {
		return nil, apperr.Format(op, err)
	}
	if !strings.HasPrefix(raw, "[") {
		return nil, apperr.Format(op, errors.New("expected a JSON array"))
	}
	var items []struct {
		Page    flexString `json:"page"`
		Changes flexString `json:"changes"`
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, apperr.Format(op, err)
	}
	rows := make([]model.ComparisonRow, 0, len(items))
	for i, it := range items {
		if it.Page == "" && it.Changes == "" {
			return nil, apperr.Format(op, fmt.Errorf("row %d has neither page nor changes", i))
		}
		rows = append(rows, model.ComparisonRow{Page: string(it.Page), Changes: string(it.Changes)})
	}
	return rows, nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}
