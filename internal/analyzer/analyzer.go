// Package analyzer extracts structured metadata from a single PDF.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"document-portal/internal/ai"
	"document-portal/internal/apperr"
	"document-portal/internal/logger"
	"document-portal/internal/model"
	"document-portal/internal/pkg/pdfextract"
	"document-portal/internal/session"
)

const systemPrompt = `You are a document analyst. Read the document text and extract its metadata.
Respond with a single JSON object and nothing else, using exactly these keys:
{
  "Summary": ["<concise bullet>", "..."],
  "Title": "<title>",
  "Author": "<author or Unknown>",
  "DateCreated": "<date or Unknown>",
  "LastModifiedDate": "<date or Unknown>",
  "Publisher": "<publisher or Unknown>",
  "Language": "<language>",
  "PageCount": <number of pages or "Unknown">,
  "SentimentTone": "<overall tone>"
}`

// Generator is the language-model capability used for extraction.
type Generator interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

type Analysis struct {
	SessionID string         `json:"session_id"`
	Metadata  model.Metadata `json:"metadata"`
}

type Analyzer struct {
	sessions *session.Manager
	llm      Generator
	extract  func([]byte) (string, error)
	log      *zap.Logger
}

func New(sessions *session.Manager, llm Generator, log *zap.Logger) *Analyzer {
	return &Analyzer{
		sessions: sessions,
		llm:      llm,
		extract:  pdfextract.ExtractText,
		log:      logger.OrNop(log),
	}
}

// Analyze stores doc in a fresh analysis session and returns its metadata.
func (a *Analyzer) Analyze(ctx context.Context, doc model.UploadedDocument) (Analysis, error) {
	const op = "analyze"
	if doc.Extension != "pdf" {
		return Analysis{}, apperr.Validation(op, fmt.Sprintf("%q is not a pdf", doc.Name))
	}
	if len(doc.Data) == 0 {
		return Analysis{}, apperr.Validation(op, fmt.Sprintf("%q is empty", doc.Name))
	}

	sess, err := a.sessions.CreateOrReuse("")
	if err != nil {
		return Analysis{}, err
	}
	path := filepath.Join(sess.StorageRoot, doc.BaseName("document.pdf"))
	if err := os.WriteFile(path, doc.Data, 0o644); err != nil {
		return Analysis{}, apperr.IO(op, sess.ID, path, err)
	}

	text, err := a.extract(doc.Data)
	if err != nil {
		if errors.Is(err, pdfextract.ErrEncrypted) {
			return Analysis{}, apperr.Encrypted(op, sess.ID, doc.Name)
		}
		return Analysis{}, apperr.Unreadable(op, sess.ID, doc.Name, err)
	}
	if strings.TrimSpace(text) == "" {
		return Analysis{}, apperr.Unreadable(op, sess.ID, doc.Name, errors.New("no extractable text"))
	}

	reply, err := a.llm.Complete(ctx, []ai.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: text},
	})
	if err != nil {
		return Analysis{}, apperr.WithSession(err, sess.ID)
	}
	meta, err := ParseMetadata(reply)
	if err != nil {
		a.log.Error("unparseable metadata response", zap.String("session_id", sess.ID), zap.String("file", doc.Name), zap.Error(err))
		return Analysis{}, apperr.WithSession(err, sess.ID)
	}
	a.log.Info("document analyzed", zap.String("session_id", sess.ID), zap.String("file", doc.Name), zap.String("title", meta.Title))
	return Analysis{SessionID: sess.ID, Metadata: meta}, nil
}

// ParseMetadata decodes the model reply. Keys match case-insensitively.
func ParseMetadata(reply string) (model.Metadata, error) {
	const op = "parse metadata"
	raw, err := ai.ExtractJSON(reply)
	if err != nil {
		return model.Metadata{}, apperr.Format(op, err)
	}
	if !strings.HasPrefix(raw, "{") {
		return model.Metadata{}, apperr.Format(op, errors.New("expected a JSON object"))
	}
	var meta model.Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return model.Metadata{}, apperr.Format(op, err)
	}
	if meta.Title == "" && len(meta.Summary) == 0 {
		return model.Metadata{}, apperr.Format(op, errors.New("response has neither title nor summary"))
	}
	if f, ok := meta.PageCount.(float64); ok && f == float64(int(f)) {
		meta.PageCount = int(f)
	}
	return meta, nil
}
