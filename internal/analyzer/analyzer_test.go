package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-portal/internal/ai"
	"document-portal/internal/apperr"
	"document-portal/internal/model"
	"document-portal/internal/pkg/pdfextract/pdftest"
	"document-portal/internal/session"
)

type stubLLM struct {
	reply    string
	messages []ai.ChatMessage
}

func (s *stubLLM) Complete(_ context.Context, messages []ai.ChatMessage) (string, error) {
	s.messages = messages
	return s.reply, nil
}

const reply = "```json\n" + `{
  "Summary": ["Quarterly report", "Revenue up"],
  "Title": "Q3 Report",
  "Author": "Finance",
  "DateCreated": "2024-10-01",
  "LastModifiedDate": "2024-10-02",
  "Publisher": "Acme",
  "Language": "English",
  "PageCount": 2,
  "Sentimenttone": "Positive"
}` + "\n```"

func TestAnalyzeExtractsMetadata(t *testing.T) {
	llm := &stubLLM{reply: reply}
	m := session.NewManager(t.TempDir(), nil, nil)
	a := New(m, llm, nil)

	res, err := a.Analyze(context.Background(), model.NewUploadedDocument("q3.pdf", pdftest.Build("Revenue grew", "Outlook stable")))
	require.NoError(t, err)

	assert.Equal(t, "Q3 Report", res.Metadata.Title)
	assert.Equal(t, []string{"Quarterly report", "Revenue up"}, res.Metadata.Summary)
	assert.Equal(t, 2, res.Metadata.PageCount)
	assert.Equal(t, "Positive", res.Metadata.SentimentTone)
	assert.FileExists(t, filepath.Join(m.Path(res.SessionID), "q3.pdf"))

	require.Len(t, llm.messages, 2)
	assert.Contains(t, llm.messages[1].Content, "--- Page 1 ---")
	assert.Contains(t, llm.messages[1].Content, "--- Page 2 ---")
}

func TestAnalyzeStoresUnnamedUploadUnderFallbackName(t *testing.T) {
	m := session.NewManager(t.TempDir(), nil, nil)
	a := New(m, &stubLLM{reply: reply}, nil)

	for _, name := range []string{".", "..", "/"} {
		doc := model.UploadedDocument{Name: name, Data: pdftest.Build("Revenue grew"), Extension: "pdf"}
		res, err := a.Analyze(context.Background(), doc)
		require.NoError(t, err, name)
		assert.FileExists(t, filepath.Join(m.Path(res.SessionID), "document.pdf"), name)
	}
}

func TestAnalyzeRejectsNonPDF(t *testing.T) {
	a := New(session.NewManager(t.TempDir(), nil, nil), &stubLLM{reply: reply}, nil)
	_, err := a.Analyze(context.Background(), model.NewUploadedDocument("notes.txt", []byte("x")))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAnalyzeUnreadable(t *testing.T) {
	root := t.TempDir()
	a := New(session.NewManager(root, nil, nil), &stubLLM{reply: reply}, nil)
	_, err := a.Analyze(context.Background(), model.NewUploadedDocument("x.pdf", []byte("not a pdf")))
	assert.ErrorIs(t, err, apperr.ErrUnreadableDocument)

	// the upload is kept for diagnosis
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestParseMetadata(t *testing.T) {
	meta, err := ParseMetadata(`{"Title":"T","PageCount":"Unknown"}`)
	require.NoError(t, err)
	assert.Equal(t, "Unknown", meta.PageCount)

	for _, bad := range []string{"", "sorry", `["a"]`, `{"Author":"x"}`, `{"Title": 5}`} {
		_, err := ParseMetadata(bad)
		assert.ErrorIs(t, err, apperr.ErrFormat, bad)
	}
}
