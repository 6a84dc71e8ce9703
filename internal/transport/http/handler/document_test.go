package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-portal/internal/analyzer"
	"document-portal/internal/app"
	"document-portal/internal/apperr"
	"document-portal/internal/compare"
	"document-portal/internal/model"
	"document-portal/internal/rag"
	"document-portal/internal/transport/http/response"
)

type fakeDocuments struct {
	build    app.BuildIndexInput
	query    app.QueryInput
	compared []model.UploadedDocument
	err      error
}

func (f *fakeDocuments) BuildIndex(_ context.Context, in app.BuildIndexInput) (*app.BuildIndexResult, error) {
	f.build = in
	if f.err != nil {
		return nil, f.err
	}
	return &app.BuildIndexResult{SessionID: "s1", K: 5, ChunkCount: 3, Dimension: 4}, nil
}

func (f *fakeDocuments) Query(_ context.Context, in app.QueryInput) (*app.QueryResult, error) {
	f.query = in
	if f.err != nil {
		return nil, f.err
	}
	return &app.QueryResult{SessionID: in.SessionID, K: 5, Result: rag.Result{Answer: "42"}}, nil
}

func (f *fakeDocuments) Compare(_ context.Context, sessionID string, reference, actual model.UploadedDocument) (*compare.Result, error) {
	f.compared = []model.UploadedDocument{reference, actual}
	if f.err != nil {
		return nil, f.err
	}
	return &compare.Result{SessionID: "c1", Rows: []model.ComparisonRow{{Page: "1", Changes: "NO CHANGE"}}}, nil
}

func (f *fakeDocuments) Analyze(_ context.Context, doc model.UploadedDocument) (*analyzer.Analysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &analyzer.Analysis{SessionID: "a1", Metadata: model.Metadata{Title: doc.Name}}, nil
}

func (f *fakeDocuments) ListSessions(kind string, limit int) ([]model.SessionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []model.SessionRecord{{ID: "s1", Kind: kind}}, nil
}

func (f *fakeDocuments) DeleteSession(id string) (*app.DeleteSessionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &app.DeleteSessionResult{SessionID: id, IndexRemoved: true}, nil
}

type fakeHistory struct{}

func (fakeHistory) Clear(_ context.Context, id string) error {
	if id == "" {
		return apperr.Validation("clear history", "conversation_id is required")
	}
	return nil
}

func (fakeHistory) History(_ context.Context, id string) (model.ChatHistory, error) {
	if id == "" {
		return nil, apperr.Validation("history", "conversation_id is required")
	}
	return model.ChatHistory{{Role: model.RoleUser, Content: "hi"}}, nil
}

func newRouter(docs DocumentService, maxMB int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewDocumentHandler(docs, fakeHistory{}, maxMB)
	v1 := r.Group("/api/v1")
	v1.POST("/chat/index", h.BuildIndex)
	v1.POST("/chat/query", h.Query)
	v1.GET("/chat/history", h.History)
	v1.POST("/compare", h.Compare)
	v1.POST("/analyze", h.Analyze)
	v1.GET("/sessions", h.ListSessions)
	v1.DELETE("/chat/sessions/:id", h.DeleteSession)
	v1.DELETE("/chat/history", h.ClearHistory)
	return r
}

type part struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.APIResponse {
	t.Helper()
	var body response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestBuildIndexParsesForm(t *testing.T) {
	docs := &fakeDocuments{}
	r := newRouter(docs, 1)

	req := multipartRequest(t, "/api/v1/chat/index",
		map[string]string{"session_id": "s1", "chunk_size": "500", "chunk_overlap": "0", "k": "3"},
		part{"files", "a.txt", []byte("alpha")},
		part{"files", "b.md", []byte("beta")},
	)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, response.CodeOK, decode(t, w).Code)
	assert.Equal(t, "s1", docs.build.SessionID)
	assert.Equal(t, 500, docs.build.ChunkSize)
	require.NotNil(t, docs.build.ChunkOverlap)
	assert.Equal(t, 0, *docs.build.ChunkOverlap)
	assert.Equal(t, 3, docs.build.K)
	require.Len(t, docs.build.Files, 2)
	assert.Equal(t, "md", docs.build.Files[1].Extension)
}

func TestBuildIndexOverlapDefaultsWhenAbsent(t *testing.T) {
	docs := &fakeDocuments{}
	r := newRouter(docs, 1)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "/api/v1/chat/index", nil, part{"files", "a.txt", []byte("alpha")}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, docs.build.ChunkOverlap)
}

func TestBuildIndexRejectsBadInput(t *testing.T) {
	r := newRouter(&fakeDocuments{}, 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "/api/v1/chat/index", map[string]string{"chunk_size": "big"}, part{"files", "a.txt", []byte("x")}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "/api/v1/chat/index", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "/api/v1/chat/index", nil, part{"files", "big.txt", bytes.Repeat([]byte("x"), 2<<20)}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, response.CodePayloadTooLarge, decode(t, w).Code)
}

func TestQueryMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.IndexNotFound("load index", "s1", "/idx/s1"), http.StatusNotFound},
		{apperr.Validation("query", "session_id is required"), http.StatusBadRequest},
		{apperr.External("chat completion", assert.AnError), http.StatusBadGateway},
	}
	for _, tc := range cases {
		r := newRouter(&fakeDocuments{err: tc.err}, 1)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/query", strings.NewReader(`{"session_id":"s1","question":"why?"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
	}
}

func TestQueryAcceptsFormAndJSON(t *testing.T) {
	docs := &fakeDocuments{}
	r := newRouter(docs, 1)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/query", strings.NewReader("session_id=s1&question=why%3F&k=2&conversation_id=c9"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, app.QueryInput{SessionID: "s1", Question: "why?", K: 2, ConversationID: "c9"}, docs.query)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/chat/query", strings.NewReader(`{"session_id":"s1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompareNeedsBothFiles(t *testing.T) {
	docs := &fakeDocuments{}
	r := newRouter(docs, 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "/api/v1/compare", nil, part{"reference", "a.pdf", []byte("a")}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "/api/v1/compare", nil,
		part{"reference", "a.pdf", []byte("a")},
		part{"actual", "b.pdf", []byte("b")},
	))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, docs.compared, 2)
	assert.Equal(t, "a.pdf", docs.compared[0].Name)
	assert.Equal(t, "b.pdf", docs.compared[1].Name)
}

func TestAnalyzeEncryptedIsUnprocessable(t *testing.T) {
	r := newRouter(&fakeDocuments{err: apperr.Encrypted("analyze", "a1", "x.pdf")}, 1)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "/api/v1/analyze", nil, part{"file", "x.pdf", []byte("%PDF")}))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, response.CodeEncrypted, decode(t, w).Code)
}

func TestHistoryAndSessions(t *testing.T) {
	r := newRouter(&fakeDocuments{}, 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/chat/history?conversation_id=c1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"content":"hi"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/chat/history", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?kind=chat", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"chat"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?limit=ten", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteRoutes(t *testing.T) {
	r := newRouter(&fakeDocuments{}, 1)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/chat/sessions/s1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"index_removed":true`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/chat/history?conversation_id=c1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/chat/history", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r = newRouter(&fakeDocuments{err: apperr.IndexNotFound("delete session", "s1", "/idx/s1")}, 1)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/chat/sessions/s1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
