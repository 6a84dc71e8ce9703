package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"document-portal/internal/analyzer"
	"document-portal/internal/app"
	"document-portal/internal/compare"
	"document-portal/internal/model"
	"document-portal/internal/transport/http/response"
)

type DocumentService interface {
	BuildIndex(ctx context.Context, in app.BuildIndexInput) (*app.BuildIndexResult, error)
	Query(ctx context.Context, in app.QueryInput) (*app.QueryResult, error)
	Compare(ctx context.Context, sessionID string, reference, actual model.UploadedDocument) (*compare.Result, error)
	Analyze(ctx context.Context, doc model.UploadedDocument) (*analyzer.Analysis, error)
	ListSessions(kind string, limit int) ([]model.SessionRecord, error)
	DeleteSession(sessionID string) (*app.DeleteSessionResult, error)
}

type HistoryService interface {
	History(ctx context.Context, conversationID string) (model.ChatHistory, error)
	Clear(ctx context.Context, conversationID string) error
}

type DocumentHandler struct {
	documents DocumentService
	history   HistoryService
	limit     uploadLimit
}

// NewDocumentHandler caps every uploaded file at maxUploadMB; zero disables the cap.
func NewDocumentHandler(documents DocumentService, history HistoryService, maxUploadMB int) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		history:   history,
		limit:     uploadLimit(int64(maxUploadMB) << 20),
	}
}

type QueryRequest struct {
	SessionID      string `json:"session_id" form:"session_id"`
	Question       string `json:"question" form:"question" binding:"required"`
	K              int    `json:"k" form:"k"`
	ConversationID string `json:"conversation_id" form:"conversation_id"`
}

func (h *DocumentHandler) BuildIndex(c *gin.Context) {
	files, err := h.limit.files(c, "files")
	if err != nil {
		writeUploadError(c, err)
		return
	}

	in := app.BuildIndexInput{
		SessionID: strings.TrimSpace(c.PostForm("session_id")),
		Files:     files,
	}
	var ok bool
	if in.ChunkSize, ok = formInt(c, "chunk_size"); !ok {
		return
	}
	if in.K, ok = formInt(c, "k"); !ok {
		return
	}
	if raw := strings.TrimSpace(c.PostForm("chunk_overlap")); raw != "" {
		overlap, ok := formInt(c, "chunk_overlap")
		if !ok {
			return
		}
		in.ChunkOverlap = &overlap
	}

	res, err := h.documents.BuildIndex(c.Request.Context(), in)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, res)
}

func (h *DocumentHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	res, err := h.documents.Query(c.Request.Context(), app.QueryInput{
		SessionID:      strings.TrimSpace(req.SessionID),
		Question:       req.Question,
		K:              req.K,
		ConversationID: strings.TrimSpace(req.ConversationID),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, res)
}

func (h *DocumentHandler) Compare(c *gin.Context) {
	reference, err := h.limit.file(c, "reference")
	if err != nil {
		writeUploadError(c, err)
		return
	}
	actual, err := h.limit.file(c, "actual")
	if err != nil {
		writeUploadError(c, err)
		return
	}
	res, err := h.documents.Compare(c.Request.Context(), strings.TrimSpace(c.PostForm("session_id")), reference, actual)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, res)
}

func (h *DocumentHandler) Analyze(c *gin.Context) {
	doc, err := h.limit.file(c, "file")
	if err != nil {
		writeUploadError(c, err)
		return
	}
	res, err := h.documents.Analyze(c.Request.Context(), doc)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, res)
}

func (h *DocumentHandler) ListSessions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
		return
	}
	records, err := h.documents.ListSessions(c.Query("kind"), limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, records)
}

func (h *DocumentHandler) History(c *gin.Context) {
	history, err := h.history.History(c.Request.Context(), c.Query("conversation_id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{
		"conversation_id": c.Query("conversation_id"),
		"history":         history,
	})
}

func (h *DocumentHandler) DeleteSession(c *gin.Context) {
	res, err := h.documents.DeleteSession(c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, res)
}

func (h *DocumentHandler) ClearHistory(c *gin.Context) {
	id := c.Query("conversation_id")
	if err := h.history.Clear(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"cleared_conversation_id": id})
}

// formInt parses an optional integer form field, writing a 400 when malformed.
func formInt(c *gin.Context, key string) (int, bool) {
	raw := strings.TrimSpace(c.PostForm(key))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid "+key)
		return 0, false
	}
	return v, true
}
