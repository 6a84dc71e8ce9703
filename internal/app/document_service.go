package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"document-portal/internal/analyzer"
	"document-portal/internal/apperr"
	"document-portal/internal/compare"
	"document-portal/internal/ingest"
	"document-portal/internal/logger"
	"document-portal/internal/model"
	"document-portal/internal/rag"
	"document-portal/internal/session"
	"document-portal/internal/vectorindex"
)

// SessionRecorder keeps the bookkeeping rows listed by ListSessions.
type SessionRecorder interface {
	Save(record *model.SessionRecord) error
	Get(id string) (*model.SessionRecord, error)
	ListByKind(kind string, limit int) ([]model.SessionRecord, error)
	Delete(id string) error
}

// HistoryHost loads and extends the ChatHistory of a conversation.
type HistoryHost interface {
	History(ctx context.Context, conversationID string) (model.ChatHistory, error)
	Append(ctx context.Context, conversationID, sessionID string, turns ...model.ChatTurn) error
}

type DocumentDeps struct {
	ChatSessions *session.Manager
	Pipeline     *ingest.Pipeline
	Indexes      *vectorindex.Store
	Embedder     vectorindex.QueryEmbedder
	Chain        *rag.Chain
	Compare      *compare.Engine
	Analyzer     *analyzer.Analyzer
	Records      SessionRecorder
	History      HistoryHost
	Logger       *zap.Logger
}

type DocumentDefaults struct {
	ChunkSize           int
	ChunkOverlap        int
	TopK                int
	KeepCompareSessions int
}

// DocumentService exposes the caller-facing document operations.
type DocumentService struct {
	deps     DocumentDeps
	defaults DocumentDefaults
	log      *zap.Logger
}

func NewDocumentService(deps DocumentDeps, defaults DocumentDefaults) *DocumentService {
	if defaults.ChunkSize <= 0 {
		defaults.ChunkSize = ingest.DefaultChunkSize
		defaults.ChunkOverlap = ingest.DefaultChunkOverlap
	}
	if defaults.TopK <= 0 {
		defaults.TopK = rag.DefaultTopK
	}
	return &DocumentService{
		deps:     deps,
		defaults: defaults,
		log:      logger.OrNop(deps.Logger),
	}
}

type BuildIndexInput struct {
	SessionID    string
	Files        []model.UploadedDocument
	ChunkSize    int
	ChunkOverlap *int
	K            int
}

type BuildIndexResult struct {
	SessionID  string                  `json:"session_id"`
	K          int                     `json:"k"`
	ChunkCount int                     `json:"chunk_count"`
	Dimension  int                     `json:"dimension"`
	Accepted   []string                `json:"accepted"`
	Skipped    []string                `json:"skipped,omitempty"`
	Failed     []ingest.FailedDocument `json:"failed,omitempty"`
}

// BuildIndex ingests the files into a new or reused chat session and publishes
// its index, replacing any previous one.
func (s *DocumentService) BuildIndex(ctx context.Context, in BuildIndexInput) (*BuildIndexResult, error) {
	size := in.ChunkSize
	overlap := s.defaults.ChunkOverlap
	if in.ChunkOverlap != nil {
		overlap = *in.ChunkOverlap
	}
	if size == 0 {
		size = s.defaults.ChunkSize
	}
	if size < 0 || overlap < 0 || overlap >= size {
		return nil, apperr.Validation("build index", "chunk_overlap must be in [0, chunk_size)")
	}
	k := in.K
	if k <= 0 {
		k = s.defaults.TopK
	}

	sess, err := s.deps.ChatSessions.CreateOrReuse(in.SessionID)
	if err != nil {
		return nil, err
	}
	ingested, err := s.deps.Pipeline.Ingest(ctx, sess, in.Files, ingest.WithChunkSize(size), ingest.WithChunkOverlap(overlap))
	if err != nil {
		return nil, err
	}
	idx, err := s.deps.Indexes.Build(ctx, sess.ID, ingested.Chunks)
	if err != nil {
		return nil, err
	}

	s.record(&model.SessionRecord{
		ID:         sess.ID,
		Kind:       model.SessionKindChat,
		Dimension:  idx.Dimension,
		ChunkCount: idx.ChunkCount,
		CreatedAt:  sess.CreatedAt,
	})
	return &BuildIndexResult{
		SessionID:  sess.ID,
		K:          k,
		ChunkCount: idx.ChunkCount,
		Dimension:  idx.Dimension,
		Accepted:   ingested.Accepted,
		Skipped:    ingested.Skipped,
		Failed:     ingested.Failed,
	}, nil
}

type QueryInput struct {
	SessionID      string
	Question       string
	K              int
	ConversationID string
}

type QueryResult struct {
	SessionID string `json:"session_id"`
	K         int    `json:"k"`
	rag.Result
}

// Query answers question against the session's persisted index. With a
// conversation id the history is loaded first and the new turns appended after.
func (s *DocumentService) Query(ctx context.Context, in QueryInput) (*QueryResult, error) {
	const op = "query"
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, apperr.Validation(op, "session_id is required")
	}
	if err := session.ValidateID(in.SessionID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, apperr.Validation(op, "question is required")
	}
	k := in.K
	if k <= 0 {
		k = s.defaults.TopK
	}

	idx, err := s.deps.Indexes.Load(ctx, in.SessionID, s.expectation(in.SessionID)...)
	if err != nil {
		return nil, err
	}
	chain := s.deps.Chain.WithRetriever(in.SessionID, vectorindex.NewRetriever(idx, s.deps.Embedder))

	var history model.ChatHistory
	if in.ConversationID != "" && s.deps.History != nil {
		history, err = s.deps.History.History(ctx, in.ConversationID)
		if err != nil {
			return nil, err
		}
	}

	res, err := chain.Answer(ctx, in.Question, history, k)
	if err != nil {
		return nil, err
	}

	if in.ConversationID != "" && s.deps.History != nil {
		err := s.deps.History.Append(ctx, in.ConversationID, in.SessionID,
			model.ChatTurn{Role: model.RoleUser, Content: strings.TrimSpace(in.Question)},
			model.ChatTurn{Role: model.RoleAssistant, Content: res.Answer},
		)
		if err != nil {
			s.log.Warn("append chat history failed",
				zap.String("session_id", in.SessionID),
				zap.String("conversation_id", in.ConversationID),
				zap.Error(err),
			)
		}
	}
	return &QueryResult{SessionID: in.SessionID, K: k, Result: res}, nil
}

// expectation pins Load to the embedding dimension recorded at build time. The
// chunk count is left to the manifest, since a record can lag a rebuild.
func (s *DocumentService) expectation(sessionID string) []vectorindex.Expect {
	if s.deps.Records == nil {
		return nil
	}
	rec, err := s.deps.Records.Get(sessionID)
	if err != nil {
		s.log.Warn("session record lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	if rec == nil || rec.Dimension == 0 {
		return nil
	}
	return []vectorindex.Expect{{Dimension: rec.Dimension}}
}

// Compare diffs the two PDFs in a compare session, then prunes old compare
// sessions down to the configured number, never touching this one.
func (s *DocumentService) Compare(ctx context.Context, sessionID string, reference, actual model.UploadedDocument) (*compare.Result, error) {
	res, err := s.deps.Compare.Compare(ctx, sessionID, reference, actual)
	if err != nil {
		return nil, err
	}
	s.record(&model.SessionRecord{ID: res.SessionID, Kind: model.SessionKindCompare})

	if s.defaults.KeepCompareSessions > 0 {
		removed, err := s.deps.Compare.CleanOldSessions(s.defaults.KeepCompareSessions, res.SessionID)
		if err != nil {
			s.log.Warn("compare session cleanup failed", zap.Error(err))
		}
		s.forget(removed)
	}
	return &res, nil
}

func (s *DocumentService) Analyze(ctx context.Context, doc model.UploadedDocument) (*analyzer.Analysis, error) {
	res, err := s.deps.Analyzer.Analyze(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.record(&model.SessionRecord{ID: res.SessionID, Kind: model.SessionKindAnalysis})
	return &res, nil
}

type DeleteSessionResult struct {
	SessionID    string `json:"session_id"`
	IndexRemoved bool   `json:"index_removed"`
}

// DeleteSession removes a chat session's uploads, index and record.
func (s *DocumentService) DeleteSession(sessionID string) (*DeleteSessionResult, error) {
	const op = "delete session"
	if err := session.ValidateID(sessionID); err != nil {
		return nil, err
	}
	_, found, err := s.deps.ChatSessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	hadIndex := s.deps.Indexes.Exists(sessionID)
	if !found && !hadIndex {
		return nil, apperr.IndexNotFound(op, sessionID, s.deps.Indexes.Path(sessionID))
	}

	if err := s.deps.Indexes.Remove(sessionID); err != nil {
		return nil, err
	}
	if err := s.deps.ChatSessions.Remove(sessionID); err != nil {
		return nil, err
	}
	s.forget([]string{sessionID})
	s.log.Info("session deleted", zap.String("session_id", sessionID), zap.Bool("index_removed", hadIndex))
	return &DeleteSessionResult{SessionID: sessionID, IndexRemoved: hadIndex}, nil
}

// ListSessions returns recorded sessions newest first, optionally of one kind.
func (s *DocumentService) ListSessions(kind string, limit int) ([]model.SessionRecord, error) {
	switch kind {
	case "", model.SessionKindChat, model.SessionKindCompare, model.SessionKindAnalysis:
	default:
		return nil, apperr.Validation("list sessions", "unknown session kind "+kind)
	}
	if s.deps.Records == nil {
		return []model.SessionRecord{}, nil
	}
	records, err := s.deps.Records.ListByKind(kind, limit)
	if err != nil {
		return nil, apperr.IO("list sessions", "", "", err)
	}
	return records, nil
}

func (s *DocumentService) record(rec *model.SessionRecord) {
	if s.deps.Records == nil {
		return
	}
	if err := s.deps.Records.Save(rec); err != nil {
		s.log.Warn("save session record failed", zap.String("session_id", rec.ID), zap.String("kind", rec.Kind), zap.Error(err))
	}
}

func (s *DocumentService) forget(ids []string) {
	if s.deps.Records == nil {
		return
	}
	for _, id := range ids {
		if err := s.deps.Records.Delete(id); err != nil {
			s.log.Warn("delete session record failed", zap.String("session_id", id), zap.Error(err))
		}
	}
}
