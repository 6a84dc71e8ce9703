package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"document-portal/internal/apperr"
	"document-portal/internal/logger"
	"document-portal/internal/model"
)

var ErrMessageEnqueue = errors.New("message enqueue failed")

type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type MessageStore interface {
	ListRecentByConversation(conversationID string, limit int) ([]model.Message, error)
	DeleteByConversation(conversationID string) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, conversationID string) (model.ChatHistory, bool, error)
	SetHistory(ctx context.Context, conversationID string, history model.ChatHistory) error
	DeleteHistory(ctx context.Context, conversationID string) error
	MarkDirty(ctx context.Context, conversationID string) error
	IsDirty(ctx context.Context, conversationID string) (bool, error)
}

// ChatService hosts ChatHistory per conversation id. Writes go to the cache
// immediately and to MySQL through the persist queue; the dirty marker stops
// a stale database read from overwriting the cached history meanwhile.
type ChatService struct {
	messages   MessageStore
	publisher  AsyncMessagePublisher
	cache      HistoryCache
	maxContext int
	now        func() time.Time
	log        *zap.Logger
}

func NewChatService(messages MessageStore, publisher AsyncMessagePublisher, cache HistoryCache, maxContext int, log *zap.Logger) *ChatService {
	if maxContext <= 0 {
		maxContext = 20
	}
	return &ChatService{
		messages:   messages,
		publisher:  publisher,
		cache:      cache,
		maxContext: maxContext,
		now:        time.Now,
		log:        logger.OrNop(log),
	}
}

// History returns at most maxContext recent turns of the conversation.
func (s *ChatService) History(ctx context.Context, conversationID string) (model.ChatHistory, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, apperr.Validation("history", "conversation_id is required")
	}

	if s.cache != nil {
		cached, hit, err := s.cache.GetHistory(ctx, conversationID)
		if err != nil {
			s.log.Warn("history cache read failed", zap.String("conversation_id", conversationID), zap.Error(err))
		} else if hit {
			return trimHistory(cached, s.maxContext), nil
		}
	}

	if s.messages == nil {
		return model.ChatHistory{}, nil
	}
	rows, err := s.messages.ListRecentByConversation(conversationID, s.maxContext)
	if err != nil {
		return nil, apperr.IO("history", "", "", err)
	}
	history := make(model.ChatHistory, 0, len(rows))
	for _, row := range rows {
		history = append(history, row.Turn())
	}

	if s.cache != nil {
		if dirty, err := s.cache.IsDirty(ctx, conversationID); err == nil && !dirty {
			if err := s.cache.SetHistory(ctx, conversationID, history); err != nil {
				s.log.Warn("history cache fill failed", zap.String("conversation_id", conversationID), zap.Error(err))
			}
		}
	}
	return history, nil
}

// Append records turns for the conversation. sessionID tags the persisted rows.
func (s *ChatService) Append(ctx context.Context, conversationID, sessionID string, turns ...model.ChatTurn) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return apperr.Validation("append history", "conversation_id is required")
	}
	if len(turns) == 0 {
		return nil
	}

	history, err := s.History(ctx, conversationID)
	if err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.MarkDirty(ctx, conversationID); err != nil {
			s.log.Warn("history dirty marker failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
		if err := s.cache.SetHistory(ctx, conversationID, trimHistory(history.Append(turns...), s.maxContext)); err != nil {
			s.log.Warn("history cache write failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}

	if s.publisher == nil {
		return nil
	}
	for _, turn := range turns {
		msg := model.Message{
			ConversationID: conversationID,
			SessionID:      sessionID,
			Role:           turn.Role,
			Content:        turn.Content,
			CreatedAt:      s.now(),
		}
		if err := s.publisher.Publish(ctx, msg); err != nil {
			s.log.Error("publish chat turn failed",
				zap.String("conversation_id", conversationID),
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %v", ErrMessageEnqueue, err)
		}
	}
	return nil
}

// Clear drops the conversation from the cache and the database. Turns still
// queued for persistence may reappear in the database afterwards.
func (s *ChatService) Clear(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return apperr.Validation("clear history", "conversation_id is required")
	}
	if s.cache != nil {
		if err := s.cache.DeleteHistory(ctx, conversationID); err != nil {
			return apperr.IO("clear history", "", "", err)
		}
	}
	if s.messages != nil {
		if err := s.messages.DeleteByConversation(conversationID); err != nil {
			return apperr.IO("clear history", "", "", err)
		}
	}
	s.log.Info("chat history cleared", zap.String("conversation_id", conversationID))
	return nil
}

func trimHistory(history model.ChatHistory, limit int) model.ChatHistory {
	if limit <= 0 || limit >= len(history) {
		return history
	}
	return history[len(history)-limit:]
}
