package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one entry of a conversation.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatHistory is append-only for the life of a conversation.
type ChatHistory []ChatTurn

// Append returns the history extended with turns.
func (h ChatHistory) Append(turns ...ChatTurn) ChatHistory {
	out := make(ChatHistory, 0, len(h)+len(turns))
	out = append(out, h...)
	return append(out, turns...)
}

// Message is the persisted form of a ChatTurn.
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"size:64;not null;index" json:"conversation_id"`
	SessionID      string    `gorm:"size:64;not null;index" json:"session_id"`
	Role           string    `gorm:"size:16;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func (m Message) Turn() ChatTurn {
	return ChatTurn{Role: m.Role, Content: m.Content}
}
