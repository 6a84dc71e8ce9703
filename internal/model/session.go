package model

import "time"

// Session is an allocated storage namespace. One directory per session, never shared.
type Session struct {
	ID          string    `json:"session_id"`
	StorageRoot string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	SessionKindChat     = "chat"
	SessionKindCompare  = "compare"
	SessionKindAnalysis = "analysis"
)

// SessionRecord is the persisted bookkeeping row for a session.
type SessionRecord struct {
	ID         string    `gorm:"primaryKey;size:64" json:"session_id"`
	Kind       string    `gorm:"size:16;not null;index" json:"kind"`
	Dimension  int       `json:"dimension,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
