package model

import (
	"path/filepath"
	"strings"
)

// UploadedDocument is a raw file handed to ingestion.
type UploadedDocument struct {
	Name      string
	Data      []byte
	Extension string
}

// NewUploadedDocument derives the lowercase extension (without dot) from name.
func NewUploadedDocument(name string, data []byte) UploadedDocument {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	return UploadedDocument{Name: name, Data: data, Extension: ext}
}

// BaseName is the last element of the upload name, safe to join under a
// storage directory. Names with no usable element yield fallback.
func (d UploadedDocument) BaseName(fallback string) string {
	base := filepath.Base(strings.ReplaceAll(d.Name, "\\", "/"))
	switch base {
	case ".", "..", "/", "":
		return fallback
	}
	return base
}

// TextChunk is the unit of embedding and retrieval.
type TextChunk struct {
	Content        string `json:"content"`
	SourceDocument string `json:"source_document"`
	SequenceIndex  int    `json:"sequence_index"`
}

// ScoredChunk is a retrieved chunk with its cosine similarity to the query.
type ScoredChunk struct {
	TextChunk
	Score float32 `json:"score"`
}

// ComparisonRow is one page-level entry of a document diff.
type ComparisonRow struct {
	Page    string `json:"page"`
	Changes string `json:"changes"`
}

// Metadata is the structured summary extracted from one document.
type Metadata struct {
	Summary          []string `json:"Summary"`
	Title            string   `json:"Title"`
	Author           string   `json:"Author"`
	DateCreated      string   `json:"DateCreated"`
	LastModifiedDate string   `json:"LastModifiedDate"`
	Publisher        string   `json:"Publisher"`
	Language         string   `json:"Language"`
	PageCount        any      `json:"PageCount"`
	SentimentTone    string   `json:"SentimentTone"`
}
