package ingest

import (
	"strings"

	"document-portal/internal/model"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Splitter cuts text into fixed-size, overlapping rune windows. The last
// window always ends at the end of the text.
type Splitter struct {
	size    int
	overlap int
}

type SplitOption func(*Splitter)

func WithChunkSize(size int) SplitOption {
	return func(s *Splitter) {
		if size > 0 {
			s.size = size
		}
	}
}

func WithChunkOverlap(overlap int) SplitOption {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func NewSplitter(opts ...SplitOption) *Splitter {
	s := &Splitter{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.size {
		s.overlap = s.size / 4
	}
	return s
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the windows of text in order. Empty text yields no windows.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := s.size - s.overlap
	chunks := make([]string, 0, len(runes)/step+1)
	for start := 0; ; start += step {
		end := start + s.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// Chunks splits text and tags every window with its source and position.
// Whitespace-only windows are dropped; sequence indexes stay contiguous.
func (s *Splitter) Chunks(source, text string) []model.TextChunk {
	parts := s.Split(text)
	out := make([]model.TextChunk, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, model.TextChunk{Content: p, SourceDocument: source, SequenceIndex: len(out)})
	}
	return out
}
