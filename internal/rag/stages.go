package rag

import (
	"context"
	"strings"

	"document-portal/internal/ai"
	"document-portal/internal/model"
)

const (
	rewriteSystemPrompt = "Given a conversation history and the latest user question, which might " +
		"reference context in the history, rewrite it as a standalone question that can be " +
		"understood without the history. Do NOT answer the question. Return only the rewritten " +
		"question, or the question unchanged if it is already standalone."

	answerSystemPrompt = "You are an assistant for question-answering tasks. Use only the retrieved " +
		"context below to answer the question. If the context does not contain the answer, say " +
		"that you don't know. Keep the answer concise.\n\nContext:\n"

	contextSeparator = "\n\n"
)

// Generator is the language-model capability used by the chain stages.
type Generator interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

// Retriever fetches the top-k chunks for a standalone query, most similar first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]model.ScoredChunk, error)
}

// Rewriter turns a follow-up question into a standalone one.
type Rewriter struct {
	llm Generator
}

func NewRewriter(llm Generator) *Rewriter { return &Rewriter{llm: llm} }

func (r *Rewriter) Rewrite(ctx context.Context, question string, history model.ChatHistory) (string, error) {
	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: rewriteSystemPrompt})
	messages = appendHistory(messages, history)
	messages = append(messages, ai.ChatMessage{Role: model.RoleUser, Content: question})
	out, err := r.llm.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Synthesizer answers the original question from a context block.
type Synthesizer struct {
	llm Generator
}

func NewSynthesizer(llm Generator) *Synthesizer { return &Synthesizer{llm: llm} }

func (s *Synthesizer) Synthesize(ctx context.Context, contextBlock, question string, history model.ChatHistory) (string, error) {
	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: answerSystemPrompt + contextBlock})
	messages = appendHistory(messages, history)
	messages = append(messages, ai.ChatMessage{Role: model.RoleUser, Content: question})
	out, err := s.llm.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// FormatContext concatenates chunk contents in rank order.
func FormatContext(chunks []model.ScoredChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	return strings.Join(parts, contextSeparator)
}

func appendHistory(messages []ai.ChatMessage, history model.ChatHistory) []ai.ChatMessage {
	for _, turn := range history {
		messages = append(messages, ai.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	return messages
}
