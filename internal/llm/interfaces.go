// Package llm provides chat and embedding adapters for the extraction
// pipeline. All adapters wrap their HTTP calls with circuit breaker
// protection so a failing provider degrades the memory system instead of
// stalling the conversation.
package llm

import "context"

// ChatMessage is one message in a chat exchange with a provider.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatGenerator is the interface for LLM chat completion. The system
// instruction is passed separately from the message list because
// providers differ in where it belongs on the wire.
type ChatGenerator interface {
	Chat(ctx context.Context, system string, messages []ChatMessage) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
