// Package llm is the chat-completion capability port. Calls are stateless;
// callers supply the full message history on every request.
package llm

import "context"

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Options tunes a single completion call.
type Options struct {
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// Client is the LLM capability port.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}
