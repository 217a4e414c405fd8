// Package model defines the streaming language-model interface used to
// generate assistant replies, with adapters for OpenAI-compatible,
// Anthropic and Google Gemini APIs.
package model

import (
	"context"
	"strings"
)

// Message is one turn of a conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

// Role constants for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StreamingModel produces a reply to a conversation as a stream of text
// deltas.
//
// Implementations:
//   - openai.ChatModel: OpenAI and OpenAI-compatible endpoints
//   - anthropic.ChatModel: Anthropic Messages API
//   - google.ChatModel: Gemini
//   - MockModel: scripted output for tests
type StreamingModel interface {
	Stream(ctx context.Context, messages []Message) (TextStream, error)
}

// TextStream iterates over the text deltas of one reply.
//
//	for s.Next() {
//	    fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil { ... }
type TextStream interface {
	// Next advances to the next non-empty delta. It returns false at the
	// end of the reply or on error.
	Next() bool

	// Text returns the current delta.
	Text() string

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases the underlying connection.
	Close() error
}

// Collect drains s and returns the concatenated text.
func Collect(s TextStream) (string, error) {
	defer s.Close()

	var sb strings.Builder
	for s.Next() {
		sb.WriteString(s.Text())
	}
	return sb.String(), s.Err()
}

// SplitSystem separates system messages from the conversation, for APIs that
// take the system prompt as a separate parameter.
func SplitSystem(messages []Message) (system string, rest []Message) {
	var parts []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			if m.Content != "" {
				parts = append(parts, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}
