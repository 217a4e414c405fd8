// Package google provides a StreamingModel backed by the Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dshills/devspace/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// ChatModel streams replies from Gemini.
//
// Example:
//
//	m, err := google.NewChatModel(ctx, apiKey, "gemini-2.5-flash")
//	defer m.Close()
type ChatModel struct {
	client    *genai.Client
	modelName string
}

// NewChatModel creates a ChatModel holding one API client. Call Close when
// done.
func NewChatModel(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &ChatModel{client: client, modelName: modelName}, nil
}

// Close releases the underlying client.
func (m *ChatModel) Close() error {
	return m.client.Close()
}

// Stream implements model.StreamingModel. All messages but the last become
// the chat history; the last one is sent.
func (m *ChatModel) Stream(ctx context.Context, messages []model.Message) (model.TextStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	system, conversation := model.SplitSystem(messages)
	if len(conversation) == 0 {
		return nil, errors.New("google: at least one non-system message is required")
	}

	gm := m.client.GenerativeModel(m.modelName)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := gm.StartChat()
	history, last := convertMessages(conversation)
	cs.History = history

	return &textStream{iter: cs.SendMessageStream(ctx, genai.Text(last))}, nil
}

// convertMessages maps the conversation to Gemini history and returns the
// text of the final message separately.
func convertMessages(messages []model.Message) ([]*genai.Content, string) {
	history := make([]*genai.Content, 0, len(messages)-1)
	for _, msg := range messages[:len(messages)-1] {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return history, messages[len(messages)-1].Content
}

type responseIterator interface {
	Next() (*genai.GenerateContentResponse, error)
}

type textStream struct {
	iter    responseIterator
	current string
	err     error
	done    bool
}

func (s *textStream) Next() bool {
	for !s.done {
		resp, err := s.iter.Next()
		if errors.Is(err, iterator.Done) {
			s.done = true
			break
		}
		if err != nil {
			s.err = fmt.Errorf("google: %w", err)
			s.done = true
			break
		}
		if text := responseText(resp); text != "" {
			s.current = text
			return true
		}
	}
	s.current = ""
	return false
}

func (s *textStream) Text() string { return s.current }

func (s *textStream) Err() error { return s.err }

func (s *textStream) Close() error {
	s.done = true
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}
