// Package openai provides a StreamingModel backed by the OpenAI Chat
// Completions API or any OpenAI-compatible endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/devspace/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gpt-4o-mini"

// ChatModel streams completions from an OpenAI-compatible endpoint.
//
// Example:
//
//	m, err := openai.NewChatModel(apiKey, "gpt-4o-mini", "")
//	// OpenAI-compatible provider:
//	m, err := openai.NewChatModel(apiKey, "meta-llama/llama-3.1-8b-instruct", "https://openrouter.ai/api/v1")
type ChatModel struct {
	client    *openai.Client
	modelName string
}

// NewChatModel creates a ChatModel. An empty baseURL targets api.openai.com.
func NewChatModel(apiKey, modelName, baseURL string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &ChatModel{client: &client, modelName: modelName}, nil
}

// Stream implements model.StreamingModel.
func (m *ChatModel) Stream(ctx context.Context, messages []model.Message) (model.TextStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}

	params := openai.ChatCompletionNewParams{
		Messages: convertMessages(messages),
		Model:    shared.ChatModel(m.modelName),
	}
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("openai: %w", err)
	}

	return model.NewEventTextStream(stream, func(chunk openai.ChatCompletionChunk) string {
		if len(chunk.Choices) == 0 {
			return ""
		}
		return chunk.Choices[0].Delta.Content
	}), nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
