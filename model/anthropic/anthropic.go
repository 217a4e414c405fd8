// Package anthropic provides a StreamingModel backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/devspace/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "claude-sonnet-4-5"

// defaultMaxTokens caps a reply. The Messages API requires a limit.
const defaultMaxTokens = 4096

// ChatModel streams replies from the Anthropic Messages API.
type ChatModel struct {
	client    *anthropic.Client
	modelName string
	maxTokens int64
}

// NewChatModel creates a ChatModel. An empty baseURL targets
// api.anthropic.com.
func NewChatModel(apiKey, modelName, baseURL string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	return &ChatModel{client: &client, modelName: modelName, maxTokens: defaultMaxTokens}, nil
}

// Stream implements model.StreamingModel.
func (m *ChatModel) Stream(ctx context.Context, messages []model.Message) (model.TextStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	system, conversation := model.SplitSystem(messages)
	if len(conversation) == 0 {
		return nil, errors.New("anthropic: at least one non-system message is required")
	}

	params := anthropic.MessageNewParams{
		MaxTokens: m.maxTokens,
		Messages:  convertMessages(conversation),
		Model:     anthropic.Model(m.modelName),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := m.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	return model.NewEventTextStream(stream, textDelta), nil
}

// textDelta extracts the text of content_block_delta events.
func textDelta(event anthropic.MessageStreamEventUnion) string {
	ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
	if !ok {
		return ""
	}
	if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
		return delta.Text
	}
	return ""
}

func convertMessages(messages []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
