package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dshills/devspace/model"
	"github.com/dshills/devspace/workflow"
)

// ReplyWorkflow is the name of the streaming workflow that generates an
// assistant message.
const ReplyWorkflow = "generate-reply"

// ApologyMessage replaces the content of a reply whose generation failed.
const ApologyMessage = "Sorry, something went wrong while generating the response."

// ReplyRun is the state of a generate-reply run.
type ReplyRun struct {
	ConversationID int64 `json:"conversationId"`
	MessageID      int64 `json:"messageId"`
}

// TextDelta is the chunk written to a reply's output channel for each piece
// of model output.
type TextDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	ID    string `json:"id"`
}

type replyWorkflow struct {
	repo   Repository
	model  model.StreamingModel
	logger *slog.Logger
}

func (w *replyWorkflow) definition() workflow.Definition[ReplyRun] {
	return workflow.Definition[ReplyRun]{
		Name:      ReplyWorkflow,
		Streaming: true,
		Steps: []workflow.Step[ReplyRun]{
			{Name: "generate", Run: w.generate},
		},
		OnFailure: w.cancel,
	}
}

func (w *replyWorkflow) generate(ctx context.Context, sc *workflow.StepContext, run *ReplyRun) error {
	// Clients have already seen the chunks of an earlier attempt; a new
	// attempt would stream the reply a second time.
	if n := sc.Streamed(); n > 0 {
		return workflow.Fatalf("reply %d already streamed %d chunks", run.MessageID, n)
	}

	if _, err := w.repo.GetConversation(ctx, run.ConversationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return workflow.Fatalf("conversation %d does not exist", run.ConversationID)
		}
		return err
	}
	history, err := w.repo.ListMessages(ctx, run.ConversationID)
	if err != nil {
		return err
	}

	messages := make([]model.Message, 0, len(history))
	for _, m := range history {
		if m.ID == run.MessageID {
			continue
		}
		messages = append(messages, model.Message{Role: m.Role, Content: m.Content})
	}

	text, err := w.model.Stream(ctx, messages)
	if err != nil {
		return fmt.Errorf("start model stream: %w", err)
	}
	defer text.Close()

	id := strconv.FormatInt(run.MessageID, 10)
	var full strings.Builder
	for text.Next() {
		delta := text.Text()
		full.WriteString(delta)
		if _, err := sc.Write(TextDelta{Type: "text-delta", Delta: delta, ID: id}); err != nil {
			return workflow.Fatal(err)
		}
	}
	if err := text.Err(); err != nil {
		if sc.Written() > 0 {
			return workflow.Fatal(fmt.Errorf("model stream: %w", err))
		}
		return fmt.Errorf("model stream: %w", err)
	}

	return w.repo.UpdateMessage(ctx, run.MessageID, full.String(), MessageCompleted)
}

func (w *replyWorkflow) cancel(ctx context.Context, run *ReplyRun, cause error) {
	if err := w.repo.UpdateMessage(ctx, run.MessageID, ApologyMessage, MessageCancelled); err != nil {
		w.logger.Error("mark reply cancelled",
			"message_id", run.MessageID, "cause", cause, "error", err)
	}
}
