package workspace_test

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devspace/model"
	"github.com/dshills/devspace/workflow/store"
	"github.com/dshills/devspace/workspace"
)

func TestSendMessage_StreamsReply(t *testing.T) {
	gate := &gatedModel{
		MockModel: &model.MockModel{Chunks: []string{"He", "llo"}},
		release:   make(chan struct{}),
	}
	e := newEnv(t, gate)
	p := e.project(t, "u1")
	ctx := context.Background()

	res, err := e.svc.SendMessage(ctx, "u1", workspace.SendMessageInput{
		ProjectID: p.ID,
		Message:   "Explain this repository to me please",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	sub, ok := e.registry.Attach(res.RunID, 0)
	require.True(t, ok, "streaming run must be registered when SendMessage returns")
	defer sub.Close()
	close(gate.release)

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var deltas []workspace.TextDelta
	for {
		chunk, err := sub.Next(readCtx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		deltas = append(deltas, chunk.Payload.(workspace.TextDelta))
	}
	require.Len(t, deltas, 2)
	assert.Equal(t, workspace.TextDelta{Type: "text-delta", Delta: "He", ID: strconv.FormatInt(res.MessageID, 10)}, deltas[0])
	assert.Equal(t, "llo", deltas[1].Delta)

	run := e.wait(t, res.RunID)
	assert.Equal(t, store.StatusCompleted, run.Status)

	conv, err := e.svc.Conversation(ctx, "u1", res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Explain this reposit...", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "user", conv.Messages[0].Role)
	assert.Equal(t, workspace.MessageCompleted, conv.Messages[0].Status)
	assert.Equal(t, "Hello", conv.Messages[1].Content)
	assert.Equal(t, workspace.MessageCompleted, conv.Messages[1].Status)
	assert.Equal(t, res.RunID, conv.Messages[1].RunID)

	// The in-flight reply is not part of the prompt.
	calls := gate.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []model.Message{{Role: "user", Content: "Explain this repository to me please"}}, calls[0])
}

func TestSendMessage_ContinuesConversation(t *testing.T) {
	mock := &model.MockModel{Chunks: []string{"ok"}}
	e := newEnv(t, mock)
	p := e.project(t, "u1")
	ctx := context.Background()

	first, err := e.svc.SendMessage(ctx, "u1", workspace.SendMessageInput{ProjectID: p.ID, Message: "hi"})
	require.NoError(t, err)
	e.wait(t, first.RunID)

	second, err := e.svc.SendMessage(ctx, "u1", workspace.SendMessageInput{
		ProjectID: p.ID, ConversationID: first.ConversationID, Message: "again",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	e.wait(t, second.RunID)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []model.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "again"},
	}, calls[1])

	convs, err := e.svc.Conversations(ctx, "u1", p.ID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "hi", convs[0].Title)
}

func TestSendMessage_ModelErrorCancelsReply(t *testing.T) {
	mock := &model.MockModel{Err: errors.New("provider unavailable")}
	e := newEnv(t, mock)
	p := e.project(t, "u1")

	res, err := e.svc.SendMessage(context.Background(), "u1", workspace.SendMessageInput{ProjectID: p.ID, Message: "hi"})
	require.NoError(t, err)

	run := e.wait(t, res.RunID)
	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "provider unavailable")

	// Nothing was streamed, so the default retry applies.
	assert.Len(t, mock.Calls(), 2)

	conv, err := e.svc.Conversation(context.Background(), "u1", res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, workspace.ApologyMessage, conv.Messages[1].Content)
	assert.Equal(t, workspace.MessageCancelled, conv.Messages[1].Status)
}

func TestSendMessage_PartialStreamIsNotRetried(t *testing.T) {
	mock := &model.MockModel{
		Chunks:    []string{"par", "tial"},
		StreamErr: errors.New("connection reset"),
		FailAfter: 1,
	}
	e := newEnv(t, mock)
	p := e.project(t, "u1")

	res, err := e.svc.SendMessage(context.Background(), "u1", workspace.SendMessageInput{ProjectID: p.ID, Message: "hi"})
	require.NoError(t, err)

	run := e.wait(t, res.RunID)
	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Len(t, mock.Calls(), 1)

	steps, err := e.ledger.ListSteps(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].Attempts)

	conv, err := e.svc.Conversation(context.Background(), "u1", res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, workspace.MessageCancelled, conv.Messages[1].Status)
}

func TestReply_MissingConversationIsFatal(t *testing.T) {
	mock := &model.MockModel{Chunks: []string{"x"}}
	e := newEnv(t, mock)

	handle, err := e.engine.Start(context.Background(), workspace.ReplyWorkflow, workspace.ReplyRun{ConversationID: 999, MessageID: 1})
	require.NoError(t, err)

	run := e.wait(t, handle.RunID)
	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "conversation 999 does not exist")
	assert.Empty(t, mock.Calls())

	steps, err := e.ledger.ListSteps(context.Background(), handle.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].Attempts)
}

func TestSendMessage_Validation(t *testing.T) {
	e := newEnv(t, &model.MockModel{})
	ctx := context.Background()
	mine := e.project(t, "u1")
	theirs := e.project(t, "u2")

	_, err := e.svc.SendMessage(ctx, "u1", workspace.SendMessageInput{ProjectID: mine.ID, Message: "  "})
	assert.ErrorIs(t, err, workspace.ErrInvalidInput)

	_, err = e.svc.SendMessage(ctx, "u1", workspace.SendMessageInput{ProjectID: theirs.ID, Message: "hi"})
	assert.ErrorIs(t, err, workspace.ErrForbidden)

	_, err = e.svc.SendMessage(ctx, "u1", workspace.SendMessageInput{ProjectID: 12345, Message: "hi"})
	assert.ErrorIs(t, err, workspace.ErrNotFound)

	other, err := e.repo.CreateConversation(ctx, workspace.Conversation{ProjectID: theirs.ID, Title: "x"})
	require.NoError(t, err)
	_, err = e.svc.SendMessage(ctx, "u1", workspace.SendMessageInput{ProjectID: mine.ID, ConversationID: other.ID, Message: "hi"})
	assert.ErrorIs(t, err, workspace.ErrForbidden)

	_, err = e.svc.Conversation(ctx, "u1", other.ID)
	assert.ErrorIs(t, err, workspace.ErrForbidden)
}

func TestTitleTruncationCountsRunes(t *testing.T) {
	e := newEnv(t, &model.MockModel{Chunks: []string{"ok"}})
	p := e.project(t, "u1")
	msg := strings.Repeat("é", 25)

	res, err := e.svc.SendMessage(context.Background(), "u1", workspace.SendMessageInput{ProjectID: p.ID, Message: msg})
	require.NoError(t, err)
	e.wait(t, res.RunID)

	conv, err := e.svc.Conversation(context.Background(), "u1", res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 20)+"...", conv.Title)
}
