package google

import (
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"

	"github.com/dshills/devspace/model"
)

type fakeIterator struct {
	responses []*genai.GenerateContentResponse
	err       error
	pos       int
}

func (f *fakeIterator) Next() (*genai.GenerateContentResponse, error) {
	if f.pos < len(f.responses) {
		f.pos++
		return f.responses[f.pos-1], nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, iterator.Done
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func TestTextStream(t *testing.T) {
	s := &textStream{iter: &fakeIterator{responses: []*genai.GenerateContentResponse{
		textResponse("He"),
		{},
		textResponse("l", "lo"),
	}}}

	text, err := model.Collect(s)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if text != "Hello" {
		t.Errorf("expected Hello, got %q", text)
	}
}

func TestTextStream_Error(t *testing.T) {
	boom := errors.New("quota exceeded")
	s := &textStream{iter: &fakeIterator{responses: []*genai.GenerateContentResponse{textResponse("a")}, err: boom}}

	if !s.Next() || s.Text() != "a" {
		t.Fatal("expected first delta")
	}
	if s.Next() {
		t.Fatal("expected iteration to stop")
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("expected wrapped error, got %v", s.Err())
	}
}

func TestConvertMessages(t *testing.T) {
	history, last := convertMessages([]model.Message{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
		{Role: model.RoleUser, Content: "explain main.go"},
	})
	if last != "explain main.go" {
		t.Errorf("unexpected last message %q", last)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Errorf("unexpected history %+v", history)
	}
}
