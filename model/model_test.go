package model_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/devspace/model"
)

func TestMockModel_Collect(t *testing.T) {
	m := &model.MockModel{Chunks: []string{"He", "llo"}}

	s, err := m.Stream(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	text, err := model.Collect(s)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if text != "Hello" {
		t.Errorf("expected Hello, got %q", text)
	}
	if calls := m.Calls(); len(calls) != 1 || calls[0][0].Content != "hi" {
		t.Errorf("unexpected recorded calls: %+v", calls)
	}
}

func TestMockModel_FailAfter(t *testing.T) {
	boom := errors.New("connection reset")
	m := &model.MockModel{Chunks: []string{"a", "b", "c"}, FailAfter: 1, StreamErr: boom}

	s, _ := m.Stream(context.Background(), nil)
	var got []string
	for s.Next() {
		got = append(got, s.Text())
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("expected [a], got %v", got)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("expected stream error, got %v", s.Err())
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := model.SplitSystem([]model.Message{
		{Role: model.RoleSystem, Content: "be brief"},
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleSystem, Content: "use Go"},
		{Role: model.RoleAssistant, Content: "hello"},
	})
	if system != "be brief\n\nuse Go" {
		t.Errorf("unexpected system prompt %q", system)
	}
	if len(rest) != 2 || rest[0].Role != model.RoleUser || rest[1].Role != model.RoleAssistant {
		t.Errorf("unexpected remaining messages %+v", rest)
	}
}

type fakeEvents struct {
	events []string
	pos    int
	err    error
	closed bool
}

func (f *fakeEvents) Next() bool {
	if f.pos >= len(f.events) {
		return false
	}
	f.pos++
	return true
}
func (f *fakeEvents) Current() string { return f.events[f.pos-1] }
func (f *fakeEvents) Err() error      { return f.err }
func (f *fakeEvents) Close() error    { f.closed = true; return nil }

func TestEventTextStream_SkipsEmpty(t *testing.T) {
	events := &fakeEvents{events: []string{"", "x", "", "y", ""}}
	s := model.NewEventTextStream[string](events, func(e string) string { return e })

	text, err := model.Collect(s)
	if err != nil {
		t.Fatal(err)
	}
	if text != "xy" {
		t.Errorf("expected xy, got %q", text)
	}
	if !events.closed {
		t.Error("expected Collect to close the stream")
	}
}
