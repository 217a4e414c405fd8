package model

import (
	"context"
	"sync"
)

// MockModel is a scripted StreamingModel for tests.
//
// Each Stream call yields Chunks in order. When StreamErr is set, the
// stream stops with it after FailAfter chunks. Err fails the call itself.
//
// Example:
//
//	m := &model.MockModel{Chunks: []string{"He", "llo"}}
type MockModel struct {
	Chunks    []string
	Err       error
	StreamErr error
	FailAfter int

	mu    sync.Mutex
	calls [][]Message
}

// Stream implements StreamingModel.
func (m *MockModel) Stream(ctx context.Context, messages []Message) (TextStream, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]Message(nil), messages...))
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}

	chunks := m.Chunks
	if m.StreamErr != nil && m.FailAfter < len(chunks) {
		chunks = chunks[:max(m.FailAfter, 0)]
	}
	return &mockStream{ctx: ctx, chunks: chunks, final: m.StreamErr, pos: -1}, nil
}

// Calls returns the conversations passed to Stream.
func (m *MockModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

type mockStream struct {
	ctx    context.Context
	chunks []string
	final  error
	pos    int
	err    error
}

func (s *mockStream) Next() bool {
	if s.err != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	s.pos++
	if s.pos < len(s.chunks) {
		return true
	}
	s.err = s.final
	return false
}

func (s *mockStream) Text() string {
	if s.pos >= 0 && s.pos < len(s.chunks) {
		return s.chunks[s.pos]
	}
	return ""
}

func (s *mockStream) Err() error { return s.err }

func (s *mockStream) Close() error { return nil }
