package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dshills/devspace/model"
)

func TestNewChatModel_RequiresKey(t *testing.T) {
	if _, err := NewChatModel("", "", ""); err == nil {
		t.Error("expected error for empty API key")
	}
	m, err := NewChatModel("sk-test", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if m.modelName != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, m.modelName)
	}
}

func TestChatModel_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"He", "llo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	m, err := NewChatModel("sk-test", "m", srv.URL)
	if err != nil {
		t.Fatal(err)
	}

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
}

func TestConvertMessages(t *testing.T) {
	out := convertMessages([]model.Message{
		{Role: model.RoleSystem, Content: "s"},
		{Role: model.RoleUser, Content: "u"},
		{Role: model.RoleAssistant, Content: "a"},
	})
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	if out[0].OfSystem == nil || out[1].OfUser == nil || out[2].OfAssistant == nil {
		t.Errorf("roles not mapped: %+v", out)
	}
}
