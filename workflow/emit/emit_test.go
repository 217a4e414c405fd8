package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func sampleEvent() Event {
	return Event{
		RunID:    "run-001",
		Workflow: "github-import",
		Step:     1,
		StepName: "import-tree",
		Attempt:  2,
		Msg:      MsgStepRetry,
		Meta:     map[string]any{"error": "connection reset"},
	}
}

func TestLogEmitter_Text(t *testing.T) {
	var buf bytes.Buffer
	NewLogEmitter(&buf, false).Emit(sampleEvent())

	out := buf.String()
	for _, want := range []string{"[step_retry]", "runID=run-001", "workflow=github-import", "step=1", "name=import-tree", "attempt=2", `"error":"connection reset"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("expected trailing newline")
	}
}

func TestLogEmitter_TextRunLevel(t *testing.T) {
	var buf bytes.Buffer
	NewLogEmitter(&buf, false).Emit(Event{RunID: "run-001", Workflow: "generate-reply", Step: -1, Msg: MsgRunStart})

	if strings.Contains(buf.String(), "step=") {
		t.Errorf("run-level event should not print step fields: %q", buf.String())
	}
}

func TestLogEmitter_JSON(t *testing.T) {
	var buf bytes.Buffer
	NewLogEmitter(&buf, true).Emit(sampleEvent())

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if decoded["msg"] != MsgStepRetry || decoded["stepName"] != "import-tree" {
		t.Errorf("unexpected JSON fields: %v", decoded)
	}
}

func TestBufferedEmitter_History(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "a", Msg: MsgRunStart, Step: -1})
	b.Emit(Event{RunID: "a", Msg: MsgStepStart, StepName: "generate"})
	b.Emit(Event{RunID: "b", Msg: MsgRunStart, Step: -1})

	if got := len(b.GetHistory("a")); got != 2 {
		t.Errorf("expected 2 events for run a, got %d", got)
	}
	if got := b.GetHistoryWithFilter("a", HistoryFilter{StepName: "generate"}); len(got) != 1 || got[0].Msg != MsgStepStart {
		t.Errorf("unexpected filtered history: %+v", got)
	}
	if got := b.GetHistory("missing"); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}

	b.Clear("a")
	if len(b.GetHistory("a")) != 0 || len(b.GetHistory("b")) != 1 {
		t.Error("Clear(a) should only drop run a")
	}
	b.Clear("")
	if len(b.GetHistory("b")) != 0 {
		t.Error("Clear(\"\") should drop everything")
	}
}

func TestMultiEmitter_FansOut(t *testing.T) {
	first, second := NewBufferedEmitter(), NewBufferedEmitter()
	m := NewMultiEmitter(first, nil, second, NewNullEmitter())

	m.Emit(sampleEvent())

	if len(first.GetHistory("run-001")) != 1 || len(second.GetHistory("run-001")) != 1 {
		t.Error("expected every emitter to receive the event")
	}
}

func TestOTelEmitter_Emit(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	NewOTelEmitter(tp.Tracer("test")).Emit(sampleEvent())

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != MsgStepRetry {
		t.Errorf("span name = %q, want %q", span.Name, MsgStepRetry)
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["devspace.run_id"].AsString(); got != "run-001" {
		t.Errorf("run_id = %q", got)
	}
	if got := attrs["devspace.step_name"].AsString(); got != "import-tree" {
		t.Errorf("step_name = %q", got)
	}
	if got := attrs["devspace.attempt"].AsInt64(); got != 2 {
		t.Errorf("attempt = %d", got)
	}
	if span.Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", span.Status.Code)
	}
}
