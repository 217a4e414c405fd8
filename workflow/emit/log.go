package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes events to a writer, one line per event.
//
// Supports two output modes:
//   - Text mode (default): [msg] key=value pairs
//   - JSON mode: one JSON object per line
//
// Example text output:
//
//	[step_retry] runID=3f1c workflow=github-import step=1 name=import-tree attempt=1 meta={"error":"EOF"}
//
// Example JSON output:
//
//	{"runID":"3f1c","workflow":"github-import","step":1,"stepName":"import-tree","attempt":1,"msg":"step_retry","meta":{"error":"EOF"}}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a new LogEmitter. A nil writer means os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes an event to the configured writer.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID    string         `json:"runID"`
		Workflow string         `json:"workflow"`
		Step     int            `json:"step"`
		StepName string         `json:"stepName,omitempty"`
		Attempt  int            `json:"attempt,omitempty"`
		Msg      string         `json:"msg"`
		Meta     map[string]any `json:"meta"`
	}{
		RunID:    event.RunID,
		Workflow: event.Workflow,
		Step:     event.Step,
		StepName: event.StepName,
		Attempt:  event.Attempt,
		Msg:      event.Msg,
		Meta:     event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] runID=%s workflow=%s", event.Msg, event.RunID, event.Workflow)
	if event.Step >= 0 {
		fmt.Fprintf(l.writer, " step=%d name=%s attempt=%d", event.Step, event.StepName, event.Attempt)
	}

	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	fmt.Fprint(l.writer, "\n")
}
