// Package emit delivers workflow lifecycle events to pluggable backends.
package emit

// Event names emitted by the workflow engine.
const (
	MsgRunStart     = "run_start"
	MsgRunComplete  = "run_complete"
	MsgRunFailed    = "run_failed"
	MsgStepStart    = "step_start"
	MsgStepComplete = "step_complete"
	MsgStepRetry    = "step_retry"
	MsgStepFailed   = "step_failed"
	MsgStreamClosed = "stream_closed"
)

// Event represents an observability event emitted during a workflow run.
//
// Events are emitted to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Keep them in memory for tests
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Workflow is the registered workflow name.
	Workflow string

	// Step is the zero-based index of the step. -1 for run-level events.
	Step int

	// StepName is the declared step name. Empty for run-level events.
	StepName string

	// Attempt is the 1-based attempt number of a step execution.
	Attempt int

	// Msg is the event name, one of the Msg* constants.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": step or run duration in milliseconds
	//   - "error": error text
	//   - "fatal": whether the error skipped retries
	//   - "chunks": number of chunks appended to the output channel
	Meta map[string]any
}
