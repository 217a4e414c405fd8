package workflow

import (
	"context"
	"fmt"

	"github.com/dshills/devspace/workflow/stream"
)

// StepFunc is the body of a step. It receives the run's state by pointer so
// values resolved by one step are visible to the next ones.
//
// Returning nil completes the step. Any other error is retried according to
// the step's RetryPolicy unless it is wrapped with Fatal.
type StepFunc[S any] func(ctx context.Context, sc *StepContext, state *S) error

// Step is one named unit of work within a workflow.
type Step[S any] struct {
	Name   string
	Run    StepFunc[S]
	Policy StepPolicy
}

// Definition describes a workflow: an ordered list of steps executed one at
// a time, all sharing a state value of type S.
type Definition[S any] struct {
	// Name is the key passed to Engine.Start.
	Name string

	// Steps run strictly in order. Step N+1 starts only after step N
	// returned nil.
	Steps []Step[S]

	// Streaming gives each run an output channel registered in the run
	// registry, written through StepContext.Write.
	Streaming bool

	// OnFailure runs once when the run turns failed, before the output
	// channel closes. It is where the workflow marks the entities it owns as
	// failed. The engine does not roll back writes of earlier steps.
	OnFailure func(ctx context.Context, state *S, err error)
}

// StepContext gives a running step access to its run.
type StepContext struct {
	RunID    string
	Workflow string

	// Step is the step name and Index its position in the workflow.
	Step  string
	Index int

	// Attempt is 1 for the first execution of the step.
	Attempt int

	channel *stream.Channel
	written int
	onWrite func()
}

// Write appends payload to the run's output channel and returns the
// sequence index it was assigned.
func (sc *StepContext) Write(payload any) (int64, error) {
	if sc.channel == nil {
		return 0, ErrNotStreaming
	}
	idx, err := sc.channel.Append(payload)
	if err != nil {
		return 0, fmt.Errorf("run %s: write after output closed: %w", sc.RunID, err)
	}
	sc.written++
	if sc.onWrite != nil {
		sc.onWrite()
	}
	return idx, nil
}

// Written returns the number of chunks this attempt appended.
func (sc *StepContext) Written() int {
	return sc.written
}

// Streamed returns the number of chunks in the run's output channel,
// including those written by earlier attempts and steps.
func (sc *StepContext) Streamed() int64 {
	if sc.channel == nil {
		return 0
	}
	return sc.channel.Len()
}
