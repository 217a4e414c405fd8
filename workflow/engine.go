package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dshills/devspace/workflow/emit"
	"github.com/dshills/devspace/workflow/store"
	"github.com/dshills/devspace/workflow/stream"
)

// finalizeTimeout bounds the ledger writes that finish a run. They run on a
// context detached from the run so a shutdown still records the outcome.
const finalizeTimeout = 10 * time.Second

// Engine executes registered workflows in the background.
//
// Each Start creates a ledger row, optionally registers an output channel,
// and runs the workflow's steps sequentially on its own goroutine. Runs are
// independent of each other and of the caller of Start: the request that
// started a run may end long before the run does.
//
// On a terminal outcome the engine, in this order:
//  1. runs the workflow's OnFailure hook (failed runs only)
//  2. closes the output channel
//  3. releases the channel from the registry
//  4. writes the terminal status to the ledger
//
// so a client that saw the stream end and then polls the ledger never sees
// a running status for a run that will produce no more output.
type Engine struct {
	mu        sync.RWMutex
	workflows map[string]*workflowDef
	closing   bool

	ledger   store.RunStore
	registry *stream.Registry
	emitter  emit.Emitter
	metrics  *PrometheusMetrics
	logger   *slog.Logger
	newID    func() string
	opts     Options

	runsMu sync.Mutex
	runs   map[string]chan struct{} // in-flight run ID -> closed when finalized
	wg     sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// RunHandle identifies a started run.
type RunHandle struct {
	RunID    string `json:"runId"`
	Workflow string `json:"workflowName"`
}

// workflowDef is a Definition with its state type erased so workflows with
// different state types share one engine.
type workflowDef struct {
	name      string
	streaming bool
	steps     []stepDef
	newState  func(args any) (any, error)
	onFailure func(ctx context.Context, state any, err error)
}

type stepDef struct {
	name   string
	policy StepPolicy
	run    func(ctx context.Context, sc *StepContext, state any) error
}

// New creates an engine writing to ledger and registering output channels
// in registry.
//
// Example:
//
//	engine, err := workflow.New(store.NewMemStore(), stream.NewRegistry(),
//	    workflow.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
func New(ledger store.RunStore, registry *stream.Registry, options ...Option) (*Engine, error) {
	if ledger == nil {
		return nil, &EngineError{Message: "run store cannot be nil", Code: "MISSING_STORE"}
	}
	if registry == nil {
		return nil, &EngineError{Message: "run registry cannot be nil", Code: "MISSING_REGISTRY"}
	}

	cfg := defaultConfig()
	for _, opt := range options {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		workflows: make(map[string]*workflowDef),
		ledger:    ledger,
		registry:  registry,
		emitter:   cfg.emitter,
		metrics:   cfg.metrics,
		logger:    cfg.logger,
		newID:     cfg.newID,
		opts:      cfg.opts,
		runs:      make(map[string]chan struct{}),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	go e.renewLeases()
	return e, nil
}

// renewLeases heartbeats the runs owned by this engine until Shutdown.
func (e *Engine) renewLeases() {
	ticker := time.NewTicker(e.opts.LeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-e.baseCtx.Done():
			return
		case <-ticker.C:
		}
		if e.Active() == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(e.baseCtx, finalizeTimeout)
		if err := e.ledger.Heartbeat(ctx, e.opts.InstanceID); err != nil {
			e.logger.Error("failed to renew run leases", "instance", e.opts.InstanceID, "error", err)
		}
		cancel()
	}
}

// InstanceID returns the owner recorded on runs started by this engine.
func (e *Engine) InstanceID() string {
	return e.opts.InstanceID
}

// Register adds def to the engine. Start accepts arguments of type S (the
// initial state) for it.
//
// Returns an EngineError when the name is empty or already registered, the
// definition has no steps, a step has no name or body, step names repeat,
// or a retry policy is invalid.
func Register[S any](e *Engine, def Definition[S]) error {
	if def.Name == "" {
		return &EngineError{Message: "workflow name cannot be empty"}
	}
	if len(def.Steps) == 0 {
		return &EngineError{Message: "workflow " + def.Name + " has no steps", Code: "NO_STEPS"}
	}

	wf := &workflowDef{
		name:      def.Name,
		streaming: def.Streaming,
		newState: func(args any) (any, error) {
			switch v := args.(type) {
			case S:
				return &v, nil
			case *S:
				if v == nil {
					return nil, fmt.Errorf("%w: nil %T", ErrInvalidArgs, v)
				}
				cp := *v
				return &cp, nil
			default:
				var zero S
				return nil, fmt.Errorf("%w: workflow %s expects %T, got %T", ErrInvalidArgs, def.Name, zero, args)
			}
		},
	}
	if def.OnFailure != nil {
		onFailure := def.OnFailure
		wf.onFailure = func(ctx context.Context, state any, err error) {
			onFailure(ctx, state.(*S), err)
		}
	}

	seen := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step.Name == "" || step.Run == nil {
			return &EngineError{Message: "workflow " + def.Name + " has a step without name or body", Code: "INVALID_STEP"}
		}
		if seen[step.Name] {
			return &EngineError{Message: "duplicate step name: " + step.Name, Code: "DUPLICATE_STEP"}
		}
		seen[step.Name] = true

		if rp := step.Policy.RetryPolicy; rp != nil {
			if err := rp.Validate(); err != nil {
				return fmt.Errorf("step %s: %w", step.Name, err)
			}
		}

		run := step.Run
		wf.steps = append(wf.steps, stepDef{
			name:   step.Name,
			policy: step.Policy,
			run: func(ctx context.Context, sc *StepContext, state any) error {
				return run(ctx, sc, state.(*S))
			},
		})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[def.Name]; exists {
		return &EngineError{Message: "duplicate workflow: " + def.Name, Code: "DUPLICATE_WORKFLOW"}
	}
	e.workflows[def.Name] = wf
	return nil
}

// Start launches a run of the named workflow and returns without waiting
// for any step to execute.
//
// The ledger row (status running, step index 0) and, for streaming
// workflows, the registry entry exist when Start returns, so the caller can
// hand the run ID to a client that attaches immediately. Step failures are
// never returned here; they are recorded in the ledger.
func (e *Engine) Start(ctx context.Context, name string, args any) (RunHandle, error) {
	// Held until the run goroutine is accounted for in wg so Shutdown cannot
	// miss it.
	e.mu.RLock()
	defer e.mu.RUnlock()

	wf, ok := e.workflows[name]
	if e.closing {
		return RunHandle{}, ErrEngineClosed
	}
	if !ok {
		return RunHandle{}, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}

	state, err := wf.newState(args)
	if err != nil {
		return RunHandle{}, err
	}

	runID := e.newID()

	// Listed as local before the row exists, so RecoverInterrupted never
	// takes a run that is still starting for an orphan.
	done := make(chan struct{})
	e.runsMu.Lock()
	e.runs[runID] = done
	e.runsMu.Unlock()
	abandon := func() {
		e.runsMu.Lock()
		delete(e.runs, runID)
		e.runsMu.Unlock()
		close(done)
	}

	if err := e.ledger.CreateRun(ctx, store.Run{ID: runID, Workflow: wf.name, Owner: e.opts.InstanceID}); err != nil {
		abandon()
		return RunHandle{}, fmt.Errorf("create run: %w", err)
	}

	var ch *stream.Channel
	if wf.streaming {
		ch = stream.NewChannel(runID)
		if err := e.registry.Register(runID, ch); err != nil {
			e.finish(runID, store.StatusFailed, err.Error())
			abandon()
			return RunHandle{}, fmt.Errorf("register run: %w", err)
		}
	}

	// The run outlives the request that started it but keeps its values
	// (trace context, request-scoped loggers).
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(e.baseCtx, cancel)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.runsMu.Lock()
			delete(e.runs, runID)
			e.runsMu.Unlock()
			close(done)
		}()
		defer stop()
		defer cancel()
		e.execute(runCtx, wf, runID, state, ch)
	}()

	return RunHandle{RunID: runID, Workflow: wf.name}, nil
}

// execute runs every step of one run and finalizes it.
func (e *Engine) execute(ctx context.Context, wf *workflowDef, runID string, state any, ch *stream.Channel) {
	start := time.Now()
	e.metrics.runStarted(wf.name)
	e.emitter.Emit(emit.Event{RunID: runID, Workflow: wf.name, Step: -1, Msg: emit.MsgRunStart})

	var runErr error
	for i, step := range wf.steps {
		if err := e.runStep(ctx, wf, runID, i, step, state, ch); err != nil {
			runErr = fmt.Errorf("step %s: %w", step.name, err)
			break
		}
		if err := e.ledger.AdvanceStep(ctx, runID, i+1); err != nil {
			runErr = fmt.Errorf("advance to step %d: %w", i+1, err)
			break
		}
	}

	status := store.StatusCompleted
	errMsg := ""
	if runErr != nil {
		status = store.StatusFailed
		errMsg = runErr.Error()
		if wf.onFailure != nil {
			e.runFailureHook(ctx, wf, runID, state, runErr)
		}
	}

	if ch != nil {
		if err := ch.Close(); err != nil {
			// Only the engine closes output channels.
			panic(fmt.Sprintf("workflow: output channel of run %s closed twice", runID))
		}
		e.emitter.Emit(emit.Event{
			RunID: runID, Workflow: wf.name, Step: -1, Msg: emit.MsgStreamClosed,
			Meta: map[string]any{"chunks": ch.Len()},
		})
		e.registry.Release(runID, e.opts.ReleaseGrace)
	}

	e.finish(runID, status, errMsg)
	e.metrics.runFinished(wf.name, string(status))

	meta := map[string]any{"duration_ms": time.Since(start).Milliseconds()}
	msg := emit.MsgRunComplete
	if runErr != nil {
		msg = emit.MsgRunFailed
		meta["error"] = errMsg
	}
	e.emitter.Emit(emit.Event{RunID: runID, Workflow: wf.name, Step: -1, Msg: msg, Meta: meta})
}

// runStep executes one step with its retry policy and records the outcome.
func (e *Engine) runStep(ctx context.Context, wf *workflowDef, runID string, index int, step stepDef, state any, ch *stream.Channel) error {
	policy := step.policy.RetryPolicy
	if policy == nil {
		policy = &RetryPolicy{MaxRetries: e.opts.DefaultMaxRetries}
	}
	maxAttempts := policy.MaxRetries + 1

	var err error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		sc := &StepContext{
			RunID:    runID,
			Workflow: wf.name,
			Step:     step.name,
			Index:    index,
			Attempt:  attempt,
			channel:  ch,
			onWrite:  func() { e.metrics.chunkAppended(wf.name) },
		}

		e.emitter.Emit(emit.Event{RunID: runID, Workflow: wf.name, Step: index, StepName: step.name, Attempt: attempt, Msg: emit.MsgStepStart})
		started := time.Now()
		err = e.invoke(ctx, step, sc, state)
		elapsed := time.Since(started)

		if err == nil {
			e.metrics.recordStepLatency(wf.name, step.name, elapsed, "success")
			e.emitter.Emit(emit.Event{
				RunID: runID, Workflow: wf.name, Step: index, StepName: step.name, Attempt: attempt,
				Msg: emit.MsgStepComplete, Meta: map[string]any{"duration_ms": elapsed.Milliseconds()},
			})
			e.saveStepRecord(runID, index, step.name, attempt, store.StatusCompleted, "")
			return nil
		}
		e.metrics.recordStepLatency(wf.name, step.name, elapsed, "error")

		if attempt >= maxAttempts || !policy.retryable(err) || ctx.Err() != nil {
			break
		}

		e.metrics.incrementRetries(wf.name, step.name)
		e.emitter.Emit(emit.Event{
			RunID: runID, Workflow: wf.name, Step: index, StepName: step.name, Attempt: attempt,
			Msg: emit.MsgStepRetry, Meta: map[string]any{"error": err.Error()},
		})

		if delay := computeBackoff(attempt-1, policy.BaseDelay, policy.MaxDelay); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				err = errors.Join(err, ctx.Err())
				attempt = maxAttempts
			}
		}
	}

	e.emitter.Emit(emit.Event{
		RunID: runID, Workflow: wf.name, Step: index, StepName: step.name, Attempt: attempt,
		Msg: emit.MsgStepFailed, Meta: map[string]any{"error": err.Error(), "fatal": IsFatal(err)},
	})
	e.saveStepRecord(runID, index, step.name, attempt, store.StatusFailed, err.Error())
	return err
}

// invoke runs a single attempt, applying the step timeout and turning a
// panic into a PanicError.
func (e *Engine) invoke(ctx context.Context, step stepDef, sc *StepContext, state any) (err error) {
	timeout := step.policy.Timeout
	if timeout == 0 {
		timeout = e.opts.DefaultStepTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return step.run(ctx, sc, state)
}

func (e *Engine) runFailureHook(ctx context.Context, wf *workflowDef, runID string, state any, runErr error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("workflow failure hook panicked",
				"run_id", runID, "workflow", wf.name, "panic", r)
		}
	}()
	// The failure branch must run even when the run was cancelled.
	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	wf.onFailure(hookCtx, state, runErr)
}

func (e *Engine) saveStepRecord(runID string, index int, name string, attempts int, status store.RunStatus, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	rec := store.StepRecord{
		RunID:      runID,
		Index:      index,
		Name:       name,
		Attempts:   attempts,
		Status:     status,
		Error:      errMsg,
		FinishedAt: time.Now().UTC(),
	}
	if err := e.ledger.SaveStepRecord(ctx, rec); err != nil {
		e.logger.Error("failed to save step record", "run_id", runID, "step", name, "error", err)
	}
}

func (e *Engine) finish(runID string, status store.RunStatus, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := e.ledger.FinishRun(ctx, runID, status, errMsg); err != nil {
		e.logger.Error("failed to finish run", "run_id", runID, "status", status, "error", err)
	}
}

// Wait blocks until runID reaches a terminal status in this process, or ctx
// is done, and returns its ledger row. Runs that are not executing here are
// read from the ledger directly.
func (e *Engine) Wait(ctx context.Context, runID string) (store.Run, error) {
	e.runsMu.Lock()
	done, ok := e.runs[runID]
	e.runsMu.Unlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return store.Run{}, ctx.Err()
		}
	}
	return e.ledger.GetRun(ctx, runID)
}

// Active returns the number of runs executing in this process.
func (e *Engine) Active() int {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	return len(e.runs)
}

// Shutdown stops accepting new runs and waits for in-flight runs to finish.
// If ctx expires first, the remaining runs are cancelled, which fails them,
// and Shutdown returns ctx.Err() once they have been finalized.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

// interruptedError is the failure reason recorded on recovered runs.
const interruptedError = "interrupted: process stopped before the run finished"

// RecoverInterrupted fails ledger rows left running by a process that is
// gone and returns how many it changed.
//
// Run registrations and goroutines do not survive a restart, so such runs
// will never progress. A row counts as orphaned when this instance owns it
// but is not executing it (a previous process with the same InstanceID), or
// when its owner has not renewed the lease within LeaseTTL. Runs of other
// live engines on a shared ledger are left alone. Call it at startup,
// before Start; calling it again later picks up engines that died since.
func (e *Engine) RecoverInterrupted(ctx context.Context) (int, error) {
	runs, err := e.ledger.ListRuns(ctx, store.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running runs: %w", err)
	}

	staleBefore := time.Now().Add(-e.opts.LeaseTTL)
	recovered := 0
	for _, run := range runs {
		e.runsMu.Lock()
		_, local := e.runs[run.ID]
		e.runsMu.Unlock()
		if local {
			continue
		}

		if run.Owner == e.opts.InstanceID {
			err = e.ledger.FinishRun(ctx, run.ID, store.StatusFailed, interruptedError)
		} else {
			err = e.ledger.ExpireRun(ctx, run.ID, staleBefore, interruptedError)
		}
		switch {
		case errors.Is(err, store.ErrAlreadyFinished), errors.Is(err, store.ErrLeaseHeld):
			continue
		case err != nil:
			return recovered, fmt.Errorf("recover run %s: %w", run.ID, err)
		}

		recovered++
		e.logger.Warn("recovered interrupted run", "run_id", run.ID, "workflow", run.Workflow, "owner", run.Owner)
		e.emitter.Emit(emit.Event{
			RunID: run.ID, Workflow: run.Workflow, Step: -1, Msg: emit.MsgRunFailed,
			Meta: map[string]any{"error": "interrupted", "recovered": true, "owner": run.Owner},
		})
	}
	return recovered, nil
}

// Workflows returns the registered workflow names.
func (e *Engine) Workflows() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.workflows))
	for name := range e.workflows {
		names = append(names, name)
	}
	return names
}
