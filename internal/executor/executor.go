package executor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/store"
	"github.com/anvil-build/anvil/internal/trace"
	"github.com/anvil-build/anvil/internal/uptodate"
)

// ShellRunner spawns a shell command and reports its exit code. The
// default implementation shells out via "sh -c"; tests may substitute a
// fake to avoid process spawn.
type ShellRunner func(ctx context.Context, command string) (exitCode int, err error)

// DefaultShellRunner runs command through "sh -c".
func DefaultShellRunner(ctx context.Context, command string) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

// Executor runs a validated graph.TaskGraph to completion, per spec.md
// §4.3. One Executor is scoped to a single session.
type Executor struct {
	graph  *graph.TaskGraph
	engine *uptodate.Engine
	store  store.Store
	shell  ShellRunner
	logger *log.Logger

	// bookMu guards state, reasons, savedValues, and doneOrder. Parallel
	// mode (RunParallel) calls ensureRun from multiple goroutines for
	// disjoint tasks; only the bookkeeping needs serializing, not the
	// blocking action execution itself (spec.md §5: single-writer
	// discipline over the store, not over in-flight actions).
	bookMu      sync.Mutex
	state       ExecutionState
	reasons     map[string]string
	savedValues map[string]graph.ReturnMap
	doneOrder   []string

	trace trace.Sink
}

// SetTraceSink attaches sink; every task-level decision (invalidated,
// cached, executed, failed, skipped-by-propagation) is recorded through it
// (spec.md §11). Passing nil disables trace recording; safe to call before
// any Run*/DrainReady call.
func (e *Executor) SetTraceSink(sink trace.Sink) { e.trace = sink }

// New constructs an Executor for g, checking up-to-date-ness through
// engine, reading getargs values for skipped producers from s, and running
// shell actions through shell (DefaultShellRunner if nil).
func New(g *graph.TaskGraph, engine *uptodate.Engine, s store.Store, shell ShellRunner, logger *log.Logger) *Executor {
	if shell == nil {
		shell = DefaultShellRunner
	}
	if logger == nil {
		logger = log.Default()
	}
	engine.SetGraph(g)
	state := make(ExecutionState, len(g.Tasks()))
	for _, t := range g.Tasks() {
		state[t.Name] = Pending
	}
	return &Executor{
		graph:       g,
		engine:      engine,
		store:       s,
		shell:       shell,
		logger:      logger,
		state:       state,
		reasons:     make(map[string]string),
		savedValues: make(map[string]graph.ReturnMap),
	}
}

// State returns a snapshot of the current execution state.
func (e *Executor) State() ExecutionState {
	e.bookMu.Lock()
	defer e.bookMu.Unlock()
	cp := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

// Reasons returns the recorded human-readable cause for each terminal
// task whose outcome was not a plain successful run.
func (e *Executor) Reasons() map[string]string {
	e.bookMu.Lock()
	defer e.bookMu.Unlock()
	cp := make(map[string]string, len(e.reasons))
	for k, v := range e.reasons {
		cp[k] = v
	}
	return cp
}

func (e *Executor) taskState(name string) State {
	e.bookMu.Lock()
	defer e.bookMu.Unlock()
	return e.state[name]
}

// RunAll drives the ready queue to completion, running setup tasks as
// needed, and then runs teardown actions in reverse execution order for
// every DONE task (spec.md §4.3).
func (e *Executor) RunAll(ctx context.Context) (ExecutionState, error) {
	for {
		ready := ReadyTasks(e.graph, e.State())
		if len(ready) == 0 {
			if e.allTerminal() {
				break
			}
			return nil, fmt.Errorf("executor stalled: no ready tasks but graph not finished")
		}
		for _, name := range ready {
			if e.taskState(name) != Pending {
				continue // may have been driven already via a setup/getargs chain
			}
			if err := e.ensureRun(ctx, name); err != nil {
				return nil, err
			}
		}
	}

	e.runTeardowns(ctx)
	return e.State(), nil
}

// DrainReady runs every currently-ready task to completion and returns the
// target keys of every task that finished DONE during this drive (the
// reactive controller's published-key signal, spec.md §4.4). Unlike
// RunAll it stops as soon as the ready queue is empty — even if tasks
// remain PENDING awaiting a producer the controller has not admitted
// yet — and never runs teardowns, since more tasks may still be admitted
// after it returns.
func (e *Executor) DrainReady(ctx context.Context) ([]string, error) {
	var published []string
	for {
		ready := ReadyTasks(e.graph, e.State())
		if len(ready) == 0 {
			return published, nil
		}
		for _, name := range ready {
			if e.taskState(name) != Pending {
				continue
			}
			if err := e.ensureRun(ctx, name); err != nil {
				return published, err
			}
			if e.taskState(name) == Done {
				published = append(published, publishedKeysFor(e.graph.Task(name))...)
			}
		}
	}
}

func publishedKeysFor(t *graph.Task) []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.Targets))
	for i, tg := range t.Targets {
		out[i] = tg.Key()
	}
	return out
}

// AdmitTask adds a newly produced task to the graph as PENDING (the
// reactive controller's ExecutorAdapter.Admit, spec.md §4.4).
func (e *Executor) AdmitTask(t *graph.Task) error {
	if err := e.graph.AddTask(t); err != nil {
		return err
	}
	e.bookMu.Lock()
	defer e.bookMu.Unlock()
	e.state[t.Name] = Pending
	return nil
}

// ReplaceTask swaps the definition of a not-yet-running admitted task
// (the reactive controller's ExecutorAdapter.Replace, spec.md §4.4). The
// caller is responsible for only replacing tasks whose TaskState is
// Pending.
func (e *Executor) ReplaceTask(t *graph.Task) error {
	return e.graph.ReplaceTask(t)
}

// TaskState returns the current execution state of taskName, or Pending
// if taskName has not been admitted (the reactive controller's
// ExecutorAdapter.Status, spec.md §4.4).
func (e *Executor) TaskState(taskName string) State {
	return e.taskState(taskName)
}

// RunTeardowns runs every DONE task's teardown actions in reverse
// execution order. Exported so callers that drive the executor
// incrementally (the reactive controller via DrainReady) can run
// teardowns exactly once, after the fixed-point loop converges, instead
// of after every drive.
func (e *Executor) RunTeardowns(ctx context.Context) {
	e.runTeardowns(ctx)
}

func (e *Executor) allTerminal() bool {
	for _, st := range e.State() {
		if !IsTerminal(st) {
			return false
		}
	}
	return true
}

// ensureRun runs taskName and everything it needs (setup tasks, getargs
// producers) if it has not already run this session (spec.md §5:
// "setup-tasks and group-tasks are idempotent within a session"). Safe to
// call concurrently for distinct, key-set-disjoint tasks (RunParallel);
// the bookkeeping state is serialized through bookMu, the potentially
// blocking action execution is not.
func (e *Executor) ensureRun(ctx context.Context, taskName string) error {
	e.bookMu.Lock()
	if IsTerminal(e.state[taskName]) {
		e.bookMu.Unlock()
		return nil
	}
	t := e.graph.Task(taskName)
	if t == nil {
		e.bookMu.Unlock()
		return fmt.Errorf("ensureRun: unknown task %q", taskName)
	}
	if err := e.state.Transition(taskName, Pending, Running); err != nil {
		e.bookMu.Unlock()
		return err
	}
	e.bookMu.Unlock()

	verdict, err := e.engine.Check(ctx, t)
	if err != nil {
		return e.failAndPropagate(taskName, fmt.Sprintf("checking up-to-date state: %v", err))
	}
	if verdict.Verdict == uptodate.UpToDate {
		e.bookMu.Lock()
		err := e.state.Transition(taskName, Running, Skipped)
		if err == nil {
			e.reasons[taskName] = "up to date: " + verdict.Reason
		}
		e.bookMu.Unlock()
		trace.SafeRecord(e.trace, trace.TraceEvent{Kind: trace.EventTaskCached, TaskID: taskName, Reason: verdict.Reason})
		return err
	}
	trace.SafeRecord(e.trace, trace.TraceEvent{Kind: trace.EventTaskInvalidated, TaskID: taskName, Reason: verdict.Reason})

	for _, setupName := range EffectiveSetup(t) {
		if err := e.ensureRun(ctx, setupName); err != nil {
			return err
		}
		if e.taskState(setupName) == Failed {
			return e.failAndPropagate(taskName, "setup task failed")
		}
	}

	actionValues, failErr := e.runActions(ctx, t)
	if failErr != nil {
		cause := failErr.Error()
		if ctx.Err() != nil {
			cause = "cancelled"
		}
		return e.failAndPropagate(taskName, cause)
	}

	if err := e.engine.Commit(ctx, t, verdict.Savers, actionValues); err != nil {
		return e.failAndPropagate(taskName, fmt.Sprintf("committing state: %v", err))
	}

	e.bookMu.Lock()
	e.savedValues[taskName] = actionValues
	if err := e.state.Transition(taskName, Running, Done); err != nil {
		e.bookMu.Unlock()
		return err
	}
	e.doneOrder = append(e.doneOrder, taskName)
	e.bookMu.Unlock()
	trace.SafeRecord(e.trace, trace.TraceEvent{Kind: trace.EventTaskExecuted, TaskID: taskName})
	return nil
}

// failAndPropagate serializes the scheduler's transitive-failure walk
// through bookMu, then emits one TaskFailed event for taskName and one
// TaskSkipped event (CauseTaskID taskName, Reason "UpstreamFailed") for
// every task the walk additionally marked FAILED — the executor's own
// state model collapses both into FAILED (neither can ever become ready),
// but the trace keeps the teacher's TaskFailed/TaskSkipped distinction
// (SPEC_FULL.md §11).
func (e *Executor) failAndPropagate(taskName, cause string) error {
	e.bookMu.Lock()
	before := make(map[string]State, len(e.state))
	for k, v := range e.state {
		before[k] = v
	}
	err := FailAndPropagate(e.graph, e.state, e.reasons, taskName, cause)
	after := make(map[string]State, len(e.state))
	for k, v := range e.state {
		after[k] = v
	}
	e.bookMu.Unlock()

	if err != nil {
		return err
	}
	trace.SafeRecord(e.trace, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: taskName, Reason: cause})
	for name, st := range after {
		if name == taskName || st != Failed || before[name] == Failed {
			continue
		}
		trace.SafeRecord(e.trace, trace.TraceEvent{
			Kind: trace.EventTaskSkipped, TaskID: name,
			Reason: "UpstreamFailed", CauseTaskID: taskName,
		})
	}
	return nil
}

// runActions executes t's actions strictly sequentially, merging their
// return maps, and resolves getargs lookups first. It returns the merged
// saved-values buffer and a non-nil error on the first action failure
// (spec.md §4.3: "subsequent actions and value-savers for that task are
// skipped").
func (e *Executor) runActions(ctx context.Context, t *graph.Task) (graph.ReturnMap, error) {
	merged := graph.ReturnMap{}

	args, err := e.resolveGetArgs(t)
	if err != nil {
		return nil, err
	}

	for i, action := range t.Actions {
		if err := ctx.Err(); err != nil {
			return merged, fmt.Errorf("action %d of %q: %w", i, t.Name, err)
		}
		vals, err := e.runAction(ctx, t, action, args)
		if err != nil {
			return merged, fmt.Errorf("action %d of %q: %w", i, t.Name, err)
		}
		for k, v := range vals {
			merged[k] = v
		}
	}
	return merged, nil
}

func (e *Executor) runAction(ctx context.Context, t *graph.Task, a graph.Action, args map[string]any) (graph.ReturnMap, error) {
	if a.Func != nil {
		return a.Func(ctx, t, args)
	}
	if a.Shell == "" {
		return nil, nil
	}
	code, err := e.shell(ctx, a.Shell)
	if err != nil {
		return nil, fmt.Errorf("running shell action: %w", err)
	}
	if code != 0 {
		return nil, fmt.Errorf("shell action exited with status %d", code)
	}
	return nil, nil
}

// resolveGetArgs reads each named value from its producer's saved-values
// record — either just committed this session, or loaded from the store
// if the producer was SKIPPED (spec.md §4.3) — fatally failing the
// consumer if the producer or value is missing. A nil ValueName delivers
// the full map.
func (e *Executor) resolveGetArgs(t *graph.Task) (map[string]any, error) {
	resolved := make(map[string]any, len(t.GetArgs))
	for argName, ga := range t.GetArgs {
		producerValues, err := e.savedValuesFor(ga.ProducerTask)
		if err != nil {
			return nil, fmt.Errorf("getargs %q: %w", argName, err)
		}
		if ga.ValueName == nil {
			resolved[argName] = producerValues
			continue
		}
		v, ok := producerValues[*ga.ValueName]
		if !ok {
			return nil, fmt.Errorf("getargs %q: producer task %q has no value %q", argName, ga.ProducerTask, *ga.ValueName)
		}
		resolved[argName] = v
	}
	return resolved, nil
}

// savedValuesFor returns a producer's saved-values map, preferring the
// in-memory buffer committed this session and falling back to the store
// for producers that were SKIPPED (never ran this session, so had nothing
// to commit).
func (e *Executor) savedValuesFor(producer string) (graph.ReturnMap, error) {
	e.bookMu.Lock()
	vals, ok := e.savedValues[producer]
	e.bookMu.Unlock()
	if ok {
		return vals, nil
	}
	if e.store == nil {
		return nil, fmt.Errorf("producer task %q has no saved values", producer)
	}
	rec, ok, err := e.store.Get(producer)
	if err != nil {
		return nil, fmt.Errorf("loading saved values for producer %q: %w", producer, err)
	}
	if !ok {
		return nil, fmt.Errorf("producer task %q has no saved values", producer)
	}
	return rec.Values, nil
}

// runTeardowns runs each DONE task's teardown actions in reverse
// execution order; teardown for FAILED tasks is skipped entirely.
func (e *Executor) runTeardowns(ctx context.Context) {
	for i := len(e.doneOrder) - 1; i >= 0; i-- {
		name := e.doneOrder[i]
		t := e.graph.Task(name)
		for _, action := range t.Teardown {
			if _, err := e.runAction(ctx, t, action, nil); err != nil {
				e.logger.Error("teardown action failed", "task", name, "error", err)
			}
		}
	}
}
