// Package graph implements the data model of spec.md §3 (Task, dependency
// key set, target set) and the admitted-task graph of §3/§8: topological
// order with ties broken by declaration order, validated at admission.
//
// Grounded on the teacher's scriptweaver/internal/dag package (TaskNode,
// TaskGraph, NewTaskGraph/validateAcyclic), generalized from a fixed,
// immutable compile-graph to a graph whose tasks carry the richer
// dependency/target/setup/teardown/uptodate/getargs model the core
// requires, and whose cycle check covers only the explicit task_dep edges
// (setup tasks, explicit task: dependencies, and getargs-implied setup),
// since file/prefix/custom producer edges are resolved dynamically via the
// match index rather than declared up front.
package graph

import (
	"context"

	"github.com/anvil-build/anvil/internal/target"
)

// ReturnMap is the structured payload an action or up-to-date predicate may
// return; it is merged into a task's saved-values buffer (§4.3).
type ReturnMap = map[string]any

// ActionFunc is the callable form of an action (§3: "opaque callable").
// args carries the task's resolved getargs values, keyed by
// action-parameter name (§4.3).
type ActionFunc func(ctx context.Context, t *Task, args map[string]any) (ReturnMap, error)

// Action is one step of a task's ordered action sequence. Exactly one of
// Shell or Func should be set; the executor is the only place that
// interprets either (§3: "out of core's concern for semantics beyond
// success/failure and an optional return mapping").
type Action struct {
	// Shell, if non-empty, is a shell command string.
	Shell string
	// Func, if non-nil, is an opaque callable.
	Func ActionFunc
}

// UndeterminedResult is the sentinel an up-to-date predicate may return to
// mean "no opinion" (§4.1: "ignoring predicates that return undetermined").
type UndeterminedResult int

const (
	// Undetermined signals the predicate has no opinion.
	Undetermined UndeterminedResult = iota
	// DefinitelyTrue signals the predicate affirms up-to-date-ness.
	DefinitelyTrue
	// DefinitelyFalse signals the predicate forces CHANGED.
	DefinitelyFalse
)

// ValueSaver is a callable an up-to-date predicate may register during its
// evaluation (§4.1); its return map is merged into the task's saved-values
// record after a successful run.
type ValueSaver func(ctx context.Context, t *Task) (ReturnMap, error)

// PredicateView is the immutable view of a task an up-to-date predicate may
// read. It intentionally excludes any mutation hook other than
// ConfigureTask, per the design note in spec.md §9 ("uptodate callables
// that modify tasks after check time are intentionally not supported").
type PredicateView struct {
	Name         string
	Dependencies []target.Dependency
	Targets      []target.Target
}

// UpToDatePredicate is one of the accepted forms at the boundary (§6):
// constant booleans are represented via ConstPredicate; shell-strings via
// ShellPredicate; callables implement this interface directly.
type UpToDatePredicate interface {
	// Evaluate returns the predicate's verdict given the immutable task
	// view and the producer's previously stored saved values. It may
	// register value-savers via register, which the executor invokes
	// after a successful run.
	Evaluate(ctx context.Context, view PredicateView, storedValues map[string]any, register func(ValueSaver)) (UndeterminedResult, error)
}

// Configurable is implemented by an UpToDatePredicate that wants to mutate
// a task's dependency set once, at admission time (§4.1: "configure_task").
// This is the sole supported post-admission mutation.
type Configurable interface {
	ConfigureTask(t *Task)
}

// ConstPredicate is a stored boolean up-to-date predicate.
type ConstPredicate bool

func (c ConstPredicate) Evaluate(ctx context.Context, view PredicateView, stored map[string]any, register func(ValueSaver)) (UndeterminedResult, error) {
	if bool(c) {
		return DefinitelyTrue, nil
	}
	return DefinitelyFalse, nil
}

// ShellPredicate runs a shell command; a zero exit status means up-to-date.
// The actual process spawn is performed by the executor's ShellRunner, kept
// out of this package to avoid coupling the data model to os/exec.
type ShellPredicate struct {
	Command string
	Runner  func(ctx context.Context, command string) (exitCode int, err error)
}

func (s ShellPredicate) Evaluate(ctx context.Context, view PredicateView, stored map[string]any, register func(ValueSaver)) (UndeterminedResult, error) {
	if s.Runner == nil {
		return Undetermined, nil
	}
	code, err := s.Runner(ctx, s.Command)
	if err != nil {
		return Undetermined, err
	}
	if code == 0 {
		return DefinitelyTrue, nil
	}
	return DefinitelyFalse, nil
}

// GetArg points an action-parameter name at another task's saved value.
// ValueName == nil delivers the full saved-values map (§4.3: "A value-name
// of None delivers the full map").
type GetArg struct {
	ProducerTask string
	ValueName    *string
}

// Task is the uniquely named unit of work described in spec.md §3.
type Task struct {
	Name string

	Actions      []Action
	Dependencies []target.Dependency
	Targets      []target.Target

	// Setup is the ordered list of setup-task names. When this task is to
	// be executed, each setup task that has not yet run this session is
	// run immediately before this task's own actions. A setup task is also
	// an ordinary admitted task, so RunAll, RunParallel and DrainReady run
	// it on its own once it is ready, whether or not this task executes.
	Setup []string

	// Teardown actions run after the session, in reverse execution order,
	// for tasks that finished DONE.
	Teardown []Action

	UpToDate []UpToDatePredicate

	// GetArgs maps action-parameter names to (producer task, value name).
	// Resolving a GetArg implicitly adds its producer to Setup (§4.3).
	GetArgs map[string]GetArg

	// NoDefaultRun marks a group-only task. The flag is carried on the
	// task (and read from graph files), but the executor does not consult
	// it: RunAll, RunParallel and DrainReady run every admitted task,
	// including one with NoDefaultRun set.
	NoDefaultRun bool

	admissionOrder int
}

// IsGroup reports whether the task has no actions: its "execution"
// collapses to completion once its task-dependencies are satisfied (§3).
func (t *Task) IsGroup() bool { return len(t.Actions) == 0 }

// AdmissionOrder returns the task's position in the order it was admitted
// to the graph, used to break topological ties (§3, §4.3).
func (t *Task) AdmissionOrder() int { return t.admissionOrder }

// View returns the immutable view passed to up-to-date predicates.
func (t *Task) View() PredicateView {
	return PredicateView{Name: t.Name, Dependencies: t.Dependencies, Targets: t.Targets}
}

// SignatureEqual reports whether two tasks have the same canonical
// signature for TaskMerger purposes (§4.4): action list, dependency-key
// set, target-key set, and setup-task list.
func SignatureEqual(a, b *Task) bool {
	if a.Name != b.Name {
		return false
	}
	if len(a.Actions) != len(b.Actions) {
		return false
	}
	for i := range a.Actions {
		if a.Actions[i].Shell != b.Actions[i].Shell {
			return false
		}
		if (a.Actions[i].Func == nil) != (b.Actions[i].Func == nil) {
			return false
		}
	}
	if !sameKeySet(depKeys(a.Dependencies), depKeys(b.Dependencies)) {
		return false
	}
	if !sameKeySet(targetKeys(a.Targets), targetKeys(b.Targets)) {
		return false
	}
	if len(a.Setup) != len(b.Setup) {
		return false
	}
	for i := range a.Setup {
		if a.Setup[i] != b.Setup[i] {
			return false
		}
	}
	return true
}

func depKeys(deps []target.Dependency) []string {
	out := make([]string, len(deps))
	for i, d := range deps {
		out[i] = d.Key()
	}
	return out
}

func targetKeys(targets []target.Target) []string {
	out := make([]string, len(targets))
	for i, d := range targets {
		out[i] = d.Key()
	}
	return out
}

func sameKeySet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, k := range a {
		seen[k]++
	}
	for _, k := range b {
		seen[k]--
	}
	for _, v := range seen {
		if v != 0 {
			return false
		}
	}
	return true
}
