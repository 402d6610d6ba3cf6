// Package uptodate implements the up-to-date decision engine of spec.md
// §4.1: a single check(task) call combining dependency witnesses,
// up-to-date predicates, and dependency-set drift into one verdict, plus
// the post-run witness/value-saver commit.
//
// Grounded on the teacher's scriptweaver/internal/core.Resolver +
// internal/dag state-machine transition guards for the overall
// "short-circuiting procedure producing a reasoned verdict" shape,
// generalized from a single content hash comparison to the ordered,
// multi-signal procedure spec.md §4.1 requires.
package uptodate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/store"
	"github.com/anvil-build/anvil/internal/target"
	"github.com/anvil-build/anvil/internal/witness"
)

// nowFunc is indirected for deterministic tests.
var nowFunc = func() time.Time { return time.Now().UTC() }

// Verdict is the engine's decision for one task.
type Verdict int

const (
	// UpToDate means the task need not run.
	UpToDate Verdict = iota
	// Changed means the task must run.
	Changed
)

func (v Verdict) String() string {
	if v == UpToDate {
		return "UP_TO_DATE"
	}
	return "CHANGED"
}

// Result carries the verdict, a human-readable reason, and the value-saver
// callables registered by predicates during evaluation (§4.1).
type Result struct {
	Verdict Verdict
	Reason  string
	Savers  []graph.ValueSaver
}

// Engine evaluates check(task) against a Store of prior run state.
type Engine struct {
	store store.Store
	graph *graph.TaskGraph
}

// NewEngine constructs an engine backed by s.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// SetGraph attaches g so a task_dep dependency's witness can be resolved
// from its producer's own definition and committed saved values, instead
// of the zero witness target.TaskDependency reports on its own (§4.1,
// "Getargs" scenario: a producer's changed saved value must invalidate
// its task_dep consumers even when their own file inputs are unchanged).
// Engines constructed without a graph keep the old always-zero witness.
func (e *Engine) SetGraph(g *graph.TaskGraph) { e.graph = g }

// Check implements the ordered procedure of spec.md §4.1. ctx governs any
// filesystem or predicate I/O the check performs.
func (e *Engine) Check(ctx context.Context, t *graph.Task) (Result, error) {
	if len(t.Dependencies) == 0 && len(t.UpToDate) == 0 {
		return Result{Verdict: Changed, Reason: "no inputs declared"}, nil
	}

	for _, tg := range t.Targets {
		exists, err := tg.Exists(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("checking target %q existence: %w", tg.Key(), err)
		}
		if !exists {
			return Result{Verdict: Changed, Reason: fmt.Sprintf("target %q is missing", tg.Key())}, nil
		}
	}

	rec, _, err := e.store.Get(t.Name)
	if err != nil {
		return Result{}, fmt.Errorf("loading stored record for %q: %w", t.Name, err)
	}

	var savers []graph.ValueSaver
	register := func(s graph.ValueSaver) { savers = append(savers, s) }

	sawDefiniteTrue := false
	for _, pred := range t.UpToDate {
		verdict, err := pred.Evaluate(ctx, t.View(), rec.Values, register)
		if err != nil {
			return Result{}, fmt.Errorf("evaluating up-to-date predicate for %q: %w", t.Name, err)
		}
		switch verdict {
		case graph.DefinitelyFalse:
			return Result{Verdict: Changed, Reason: "up-to-date predicate reported stale", Savers: savers}, nil
		case graph.DefinitelyTrue:
			sawDefiniteTrue = true
		case graph.Undetermined:
			// no opinion; continue
		}
	}
	_ = sawDefiniteTrue // a definite true is recorded but does not alone force UP_TO_DATE (§4.1)

	if drift := depSetDrift(t, rec); drift {
		return Result{Verdict: Changed, Reason: "dependency set changed since last run", Savers: savers}, nil
	}

	for _, dep := range t.Dependencies {
		stored, ok := rec.Witnesses[dep.Key()]
		if !ok {
			return Result{Verdict: Changed, Reason: fmt.Sprintf("no stored witness for dependency %q", dep.Key()), Savers: savers}, nil
		}
		cur, err := e.witnessFor(ctx, dep)
		if err != nil {
			return Result{}, fmt.Errorf("checking dependency %q: %w", dep.Key(), err)
		}
		if !cur.Equal(stored) {
			return Result{Verdict: Changed, Reason: fmt.Sprintf("dependency %q modified", dep.Key()), Savers: savers}, nil
		}
	}

	return Result{Verdict: UpToDate, Reason: "all dependencies unchanged", Savers: savers}, nil
}

func depSetDrift(t *graph.Task, rec store.Record) bool {
	if len(rec.Witnesses) == 0 {
		return len(t.Dependencies) > 0
	}
	current := make(map[string]bool, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		current[dep.Key()] = true
	}
	if len(current) != len(rec.Witnesses) {
		return true
	}
	for k := range rec.Witnesses {
		if !current[k] {
			return true
		}
	}
	return false
}

// Commit re-queries every dependency's current witness and invokes every
// registered value-saver, then persists the result atomically (§4.1:
// "after a successful execution ... writes them atomically to the
// store"). Call this only after the task's actions have all succeeded.
// actionValues carries the merged return maps from the task's own actions
// (§4.3); value-saver return maps are merged on top of them.
func (e *Engine) Commit(ctx context.Context, t *graph.Task, savers []graph.ValueSaver, actionValues map[string]any) error {
	rec := store.Record{
		Witnesses:   make(map[string]witness.Witness, len(t.Dependencies)),
		Values:      make(map[string]any, len(actionValues)),
		LastSuccess: nowFunc(),
	}
	for k, v := range actionValues {
		rec.Values[k] = v
	}

	for _, dep := range t.Dependencies {
		w, err := e.witnessFor(ctx, dep)
		if err != nil {
			return fmt.Errorf("re-querying witness for dependency %q: %w", dep.Key(), err)
		}
		rec.Witnesses[dep.Key()] = w
	}

	for _, saver := range savers {
		vals, err := saver(ctx, t)
		if err != nil {
			return fmt.Errorf("running value-saver for task %q: %w", t.Name, err)
		}
		for k, v := range vals {
			rec.Values[k] = v
		}
	}

	if err := e.store.Upsert(t.Name, rec); err != nil {
		return fmt.Errorf("committing state for task %q: %w", t.Name, err)
	}
	return nil
}

// witnessFor resolves dep's current witness, special-casing task_dep
// dependencies (see SetGraph) so they reflect the producer's definition
// and committed saved values rather than target.TaskDependency's own
// always-zero stub.
func (e *Engine) witnessFor(ctx context.Context, dep target.Dependency) (witness.Witness, error) {
	if td, ok := dep.(target.TaskDependency); ok && e.graph != nil {
		return e.taskDependencyWitness(td)
	}
	return dep.Witness(ctx)
}

func (e *Engine) taskDependencyWitness(td target.TaskDependency) (witness.Witness, error) {
	producer := e.graph.Task(td.TaskName)
	if producer == nil {
		return witness.Witness{}, fmt.Errorf("task_dep %q: producer %q is not admitted", td.Key(), td.TaskName)
	}
	rec, _, err := e.store.Get(td.TaskName)
	if err != nil {
		return witness.Witness{}, err
	}
	return witness.TaskWitness(graph.TaskDefinitionHash(producer), hashSavedValues(rec.Values)), nil
}

// hashSavedValues mirrors internal/recovery's CheckpointValidator.hashValues:
// json.Marshal sorts map keys, so this is stable across map iteration order
// for a given value set.
func hashSavedValues(values map[string]any) string {
	b, err := json.Marshal(values)
	if err != nil {
		b = []byte("invalid")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
