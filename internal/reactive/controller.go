// Package reactive implements the fixed-point controller of spec.md §4.4:
// it drives generators, merges their produced tasks into the admitted set
// (TaskMerger), and re-invokes affected generators as new target keys are
// published, until a pass produces no ADD/UPDATE outcome or max_tasks is
// hit.
//
// Grounded on the teacher's cyclic-discovery note in spec.md's REDESIGN
// FLAGS ("append-only store of targets plus an event queue of newly
// published keys; never mutual in-place references") and on agentkit's
// bus.MemoryBus for the published-key event stream shape (SPEC_FULL.md
// §10), since the teacher itself has no generator/reactive concept to
// adapt from — script-weaver's task set is fixed at compile time.
package reactive

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/match"
	"github.com/anvil-build/anvil/internal/target"
	"github.com/anvil-build/anvil/internal/trace"
)

// Generator is the contract the controller consumes (spec.md §4.5).
type Generator interface {
	// ID returns a stable identifier used to de-duplicate regeneration
	// requests within one fixed-point step.
	ID() match.GeneratorID

	// InputPatternKeys returns the (key-pattern, strategy) pairs to
	// register in the affected-generators index.
	InputPatternKeys() []target.Target

	// Generate must be deterministic for a given external world, may
	// produce zero tasks, and must terminate.
	Generate(ctx context.Context) ([]*graph.Task, error)
}

// TaskStatus is the caller-reported lifecycle bucket a task currently
// occupies, coarse enough for TaskMerger's decision rule (spec.md §4.4).
type TaskStatus int

const (
	// StatusUnadmitted means the name has never been admitted.
	StatusUnadmitted TaskStatus = iota
	// StatusPending means admitted but not yet RUNNING or terminal.
	StatusPending
	// StatusRunningOrDone means RUNNING or any terminal state.
	StatusRunningOrDone
)

// ExecutorAdapter is the bridge the controller uses to drive the executor
// between fixed-point passes without the reactive package depending on
// the executor's concrete scheduling types.
type ExecutorAdapter interface {
	// Admit adds a newly produced task to the executor's graph as PENDING.
	Admit(t *graph.Task) error
	// Replace swaps the definition of a not-yet-running admitted task.
	Replace(t *graph.Task) error
	// Status reports the current lifecycle bucket for taskName.
	Status(taskName string) TaskStatus
	// DriveToReadyEmpty runs the executor until its ready queue is empty
	// and returns every target key it published during that drive.
	DriveToReadyEmpty(ctx context.Context) ([]string, error)
}

// Outcome is the controller's terminal verdict (spec.md §4.4).
type Outcome int

const (
	Converged Outcome = iota
	HitLimit
)

func (o Outcome) String() string {
	if o == Converged {
		return "converged"
	}
	return "hit_limit"
}

// MergeAction records what TaskMerger decided for one produced task name.
type MergeAction int

const (
	MergeAdd MergeAction = iota
	MergeSkip
	MergeUpdate
	MergeConflict
)

// Controller runs the reactive fixed-point loop over a set of generators.
type Controller struct {
	generators map[match.GeneratorID]Generator
	genIndex   *match.GeneratorIndex
	adapter    ExecutorAdapter
	maxTasks   int

	admitted       map[string]*graph.Task
	regenerations  int
	conflicts      []string
	admittedCount  int

	trace  trace.Sink
	events *EventStream
	logger *log.Logger
}

// SetTraceSink attaches sink; every generator invocation and the final
// convergence/limit verdict is recorded through it (spec.md §11). Passing
// nil disables trace recording; safe to call before Run.
func (c *Controller) SetTraceSink(sink trace.Sink) { c.trace = sink }

// SetEventStream attaches s; every target key the controller drains from
// the executor between passes is republished on s so external observers
// can watch the fixed-point loop converge (SPEC_FULL.md §10). Passing nil
// disables republishing.
func (c *Controller) SetEventStream(s *EventStream) { c.events = s }

// SetLogger attaches l for per-pass diagnostics. Passing nil disables
// logging (the zero value already does).
func (c *Controller) SetLogger(l *log.Logger) { c.logger = l }

// New constructs a controller over generators, enforcing maxTasks total
// admitted tasks (0 means unbounded).
func New(generators []Generator, adapter ExecutorAdapter, maxTasks int) *Controller {
	c := &Controller{
		generators: make(map[match.GeneratorID]Generator, len(generators)),
		genIndex:   match.NewGeneratorIndex(),
		adapter:    adapter,
		maxTasks:   maxTasks,
		admitted:   make(map[string]*graph.Task),
	}
	for _, g := range generators {
		c.generators[g.ID()] = g
		for _, pat := range g.InputPatternKeys() {
			c.genIndex.Register(pat, g.ID())
		}
	}
	return c
}

// Regenerations returns the number of affected-generator invocations made
// so far (incremented once per affected generator per fixed-point pass,
// however many drained keys matched it, spec.md §4.4).
func (c *Controller) Regenerations() int { return c.regenerations }

// Conflicts returns the log of task names whose regenerated signature
// diverged from a DONE/RUNNING admitted task (spec.md §4.4: "the
// divergence is reported").
func (c *Controller) Conflicts() []string {
	cp := make([]string, len(c.conflicts))
	copy(cp, c.conflicts)
	return cp
}

// Run drives the loop of spec.md §4.4 to completion.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	ids := make([]match.GeneratorID, 0, len(c.generators))
	for id := range c.generators {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		produced, err := c.generators[id].Generate(ctx)
		if err != nil {
			return HitLimit, fmt.Errorf("generator %q initial generate: %w", id, err)
		}
		if _, err := c.merge(produced); err != nil {
			return HitLimit, err
		}
		c.fireTrace(id, "", produced)
	}

	for {
		publishedKeys, err := c.adapter.DriveToReadyEmpty(ctx)
		if err != nil {
			return HitLimit, fmt.Errorf("driving executor: %w", err)
		}
		for _, key := range publishedKeys {
			if c.events != nil {
				c.events.Publish(key)
			}
		}

		affected := make(map[match.GeneratorID]bool)
		affectedBy := make(map[match.GeneratorID]string)
		for _, key := range publishedKeys {
			for _, id := range match.AffectedGenerators(c.genIndex, key) {
				affected[id] = true
				affectedBy[id] = key
			}
		}
		if len(affected) == 0 {
			c.fireConverged()
			return Converged, nil
		}

		affectedIDs := make([]match.GeneratorID, 0, len(affected))
		for id := range affected {
			affectedIDs = append(affectedIDs, id)
		}
		sort.Slice(affectedIDs, func(i, j int) bool { return affectedIDs[i] < affectedIDs[j] })

		totalChanges := 0
		for _, id := range affectedIDs {
			c.regenerations++
			produced, err := c.generators[id].Generate(ctx)
			if err != nil {
				return HitLimit, fmt.Errorf("generator %q regenerate: %w", id, err)
			}
			changes, err := c.merge(produced)
			if err != nil {
				return HitLimit, err
			}
			c.fireTrace(id, affectedBy[id], produced)
			totalChanges += changes
		}

		if totalChanges == 0 {
			c.fireConverged()
			return Converged, nil
		}
	}
}

// fireTrace records one GeneratorFired event. causeKey is the published
// target key that triggered a regeneration, or "" for the initial pass.
// produced is the generator's output for this call; the target keys of
// its tasks are recorded as PublishedKeys.
func (c *Controller) fireTrace(id match.GeneratorID, causeKey string, produced []*graph.Task) {
	if c.trace == nil {
		return
	}
	var keys []string
	for _, t := range produced {
		for _, tg := range t.Targets {
			keys = append(keys, tg.Key())
		}
	}
	trace.SafeRecord(c.trace, trace.TraceEvent{
		Kind:          trace.EventGeneratorFired,
		GeneratorID:   string(id),
		CauseTaskID:   causeKey,
		PublishedKeys: keys,
	})
}

func (c *Controller) fireConverged() {
	if c.trace == nil {
		return
	}
	trace.SafeRecord(c.trace, trace.TraceEvent{Kind: trace.EventConverged})
}

// merge implements TaskMerger (spec.md §4.4) and returns the number of
// ADD/UPDATE outcomes produced (the signal the fixed-point loop watches
// for convergence).
func (c *Controller) merge(produced []*graph.Task) (int, error) {
	changes := 0
	for _, t := range produced {
		action, err := c.mergeOne(t)
		if err != nil {
			return changes, err
		}
		c.logMerge(t.Name, action)
		if action == MergeAdd || action == MergeUpdate {
			changes++
		}
	}
	return changes, nil
}

// mergeOne decides and applies the TaskMerger outcome for a single
// produced task (spec.md §4.4). Newly admitted tasks are bound-checked
// one at a time so a single generator batch larger than the remaining
// budget stops exactly at max_tasks instead of overshooting it (§4.4:
// "if total admitted task count would exceed the bound, stop").
func (c *Controller) mergeOne(t *graph.Task) (MergeAction, error) {
	existing, present := c.admitted[t.Name]
	if !present {
		if c.maxTasks > 0 && c.admittedCount >= c.maxTasks {
			return MergeAdd, fmt.Errorf("admitting task %q would exceed max_tasks %d", t.Name, c.maxTasks)
		}
		c.admitted[t.Name] = t
		c.admittedCount++
		if err := c.adapter.Admit(t); err != nil {
			return MergeAdd, fmt.Errorf("admitting task %q: %w", t.Name, err)
		}
		return MergeAdd, nil
	}

	if graph.SignatureEqual(existing, t) {
		return MergeSkip, nil
	}

	if c.adapter.Status(t.Name) == StatusRunningOrDone {
		c.conflicts = append(c.conflicts, t.Name)
		return MergeConflict, nil
	}

	c.admitted[t.Name] = t
	if err := c.adapter.Replace(t); err != nil {
		return MergeUpdate, fmt.Errorf("replacing task %q: %w", t.Name, err)
	}
	return MergeUpdate, nil
}

func (c *Controller) logMerge(taskName string, action MergeAction) {
	if c.logger == nil {
		return
	}
	switch action {
	case MergeAdd:
		c.logger.Debug("generator admitted task", "task", taskName, "action", "add")
	case MergeSkip:
		c.logger.Debug("generator produced unchanged task", "task", taskName, "action", "skip")
	case MergeUpdate:
		c.logger.Debug("generator replaced task definition", "task", taskName, "action", "update")
	case MergeConflict:
		c.logger.Warn("generator output conflicts with running/finished task", "task", taskName, "action", "conflict")
	}
}
