package executor

import (
	"sort"

	"github.com/anvil-build/anvil/internal/graph"
)

// ReadyTasks returns the deterministically ordered list of task names
// eligible to run: PENDING, with every declared task-dependency and
// setup-task task-dependency DONE/SKIPPED (spec.md §4.3). Ties are
// broken by ascending admission order.
func ReadyTasks(g *graph.TaskGraph, state ExecutionState) []string {
	var ready []string
	for _, t := range g.Tasks() {
		if state[t.Name] != Pending {
			continue
		}
		if allDepsSatisfied(g, state, t) {
			ready = append(ready, t.Name)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return g.Task(ready[i]).AdmissionOrder() < g.Task(ready[j]).AdmissionOrder()
	})
	return ready
}

// allDepsSatisfied implements the readiness gate of spec.md §4.3: t's own
// declared task-dependencies must be DONE/SKIPPED, and each of t's
// setup-tasks' own declared task-dependencies must be DONE/SKIPPED too —
// the setup tasks themselves need not have run yet, since they are
// materialized lazily inside the executor only once t is actually chosen
// to run.
func allDepsSatisfied(g *graph.TaskGraph, state ExecutionState, t *graph.Task) bool {
	for _, dep := range g.DeclaredTaskDependencies(t) {
		if !Satisfies(state[dep]) {
			return false
		}
	}
	for _, setupName := range EffectiveSetup(t) {
		setupTask := g.Task(setupName)
		if setupTask == nil {
			continue
		}
		for _, dep := range g.DeclaredTaskDependencies(setupTask) {
			if !Satisfies(state[dep]) {
				return false
			}
		}
	}
	return true
}

// EffectiveSetup returns t's declared setup list plus any getargs
// producers not already present, in declared order with getargs producers
// appended last, sorted for determinism (spec.md §4.3: "getargs
// implicitly adds the producer to the consumer's setup-tasks").
func EffectiveSetup(t *graph.Task) []string {
	seen := make(map[string]bool, len(t.Setup))
	out := make([]string, 0, len(t.Setup)+len(t.GetArgs))
	for _, s := range t.Setup {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	names := make([]string, 0, len(t.GetArgs))
	for _, ga := range t.GetArgs {
		names = append(names, ga.ProducerTask)
	}
	sort.Strings(names)
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// FailAndPropagate transitions taskName from RUNNING to FAILED with the
// given cause, then transitively marks every task reachable through the
// task-dependency edge set as FAILED too (they can never become ready),
// recording cause "upstream failed" for each. Traversal order is
// deterministic (ascending admission order) so repeated runs produce an
// identical reason map.
//
// Grounded on the teacher's dag.FailAndPropagate (BFS over outgoing edges
// with a canonical-order min-heap), generalized from SKIPPED-on-downstream
// to FAILED-on-downstream since spec.md has no "can never run" state apart
// from FAILED.
func FailAndPropagate(g *graph.TaskGraph, state ExecutionState, reasons map[string]string, taskName string, cause string) error {
	if err := state.Transition(taskName, Running, Failed); err != nil {
		return err
	}
	reasons[taskName] = cause

	dependents := reverseEdges(g)

	visited := map[string]bool{taskName: true}
	queue := dependents[taskName]
	for len(queue) > 0 {
		sort.Slice(queue, func(i, j int) bool {
			return g.Task(queue[i]).AdmissionOrder() < g.Task(queue[j]).AdmissionOrder()
		})
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true

		if state[name] == Pending {
			state[name] = Failed
			reasons[name] = "upstream failed"
		}
		queue = append(queue, dependents[name]...)
	}
	return nil
}

func reverseEdges(g *graph.TaskGraph) map[string][]string {
	rev := make(map[string][]string)
	for _, t := range g.Tasks() {
		for _, dep := range g.TaskDependencyEdges(t) {
			rev[dep] = append(rev[dep], t.Name)
		}
	}
	return rev
}
