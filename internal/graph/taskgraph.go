package graph

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/anvil-build/anvil/internal/target"
)

// TaskGraph is the admitted, validated set of tasks for one session.
// Grounded on the teacher's scriptweaver/internal/dag.TaskGraph
// (NewTaskGraph, validateAcyclic, topoOrderIndices): same Kahn's-algorithm
// cycle check and same min-heap admission-order tiebreak, generalized to
// admit Task values carrying the richer dependency/target model instead of
// a fixed command string. Unlike the teacher's compile-time-fixed graph,
// tasks may also be admitted after construction (AddTask/ReplaceTask) —
// the reactive controller (spec.md §4.4) admits generator output between
// fixed-point passes, serialized against any concurrent executor reads by
// mu.
type TaskGraph struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	order   []string // admission order, by name
	targets map[string]string // target key -> owning task name, for the disjoint-exact invariant
}

// NewTaskGraph builds and validates a graph from tasks, admitted in the
// given order. It returns an error for duplicate names, for two tasks
// declaring the same exact target key, for a setup/task-dependency edge to
// an unknown task, and for any cycle in the explicit task_dep edge set.
func NewTaskGraph(tasks []*Task) (*TaskGraph, error) {
	g := &TaskGraph{
		tasks:   make(map[string]*Task, len(tasks)),
		order:   make([]string, 0, len(tasks)),
		targets: make(map[string]string),
	}

	for i, t := range tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("task at position %d has an empty name", i)
		}
		if _, dup := g.tasks[t.Name]; dup {
			return nil, fmt.Errorf("duplicate task name %q", t.Name)
		}
		t.admissionOrder = i
		g.tasks[t.Name] = t
		g.order = append(g.order, t.Name)
	}

	for _, t := range tasks {
		for _, tg := range t.Targets {
			if tg.MatchStrategy() != target.Exact {
				continue
			}
			if owner, exists := g.targets[tg.Key()]; exists {
				return nil, fmt.Errorf("target %q is declared by both %q and %q", tg.Key(), owner, t.Name)
			}
			g.targets[tg.Key()] = t.Name
		}
	}

	if err := g.validateEdges(); err != nil {
		return nil, err
	}
	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	return g, nil
}

// Task returns the named task, or nil if absent.
func (g *TaskGraph) Task(name string) *Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tasks[name]
}

// Tasks returns all admitted tasks in admission order.
func (g *TaskGraph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Task, len(g.order))
	for i, n := range g.order {
		out[i] = g.tasks[n]
	}
	return out
}

// AddTask admits a newly produced task (spec.md §4.4, TaskMerger's ADD
// outcome). Its explicit edges (Setup, task: dependencies, GetArgs
// producers) must all reference already-admitted tasks — a brand new task
// cannot yet be depended on by anything, so this can never introduce a
// cycle — and its exact targets must not collide with an existing owner.
func (g *TaskGraph) AddTask(t *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.Name == "" {
		return fmt.Errorf("admitted task has an empty name")
	}
	if _, dup := g.tasks[t.Name]; dup {
		return fmt.Errorf("duplicate task name %q", t.Name)
	}
	for _, tg := range t.Targets {
		if tg.MatchStrategy() != target.Exact {
			continue
		}
		if owner, exists := g.targets[tg.Key()]; exists {
			return fmt.Errorf("target %q is declared by both %q and %q", tg.Key(), owner, t.Name)
		}
	}
	for _, dep := range g.explicitEdges(t) {
		if _, ok := g.tasks[dep]; !ok {
			return fmt.Errorf("task %q depends on unknown task %q", t.Name, dep)
		}
	}

	t.admissionOrder = len(g.order)
	g.tasks[t.Name] = t
	g.order = append(g.order, t.Name)
	for _, tg := range t.Targets {
		if tg.MatchStrategy() == target.Exact {
			g.targets[tg.Key()] = t.Name
		}
	}
	return nil
}

// ReplaceTask swaps the definition of an already-admitted task in place,
// preserving its admission-order tiebreak (spec.md §4.4, TaskMerger's
// UPDATE outcome). Callers (the reactive controller) are responsible for
// only replacing tasks that are not yet RUNNING or terminal.
func (g *TaskGraph) ReplaceTask(t *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok := g.tasks[t.Name]
	if !ok {
		return fmt.Errorf("cannot replace unknown task %q", t.Name)
	}
	for _, dep := range g.explicitEdges(t) {
		if _, ok := g.tasks[dep]; !ok {
			return fmt.Errorf("task %q depends on unknown task %q", t.Name, dep)
		}
	}
	for _, tg := range existing.Targets {
		if tg.MatchStrategy() == target.Exact && g.targets[tg.Key()] == t.Name {
			delete(g.targets, tg.Key())
		}
	}
	for _, tg := range t.Targets {
		if tg.MatchStrategy() != target.Exact {
			continue
		}
		if owner, exists := g.targets[tg.Key()]; exists && owner != t.Name {
			return fmt.Errorf("target %q is declared by both %q and %q", tg.Key(), owner, t.Name)
		}
	}

	t.admissionOrder = existing.admissionOrder
	g.tasks[t.Name] = t
	for _, tg := range t.Targets {
		if tg.MatchStrategy() == target.Exact {
			g.targets[tg.Key()] = t.Name
		}
	}
	return nil
}

// explicitEdges returns, for each task, the names of tasks it explicitly
// depends on: its Setup list, any TaskDependency-kind Dependencies, and
// its GetArgs producers.
func (g *TaskGraph) explicitEdges(t *Task) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, s := range t.Setup {
		add(s)
	}
	for _, dep := range t.Dependencies {
		if strings.HasPrefix(dep.Key(), "task:") {
			add(strings.TrimPrefix(dep.Key(), "task:"))
		}
	}
	for _, ga := range t.GetArgs {
		add(ga.ProducerTask)
	}
	return out
}

// TaskDependencyEdges returns the names of tasks t explicitly depends on
// (its Setup list, any TaskDependency-kind Dependencies, and its GetArgs
// producers), for use by admission-time cycle validation (§3). This
// superset is intentionally wider than DeclaredTaskDependencies: a cycle
// through a setup-task or getargs edge is still invalid even though those
// edges do not gate scheduler readiness.
func (g *TaskGraph) TaskDependencyEdges(t *Task) []string {
	return g.explicitEdges(t)
}

// DeclaredTaskDependencies returns the task names named by t's own
// TaskDependency-kind Dependencies entries only — not its Setup list, not
// its GetArgs producers. This is the edge set the scheduler's readiness
// check gates on directly (§4.3); setup-tasks are materialized lazily
// rather than required to have already run.
func (g *TaskGraph) DeclaredTaskDependencies(t *Task) []string {
	var out []string
	for _, dep := range t.Dependencies {
		if strings.HasPrefix(dep.Key(), "task:") {
			out = append(out, strings.TrimPrefix(dep.Key(), "task:"))
		}
	}
	return out
}

func (g *TaskGraph) validateEdges() error {
	for _, name := range g.order {
		t := g.tasks[name]
		for _, dep := range g.explicitEdges(t) {
			if _, ok := g.tasks[dep]; !ok {
				return fmt.Errorf("task %q depends on unknown task %q", name, dep)
			}
		}
	}
	return nil
}

// validateAcyclic runs Kahn's algorithm over the explicit task_dep edge set
// and returns an error naming a participant task if a cycle remains once no
// more zero-indegree nodes can be removed.
func (g *TaskGraph) validateAcyclic() error {
	indegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, name := range g.order {
		indegree[name] = 0
	}
	for _, name := range g.order {
		for _, dep := range g.explicitEdges(g.tasks[name]) {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	pq := &nameHeap{}
	for _, name := range g.order {
		if indegree[name] == 0 {
			heap.Push(pq, indexedName{name: name, order: g.tasks[name].admissionOrder})
		}
	}

	removed := 0
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(indexedName)
		removed++
		for _, dep := range dependents[cur.name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				heap.Push(pq, indexedName{name: dep, order: g.tasks[dep].admissionOrder})
			}
		}
	}

	if removed != len(g.order) {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return fmt.Errorf("cycle detected among tasks: %v", stuck)
	}
	return nil
}

// TopoOrder returns the admitted tasks in a topological order over the
// explicit task_dep edge set, breaking ties by ascending admission order.
func (g *TaskGraph) TopoOrder() ([]*Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	indegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, name := range g.order {
		indegree[name] = 0
	}
	for _, name := range g.order {
		for _, dep := range g.explicitEdges(g.tasks[name]) {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	pq := &nameHeap{}
	for _, name := range g.order {
		if indegree[name] == 0 {
			heap.Push(pq, indexedName{name: name, order: g.tasks[name].admissionOrder})
		}
	}

	out := make([]*Task, 0, len(g.order))
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(indexedName)
		out = append(out, g.tasks[cur.name])
		for _, dep := range dependents[cur.name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				heap.Push(pq, indexedName{name: dep, order: g.tasks[dep].admissionOrder})
			}
		}
	}

	if len(out) != len(g.order) {
		return nil, fmt.Errorf("cycle detected while computing topological order")
	}
	return out, nil
}

// Hash returns a content hash over the currently admitted task set:
// each task's name, action shells, and dependency/target key sets, in
// admission order. Two graphs with the same admitted tasks in the same
// order hash equal regardless of how they were built; a graph mutated by
// AddTask/ReplaceTask hashes differently once the mutation lands. Used to
// detect whether a resumed run's graph matches the one that failed
// (internal/recovery.ResumeEligibilityChecker).
//
// Grounded on the teacher's scriptweaver/internal/dag.TaskGraph.computeGraphHash:
// same length-prefixed-field sha256 accumulation, generalized from a
// fixed node/edge index pair to this graph's name/action/key-set fields.
func (g *TaskGraph) Hash() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	h := sha256.New()
	for _, name := range g.order {
		writeTaskFields(h, g.tasks[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TaskDefinitionHash returns a content hash over a single task's own name,
// action shells, and dependency/target key sets — the same per-task field
// set Hash folds over the whole graph, factored out so a task_dep
// dependency's witness can key off just its producer's definition
// (internal/uptodate's engine, spec.md §3/§4.1).
func TaskDefinitionHash(t *Task) string {
	h := sha256.New()
	writeTaskFields(h, t)
	return hex.EncodeToString(h.Sum(nil))
}

func writeTaskFields(h io.Writer, t *Task) {
	writeField := func(s string) {
		var lenBytes [8]byte
		n := uint64(len(s))
		for i := 0; i < 8; i++ {
			lenBytes[i] = byte(n >> (56 - 8*i))
		}
		h.Write(lenBytes[:])
		h.Write([]byte(s))
	}

	writeField(t.Name)
	for _, a := range t.Actions {
		writeField(a.Shell)
	}
	depKeys := depKeys(t.Dependencies)
	sort.Strings(depKeys)
	for _, k := range depKeys {
		writeField(k)
	}
	tgtKeys := targetKeys(t.Targets)
	sort.Strings(tgtKeys)
	for _, k := range tgtKeys {
		writeField(k)
	}
}

type indexedName struct {
	name  string
	order int
}

type nameHeap []indexedName

func (h nameHeap) Len() int            { return len(h) }
func (h nameHeap) Less(i, j int) bool  { return h[i].order < h[j].order }
func (h nameHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nameHeap) Push(x interface{}) { *h = append(*h, x.(indexedName)) }
func (h *nameHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
