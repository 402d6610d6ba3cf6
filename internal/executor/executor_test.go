package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/store"
	"github.com/anvil-build/anvil/internal/target"
	"github.com/anvil-build/anvil/internal/trace"
	"github.com/anvil-build/anvil/internal/uptodate"
	"github.com/anvil-build/anvil/internal/witness"
)

// fakeSink records every event handed to it, for asserting what the
// executor reports through SetTraceSink.
type fakeSink struct {
	events []trace.TraceEvent
}

func (s *fakeSink) Record(e trace.TraceEvent) { s.events = append(s.events, e) }

func (s *fakeSink) kindsFor(taskID string) []trace.TraceEventKind {
	var kinds []trace.TraceEventKind
	for _, e := range s.events {
		if e.TaskID == taskID {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

func newTestExecutor(t *testing.T, tasks []*graph.Task) (*Executor, *graph.TaskGraph) {
	g, err := graph.NewTaskGraph(tasks)
	require.NoError(t, err)
	s := store.NewMemoryStore()
	eng := uptodate.NewEngine(s)
	return New(g, eng, s, nil, nil), g
}

func TestRunAll_RunsActionsInTopologicalOrder(t *testing.T) {
	var order []string
	gen := &graph.Task{
		Name: "gen",
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) {
			order = append(order, "gen")
			return nil, nil
		}}},
	}
	use := &graph.Task{
		Name:         "use",
		Dependencies: []target.Dependency{target.TaskDependency{TaskName: "gen"}},
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) {
			order = append(order, "use")
			return nil, nil
		}}},
	}

	exec, _ := newTestExecutor(t, []*graph.Task{gen, use})
	finalState, err := exec.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Done, finalState["gen"])
	require.Equal(t, Done, finalState["use"])
	require.Equal(t, []string{"gen", "use"}, order)
}

func TestRunAll_SkipsUpToDateTask(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.txt")
	outPath := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(inPath, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(outPath, []byte("y"), 0644))

	dep := target.FileDependency{Path: inPath}
	ranActions := false
	g, err := graph.NewTaskGraph([]*graph.Task{{
		Name:         "build",
		Dependencies: []target.Dependency{dep},
		Targets:      []target.Target{target.FileTarget{Path: outPath}},
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) {
			ranActions = true
			return nil, nil
		}}},
	}})
	require.NoError(t, err)

	s := store.NewMemoryStore()
	w, err := dep.Witness(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Upsert("build", store.Record{
		Witnesses: map[string]witness.Witness{dep.Key(): w},
		Values:    map[string]any{},
	}))

	eng := uptodate.NewEngine(s)
	exec := New(g, eng, s, nil, nil)
	finalState, err := exec.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Skipped, finalState["build"])
	require.False(t, ranActions)
}

func TestRunAll_GetArgsResolvesProducerValue(t *testing.T) {
	gen := &graph.Task{
		Name: "gen",
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) {
			return graph.ReturnMap{"rev": "r7"}, nil
		}}},
	}
	var gotRev string
	valueName := "rev"
	use := &graph.Task{
		Name: "use",
		GetArgs: map[string]graph.GetArg{
			"rev": {ProducerTask: "gen", ValueName: &valueName},
		},
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) {
			v, _ := args["rev"].(string)
			gotRev = v
			return nil, nil
		}}},
	}

	exec, _ := newTestExecutor(t, []*graph.Task{gen, use})
	finalState, err := exec.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Done, finalState["use"])
	require.Equal(t, "r7", gotRev)
}

func TestRunAll_FailurePropagatesToDependents(t *testing.T) {
	bad := &graph.Task{
		Name: "bad",
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) {
			return nil, errors.New("boom")
		}}},
	}
	downstream := &graph.Task{
		Name:         "downstream",
		Dependencies: []target.Dependency{target.TaskDependency{TaskName: "bad"}},
		Actions:      []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) { return nil, nil }}},
	}

	exec, _ := newTestExecutor(t, []*graph.Task{bad, downstream})
	finalState, err := exec.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Failed, finalState["bad"])
	require.Equal(t, Failed, finalState["downstream"])
	require.Equal(t, "upstream failed", exec.Reasons()["downstream"])
}

// getFailStore fails every Get, so any task whose Check must consult the
// store (i.e. one with declared inputs) fails its up-to-date check.
type getFailStore struct{ *store.MemoryStore }

func (s *getFailStore) Get(name string) (store.Record, bool, error) {
	return store.Record{}, false, errors.New("store unavailable")
}

func TestRunAll_CheckErrorFailsOnlyThatTaskIndependentTaskStillRuns(t *testing.T) {
	s := &getFailStore{MemoryStore: store.NewMemoryStore()}
	dir := t.TempDir()
	inPath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(inPath, []byte("x"), 0644))

	bad := &graph.Task{
		Name:         "bad",
		Dependencies: []target.Dependency{target.FileDependency{Path: inPath}},
		Actions:      []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) { return nil, nil }}},
	}
	indep := &graph.Task{
		Name:    "indep",
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) { return nil, nil }}},
	}

	g, err := graph.NewTaskGraph([]*graph.Task{bad, indep})
	require.NoError(t, err)
	exec := New(g, uptodate.NewEngine(s), s, nil, nil)

	finalState, err := exec.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Failed, finalState["bad"], "a Check error must demote only the checked task")
	require.Equal(t, Done, finalState["indep"], "an independent task must still run to completion")
}

// upsertFailStore fails Upsert for one named task, surfacing as a Commit
// error after that task's actions have already succeeded.
type upsertFailStore struct {
	*store.MemoryStore
	failFor string
}

func (s *upsertFailStore) Upsert(name string, rec store.Record) error {
	if name == s.failFor {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Upsert(name, rec)
}

func TestRunAll_CommitErrorFailsOnlyThatTaskIndependentTaskStillRuns(t *testing.T) {
	s := &upsertFailStore{MemoryStore: store.NewMemoryStore(), failFor: "bad"}

	bad := &graph.Task{
		Name:    "bad",
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) { return nil, nil }}},
	}
	indep := &graph.Task{
		Name:    "indep",
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) { return nil, nil }}},
	}

	g, err := graph.NewTaskGraph([]*graph.Task{bad, indep})
	require.NoError(t, err)
	exec := New(g, uptodate.NewEngine(s), s, nil, nil)

	finalState, err := exec.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Failed, finalState["bad"], "a Commit error must demote only the committed task, even though its actions already succeeded")
	require.Equal(t, Done, finalState["indep"], "an independent task must still run to completion")
}

func TestRunAll_TeardownRunsInReverseOrderForDoneTasks(t *testing.T) {
	var teardownOrder []string
	first := &graph.Task{
		Name:    "first",
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) { return nil, nil }}},
		Teardown: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) {
			teardownOrder = append(teardownOrder, "first")
			return nil, nil
		}}},
	}
	second := &graph.Task{
		Name:         "second",
		Dependencies: []target.Dependency{target.TaskDependency{TaskName: "first"}},
		Actions:      []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) { return nil, nil }}},
		Teardown: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) {
			teardownOrder = append(teardownOrder, "second")
			return nil, nil
		}}},
	}

	exec, _ := newTestExecutor(t, []*graph.Task{first, second})
	_, err := exec.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"second", "first"}, teardownOrder)
}

func TestRunAll_TraceSinkRecordsCachedForUpToDateTask(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.txt")
	outPath := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(inPath, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(outPath, []byte("y"), 0644))

	dep := target.FileDependency{Path: inPath}
	g, err := graph.NewTaskGraph([]*graph.Task{{
		Name:         "build",
		Dependencies: []target.Dependency{dep},
		Targets:      []target.Target{target.FileTarget{Path: outPath}},
		Actions:      []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) { return nil, nil }}},
	}})
	require.NoError(t, err)

	s := store.NewMemoryStore()
	w, err := dep.Witness(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Upsert("build", store.Record{
		Witnesses: map[string]witness.Witness{dep.Key(): w},
		Values:    map[string]any{},
	}))

	eng := uptodate.NewEngine(s)
	exec := New(g, eng, s, nil, nil)
	sink := &fakeSink{}
	exec.SetTraceSink(sink)

	finalState, err := exec.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Skipped, finalState["build"])
	require.Equal(t, []trace.TraceEventKind{trace.EventTaskCached}, sink.kindsFor("build"))
}

func TestRunAll_TraceSinkRecordsInvalidatedThenExecutedForChangedTask(t *testing.T) {
	gen := &graph.Task{
		Name:    "gen",
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) { return nil, nil }}},
	}

	exec, _ := newTestExecutor(t, []*graph.Task{gen})
	sink := &fakeSink{}
	exec.SetTraceSink(sink)

	finalState, err := exec.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Done, finalState["gen"])
	require.Equal(t, []trace.TraceEventKind{trace.EventTaskInvalidated, trace.EventTaskExecuted}, sink.kindsFor("gen"))
}

func TestRunAll_TraceSinkRecordsFailedAndPropagatedSkipped(t *testing.T) {
	bad := &graph.Task{
		Name:    "bad",
		Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) { return nil, errors.New("boom") }}},
	}
	downstream := &graph.Task{
		Name:         "downstream",
		Dependencies: []target.Dependency{target.TaskDependency{TaskName: "bad"}},
		Actions:      []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) { return nil, nil }}},
	}

	exec, _ := newTestExecutor(t, []*graph.Task{bad, downstream})
	sink := &fakeSink{}
	exec.SetTraceSink(sink)

	finalState, err := exec.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Failed, finalState["bad"])
	require.Equal(t, Failed, finalState["downstream"])

	require.Contains(t, sink.kindsFor("bad"), trace.EventTaskFailed)
	for _, e := range sink.events {
		if e.TaskID == "bad" && e.Kind == trace.EventTaskFailed {
			require.Equal(t, "action 0 of \"bad\": boom", e.Reason)
		}
	}

	require.Equal(t, []trace.TraceEventKind{trace.EventTaskSkipped}, sink.kindsFor("downstream"))
	for _, e := range sink.events {
		if e.TaskID == "downstream" && e.Kind == trace.EventTaskSkipped {
			require.Equal(t, "bad", e.CauseTaskID)
			require.Equal(t, "UpstreamFailed", e.Reason)
		}
	}
}

func TestReadyTasks_BreaksTiesByAdmissionOrder(t *testing.T) {
	g, err := graph.NewTaskGraph([]*graph.Task{
		{Name: "lint"},
		{Name: "test"},
	})
	require.NoError(t, err)
	state := ExecutionState{"lint": Pending, "test": Pending}
	ready := ReadyTasks(g, state)
	require.Equal(t, []string{"lint", "test"}, ready)
}
