package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anvil-build/anvil/internal/executor"
	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/match"
	"github.com/anvil-build/anvil/internal/reactive"
	"github.com/anvil-build/anvil/internal/store"
	"github.com/anvil-build/anvil/internal/target"
	"github.com/anvil-build/anvil/internal/uptodate"
)

// oneShotGenerator produces a fixed task set exactly once; its
// InputPatternKeys is empty so it never regenerates on a published key,
// matching how a bootstrap-graph-derived generator would behave if the
// CLI ever drove one through the reactive controller instead of the
// static RunAll/RunParallel path.
type oneShotGenerator struct {
	id    match.GeneratorID
	tasks []*graph.Task
}

func (g *oneShotGenerator) ID() match.GeneratorID             { return g.id }
func (g *oneShotGenerator) InputPatternKeys() []target.Target { return nil }
func (g *oneShotGenerator) Generate(ctx context.Context) ([]*graph.Task, error) {
	tasks := g.tasks
	g.tasks = nil
	return tasks, nil
}

// TestExecutorAdapter_DrivesRealExecutorThroughController exercises
// executorAdapter end to end: a generator hands the controller one task,
// the adapter admits it into a live *executor.Executor, and the
// controller drains the executor to completion before declaring
// convergence.
func TestExecutorAdapter_DrivesRealExecutorThroughController(t *testing.T) {
	var ran bool
	g, err := graph.NewTaskGraph(nil)
	require.NoError(t, err)

	s := store.NewMemoryStore()
	exec := executor.New(g, uptodate.NewEngine(s), s, nil, nil)
	adapter := newExecutorAdapter(exec)

	gen := &oneShotGenerator{
		id: "bootstrap",
		tasks: []*graph.Task{{
			Name: "build",
			Actions: []graph.Action{{Func: func(ctx context.Context, tk *graph.Task, args map[string]any) (graph.ReturnMap, error) {
				ran = true
				return nil, nil
			}}},
		}},
	}

	ctrl := reactive.New([]reactive.Generator{gen}, adapter, 0)
	outcome, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, reactive.Converged, outcome)
	require.True(t, ran)
	require.Equal(t, executor.Done, exec.TaskState("build"))

	require.Equal(t, reactive.StatusRunningOrDone, adapter.Status("build"))
}

// TestExecutorAdapter_ReplaceForwardsToExecutor exercises Replace and
// Status for a task admitted but not yet run, matching the executor's
// own contract that ReplaceTask callers only replace PENDING tasks.
func TestExecutorAdapter_ReplaceForwardsToExecutor(t *testing.T) {
	g, err := graph.NewTaskGraph(nil)
	require.NoError(t, err)
	s := store.NewMemoryStore()
	exec := executor.New(g, uptodate.NewEngine(s), s, nil, nil)
	adapter := newExecutorAdapter(exec)

	require.NoError(t, adapter.Admit(&graph.Task{Name: "lint", Actions: []graph.Action{{Shell: "true"}}}))
	require.Equal(t, reactive.StatusPending, adapter.Status("lint"))

	replacement := &graph.Task{Name: "lint", Actions: []graph.Action{{Shell: "echo replaced"}}}
	require.NoError(t, adapter.Replace(replacement))
	require.Equal(t, "echo replaced", g.Task("lint").Actions[0].Shell)
}
