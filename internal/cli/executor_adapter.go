package cli

import (
	"context"

	"github.com/anvil-build/anvil/internal/executor"
	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/reactive"
)

// executorAdapter is the concrete reactive.ExecutorAdapter the CLI wires
// between the fixed-point controller and a running *executor.Executor
// (spec.md §4.4). It exists only to translate the executor's State enum
// into the controller's coarser TaskStatus bucket; every method otherwise
// forwards directly.
type executorAdapter struct {
	exec *executor.Executor
}

func newExecutorAdapter(exec *executor.Executor) *executorAdapter {
	return &executorAdapter{exec: exec}
}

func (a *executorAdapter) Admit(t *graph.Task) error {
	return a.exec.AdmitTask(t)
}

func (a *executorAdapter) Replace(t *graph.Task) error {
	return a.exec.ReplaceTask(t)
}

func (a *executorAdapter) Status(taskName string) reactive.TaskStatus {
	switch a.exec.TaskState(taskName) {
	case executor.Pending:
		return reactive.StatusPending
	case executor.Running, executor.Done, executor.Failed, executor.Skipped:
		return reactive.StatusRunningOrDone
	default:
		return reactive.StatusUnadmitted
	}
}

func (a *executorAdapter) DriveToReadyEmpty(ctx context.Context) ([]string, error) {
	return a.exec.DrainReady(ctx)
}
