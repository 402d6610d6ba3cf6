package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/anvil-build/anvil/internal/config"
	"github.com/anvil-build/anvil/internal/executor"
	"github.com/anvil-build/anvil/internal/logging"
	"github.com/anvil-build/anvil/internal/recovery"
	"github.com/anvil-build/anvil/internal/store"
	"github.com/anvil-build/anvil/internal/telemetry"
	"github.com/anvil-build/anvil/internal/trace"
	"github.com/anvil-build/anvil/internal/uptodate"
)

// RunOptions configures one `anvil run` invocation.
type RunOptions struct {
	GraphPath   string
	WorkDir     string
	Mode        recovery.ExecutionMode
	Parallelism int
	MaxTasks    int
	Resolved    *config.Resolved
}

// RunResult is the outcome of one run.
type RunResult struct {
	ExitCode  int
	State     executor.ExecutionState
	RunID     string
	GraphHash string
}

// RunGraph loads, executes, and records one run of the graph at
// opts.GraphPath, mapping the outcome to a semantic exit code per spec.md
// §6: zero iff every admitted task ended in DONE or SKIPPED and the run
// did not hit max_tasks or a configuration error; non-zero if any task
// FAILED, max_tasks was exceeded, or configuration validation failed
// before execution.
//
// Grounded on the teacher's scriptweaver/internal/cli.ExecuteWithExecutor:
// same early-recovery-store-init / graph-load / trace-finalize / exit-code
// mapping shape, narrowed to this module's simpler resume story — file
// targets persist on disk between runs, so the up-to-date engine itself
// already reuses prior state; recovery here validates and classifies, it
// does not reconstruct an execution plan the way the teacher's Harvester/
// IncrementalPlan machinery does.
func RunGraph(ctx context.Context, opts RunOptions) (res RunResult, execErr error) {
	res.ExitCode = ExitInternalError
	logger := logging.New("cli")

	runStore, err := recovery.NewRunStore(opts.WorkDir)
	if err != nil {
		return res, err
	}
	runID := uuid.NewString()
	res.RunID = runID

	g, err := LoadGraphFromFile(opts.GraphPath)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	graphHash := g.Hash()
	res.GraphHash = graphHash

	previousRunID, retryCount, err := resolvePreviousRun(runStore, opts.Mode, graphHash)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	run := recovery.Run{
		RunID:         runID,
		GraphHash:     graphHash,
		StartTime:     time.Now().UTC(),
		Mode:          opts.Mode,
		RetryCount:    retryCount,
		Status:        recovery.RunStatusRunning,
		PreviousRunID: previousRunID,
	}
	if err := runStore.SaveRun(run); err != nil {
		return res, err
	}

	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			execErr = fmt.Errorf("panic: %v", r)
			recordFailure(runStore, runID, recovery.FailureClassSystem, "Panic", execErr.Error(), false)
		}
	}()

	st, err := selectStore(opts.Mode, opts.Resolved)
	if err != nil {
		res.ExitCode = ExitConfigError
		recordFailure(runStore, runID, recovery.FailureClassSystem, "StoreInit", err.Error(), false)
		return res, err
	}
	defer st.Close()

	recorder := trace.NewRecorder()
	exec := executor.New(g, uptodate.NewEngine(st), st, nil, logger)
	exec.SetTraceSink(recorder)

	tracer := telemetry.NewTracer("github.com/anvil-build/anvil")
	sessionCtx, span := tracer.StartSession(ctx, runID)

	gate := executor.NewConcurrencyGate(opts.Parallelism)
	var state executor.ExecutionState
	if opts.Parallelism > 1 {
		state, err = exec.RunParallel(sessionCtx, gate)
	} else {
		state, err = exec.RunAll(sessionCtx)
	}
	res.State = state
	tracer.EndSession(span, err)

	traceData := recorder.Trace(graphHash)
	if path := opts.Resolved.Config.Trace.OutputPath; path != "" {
		if werr := writeTraceFile(opts.WorkDir, path, traceData); werr != nil {
			logger.Warn("writing trace file failed", "error", werr)
		}
	}

	if err != nil {
		res.ExitCode = ExitInternalError
		recordFailure(runStore, runID, recovery.FailureClassExecution, "EngineError", err.Error(), true)
		return res, err
	}

	if opts.Mode == recovery.ModeResumeOnly {
		if err := requireCheckpointsForSkipped(runStore, previousRunID, state); err != nil {
			res.ExitCode = ExitConfigError
			recordFailure(runStore, runID, recovery.FailureClassGraph, "ResumeIneligible", err.Error(), false)
			return res, err
		}
	}

	if opts.Mode != recovery.ModeClean {
		saveCheckpoints(runStore, runID, st, state, traceData.Events, logger)
	}

	exitCode, failedTask := translateStateToExitCode(state, opts.MaxTasks)
	res.ExitCode = exitCode

	run.Status = recovery.RunStatusComplete
	if exitCode == ExitGraphFailure {
		run.Status = recovery.RunStatusFailed
		recordFailure(runStore, runID, recovery.FailureClassExecution, "TaskFailed", fmt.Sprintf("task %q failed", failedTask), true)
	}
	_ = runStore.SaveRun(run)

	return res, nil
}

func selectStore(mode recovery.ExecutionMode, resolved *config.Resolved) (store.Store, error) {
	if mode == recovery.ModeClean {
		return store.NewMemoryStore(), nil
	}
	return store.NewFileStore(resolved.Config.Store.Path)
}

// resolvePreviousRun finds the most recent prior run over the same graph
// that terminated with a resumable failure, per the teacher's
// detectPreviousRunID. Clean mode never links to a previous run.
func resolvePreviousRun(rs *recovery.RunStore, mode recovery.ExecutionMode, graphHash string) (*string, int, error) {
	if mode == recovery.ModeClean {
		return nil, 0, nil
	}

	ids, err := rs.ListRunIDs()
	if err != nil {
		return nil, 0, err
	}

	var bestID string
	var bestTime time.Time
	var bestRetry int
	for _, id := range ids {
		r, err := rs.LoadRun(id)
		if err != nil || r.GraphHash != graphHash {
			continue
		}
		failure, ferr := rs.LoadFailure(id)
		if ferr != nil || !failure.Resumable {
			continue
		}
		if bestID == "" || r.StartTime.After(bestTime) {
			bestID, bestTime, bestRetry = r.RunID, r.StartTime, r.RetryCount
		}
	}

	if bestID == "" {
		if mode == recovery.ModeResumeOnly {
			return nil, 0, fmt.Errorf("resume-only mode requires an eligible previous run; none found for graph hash %s", graphHash)
		}
		return nil, 0, nil
	}
	id := bestID
	return &id, bestRetry + 1, nil
}

// requireCheckpointsForSkipped enforces resume-only mode's stricter rule:
// every task the up-to-date engine decided to skip must carry a valid
// checkpoint from previousRunID, or the run fails fast (SPEC_FULL.md §11).
func requireCheckpointsForSkipped(rs *recovery.RunStore, previousRunID *string, state executor.ExecutionState) error {
	if previousRunID == nil {
		return fmt.Errorf("resume-only mode requires a previous run")
	}
	names := make([]string, 0, len(state))
	for name, st := range state {
		if st == executor.Skipped {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		cp, err := rs.LoadCheckpoint(*previousRunID, name)
		if err != nil || !cp.Valid {
			return fmt.Errorf("no valid checkpoint for skipped task %q in run %q", name, *previousRunID)
		}
	}
	return nil
}

// saveCheckpoints records a recovery checkpoint for every task that
// finished DONE or SKIPPED this run, so a later resume-only run can
// validate against it.
func saveCheckpoints(rs *recovery.RunStore, runID string, st store.Store, state executor.ExecutionState, events []trace.TraceEvent, logger *log.Logger) {
	validator := &recovery.CheckpointValidator{Store: rs, State: st}
	names := make([]string, 0, len(state))
	for name, s := range state {
		if s == executor.Done || s == executor.Skipped {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := validator.CreateAndSave(recovery.CheckpointInput{RunID: runID, TaskName: name, TraceEvents: events}); err != nil {
			logger.Warn("checkpoint not recorded", "task", name, "error", err)
		}
	}
}

func recordFailure(rs *recovery.RunStore, runID string, class recovery.FailureClass, code, message string, resumable bool) {
	_ = rs.SaveFailure(runID, recovery.Failure{
		FailureClass: class,
		ErrorCode:    code,
		ErrorMessage: message,
		Resumable:    resumable,
	})
}

// translateStateToExitCode implements spec.md §6's exit-code rule and
// reports a representative failed task name for diagnostics, chosen
// deterministically (lexicographically first) when several failed.
func translateStateToExitCode(state executor.ExecutionState, maxTasks int) (int, string) {
	if maxTasks > 0 && len(state) > maxTasks {
		return ExitGraphFailure, ""
	}
	var failed []string
	for name, st := range state {
		if st == executor.Failed {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return ExitSuccess, ""
	}
	sort.Strings(failed)
	return ExitGraphFailure, failed[0]
}

func writeTraceFile(workDir, path string, traceData trace.ExecutionTrace) error {
	data, err := traceData.CanonicalJSON()
	if err != nil {
		return err
	}
	return writeFileUnder(workDir, path, data)
}
