package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anvil-build/anvil/internal/executor"
	"github.com/anvil-build/anvil/internal/recovery"
)

func newTestRunStore(t *testing.T) *recovery.RunStore {
	t.Helper()
	rs, err := recovery.NewRunStore(t.TempDir())
	require.NoError(t, err)
	return rs
}

func TestResolvePreviousRun_CleanModeNeverLinksBack(t *testing.T) {
	rs := newTestRunStore(t)
	id, retry, err := resolvePreviousRun(rs, recovery.ModeClean, "hash-1")
	require.NoError(t, err)
	require.Nil(t, id)
	require.Equal(t, 0, retry)
}

func TestResolvePreviousRun_IncrementalFindsMostRecentResumableRunOverSameGraph(t *testing.T) {
	rs := newTestRunStore(t)

	older := recovery.Run{RunID: "run-older", GraphHash: "hash-1", StartTime: time.Unix(100, 0).UTC(), Mode: recovery.ModeIncremental, Status: recovery.RunStatusFailed}
	newer := recovery.Run{RunID: "run-newer", GraphHash: "hash-1", StartTime: time.Unix(200, 0).UTC(), Mode: recovery.ModeIncremental, Status: recovery.RunStatusFailed}
	otherGraph := recovery.Run{RunID: "run-other-graph", GraphHash: "hash-2", StartTime: time.Unix(300, 0).UTC(), Mode: recovery.ModeIncremental, Status: recovery.RunStatusFailed}
	require.NoError(t, rs.SaveRun(older))
	require.NoError(t, rs.SaveRun(newer))
	require.NoError(t, rs.SaveRun(otherGraph))
	require.NoError(t, rs.SaveFailure("run-older", recovery.Failure{FailureClass: recovery.FailureClassExecution, ErrorCode: "x", ErrorMessage: "x", Resumable: true}))
	require.NoError(t, rs.SaveFailure("run-newer", recovery.Failure{FailureClass: recovery.FailureClassExecution, ErrorCode: "x", ErrorMessage: "x", Resumable: true}))
	require.NoError(t, rs.SaveFailure("run-other-graph", recovery.Failure{FailureClass: recovery.FailureClassExecution, ErrorCode: "x", ErrorMessage: "x", Resumable: true}))

	id, retry, err := resolvePreviousRun(rs, recovery.ModeIncremental, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, "run-newer", *id)
	require.Equal(t, 1, retry)
}

func TestResolvePreviousRun_SkipsNonResumableFailures(t *testing.T) {
	rs := newTestRunStore(t)
	run := recovery.Run{RunID: "run-1", GraphHash: "hash-1", StartTime: time.Unix(100, 0).UTC(), Mode: recovery.ModeIncremental, Status: recovery.RunStatusFailed}
	require.NoError(t, rs.SaveRun(run))
	require.NoError(t, rs.SaveFailure("run-1", recovery.Failure{FailureClass: recovery.FailureClassExecution, ErrorCode: "x", ErrorMessage: "x", Resumable: false}))

	id, _, err := resolvePreviousRun(rs, recovery.ModeIncremental, "hash-1")
	require.NoError(t, err)
	require.Nil(t, id, "a non-resumable failure must not be offered as a resume point")
}

func TestResolvePreviousRun_ResumeOnlyFailsFastWithNoEligibleRun(t *testing.T) {
	rs := newTestRunStore(t)
	_, _, err := resolvePreviousRun(rs, recovery.ModeResumeOnly, "hash-1")
	require.Error(t, err)
}

func TestRequireCheckpointsForSkipped_PassesWhenEveryCheckpointValid(t *testing.T) {
	rs := newTestRunStore(t)
	require.NoError(t, rs.SaveCheckpoint("run-1", recovery.Checkpoint{
		TaskName: "cached-task", Timestamp: time.Unix(1, 0).UTC(), WitnessKeys: []string{"k"}, ValuesHash: "h", Valid: true,
	}))
	prev := "run-1"
	state := executor.ExecutionState{"cached-task": executor.Skipped, "built-task": executor.Done}

	err := requireCheckpointsForSkipped(rs, &prev, state)
	require.NoError(t, err)
}

func TestRequireCheckpointsForSkipped_FailsFastWhenCheckpointMissing(t *testing.T) {
	rs := newTestRunStore(t)
	prev := "run-1"
	state := executor.ExecutionState{"cached-task": executor.Skipped}

	err := requireCheckpointsForSkipped(rs, &prev, state)
	require.Error(t, err)
}

func TestRequireCheckpointsForSkipped_FailsFastWhenCheckpointInvalid(t *testing.T) {
	rs := newTestRunStore(t)
	require.NoError(t, rs.SaveCheckpoint("run-1", recovery.Checkpoint{
		TaskName: "cached-task", Timestamp: time.Unix(1, 0).UTC(), WitnessKeys: []string{"k"}, ValuesHash: "h", Valid: false,
	}))
	prev := "run-1"
	state := executor.ExecutionState{"cached-task": executor.Skipped}

	err := requireCheckpointsForSkipped(rs, &prev, state)
	require.Error(t, err)
}

func TestRequireCheckpointsForSkipped_RequiresAPreviousRun(t *testing.T) {
	rs := newTestRunStore(t)
	err := requireCheckpointsForSkipped(rs, nil, executor.ExecutionState{"a": executor.Skipped})
	require.Error(t, err)
}
