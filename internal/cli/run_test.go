package cli

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anvil-build/anvil/internal/executor"
)

func TestTranslateStateToExitCode_AllDoneOrSkippedIsSuccess(t *testing.T) {
	state := executor.ExecutionState{"a": executor.Done, "b": executor.Skipped}
	code, failed := translateStateToExitCode(state, 0)
	require.Equal(t, ExitSuccess, code)
	require.Empty(t, failed)
}

func TestTranslateStateToExitCode_AnyFailedIsGraphFailure(t *testing.T) {
	state := executor.ExecutionState{"a": executor.Done, "b": executor.Failed, "c": executor.Failed}
	code, failed := translateStateToExitCode(state, 0)
	require.Equal(t, ExitGraphFailure, code)
	require.Equal(t, "b", failed, "deterministically picks the lexicographically first failed task")
}

func TestTranslateStateToExitCode_ExceedingMaxTasksIsGraphFailure(t *testing.T) {
	state := executor.ExecutionState{"a": executor.Done, "b": executor.Done, "c": executor.Done}
	code, _ := translateStateToExitCode(state, 2)
	require.Equal(t, ExitGraphFailure, code)
}

func TestTranslateStateToExitCode_ZeroMaxTasksIsUnbounded(t *testing.T) {
	state := executor.ExecutionState{"a": executor.Done}
	code, _ := translateStateToExitCode(state, 0)
	require.Equal(t, ExitSuccess, code)
}
