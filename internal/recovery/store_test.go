package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunStore_SaveAndLoadRun(t *testing.T) {
	s, err := NewRunStore(t.TempDir())
	require.NoError(t, err)

	run := Run{
		RunID:     "run-1",
		GraphHash: "hash-a",
		StartTime: time.Now(),
		Mode:      ModeIncremental,
		Status:    RunStatusComplete,
	}
	require.NoError(t, s.SaveRun(run))

	loaded, err := s.LoadRun("run-1")
	require.NoError(t, err)
	require.Equal(t, run.GraphHash, loaded.GraphHash)
	require.Equal(t, run.Mode, loaded.Mode)
}

func TestRunStore_SaveCheckpointRejectsInvalid(t *testing.T) {
	s, err := NewRunStore(t.TempDir())
	require.NoError(t, err)

	err = s.SaveCheckpoint("run-1", Checkpoint{})
	require.Error(t, err)
}

func TestRunStore_SaveAndLoadCheckpoint(t *testing.T) {
	s, err := NewRunStore(t.TempDir())
	require.NoError(t, err)

	cp := Checkpoint{
		TaskName:    "build",
		Timestamp:   time.Now(),
		WitnessKeys: []string{"file:a.go"},
		ValuesHash:  "abc123",
		Valid:       true,
	}
	require.NoError(t, s.SaveCheckpoint("run-1", cp))

	loaded, err := s.LoadCheckpoint("run-1", "build")
	require.NoError(t, err)
	require.Equal(t, cp.ValuesHash, loaded.ValuesHash)
}

func TestRunStore_SaveAndLoadFailure(t *testing.T) {
	s, err := NewRunStore(t.TempDir())
	require.NoError(t, err)

	fail := Failure{
		FailureClass: FailureClassExecution,
		ErrorCode:    "ACTION_EXIT_NONZERO",
		ErrorMessage: "task build exited 1",
		Resumable:    true,
	}
	require.NoError(t, s.SaveFailure("run-1", fail))

	loaded, err := s.LoadFailure("run-1")
	require.NoError(t, err)
	require.True(t, loaded.Resumable)
}

func TestRunStore_ListRunIDsSorted(t *testing.T) {
	s, err := NewRunStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"run-c", "run-a", "run-b"} {
		require.NoError(t, s.SaveRun(Run{
			RunID: id, GraphHash: "h", StartTime: time.Now(),
			Mode: ModeClean, Status: RunStatusComplete,
		}))
	}

	ids, err := s.ListRunIDs()
	require.NoError(t, err)
	require.Equal(t, []string{"run-a", "run-b", "run-c"}, ids)
}

func TestRunStore_LoadRunMissingReturnsError(t *testing.T) {
	s, err := NewRunStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.LoadRun("nonexistent")
	require.Error(t, err)
}
