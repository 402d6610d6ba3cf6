package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anvil-build/anvil/internal/store"
	"github.com/anvil-build/anvil/internal/trace"
	"github.com/anvil-build/anvil/internal/witness"
)

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestCheckpointValidator_CreateAndSave_Success(t *testing.T) {
	runStore, err := NewRunStore(t.TempDir())
	require.NoError(t, err)

	st := store.NewMemoryStore()
	require.NoError(t, st.Upsert("build", store.Record{
		Witnesses: map[string]witness.Witness{"file:a.go": {Kind: "file", Value: "x"}},
		Values:    map[string]any{"rev": "r1"},
	}))

	v := &CheckpointValidator{Store: runStore, State: st, RunClock: fixedClock(time.Unix(0, 0))}
	cp, err := v.CreateAndSave(CheckpointInput{
		RunID:    "run-1",
		TaskName: "build",
		TraceEvents: []trace.TraceEvent{
			{Kind: trace.EventTaskExecuted, TaskID: "build"},
		},
	})
	require.NoError(t, err)
	require.True(t, cp.Valid)
	require.Equal(t, []string{"file:a.go"}, cp.WitnessKeys)
}

func TestCheckpointValidator_CreateAndSave_AcceptsCachedSkip(t *testing.T) {
	runStore, err := NewRunStore(t.TempDir())
	require.NoError(t, err)
	st := store.NewMemoryStore()
	require.NoError(t, st.Upsert("build", store.Record{
		Witnesses: map[string]witness.Witness{"file:a.go": {Kind: "file", Value: "x"}},
		Values:    map[string]any{"rev": "r1"},
	}))

	v := &CheckpointValidator{Store: runStore, State: st, RunClock: fixedClock(time.Unix(0, 0))}
	cp, err := v.CreateAndSave(CheckpointInput{
		RunID:    "run-1",
		TaskName: "build",
		TraceEvents: []trace.TraceEvent{
			{Kind: trace.EventTaskCached, TaskID: "build"},
		},
	})
	require.NoError(t, err, "a task the up-to-date engine cached is still a valid checkpoint")
	require.True(t, cp.Valid)
}

func TestCheckpointValidator_RejectsUpstreamPropagatedSkip(t *testing.T) {
	runStore, err := NewRunStore(t.TempDir())
	require.NoError(t, err)
	st := store.NewMemoryStore()
	require.NoError(t, st.Upsert("build", store.Record{Witnesses: map[string]witness.Witness{}, Values: map[string]any{}}))

	v := &CheckpointValidator{Store: runStore, State: st}
	_, err = v.CreateAndSave(CheckpointInput{
		RunID:    "run-1",
		TaskName: "build",
		TraceEvents: []trace.TraceEvent{
			{Kind: trace.EventTaskSkipped, TaskID: "build", Reason: "UpstreamFailed", CauseTaskID: "dep"},
		},
	})
	require.Error(t, err, "TaskSkipped means an upstream failure prevented this task from ever running, not a successful outcome")
}

func TestCheckpointValidator_RejectsWhenTraceShowsFailure(t *testing.T) {
	runStore, err := NewRunStore(t.TempDir())
	require.NoError(t, err)
	st := store.NewMemoryStore()
	require.NoError(t, st.Upsert("build", store.Record{Witnesses: map[string]witness.Witness{}, Values: map[string]any{}}))

	v := &CheckpointValidator{Store: runStore, State: st}
	_, err = v.CreateAndSave(CheckpointInput{
		RunID:    "run-1",
		TaskName: "build",
		TraceEvents: []trace.TraceEvent{
			{Kind: trace.EventTaskFailed, TaskID: "build"},
		},
	})
	require.Error(t, err)
}

func TestCheckpointValidator_RejectsMissingStateRecord(t *testing.T) {
	runStore, err := NewRunStore(t.TempDir())
	require.NoError(t, err)
	st := store.NewMemoryStore()

	v := &CheckpointValidator{Store: runStore, State: st}
	_, err = v.CreateAndSave(CheckpointInput{
		RunID:       "run-1",
		TaskName:    "build",
		TraceEvents: []trace.TraceEvent{{Kind: trace.EventTaskExecuted, TaskID: "build"}},
	})
	require.Error(t, err)
}

func TestCheckpointValidator_RejectsExplicitFailure(t *testing.T) {
	runStore, err := NewRunStore(t.TempDir())
	require.NoError(t, err)
	st := store.NewMemoryStore()

	v := &CheckpointValidator{Store: runStore, State: st}
	_, err = v.CreateAndSave(CheckpointInput{RunID: "run-1", TaskName: "build", Failed: true})
	require.Error(t, err)
}
