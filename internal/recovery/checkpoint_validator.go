package recovery

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anvil-build/anvil/internal/store"
	"github.com/anvil-build/anvil/internal/trace"
)

// CheckpointValidator verifies that a task's completion evidence is
// internally consistent before recording a checkpoint for it, enforcing:
//
//   - the task has a committed state-store record (its witness set is not
//     inspected, so a record with no witnesses passes)
//   - the trace log contains a TaskExecuted or TaskCached entry for the
//     task and no TaskFailed or TaskSkipped entry
//
// Grounded on the teacher's CheckpointValidator.CreateAndSave, replacing
// its Harvester/Cache re-hash of declared file outputs with a hash of the
// already-committed store.Record.Values (this module's saved-values map
// has no declared-output-file list to re-harvest).
type CheckpointValidator struct {
	Store    *RunStore
	State    store.Store
	RunClock func() time.Time
}

// CheckpointInput is the evidence offered for one task's completion.
type CheckpointInput struct {
	RunID       string
	TaskName    string
	TraceEvents []trace.TraceEvent
	Failed      bool
}

// CreateAndSave validates in and, if valid, persists a Checkpoint.
func (v *CheckpointValidator) CreateAndSave(in CheckpointInput) (Checkpoint, error) {
	if v == nil {
		return Checkpoint{}, errors.New("nil CheckpointValidator")
	}
	if v.Store == nil {
		return Checkpoint{}, errors.New("Store is required")
	}
	if v.State == nil {
		return Checkpoint{}, errors.New("State is required")
	}

	var errs []error
	if strings.TrimSpace(in.RunID) == "" {
		errs = append(errs, errors.New("runID is required"))
	}
	if strings.TrimSpace(in.TaskName) == "" {
		errs = append(errs, errors.New("taskName is required"))
	}
	if in.Failed {
		errs = append(errs, errors.New("task did not succeed"))
	}

	var witnessKeys []string
	var valuesHash string
	if len(errs) == 0 {
		rec, ok, err := v.State.Get(in.TaskName)
		if err != nil {
			errs = append(errs, fmt.Errorf("reading state record: %w", err))
		} else if !ok {
			errs = append(errs, fmt.Errorf("no state record committed for task %q", in.TaskName))
		} else {
			for k := range rec.Witnesses {
				witnessKeys = append(witnessKeys, k)
			}
			sort.Strings(witnessKeys)
			valuesHash = hashValues(rec.Values)
		}
	}

	if len(errs) == 0 {
		if err := validateTraceForCheckpoint(in.TraceEvents, in.TaskName); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		return Checkpoint{}, errors.Join(errs...)
	}

	now := time.Now
	if v.RunClock != nil {
		now = v.RunClock
	}

	cp := Checkpoint{
		TaskName:    in.TaskName,
		Timestamp:   now().UTC(),
		WitnessKeys: witnessKeys,
		ValuesHash:  valuesHash,
		Valid:       true,
	}
	if err := v.Store.SaveCheckpoint(in.RunID, cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// validateTraceForCheckpoint requires the task's trace entries to show a
// successful outcome: either it ran (TaskExecuted) or the up-to-date engine
// skipped it as cached (TaskCached). TaskSkipped means something different
// here than its name suggests downstream of checkpointing — it marks a task
// that never ran because an upstream task FAILED (executor.go's
// failAndPropagate), which is exactly the failure case this check must
// reject, not accept.
func validateTraceForCheckpoint(events []trace.TraceEvent, taskName string) error {
	seenFailed, seenExecuted, seenCached := false, false, false
	for _, e := range events {
		if e.TaskID != taskName {
			continue
		}
		switch e.Kind {
		case trace.EventTaskFailed, trace.EventTaskSkipped:
			seenFailed = true
		case trace.EventTaskExecuted:
			seenExecuted = true
		case trace.EventTaskCached:
			seenCached = true
		}
	}
	if seenFailed {
		return errors.New("trace indicates task failure")
	}
	if !seenExecuted && !seenCached {
		return errors.New("trace entry incomplete: expected TaskExecuted or TaskCached")
	}
	return nil
}

func hashValues(values map[string]any) string {
	// json.Marshal sorts map keys, so this is stable across map iteration
	// order for a given value set.
	b, err := json.Marshal(values)
	if err != nil {
		b = []byte("invalid")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
