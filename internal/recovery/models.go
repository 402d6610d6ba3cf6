// Package recovery adapts the teacher's checkpoint/resume validation
// (internal/recovery/state) to the heterogeneous dependency model of
// spec.md §3: a checkpoint here records a task's witness set and
// saved-values hash rather than a file-cache entry, and resume eligibility
// walks the task graph's declared dependencies instead of a fixed node
// upstream list.
package recovery

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExecutionMode selects how the up-to-date engine treats prior state for a
// run, per SPEC_FULL.md §11.
type ExecutionMode string

const (
	// ModeClean forces CHANGED for every task, ignoring the store.
	ModeClean ExecutionMode = "clean"
	// ModeIncremental is spec.md's default up-to-date procedure.
	ModeIncremental ExecutionMode = "incremental"
	// ModeResumeOnly additionally requires a valid checkpoint for every
	// task it intends to skip, or that task fails fast.
	ModeResumeOnly ExecutionMode = "resume-only"
)

// RunStatus is the terminal or in-flight status of a recorded run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persistent metadata for one execution attempt.
type Run struct {
	RunID         string        `json:"run_id"`
	GraphHash     string        `json:"graph_hash"`
	StartTime     time.Time     `json:"start_time"`
	Mode          ExecutionMode `json:"mode"`
	RetryCount    int           `json:"retry_count"`
	Status        RunStatus     `json:"status"`
	PreviousRunID *string       `json:"previous_run_id"`
}

// Validate checks Run's structural invariants.
func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.GraphHash) == "" {
		errs = append(errs, errors.New("graph_hash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Mode {
	case ModeClean, ModeIncremental, ModeResumeOnly:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	if r.RetryCount < 0 {
		errs = append(errs, errors.New("retry_count must be >= 0"))
	}
	if strings.TrimSpace(string(r.Status)) == "" {
		errs = append(errs, errors.New("status is required"))
	}
	return errors.Join(errs...)
}

// Checkpoint is a durable, validated record that one task's run completed
// and committed matching evidence to the state store.
type Checkpoint struct {
	TaskName    string    `json:"task_name"`
	Timestamp   time.Time `json:"timestamp"`
	WitnessKeys []string  `json:"witness_keys"`
	ValuesHash  string    `json:"values_hash"`
	Valid       bool      `json:"valid"`
}

// Validate checks Checkpoint's structural invariants.
func (c Checkpoint) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TaskName) == "" {
		errs = append(errs, errors.New("task_name is required"))
	}
	if c.Timestamp.IsZero() {
		errs = append(errs, errors.New("timestamp is required"))
	}
	if c.WitnessKeys == nil {
		errs = append(errs, errors.New("witness_keys must be an array (not null)"))
	}
	if strings.TrimSpace(c.ValuesHash) == "" {
		errs = append(errs, errors.New("values_hash is required"))
	}
	return errors.Join(errs...)
}

// FailureClass classifies why a run terminated.
type FailureClass string

const (
	FailureClassGraph     FailureClass = "graph"
	FailureClassExecution FailureClass = "execution"
	FailureClassSystem    FailureClass = "system"
)

// Failure is a recorded run termination reason.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	TaskName     *string      `json:"task_name,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	Resumable    bool         `json:"resumable"`
}

// Validate checks Failure's structural invariants.
func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassGraph, FailureClassExecution, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	return errors.Join(errs...)
}
