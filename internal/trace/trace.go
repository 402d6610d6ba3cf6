// Package trace records a deterministic, timestamp-free log of the logical
// decisions an execution makes — which task was invalidated, cached,
// executed, failed, or skipped, and which generator fired — for consumption
// by the visualization tooling spec.md §1 leaves out of scope.
//
// Adapted from the teacher's internal/trace package: same canonicalization
// and custom-marshaler discipline, extended with GeneratorFired and
// Converged event kinds for the reactive controller (SPEC_FULL.md §11).
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical record of one run.
//
// Invariants:
//   - Carries a GraphHash and an ordered list of events.
//   - Records logical decisions, never timestamps, pointers, or other
//     runtime-dependent values — two runs over an unchanged graph and
//     world must produce byte-identical canonical JSON.
type ExecutionTrace struct {
	GraphHash string
	Events    []TraceEvent
}

// TraceEventKind is the stable discriminator for TraceEvent. These values
// are part of the trace's canonical bytes; never rename one in place.
type TraceEventKind string

const (
	EventTaskInvalidated TraceEventKind = "TaskInvalidated"
	EventTaskCached      TraceEventKind = "TaskCached"
	EventTaskExecuted    TraceEventKind = "TaskExecuted"
	EventTaskFailed      TraceEventKind = "TaskFailed"
	EventTaskSkipped     TraceEventKind = "TaskSkipped"
	EventGeneratorFired  TraceEventKind = "GeneratorFired"
	EventConverged       TraceEventKind = "Converged"
)

// TraceEvent is a single logical transition or decision.
//
// Optional fields are normalized at Canonicalize time: empty slices become
// nil and are omitted from JSON.
type TraceEvent struct {
	Kind TraceEventKind

	// TaskID identifies the task this event concerns. Required for every
	// task-level kind; empty for GeneratorFired and Converged.
	TaskID string

	// GeneratorID identifies the generator for GeneratorFired events.
	GeneratorID string

	// Reason is "UpstreamFailed" for a propagated skip; otherwise it is the
	// up-to-date engine's reason text (cached/invalidated events) or the
	// failure cause (TaskFailed events).
	Reason string

	// CauseTaskID records a related upstream task, e.g. the failing task
	// that caused a downstream Skipped/Failed event.
	CauseTaskID string

	// PublishedKeys lists the target keys a GeneratorFired event produced,
	// sorted at canonicalization time.
	PublishedKeys []string
}

// Validate checks the trace's structural invariants.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if isTaskEventKind(e.Kind) && e.TaskID == "" {
			return fmt.Errorf("events[%d].taskId is required for kind %q", i, e.Kind)
		}
		if e.Kind == EventGeneratorFired && e.GeneratorID == "" {
			return fmt.Errorf("events[%d].generatorId is required for GeneratorFired", i)
		}
	}
	return nil
}

func isTaskEventKind(k TraceEventKind) bool {
	switch k {
	case EventTaskInvalidated, EventTaskCached, EventTaskExecuted, EventTaskFailed, EventTaskSkipped:
		return true
	default:
		return false
	}
}

// Canonicalize sorts and normalizes the trace into its canonical form.
// Ordering is independent of execution timing or concurrency: events sort
// by (taskId, generatorId, kindOrder, reason, causeTaskId, publishedKeysLex).
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].PublishedKeys) == 0 {
			t.Events[i].PublishedKeys = nil
			continue
		}
		keys := make([]string, len(t.Events[i].PublishedKeys))
		copy(keys, t.Events[i].PublishedKeys)
		sort.Strings(keys)
		t.Events[i].PublishedKeys = keys
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		if a.GeneratorID != b.GeneratorID {
			return a.GeneratorID < b.GeneratorID
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.CauseTaskID != b.CauseTaskID {
			return a.CauseTaskID < b.CauseTaskID
		}
		return compareStringSlices(a.PublishedKeys, b.PublishedKeys)
	})
}

func kindOrder(k TraceEventKind) int {
	switch k {
	case EventTaskInvalidated:
		return 10
	case EventTaskCached:
		return 20
	case EventTaskExecuted:
		return 30
	case EventTaskFailed:
		return 40
	case EventTaskSkipped:
		return 50
	case EventGeneratorFired:
		return 60
	case EventConverged:
		return 70
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	min := len(a)
	if len(b) < min {
		min = len(b)
	}
	for i := 0; i < min; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical JSON encoding of a copy of the trace,
// leaving the receiver's slices untouched.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash, Events: make([]TraceEvent, len(t.Events))}
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the deterministic sha256 hex digest of the canonical JSON.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order: graphHash then events, in insertion order
// (callers should canonicalize first via CanonicalJSON).
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"graphHash":`)
	gh, _ := json.Marshal(t.GraphHash)
	buf.Write(gh)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var keys []string
	if len(e.PublishedKeys) > 0 {
		keys = make([]string, len(e.PublishedKeys))
		copy(keys, e.PublishedKeys)
		sort.Strings(keys)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	writeStringField(&buf, "taskId", e.TaskID)
	writeStringField(&buf, "generatorId", e.GeneratorID)
	writeStringField(&buf, "reason", e.Reason)
	writeStringField(&buf, "causeTaskId", e.CauseTaskID)

	if len(keys) > 0 {
		buf.WriteString(`,"publishedKeys":[`)
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
		}
		buf.WriteByte(']')
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeStringField(buf *bytes.Buffer, name, value string) {
	if value == "" {
		return
	}
	buf.WriteByte(',')
	buf.WriteByte('"')
	buf.WriteString(name)
	buf.WriteString(`":`)
	vb, _ := json.Marshal(value)
	buf.Write(vb)
}
