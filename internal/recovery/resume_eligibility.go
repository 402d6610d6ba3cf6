package recovery

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/anvil-build/anvil/internal/graph"
)

// InvalidationMap reports, per task name, whether that task's up-to-date
// check decided CHANGED for the run being resumed from (i.e. it must
// re-run and so cannot be trusted from checkpoint).
type InvalidationMap map[string]bool

// ResumeEligibilityChecker determines whether a candidate run may resume
// from a previous run, enforcing the teacher's Resume Eligibility Rules
// (internal/recovery/state.ResumeEligibilityChecker) adapted from a fixed
// workspace-validation + node-ID model to this module's task-graph model:
//
//   - graph hash unchanged
//   - previous_run_id linked and exists, and points to a resumable failure
//   - retry_count is incremented by exactly one from the previous run
//   - no task upstream of the resume point was invalidated
type ResumeEligibilityChecker struct {
	Store *RunStore
}

// ResumeEligibilityRequest is the evidence offered for one resume attempt.
type ResumeEligibilityRequest struct {
	NewRun           Run
	ResumeFromTask   string
	Graph            *graph.TaskGraph
	Invalidation     InvalidationMap
}

// Check returns nil if req.NewRun may resume from its PreviousRunID, or a
// descriptive error otherwise.
func (c *ResumeEligibilityChecker) Check(req ResumeEligibilityRequest) error {
	if c == nil {
		return errors.New("nil ResumeEligibilityChecker")
	}
	if c.Store == nil {
		return errors.New("Store is required")
	}
	if err := req.NewRun.Validate(); err != nil {
		return fmt.Errorf("invalid new run: %w", err)
	}

	switch req.NewRun.Mode {
	case ModeIncremental, ModeResumeOnly:
	default:
		return fmt.Errorf("resume not permitted in mode %q", req.NewRun.Mode)
	}

	if req.NewRun.PreviousRunID == nil || strings.TrimSpace(*req.NewRun.PreviousRunID) == "" {
		return errors.New("previous_run_id is required for resume")
	}
	prevID := strings.TrimSpace(*req.NewRun.PreviousRunID)
	prevRun, err := c.Store.LoadRun(prevID)
	if err != nil {
		return fmt.Errorf("previous run does not exist: %w", err)
	}

	if prevRun.GraphHash != req.NewRun.GraphHash {
		return fmt.Errorf("graph hash mismatch (prev=%s new=%s)", prevRun.GraphHash, req.NewRun.GraphHash)
	}

	prevFailure, ferr := c.Store.LoadFailure(prevID)
	if ferr != nil {
		return fmt.Errorf("loading previous run failure: %w", ferr)
	}
	if !prevFailure.Resumable {
		return fmt.Errorf("previous run failure is not resumable (class=%s code=%s)", prevFailure.FailureClass, prevFailure.ErrorCode)
	}
	if req.NewRun.RetryCount != prevRun.RetryCount+1 {
		return fmt.Errorf("retry_count must be incremented (prev=%d new=%d)", prevRun.RetryCount, req.NewRun.RetryCount)
	}

	if strings.TrimSpace(req.ResumeFromTask) == "" {
		return errors.New("ResumeFromTask is required")
	}
	invalidatedUpstream, err := upstreamInvalidations(req.Graph, req.Invalidation, req.ResumeFromTask)
	if err != nil {
		return err
	}
	if len(invalidatedUpstream) != 0 {
		return fmt.Errorf("resume blocked by upstream invalidation: %s", strings.Join(invalidatedUpstream, ","))
	}

	return nil
}

func upstreamInvalidations(g *graph.TaskGraph, inv InvalidationMap, taskName string) ([]string, error) {
	if g == nil {
		return nil, errors.New("graph is required")
	}
	if g.Task(taskName) == nil {
		return nil, fmt.Errorf("resume task %q not found in graph", taskName)
	}
	if inv == nil {
		return nil, errors.New("invalidation map is required")
	}

	visited := map[string]bool{}
	stack := []string{taskName}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true

		t := g.Task(n)
		if t == nil {
			continue
		}
		for _, up := range g.DeclaredTaskDependencies(t) {
			stack = append(stack, up)
		}
	}

	var invalidated []string
	for n := range visited {
		if inv[n] {
			invalidated = append(invalidated, n)
		}
	}
	sort.Strings(invalidated)
	return invalidated, nil
}
