package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Severity indicates whether a validation finding is fatal.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding.
type Issue struct {
	Severity Severity
	Field    string
	Message  string
}

// Result holds every finding from a Validate call.
type Result struct {
	Issues []Issue
}

// HasErrors reports whether any issue is error-severity.
func (r *Result) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks a resolved config for correctness and flags unknown TOML
// keys via meta.Undecoded(), mirroring Raven's internal/config/validate.go.
// meta may be nil if no file was loaded.
func Validate(cfg *Config, meta *toml.MetaData) *Result {
	r := &Result{}
	if cfg == nil {
		r.Issues = append(r.Issues, Issue{SeverityError, "", "configuration is nil"})
		return r
	}

	if cfg.Execution.MaxTasks < 0 {
		addError(r, "execution.max_tasks", "must not be negative")
	}
	if cfg.Execution.Parallelism < 1 {
		addError(r, "execution.parallelism", fmt.Sprintf("must be at least 1, got %d", cfg.Execution.Parallelism))
	}
	if cfg.Execution.WitnessProbeLimit < 1 {
		addError(r, "execution.witness_probe_limit", "must be at least 1")
	}
	if cfg.Store.Path == "" {
		addError(r, "store.path", "must not be empty")
	}
	if cfg.Log.Verbose && cfg.Log.Quiet {
		addWarning(r, "log", "both verbose and quiet set; quiet wins")
	}

	if meta != nil {
		for _, key := range meta.Undecoded() {
			addError(r, strings.Join(key, "."), "unknown configuration key")
		}
	}

	return r
}

func addError(r *Result, field, msg string) {
	r.Issues = append(r.Issues, Issue{SeverityError, field, msg})
}

func addWarning(r *Result, field, msg string) {
	r.Issues = append(r.Issues, Issue{SeverityWarning, field, msg})
}
