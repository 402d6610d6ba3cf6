package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/anvil-build/anvil/internal/graph"
	"github.com/anvil-build/anvil/internal/target"
)

// fileGraph is the on-disk shape of a bootstrap graph file: a literal task
// list, not a declarative front-end. Generators and custom predicates are
// library-only and cannot be expressed here; this format only carries what
// a static JSON document can: shell actions, file/dir/task-dependency
// kinds, and setup lists (SPEC_FULL.md's Non-goals exclude a declarative
// DSL/YAML surface).
//
// Grounded on the teacher's scriptweaver/internal/cli.graphFile /
// LoadGraphFromFile: same DisallowUnknownFields + no-trailing-data
// discipline, generalized from a flat {tasks, edges} pair to this module's
// richer per-task dependency/target/setup model (edges are implicit in
// each task's own Dependencies/Setup, not a separate list).
type fileGraph struct {
	Tasks []fileTask `json:"tasks"`
}

type fileTask struct {
	Name         string    `json:"name"`
	Actions      []string  `json:"actions"`
	Dependencies []fileKey `json:"dependencies"`
	Targets      []fileKey `json:"targets"`
	Setup        []string  `json:"setup"`
	NoDefaultRun bool      `json:"no_default_run"`
}

// fileKey describes one dependency or target entry. Kind selects the
// concrete target.Dependency/target.Target implementation; file and dir
// entries share a Path field, task entries use TaskName.
type fileKey struct {
	Kind     string `json:"kind"`
	Path     string `json:"path"`
	TaskName string `json:"task"`
}

const (
	kindFile = "file"
	kindDir  = "dir"
	kindTask = "task"
)

// withTrailingSlash normalizes a dir-kind path to the trailing-slash form
// target.DirPrefixDependency/DirPrefixTarget require (spec.md §3).
func withTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// LoadGraphFromFile reads and parses the bootstrap graph definition at
// path into an admitted, validated *graph.TaskGraph.
func LoadGraphFromFile(path string) (*graph.TaskGraph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}

	var fg fileGraph
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fg); err != nil {
		return nil, fmt.Errorf("parse graph json: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("parse graph json: trailing data")
		}
		return nil, fmt.Errorf("parse graph json: %w", err)
	}
	if len(fg.Tasks) == 0 {
		return nil, fmt.Errorf("parse graph json: no tasks")
	}

	tasks := make([]*graph.Task, len(fg.Tasks))
	for i, ft := range fg.Tasks {
		t, err := ft.toTask()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tasks[i] = t
	}

	return graph.NewTaskGraph(tasks)
}

func (ft fileTask) toTask() (*graph.Task, error) {
	if ft.Name == "" {
		return nil, fmt.Errorf("task has an empty name")
	}

	deps := make([]target.Dependency, len(ft.Dependencies))
	for i, k := range ft.Dependencies {
		d, err := k.toDependency()
		if err != nil {
			return nil, fmt.Errorf("dependency %d of %q: %w", i, ft.Name, err)
		}
		deps[i] = d
	}

	targets := make([]target.Target, len(ft.Targets))
	for i, k := range ft.Targets {
		tg, err := k.toTarget()
		if err != nil {
			return nil, fmt.Errorf("target %d of %q: %w", i, ft.Name, err)
		}
		targets[i] = tg
	}

	actions := make([]graph.Action, len(ft.Actions))
	for i, shell := range ft.Actions {
		actions[i] = graph.Action{Shell: shell}
	}

	return &graph.Task{
		Name:         ft.Name,
		Actions:      actions,
		Dependencies: deps,
		Targets:      targets,
		Setup:        ft.Setup,
		NoDefaultRun: ft.NoDefaultRun,
	}, nil
}

func (k fileKey) toDependency() (target.Dependency, error) {
	switch k.Kind {
	case kindFile:
		if k.Path == "" {
			return nil, fmt.Errorf("file dependency requires path")
		}
		return target.FileDependency{Path: k.Path}, nil
	case kindDir:
		if k.Path == "" {
			return nil, fmt.Errorf("dir dependency requires path")
		}
		return target.DirPrefixDependency{Prefix: withTrailingSlash(k.Path)}, nil
	case kindTask:
		if k.TaskName == "" {
			return nil, fmt.Errorf("task dependency requires task")
		}
		return target.TaskDependency{TaskName: k.TaskName}, nil
	default:
		return nil, fmt.Errorf("unknown dependency kind %q", k.Kind)
	}
}

func (k fileKey) toTarget() (target.Target, error) {
	switch k.Kind {
	case kindFile:
		if k.Path == "" {
			return nil, fmt.Errorf("file target requires path")
		}
		return target.FileTarget{Path: k.Path}, nil
	case kindDir:
		if k.Path == "" {
			return nil, fmt.Errorf("dir target requires path")
		}
		return target.DirPrefixTarget{Prefix: withTrailingSlash(k.Path)}, nil
	case kindTask:
		if k.TaskName == "" {
			return nil, fmt.Errorf("task target requires task")
		}
		return target.GroupTarget{TaskName: k.TaskName}, nil
	default:
		return nil, fmt.Errorf("unknown target kind %q", k.Kind)
	}
}
