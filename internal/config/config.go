// Package config loads and resolves anvil.toml, the engine's configuration
// file, following flag > environment > file > default precedence.
//
// Grounded on Raven's internal/config package (config.go/load.go/
// resolve.go/validate.go), narrowed from Raven's agent/workflow sections to
// the fields spec.md's ambient stack (§9.3) names: state store location,
// max_tasks, default parallelism, trace output path, and the witness-probe
// rate-limit window.
package config

// Config is the top-level configuration structure mapping to anvil.toml.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Execution ExecutionConfig `toml:"execution"`
	Trace     TraceConfig     `toml:"trace"`
	Log       LogConfig       `toml:"log"`
}

// StoreConfig maps to the [store] section.
type StoreConfig struct {
	Path string `toml:"path"`
}

// ExecutionConfig maps to the [execution] section.
type ExecutionConfig struct {
	MaxTasks          int `toml:"max_tasks"`
	Parallelism       int `toml:"parallelism"`
	WitnessProbeLimit int `toml:"witness_probe_limit"`
}

// TraceConfig maps to the [trace] section.
type TraceConfig struct {
	OutputPath string `toml:"output_path"`
}

// LogConfig maps to the [log] section.
type LogConfig struct {
	Verbose bool `toml:"verbose"`
	Quiet   bool `toml:"quiet"`
	JSON    bool `toml:"json"`
}
