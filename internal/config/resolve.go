package config

import "strconv"

// Source identifies where a resolved configuration value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceCLI     Source = "cli"
)

// Resolved holds the fully-merged configuration plus per-field source
// annotations, keyed by dotted path (e.g. "execution.max_tasks").
type Resolved struct {
	Config  *Config
	Sources map[string]Source
}

// CLIOverrides captures flag values that may override configuration. A nil
// pointer means "flag not set"; only non-nil fields participate in the
// merge.
type CLIOverrides struct {
	StorePath   *string
	MaxTasks    *int
	Parallelism *int
	Verbose     *bool
	Quiet       *bool
}

// EnvFunc looks up an environment variable, injected for testability.
// The default is os.LookupEnv.
type EnvFunc func(key string) (string, bool)

// Resolve merges defaults, an optional file config, environment variables,
// and CLI overrides in that ascending priority order (flag > env > file >
// default), mirroring Raven's internal/config/resolve.go layering.
func Resolve(defaults, fileConfig *Config, envFn EnvFunc, overrides *CLIOverrides) *Resolved {
	if defaults == nil {
		defaults = &Config{}
	}
	if envFn == nil {
		envFn = func(string) (string, bool) { return "", false }
	}
	if overrides == nil {
		overrides = &CLIOverrides{}
	}

	r := &Resolved{Config: &Config{}, Sources: make(map[string]Source)}

	r.Config.Store.Path = defaults.Store.Path
	r.Sources["store.path"] = SourceDefault
	r.Config.Execution = defaults.Execution
	r.Sources["execution.max_tasks"] = SourceDefault
	r.Sources["execution.parallelism"] = SourceDefault
	r.Sources["execution.witness_probe_limit"] = SourceDefault
	r.Config.Trace.OutputPath = defaults.Trace.OutputPath
	r.Sources["trace.output_path"] = SourceDefault
	r.Config.Log = defaults.Log

	if fileConfig != nil {
		if fileConfig.Store.Path != "" {
			r.Config.Store.Path = fileConfig.Store.Path
			r.Sources["store.path"] = SourceFile
		}
		if fileConfig.Execution.MaxTasks != 0 {
			r.Config.Execution.MaxTasks = fileConfig.Execution.MaxTasks
			r.Sources["execution.max_tasks"] = SourceFile
		}
		if fileConfig.Execution.Parallelism != 0 {
			r.Config.Execution.Parallelism = fileConfig.Execution.Parallelism
			r.Sources["execution.parallelism"] = SourceFile
		}
		if fileConfig.Execution.WitnessProbeLimit != 0 {
			r.Config.Execution.WitnessProbeLimit = fileConfig.Execution.WitnessProbeLimit
			r.Sources["execution.witness_probe_limit"] = SourceFile
		}
		if fileConfig.Trace.OutputPath != "" {
			r.Config.Trace.OutputPath = fileConfig.Trace.OutputPath
			r.Sources["trace.output_path"] = SourceFile
		}
		r.Config.Log.Verbose = r.Config.Log.Verbose || fileConfig.Log.Verbose
		r.Config.Log.Quiet = r.Config.Log.Quiet || fileConfig.Log.Quiet
		r.Config.Log.JSON = r.Config.Log.JSON || fileConfig.Log.JSON
	}

	if val, ok := envFn("ANVIL_STORE_PATH"); ok {
		r.Config.Store.Path = val
		r.Sources["store.path"] = SourceEnv
	}
	if val, ok := envFn("ANVIL_MAX_TASKS"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			r.Config.Execution.MaxTasks = n
			r.Sources["execution.max_tasks"] = SourceEnv
		}
	}
	if val, ok := envFn("ANVIL_PARALLELISM"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			r.Config.Execution.Parallelism = n
			r.Sources["execution.parallelism"] = SourceEnv
		}
	}

	if overrides.StorePath != nil {
		r.Config.Store.Path = *overrides.StorePath
		r.Sources["store.path"] = SourceCLI
	}
	if overrides.MaxTasks != nil {
		r.Config.Execution.MaxTasks = *overrides.MaxTasks
		r.Sources["execution.max_tasks"] = SourceCLI
	}
	if overrides.Parallelism != nil {
		r.Config.Execution.Parallelism = *overrides.Parallelism
		r.Sources["execution.parallelism"] = SourceCLI
	}
	if overrides.Verbose != nil {
		r.Config.Log.Verbose = *overrides.Verbose
		r.Sources["log.verbose"] = SourceCLI
	}
	if overrides.Quiet != nil {
		r.Config.Log.Quiet = *overrides.Quiet
		r.Sources["log.quiet"] = SourceCLI
	}

	return r
}
