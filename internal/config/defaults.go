package config

// NewDefaults returns a Config populated with anvil's built-in defaults.
func NewDefaults() *Config {
	return &Config{
		Store: StoreConfig{
			Path: ".anvil/state.json",
		},
		Execution: ExecutionConfig{
			MaxTasks:          0, // 0 means unbounded, per spec.md's max_tasks safety bound
			Parallelism:       1,
			WitnessProbeLimit: 8,
		},
		Trace: TraceConfig{
			OutputPath: ".anvil/trace.jsonl",
		},
	}
}
