package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/anvil-build/anvil/internal/config"
)

// loadAndResolveConfig finds and loads anvil.toml under dir (if present),
// merges it with defaults, the process environment, and overrides, and
// validates the result. Grounded on Raven's internal/config load+resolve+
// validate pipeline, wired directly rather than reimplemented.
func loadAndResolveConfig(dir string, overrides *config.CLIOverrides) (*config.Resolved, error) {
	defaults := config.NewDefaults()

	path, err := config.FindConfigFile(dir)
	if err != nil {
		return nil, configErrorf("locating %s: %v", config.FileName, err)
	}

	var fileCfg *config.Config
	var meta *toml.MetaData
	if path != "" {
		cfg, md, err := config.LoadFromFile(path)
		if err != nil {
			return nil, configErrorf("%v", err)
		}
		fileCfg = cfg
		meta = &md
	}

	resolved := config.Resolve(defaults, fileCfg, os.LookupEnv, overrides)

	result := config.Validate(resolved.Config, meta)
	if result.HasErrors() {
		return nil, configErrorf("invalid configuration: %s", formatIssues(result.Issues))
	}

	return resolved, nil
}

func formatIssues(issues []config.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		if issue.Severity != config.SeverityError {
			continue
		}
		if issue.Field != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
		} else {
			parts = append(parts, issue.Message)
		}
	}
	return strings.Join(parts, "; ")
}
