package config

// GetDefaultConfigTemplate returns a fully commented config template
// that helps users understand all available options
func GetDefaultConfigTemplate() string {
	return `# wxflow Configuration
# See 'wxflow config keys' for all options

# Logging
log_level: info                       # debug | info | warn | error
log_format: text                      # text | json

# Evaluation
max_parallel: 1                       # Concurrent task actions (1 = sequential)
graph_file: ""                        # Write the DOT trace of each run here

# Staging
symlink_policy: strict                # strict (targets must exist) | lenient
hardlink_fallback: error              # error | copy when hard links are refused
fsync: false                          # Flush staged files before reporting ready

# Execution
run_timeout: 0s                       # Limit for local runscript execution (0s = none)
`
}

// GetDefaults returns the default configuration values
func GetDefaults() map[string]interface{} {
	defaults := make(map[string]interface{}, len(KnownKeys))
	for key, schema := range KnownKeys {
		defaults[key] = schema.Default
	}
	return defaults
}
