// Package config provides hierarchical configuration management for wxflow using koanf.
// Configuration is loaded with priority: command-line flags > environment variables
// > project config (.wxflow/config.yml) > user config (~/.config/wxflow/config.yml)
// > defaults. A legacy JSON user config is still read when no YAML one exists.
//
// This is the tool's own configuration. The NWP configuration documents that
// describe components are handled by the realize package.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigSource tracks where a configuration value came from
type ConfigSource string

const (
	SourceDefault ConfigSource = "default"
	SourceUser    ConfigSource = "user"
	SourceProject ConfigSource = "project"
	SourceEnv     ConfigSource = "env"
	SourceFlag    ConfigSource = "flag"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "WXFLOW_"

// Configuration represents the wxflow tool configuration
type Configuration struct {
	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// MaxParallel bounds concurrently running task actions. 1 keeps
	// evaluation sequential.
	MaxParallel int `koanf:"max_parallel" validate:"min=1,max=256"`

	// SymlinkPolicy is "strict" (targets must exist) or "lenient".
	SymlinkPolicy string `koanf:"symlink_policy" validate:"oneof=strict lenient"`
	// HardlinkFallback is the default for hardlink collections: "error" or "copy".
	HardlinkFallback string `koanf:"hardlink_fallback" validate:"oneof=error copy"`
	Fsync            bool   `koanf:"fsync"`

	// RunTimeout limits local runscript execution. Zero means no limit.
	RunTimeout time.Duration `koanf:"run_timeout" validate:"min=0s"`

	// GraphFile, when set, receives the DOT trace of every evaluation.
	GraphFile string `koanf:"graph_file"`
}

// Value returns the effective value of a known key formatted the way it is
// written in a config file.
func (c *Configuration) Value(key string) (string, error) {
	switch key {
	case "log_level":
		return c.LogLevel, nil
	case "log_format":
		return c.LogFormat, nil
	case "max_parallel":
		return strconv.Itoa(c.MaxParallel), nil
	case "symlink_policy":
		return c.SymlinkPolicy, nil
	case "hardlink_fallback":
		return c.HardlinkFallback, nil
	case "fsync":
		return strconv.FormatBool(c.Fsync), nil
	case "run_timeout":
		return c.RunTimeout.String(), nil
	case "graph_file":
		return c.GraphFile, nil
	}
	return "", ErrUnknownKey{Key: key}
}

// LoadOptions configures how configuration is loaded
type LoadOptions struct {
	// ProjectConfigPath overrides the project config path (default: .wxflow/config.yml)
	ProjectConfigPath string
	// UserConfigPath overrides the user config path (default: XDG config dir)
	UserConfigPath string
	// LegacyUserConfigPath overrides the legacy JSON config path (default: ~/.wxflow/config.json)
	LegacyUserConfigPath string
	// Overrides are raw key=value settings from command-line flags. They are
	// checked against KnownKeys.
	Overrides map[string]string
	// WarningWriter receives deprecation warnings (default: os.Stderr)
	WarningWriter io.Writer
	// SkipWarnings suppresses deprecation warnings
	SkipWarnings bool
}

// Load loads configuration from user, project, and environment sources.
// Priority: Environment variables > Project config > User config > Defaults
func Load(projectConfigPath string) (*Configuration, error) {
	return LoadWithOptions(LoadOptions{ProjectConfigPath: projectConfigPath})
}

// LoadWithOptions loads configuration with custom options
func LoadWithOptions(opts LoadOptions) (*Configuration, error) {
	k := koanf.New(".")
	warningWriter := getWarningWriter(opts.WarningWriter)

	loadDefaults(k)

	if err := loadUserConfig(k, opts, warningWriter); err != nil {
		return nil, err
	}

	if err := loadProjectConfig(k, opts.ProjectConfigPath); err != nil {
		return nil, err
	}

	if err := loadEnvironmentConfig(k); err != nil {
		return nil, err
	}

	if err := applyOverrides(k, opts.Overrides); err != nil {
		return nil, err
	}

	return finalizeConfig(k)
}

// getWarningWriter returns the warning writer or defaults to stderr
func getWarningWriter(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}

// loadDefaults applies default configuration values
func loadDefaults(k *koanf.Koanf) {
	for key, value := range GetDefaults() {
		k.Set(key, value)
	}
}

// loadUserConfig loads user-level config (YAML preferred, legacy JSON supported).
// Warns if both exist (YAML used, JSON ignored) or if only legacy JSON exists.
func loadUserConfig(k *koanf.Koanf, opts LoadOptions, warningWriter io.Writer) error {
	userYAMLPath := opts.UserConfigPath
	if userYAMLPath == "" {
		userYAMLPath, _ = UserConfigPath()
	}
	legacyUserPath := opts.LegacyUserConfigPath
	if legacyUserPath == "" {
		legacyUserPath, _ = LegacyUserConfigPath()
	}

	userYAMLExists := fileExists(userYAMLPath)
	legacyUserExists := fileExists(legacyUserPath)

	if userYAMLExists {
		if err := loadYAMLConfig(k, userYAMLPath, "user"); err != nil {
			return fmt.Errorf("loading user YAML config: %w", err)
		}
		if legacyUserExists && !opts.SkipWarnings {
			fmt.Fprintf(warningWriter, "Warning: Legacy JSON config found at %s (ignored, using %s)\n\n", legacyUserPath, userYAMLPath)
		}
	} else if legacyUserExists {
		if err := k.Load(file.Provider(legacyUserPath), json.Parser()); err != nil {
			return fmt.Errorf("failed to load legacy user config %s: %w", legacyUserPath, err)
		}
		if !opts.SkipWarnings {
			fmt.Fprintf(warningWriter, "Warning: Using deprecated JSON config at %s\n", legacyUserPath)
			fmt.Fprintf(warningWriter, "  Move its settings to %s.\n\n", userYAMLPath)
		}
	}
	return nil
}

// loadProjectConfig loads the project-level YAML config. customPath
// replaces the default location.
func loadProjectConfig(k *koanf.Koanf, customPath string) error {
	projectYAMLPath := ProjectConfigPath()
	if customPath != "" {
		projectYAMLPath = customPath
	}
	if !fileExists(projectYAMLPath) {
		return nil
	}
	if err := loadYAMLConfig(k, projectYAMLPath, "project"); err != nil {
		return fmt.Errorf("loading project YAML config: %w", err)
	}
	return nil
}

// loadYAMLConfig validates and loads a YAML config file
func loadYAMLConfig(k *koanf.Koanf, path, configType string) error {
	if err := ValidateYAMLSyntax(path); err != nil {
		return fmt.Errorf("validating YAML syntax for %s config: %w", configType, err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load %s config %s: %w", configType, path, err)
	}
	return nil
}

// loadEnvironmentConfig loads environment variable overrides
func loadEnvironmentConfig(k *koanf.Koanf) error {
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return fmt.Errorf("failed to load environment config: %w", err)
	}
	return nil
}

// applyOverrides sets command-line values, in key order so that the first
// invalid key reported is stable.
func applyOverrides(k *koanf.Koanf, overrides map[string]string) error {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		parsed, err := ValidateValue(key, overrides[key])
		if err != nil {
			return &ValidationError{FilePath: string(SourceFlag), Field: key, Message: err.Error()}
		}
		k.Set(key, parsed.Parsed)
	}
	return nil
}

// finalizeConfig unmarshals, validates, and applies final transformations
func finalizeConfig(k *koanf.Koanf) (*Configuration, error) {
	var cfg Configuration
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateConfigValues(&cfg, "config"); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.GraphFile = expandHomePath(cfg.GraphFile)
	return &cfg, nil
}

// fileExists returns true if the file exists and is readable
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// envTransform converts environment variable names to config keys
// Example: WXFLOW_MAX_PARALLEL -> max_parallel
func envTransform(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

// expandHomePath expands ~ to the user's home directory
func expandHomePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
