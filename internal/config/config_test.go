package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// isolated returns load options that never touch the real user or project
// config files.
func isolated(t *testing.T) (LoadOptions, string) {
	t.Helper()
	dir := t.TempDir()
	return LoadOptions{
		ProjectConfigPath:    filepath.Join(dir, "project", "config.yml"),
		UserConfigPath:       filepath.Join(dir, "user", "config.yml"),
		LegacyUserConfigPath: filepath.Join(dir, "legacy", "config.json"),
		WarningWriter:        &bytes.Buffer{},
	}, dir
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	opts, _ := isolated(t)
	cfg, err := LoadWithOptions(opts)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 1, cfg.MaxParallel)
	assert.Equal(t, "strict", cfg.SymlinkPolicy)
	assert.Equal(t, "error", cfg.HardlinkFallback)
	assert.False(t, cfg.Fsync)
	assert.Zero(t, cfg.RunTimeout)
	assert.Empty(t, cfg.GraphFile)
}

func TestLoad_Layering(t *testing.T) {
	t.Parallel()

	opts, _ := isolated(t)
	writeConfig(t, opts.UserConfigPath, "max_parallel: 4\nsymlink_policy: lenient\nrun_timeout: 30m\n")
	writeConfig(t, opts.ProjectConfigPath, "max_parallel: 8\nfsync: true\n")
	opts.Overrides = map[string]string{"hardlink_fallback": "copy", "run_timeout": "90m"}

	cfg, err := LoadWithOptions(opts)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxParallel, "project overrides user")
	assert.Equal(t, "lenient", cfg.SymlinkPolicy, "user value kept when project is silent")
	assert.True(t, cfg.Fsync)
	assert.Equal(t, "copy", cfg.HardlinkFallback)
	assert.Equal(t, 90*time.Minute, cfg.RunTimeout, "flag overrides user")
}

func TestLoad_LegacyJSON(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		withYAML    bool
		wantLevel   string
		wantWarning string
	}{
		"legacy only": {
			wantLevel:   "debug",
			wantWarning: "Using deprecated JSON config",
		},
		"legacy next to yaml": {
			withYAML:    true,
			wantLevel:   "warn",
			wantWarning: "(ignored, using",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			opts, _ := isolated(t)
			warnings := &bytes.Buffer{}
			opts.WarningWriter = warnings
			writeConfig(t, opts.LegacyUserConfigPath, `{"log_level": "debug"}`)
			if tt.withYAML {
				writeConfig(t, opts.UserConfigPath, "log_level: warn\n")
			}

			cfg, err := LoadWithOptions(opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, cfg.LogLevel)
			assert.Contains(t, warnings.String(), tt.wantWarning)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		project   string
		overrides map[string]string
		wantField string
		wantMsg   string
	}{
		"yaml syntax": {
			project: "log_level: [info\n",
			wantMsg: "validating YAML syntax for project config",
		},
		"below minimum": {
			project:   "max_parallel: 0\n",
			wantField: "max_parallel",
			wantMsg:   "must be at least 1",
		},
		"not an option": {
			project:   "symlink_policy: sideways\n",
			wantField: "symlink_policy",
			wantMsg:   "must be one of: strict, lenient",
		},
		"unknown flag key": {
			overrides: map[string]string{"max_retries": "3"},
			wantField: "max_retries",
			wantMsg:   "unknown configuration key: max_retries",
		},
		"bad flag value": {
			overrides: map[string]string{"max_parallel": "many"},
			wantField: "max_parallel",
			wantMsg:   `invalid integer: "many"`,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			opts, _ := isolated(t)
			if tt.project != "" {
				writeConfig(t, opts.ProjectConfigPath, tt.project)
			}
			opts.Overrides = tt.overrides

			_, err := LoadWithOptions(opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)

			if tt.wantField != "" {
				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tt.wantField, verr.Field)
			}
		})
	}
}

func TestLoad_Environment(t *testing.T) {
	opts, _ := isolated(t)
	writeConfig(t, opts.ProjectConfigPath, "log_level: warn\nmax_parallel: 2\n")
	t.Setenv("WXFLOW_LOG_LEVEL", "debug")
	t.Setenv("WXFLOW_MAX_PARALLEL", "6")
	opts.Overrides = map[string]string{"max_parallel": "3"}

	cfg, err := LoadWithOptions(opts)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "env overrides project")
	assert.Equal(t, 3, cfg.MaxParallel, "flag overrides env")
}

func TestLoad_ExpandsGraphFile(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	opts, _ := isolated(t)
	opts.Overrides = map[string]string{"graph_file": "~/graphs/run.dot"}

	cfg, err := LoadWithOptions(opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "graphs", "run.dot"), cfg.GraphFile)
}

func TestValidateYAMLSyntax(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := map[string]struct {
		content  string
		wantLine int
		wantErr  bool
	}{
		"valid":   {content: "log_level: info\n"},
		"empty":   {content: "   \n"},
		"invalid": {content: "log_level: info\n  max_parallel: 2\n", wantLine: 2, wantErr: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(dir, name+".yml")
			writeConfig(t, path, tt.content)

			err := ValidateYAMLSyntax(path)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantLine, verr.Line)
			assert.Equal(t, path, verr.FilePath)
		})
	}

	assert.NoError(t, ValidateYAMLSyntax(filepath.Join(dir, "missing.yml")))
}

func TestValidateValue(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		key     string
		value   string
		want    interface{}
		wantErr bool
	}{
		"int":               {key: "max_parallel", value: "4", want: 4},
		"bool":              {key: "fsync", value: "TRUE", want: true},
		"duration":          {key: "run_timeout", value: "90m", want: "1h30m0s"},
		"enum":              {key: "log_format", value: "json", want: "json"},
		"string":            {key: "graph_file", value: "run.dot", want: "run.dot"},
		"bad enum":          {key: "log_format", value: "xml", wantErr: true},
		"negative duration": {key: "run_timeout", value: "-1m", wantErr: true},
		"unknown key":       {key: "nope", value: "1", wantErr: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := ValidateValue(tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Parsed)
			assert.Equal(t, tt.value, got.Raw)
		})
	}
}

func TestDefaultConfigTemplate(t *testing.T) {
	t.Parallel()

	var parsed map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(GetDefaultConfigTemplate()), &parsed))

	keys := make([]string, 0, len(parsed))
	for key := range parsed {
		keys = append(keys, key)
	}
	assert.ElementsMatch(t, SortedKeys(), keys)

	for _, key := range SortedKeys() {
		schema, err := GetKeySchema(key)
		require.NoError(t, err)
		assert.NotEmpty(t, schema.Description, key)
	}
}

func TestConfiguration_Value(t *testing.T) {
	t.Parallel()

	opts, _ := isolated(t)
	opts.Overrides = map[string]string{"max_parallel": "3", "run_timeout": "90s", "fsync": "true"}
	cfg, err := LoadWithOptions(opts)
	require.NoError(t, err)

	want := map[string]string{
		"log_level":         "info",
		"log_format":        "text",
		"max_parallel":      "3",
		"symlink_policy":    "strict",
		"hardlink_fallback": "error",
		"fsync":             "true",
		"run_timeout":       "1m30s",
		"graph_file":        "",
	}
	for _, key := range SortedKeys() {
		got, err := cfg.Value(key)
		require.NoError(t, err, key)
		assert.Equal(t, want[key], got, key)
	}

	_, err = cfg.Value("max_retries")
	var unknown ErrUnknownKey
	assert.True(t, errors.As(err, &unknown))
}
