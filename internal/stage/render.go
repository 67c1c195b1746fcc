package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ariel-frischer/wxflow/internal/engine"
	"github.com/ariel-frischer/wxflow/internal/realize"
)

// Built-in rendered config formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
	FormatSh   = "sh"
)

// Serializer renders configuration values (nil, bool, int64, float64,
// string, []any or *realize.Map) into file content.
type Serializer interface {
	Serialize(values any) ([]byte, error)
}

// SerializerFunc adapts a function to the Serializer interface.
type SerializerFunc func(values any) ([]byte, error)

// Serialize calls f.
func (f SerializerFunc) Serialize(values any) ([]byte, error) {
	return f(values)
}

// RenderedConfig declares path as values rendered in format. values may be
// a *realize.Config, a configuration value or plain Go maps and slices.
// When schemaPath is set the values must satisfy that JSON Schema before
// anything is written, and the file on disk must still satisfy it to be
// ready.
func (s *Stager) RenderedConfig(path, format string, values any, schemaPath string) engine.Ref {
	normalized, normErr := normalizeValues(values)
	fingerprint := ""
	if normErr == nil {
		fingerprint = fingerprintOf(normalized)
	}

	args := []any{path, format, fingerprint, schemaPath}
	return engine.NewRef((*Stager).RenderedConfig, args, func() (engine.Definition, error) {
		if normErr != nil {
			return engine.Definition{}, &SerializationError{Path: path, Format: format, Err: normErr}
		}

		asset := engine.NewAsset(path, func() bool {
			if !isRegular(path) {
				return false
			}
			if schemaPath == "" {
				return true
			}
			return s.fileConforms(path, format, schemaPath)
		})

		return engine.Task("config "+path, []engine.Asset{asset}, nil, func(context.Context) error {
			if schemaPath != "" {
				if err := s.validate(normalized, schemaPath); err != nil {
					return &SchemaError{Path: path, Schema: schemaPath, Err: err}
				}
			}

			ser, ok := s.serializers[format]
			if !ok {
				return &SerializationError{Path: path, Format: format, Err: fmt.Errorf("unknown format")}
			}
			data, err := ser.Serialize(normalized)
			if err != nil {
				return &SerializationError{Path: path, Format: format, Err: err}
			}

			if err := atomicWriteFile(path, data, 0o644, s.fsync); err != nil {
				return &OpError{Op: "write", Path: path, Err: err}
			}
			s.logger.Debug("rendered config",
				slog.String("path", path),
				slog.String("format", format),
				slog.Int("bytes", len(data)),
			)
			return nil
		}), nil
	})
}

func normalizeValues(values any) (any, error) {
	if cfg, ok := values.(*realize.Config); ok {
		return cfg.Root(), nil
	}
	return realize.FromNative(values)
}

// fingerprintOf renders values as flow YAML so that equal values declared
// twice share a task identity.
func fingerprintOf(values any) string {
	if values == nil {
		return "null"
	}
	out, err := realize.Stringify(values)
	if err != nil {
		return fmt.Sprintf("%v", values)
	}
	return out
}

func serializeYAML(values any) ([]byte, error) {
	node, err := realize.ToNode(values)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(node)
}

func serializeJSON(values any) ([]byte, error) {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

var shellName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// serializeSh renders a flat mapping as KEY='value' lines.
func serializeSh(values any) ([]byte, error) {
	m, ok := values.(*realize.Map)
	if !ok {
		return nil, fmt.Errorf("sh format requires a mapping, got %s", realize.KindOf(values))
	}

	var buf bytes.Buffer
	for _, key := range m.Keys() {
		if !shellName.MatchString(key) {
			return nil, fmt.Errorf("key %q is not a valid shell variable name", key)
		}
		v, _ := m.Get(key)
		switch realize.KindOf(v) {
		case realize.KindMapping, realize.KindSequence:
			return nil, fmt.Errorf("key %q: sh format supports scalar values only", key)
		case realize.KindNull:
			return nil, fmt.Errorf("key %q: sh format cannot render null", key)
		}
		str, err := realize.Stringify(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		fmt.Fprintf(&buf, "%s=%s\n", key, singleQuote(str))
	}
	return buf.Bytes(), nil
}

func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// validate checks configuration values against a JSON Schema file.
func (s *Stager) validate(values any, schemaPath string) error {
	schema, err := s.schema(schemaPath)
	if err != nil {
		return err
	}

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding values: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decoding values: %w", err)
	}
	return schema.Validate(doc)
}

// schema compiles a schema file once per Stager.
func (s *Stager) schema(schemaPath string) (*jsonschema.Schema, error) {
	abs, err := filepath.Abs(schemaPath)
	if err != nil {
		return nil, err
	}

	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	if schema, ok := s.schemas[abs]; ok {
		return schema, nil
	}
	schema, err := jsonschema.Compile(abs)
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	s.schemas[abs] = schema
	return schema, nil
}

// fileConforms decodes a rendered file and checks it against the schema.
// Formats other than yaml and json are only checked for existence.
func (s *Stager) fileConforms(path, format, schemaPath string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var doc any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return false
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return false
		}
	default:
		return true
	}

	values, err := realize.FromNative(doc)
	if err != nil {
		return false
	}
	return s.validate(values, schemaPath) == nil
}
