package realize

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile parses the YAML document at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadBytes(data, path)
}

// Load parses a YAML document read from r. source names the document in errors.
func Load(r io.Reader, source string) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", source, err)
	}
	return LoadBytes(data, source)
}

// LoadBytes parses a YAML document held in memory.
// An empty document yields an empty configuration.
func LoadBytes(data []byte, source string) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Config{root: NewMap()}, nil
	}

	var rootNode yaml.Node
	if err := yaml.Unmarshal(data, &rootNode); err != nil {
		return nil, yamlParseError(source, err)
	}

	if rootNode.Kind != yaml.DocumentNode || len(rootNode.Content) == 0 {
		return &Config{root: NewMap()}, nil
	}

	doc := rootNode.Content[0]
	if doc.Kind == yaml.ScalarNode && doc.ShortTag() == "!!null" {
		return &Config{root: NewMap()}, nil
	}
	if resolveAlias(doc).Kind != yaml.MappingNode {
		return nil, &ParseError{Source: source, Line: doc.Line, Column: doc.Column,
			Message: "expected a mapping at the document root"}
	}

	value, err := decodeNode(doc, source)
	if err != nil {
		return nil, err
	}
	return &Config{root: value.(*Map)}, nil
}

// decodeNode converts a yaml.v3 node into the configuration value sum type.
func decodeNode(node *yaml.Node, source string) (any, error) {
	node = resolveAlias(node)

	switch node.Kind {
	case yaml.ScalarNode:
		return decodeScalar(node, source)
	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, child := range node.Content {
			v, err := decodeNode(child, source)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		return decodeMapping(node, source)
	default:
		return nil, &ParseError{Source: source, Line: node.Line, Column: node.Column,
			Message: "unsupported YAML node"}
	}
}

// decodeMapping decodes a mapping node, honouring YAML merge keys and
// rejecting duplicate keys.
func decodeMapping(node *yaml.Node, source string) (*Map, error) {
	m := NewMap()
	var merged []*Map

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valueNode := node.Content[i+1]

		if keyNode.ShortTag() == "!!merge" {
			sources, err := decodeMergeSources(valueNode, source)
			if err != nil {
				return nil, err
			}
			merged = append(merged, sources...)
			continue
		}

		keyNode = resolveAlias(keyNode)
		if keyNode.Kind != yaml.ScalarNode {
			return nil, &ParseError{Source: source, Line: keyNode.Line, Column: keyNode.Column,
				Message: "mapping keys must be scalars"}
		}
		key := keyNode.Value
		if _, exists := m.Get(key); exists {
			return nil, &ParseError{Source: source, Line: keyNode.Line, Column: keyNode.Column,
				Message: fmt.Sprintf("duplicate key %q", key)}
		}

		v, err := decodeNode(valueNode, source)
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
	}

	// Explicit keys win over merged ones; earlier merge sources win over later ones.
	for _, src := range merged {
		for _, k := range src.Keys() {
			if _, exists := m.Get(k); !exists {
				v, _ := src.Get(k)
				m.Set(k, CloneValue(v))
			}
		}
	}

	return m, nil
}

func decodeMergeSources(node *yaml.Node, source string) ([]*Map, error) {
	node = resolveAlias(node)
	var nodes []*yaml.Node
	switch node.Kind {
	case yaml.MappingNode:
		nodes = []*yaml.Node{node}
	case yaml.SequenceNode:
		nodes = node.Content
	default:
		return nil, &ParseError{Source: source, Line: node.Line, Column: node.Column,
			Message: "merge key requires a mapping or a sequence of mappings"}
	}

	out := make([]*Map, 0, len(nodes))
	for _, n := range nodes {
		n = resolveAlias(n)
		if n.Kind != yaml.MappingNode {
			return nil, &ParseError{Source: source, Line: n.Line, Column: n.Column,
				Message: "merge key requires a mapping or a sequence of mappings"}
		}
		m, err := decodeMapping(n, source)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeScalar(node *yaml.Node, source string) (any, error) {
	switch node.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return nil, scalarError(node, source, err)
		}
		return b, nil
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return nil, scalarError(node, source, err)
		}
		return i, nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return nil, scalarError(node, source, err)
		}
		return f, nil
	default:
		// Strings, timestamps and binary scalars keep their literal text.
		return node.Value, nil
	}
}

func scalarError(node *yaml.Node, source string, err error) error {
	return &ParseError{Source: source, Line: node.Line, Column: node.Column,
		Message: fmt.Sprintf("invalid %s scalar %q: %v", strings.TrimPrefix(node.ShortTag(), "!!"), node.Value, err)}
}

func resolveAlias(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

// yamlParseError converts a yaml.v3 syntax error into a ParseError,
// extracting the line number when the message carries one.
func yamlParseError(source string, err error) *ParseError {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return &ParseError{Source: source, Message: strings.Join(typeErr.Errors, "; ")}
	}

	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	pe := &ParseError{Source: source, Message: msg}
	if m := yamlLinePattern.FindStringSubmatch(msg); m != nil {
		if line, convErr := strconv.Atoi(m[1]); convErr == nil {
			pe.Line = line
			pe.Column = 1
		}
	}
	return pe
}
