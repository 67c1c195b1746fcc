package realize

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is a hierarchical configuration document. A Config returned by
// Dereference is treated as immutable by its consumers.
type Config struct {
	root *Map
}

// New wraps an ordered mapping as a configuration. A nil root yields an
// empty configuration.
func New(root *Map) *Config {
	if root == nil {
		root = NewMap()
	}
	return &Config{root: root}
}

// FromMap builds a configuration from plain Go maps, sorting keys.
func FromMap(m map[string]any) (*Config, error) {
	v, err := FromNative(m)
	if err != nil {
		return nil, err
	}
	return &Config{root: v.(*Map)}, nil
}

// Root returns the top-level mapping.
func (c *Config) Root() *Map {
	return c.root
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	return &Config{root: c.root.Clone()}
}

// Native returns the configuration as plain Go maps and slices.
func (c *Config) Native() map[string]any {
	return c.root.Native()
}

// MarshalYAML renders the configuration with its key order intact.
func (c *Config) MarshalYAML() (any, error) {
	return ToNode(c.root)
}

// YAML returns the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	node, err := ToNode(c.root)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(node)
}

// Merge returns a new configuration with override deep-merged over c.
// Mappings merge key by key; any other value in override replaces the
// corresponding value in c. Neither input is modified.
func (c *Config) Merge(override *Config) *Config {
	out := c.root.Clone()
	if override != nil {
		mergeInto(out, override.root)
	}
	return &Config{root: out}
}

func mergeInto(dst, src *Map) {
	for _, k := range src.keys {
		sv := src.values[k]
		if dv, ok := dst.values[k]; ok {
			dm, dIsMap := dv.(*Map)
			sm, sIsMap := sv.(*Map)
			if dIsMap && sIsMap {
				mergeInto(dm, sm)
				continue
			}
		}
		dst.Set(k, CloneValue(sv))
	}
}

// Select follows a dotted path through the configuration. Integer segments
// index sequences. The returned value is shared with the configuration.
func (c *Config) Select(path string) (any, error) {
	return Select(c, path)
}

// Select follows a dotted path through cfg. An empty path selects the root.
func Select(cfg *Config, path string) (any, error) {
	if path == "" {
		return cfg.root, nil
	}
	return lookup(cfg.root, splitPath(path), path)
}

// Section selects a mapping and wraps it as a configuration.
func (c *Config) Section(path string) (*Config, error) {
	v, err := c.Select(path)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Map)
	if !ok {
		return nil, &KeyError{Path: path, Key: path}
	}
	return &Config{root: m}, nil
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

func lookup(v any, segments []string, path string) (any, error) {
	cur := v
	for _, seg := range segments {
		switch t := cur.(type) {
		case *Map:
			next, ok := t.Get(seg)
			if !ok {
				return nil, &KeyError{Path: path, Key: seg}
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, &KeyError{Path: path, Key: seg}
			}
			cur = t[idx]
		default:
			return nil, &KeyError{Path: path, Key: seg}
		}
	}
	return cur, nil
}
