package stage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ariel-frischer/wxflow/internal/engine"
)

// CollectionKind selects how the items of a collection are staged.
type CollectionKind int

const (
	CollectCopy CollectionKind = iota
	CollectSymlink
	CollectHardlink
)

// String returns the collection kind as used in task names.
func (k CollectionKind) String() string {
	switch k {
	case CollectCopy:
		return "copy"
	case CollectSymlink:
		return "symlink"
	case CollectHardlink:
		return "hardlink"
	default:
		return fmt.Sprintf("collection(%d)", int(k))
	}
}

// Item maps a destination, relative to the collection directory, to a
// source path. A source containing glob characters stages every match
// into the destination directory under the match's base name.
type Item struct {
	Dst string
	Src string
}

// Collection declares an aggregator staging every item under targetDir.
// Globs are expanded when the graph is resolved, so files matched later
// are not picked up. An empty collection is ready.
func (s *Stager) Collection(kind CollectionKind, items []Item, targetDir string) engine.Ref {
	args := []any{kind, items, targetDir, s.symlinkPolicy, s.fallback}
	return engine.NewRef((*Stager).Collection, args, func() (engine.Definition, error) {
		var refs []engine.Ref
		for _, item := range items {
			dst := item.Dst
			if !filepath.IsAbs(dst) {
				dst = filepath.Join(targetDir, dst)
			}

			if !hasGlob(item.Src) {
				refs = append(refs, s.stageOne(kind, item.Src, dst))
				continue
			}

			matches, err := filepath.Glob(item.Src)
			if err != nil {
				return engine.Definition{}, fmt.Errorf("expanding %q: %w", item.Src, err)
			}
			for _, match := range matches {
				refs = append(refs, s.stageOne(kind, match, filepath.Join(dst, filepath.Base(match))))
			}
		}

		name := fmt.Sprintf("%s collection %s", kind, targetDir)
		return engine.Tasks(name, engine.Requires(refs...)), nil
	})
}

func (s *Stager) stageOne(kind CollectionKind, src, dst string) engine.Ref {
	switch kind {
	case CollectSymlink:
		return s.Symlink(src, dst)
	case CollectHardlink:
		return s.Hardlink(src, dst, s.fallback)
	default:
		return s.Copy(src, dst)
	}
}

func hasGlob(path string) bool {
	return strings.ContainsAny(path, "*?[")
}
