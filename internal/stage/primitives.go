package stage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/ariel-frischer/wxflow/internal/engine"
)

// File declares a regular file that must already exist.
func (s *Stager) File(path string) engine.Ref {
	return engine.NewRef((*Stager).File, []any{path}, func() (engine.Definition, error) {
		return engine.External("file "+path, engine.NewAsset(path, func() bool {
			return isRegular(path)
		})), nil
	})
}

// Existing declares a path of any type that must already exist.
func (s *Stager) Existing(path string) engine.Ref {
	return engine.NewRef((*Stager).Existing, []any{path}, func() (engine.Definition, error) {
		return engine.External("existing "+path, engine.NewAsset(path, func() bool {
			return exists(path)
		})), nil
	})
}

// Directory declares a directory, created with its parents when missing.
func (s *Stager) Directory(path string) engine.Ref {
	return engine.NewRef((*Stager).Directory, []any{path}, func() (engine.Definition, error) {
		asset := engine.NewAsset(path, func() bool { return isDir(path) })
		return engine.Task("directory "+path, []engine.Asset{asset}, nil, func(context.Context) error {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return &OpError{Op: "mkdir", Path: path, Err: err}
			}
			s.logger.Debug("created directory", slog.String("path", path))
			return nil
		}), nil
	})
}

// Symlink declares link as a symbolic link to target. A relative target is
// interpreted relative to the directory of link, as the kernel does. Under
// SymlinkStrict the target is a requirement and a dangling link is not
// ready.
func (s *Stager) Symlink(target, link string) engine.Ref {
	strict := s.symlinkPolicy == SymlinkStrict
	return engine.NewRef((*Stager).Symlink, []any{target, link, strict}, func() (engine.Definition, error) {
		resolved := target
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(filepath.Dir(link), target)
		}

		asset := engine.NewAsset(link, func() bool {
			if !isSymlink(link) {
				return false
			}
			return !strict || exists(link)
		})

		var requires func() []engine.Ref
		if strict {
			requires = engine.Requires(s.Existing(resolved))
		}

		return engine.Task("symlink "+link+" -> "+target, []engine.Asset{asset}, requires, func(context.Context) error {
			if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
				return &OpError{Op: "mkdir", Path: filepath.Dir(link), Err: err}
			}
			if err := clearPath(link); err != nil {
				return &OpError{Op: "symlink", Path: link, Err: err}
			}
			if err := os.Symlink(target, link); err != nil {
				return &OpError{Op: "symlink", Path: link, Err: err}
			}
			s.logger.Debug("linked", slog.String("link", link), slog.String("target", target))
			return nil
		}), nil
	})
}

// Hardlink declares link as a hard link to the regular file target. When the
// filesystem refuses the link (cross-device, unsupported, link limit) the
// task fails, or copies the file when fallback is FallbackCopy.
func (s *Stager) Hardlink(target, link string, fallback HardlinkFallback) engine.Ref {
	return engine.NewRef((*Stager).Hardlink, []any{target, link, fallback}, func() (engine.Definition, error) {
		asset := engine.NewAsset(link, func() bool {
			if sameFile(target, link) {
				return true
			}
			return fallback == FallbackCopy && !isSymlink(link) && coversSize(target, link)
		})

		return engine.Task("hardlink "+link+" -> "+target, []engine.Asset{asset}, engine.Requires(s.File(target)), func(context.Context) error {
			if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
				return &OpError{Op: "mkdir", Path: filepath.Dir(link), Err: err}
			}
			if err := clearPath(link); err != nil {
				return &OpError{Op: "hardlink", Path: link, Err: err}
			}

			err := s.link(target, link)
			if err == nil {
				s.logger.Debug("hard linked", slog.String("link", link), slog.String("target", target))
				return nil
			}
			if !linkRefused(err) || fallback != FallbackCopy {
				return &OpError{Op: "hardlink", Path: link, Err: err}
			}

			s.logger.Info("hard link refused, copying instead",
				slog.String("link", link),
				slog.String("target", target),
				slog.String("reason", err.Error()),
			)
			if err := copyFile(target, link, s.fsync); err != nil {
				return &OpError{Op: "copy", Path: link, Err: err}
			}
			return nil
		}), nil
	})
}

// linkRefused reports whether err is a refusal that a copy can work around.
func linkRefused(err error) bool {
	return errors.Is(err, unix.EXDEV) ||
		errors.Is(err, unix.EPERM) ||
		errors.Is(err, unix.ENOTSUP) ||
		errors.Is(err, unix.EMLINK)
}

// Copy declares dst as a copy of the regular file src.
func (s *Stager) Copy(src, dst string) engine.Ref {
	return engine.NewRef((*Stager).Copy, []any{src, dst}, func() (engine.Definition, error) {
		asset := engine.NewAsset(dst, func() bool {
			return !isSymlink(dst) && coversSize(src, dst)
		})

		return engine.Task("copy "+src+" -> "+dst, []engine.Asset{asset}, engine.Requires(s.File(src)), func(context.Context) error {
			if err := copyFile(src, dst, s.fsync); err != nil {
				return &OpError{Op: "copy", Path: dst, Err: err}
			}
			s.logger.Debug("copied", slog.String("src", src), slog.String("dst", dst))
			return nil
		}), nil
	})
}
