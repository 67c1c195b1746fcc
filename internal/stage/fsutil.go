package stage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

func isRegular(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isSymlink(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Mode().Perm()&0o111 != 0
}

// coversSize reports whether dst is a regular file at least as large as src.
func coversSize(src, dst string) bool {
	sfi, err := os.Stat(src)
	if err != nil {
		return false
	}
	dfi, err := os.Stat(dst)
	if err != nil || !dfi.Mode().IsRegular() {
		return false
	}
	return dfi.Size() >= sfi.Size()
}

func sameFile(a, b string) bool {
	afi, err := os.Stat(a)
	if err != nil {
		return false
	}
	bfi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(afi, bfi)
}

// atomicWriteFile writes data to path using the temp file + rename pattern.
// The temp file lives in the destination directory so the rename never
// crosses a filesystem; it is removed if any step fails.
func atomicWriteFile(path string, data []byte, perm os.FileMode, fsync bool) error {
	return atomicWrite(path, perm, fsync, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func atomicWrite(path string, perm os.FileMode, fsync bool, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath) // Best effort cleanup
		}
	}()

	if err := fill(tmp); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if fsync {
		if err := tmp.Sync(); err != nil {
			return fmt.Errorf("syncing temp file: %w", err)
		}
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	committed = true

	if fsync {
		return syncDir(dir)
	}
	return nil
}

// syncDir flushes a directory entry so a completed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory for sync: %w", err)
	}
	defer d.Close()
	if err := unix.Fsync(int(d.Fd())); err != nil {
		return fmt.Errorf("syncing directory: %w", err)
	}
	return nil
}

// copyFile copies src to dst atomically, keeping the permission bits of src.
func copyFile(src, dst string, fsync bool) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	return atomicWrite(dst, fi.Mode().Perm(), fsync, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// clearPath removes a stale entry at path so a link can take its place.
// Directories are never removed.
func clearPath(path string) error {
	fi, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("refusing to replace directory")
	}
	return os.Remove(path)
}
