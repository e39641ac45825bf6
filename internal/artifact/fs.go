package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PrepareWorkArea deletes dir and recreates it with its test subdirectory.
func PrepareWorkArea(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear work area: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, TestDir), 0o755); err != nil {
		return fmt.Errorf("create work area: %w", err)
	}
	return nil
}

// MoveFile moves src to dst, copying when a rename is not possible across
// file systems. An existing dst is replaced.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}
	if _, statErr := os.Stat(src); statErr != nil {
		return err
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// CopyFile copies src to dst keeping the permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// CopyTree copies the directory src to dst recursively.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return CopyFile(path, target)
	})
}

// CopyPath copies src into dir under its base name, as a tree when src is a
// directory.
func CopyPath(src, dir string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if info.IsDir() {
		return CopyTree(src, dst)
	}
	return CopyFile(src, dst)
}

// Locate finds name in dir. The SDK tools run on a case insensitive file
// system, so a name differing only in case is accepted when there is no
// exact match.
func Locate(dir, name string) (string, bool, error) {
	path := filepath.Join(dir, name)
	ok, err := exists(path)
	if err != nil || ok {
		return path, ok, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return path, false, nil
	}
	if err != nil {
		return path, false, err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), name) {
			return filepath.Join(dir, e.Name()), true, nil
		}
	}
	return path, false, nil
}
