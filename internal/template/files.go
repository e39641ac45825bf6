package template

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Suffix marks template files; the output drops it.
const Suffix = ".in"

// OutputName returns the file a template expands into.
func OutputName(path string) string {
	return strings.TrimSuffix(path, Suffix)
}

// Skipped reports whether a template, given relative to the source root, is
// left alone by configure. Only the Symbian part of the interpreter core and
// its S60 documentation are templated; the build output tree never is.
func Skipped(rel string) bool {
	rel = filepath.ToSlash(rel)
	if !hasPrefixFold(rel, "newcore/") && !hasPrefixFold(rel, "build/") {
		return false
	}
	return !hasPrefixFold(rel, "newcore/symbian/") && !hasPrefixFold(rel, "newcore/doc/s60")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// Find lists the templates under root/dir, relative to root.
func Find(root, dir string) ([]string, error) {
	var found []string
	base := filepath.Join(root, dir)
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != base {
			return filepath.SkipDir
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), Suffix) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		found = append(found, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find templates in %s: %w", base, err)
	}
	return found, nil
}

// ProcessFile expands the template at path into OutputName(path).
func ProcessFile(path string, vars Vars) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	out, err := Render(string(data), vars)
	if err != nil {
		return fmt.Errorf("template %s: %w", path, err)
	}
	if err := os.WriteFile(OutputName(path), []byte(out), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", OutputName(path), err)
	}
	return nil
}

// ProcessTree expands every template below root/dir for each dir, skipping
// the ones Skipped reports. It returns the processed templates relative to root.
func ProcessTree(root string, dirs []string, vars Vars) ([]string, error) {
	var done []string
	for _, dir := range dirs {
		if _, err := os.Stat(filepath.Join(root, dir)); os.IsNotExist(err) {
			continue
		}
		files, err := Find(root, dir)
		if err != nil {
			return done, err
		}
		for _, rel := range files {
			if Skipped(rel) {
				continue
			}
			if err := ProcessFile(filepath.Join(root, rel), vars); err != nil {
				return done, err
			}
			done = append(done, rel)
		}
	}
	return done, nil
}

// CleanTree removes the outputs of every template under root.
func CleanTree(root string) error {
	files, err := Find(root, "")
	if err != nil {
		return err
	}
	for _, rel := range files {
		out := OutputName(filepath.Join(root, rel))
		if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", out, err)
		}
	}
	return nil
}
