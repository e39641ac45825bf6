// Package archive writes and reads the zip and tar.gz files the release ships.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Filter reports whether a file, given by its slash separated archive name,
// goes into the archive.
type Filter func(name string) bool

// ExcludeBase returns a Filter dropping files whose base name is listed.
func ExcludeBase(names ...string) Filter {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	return func(name string) bool {
		return !skip[filepath.Base(filepath.FromSlash(name))]
	}
}

// ExcludePrefix returns a Filter dropping files below any of the given slash
// separated directories.
func ExcludePrefix(dirs ...string) Filter {
	var prefixes []string
	for _, d := range dirs {
		if d = strings.Trim(d, "/"); d != "" {
			prefixes = append(prefixes, d+"/")
		}
	}
	return func(name string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				return false
			}
		}
		return true
	}
}

// ZipDir writes every file below dir into a new zip at dest. Archive names
// are relative to dir and prefixed with prefix when it is not empty.
func ZipDir(dest, dir, prefix string, keep Filter) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	zw := zip.NewWriter(f)
	if err := addTree(zw, dir, prefix, keep); err != nil {
		zw.Close()
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finish %s: %w", dest, err)
	}
	return f.Close()
}

// ZipFiles writes the given files into a new zip at dest under their path
// relative to base.
func ZipFiles(dest, base string, files []string) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	zw := zip.NewWriter(f)
	for _, path := range files {
		rel, err := filepath.Rel(base, path)
		if err != nil {
			zw.Close()
			f.Close()
			return err
		}
		if err := addFile(zw, path, filepath.ToSlash(rel)); err != nil {
			zw.Close()
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finish %s: %w", dest, err)
	}
	return f.Close()
}

// AppendToZip adds file to an existing zip under name. The zip is rewritten
// through a temporary file next to it.
func AppendToZip(zipPath, file, name string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer r.Close()

	tmp, err := os.CreateTemp(filepath.Dir(zipPath), ".zip-*")
	if err != nil {
		return fmt.Errorf("create temp zip: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw := zip.NewWriter(tmp)
	for _, entry := range r.File {
		if entry.Name == name {
			continue
		}
		if err := copyEntry(zw, entry); err != nil {
			zw.Close()
			tmp.Close()
			return fmt.Errorf("copy %s: %w", entry.Name, err)
		}
	}
	if err := addFile(zw, file, name); err != nil {
		zw.Close()
		tmp.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finish %s: %w", zipPath, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	r.Close()
	return os.Rename(tmpName, zipPath)
}

// Unzip extracts src into dir. Entries escaping dir are rejected.
func Unzip(src, dir string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer r.Close()

	for _, entry := range r.File {
		target := filepath.Join(dir, filepath.FromSlash(entry.Name))
		if !within(dir, target) {
			return fmt.Errorf("unzip %s: entry %q escapes %s", src, entry.Name, dir)
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extract(entry, target); err != nil {
			return fmt.Errorf("unzip %s: %w", src, err)
		}
	}
	return nil
}

// Names lists the entries of a zip.
func Names(src string) ([]string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	defer r.Close()
	names := make([]string, 0, len(r.File))
	for _, entry := range r.File {
		names = append(names, entry.Name)
	}
	return names, nil
}

// TarGz writes every file below dir into a gzip compressed tar at dest,
// named relative to dir under prefix.
func TarGz(dest, dir, prefix string, keep Filter) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = walkFiles(dir, prefix, keep, func(path, name string, info fs.FileInfo) error {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		return copyFrom(tw, path)
	})
	if err == nil {
		err = tw.Close()
	}
	if err == nil {
		err = gz.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// TarGzNames lists the entries of a tar.gz.
func TarGzNames(src string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src, err)
		}
		names = append(names, hdr.Name)
	}
}

func addTree(zw *zip.Writer, dir, prefix string, keep Filter) error {
	return walkFiles(dir, prefix, keep, func(path, name string, _ fs.FileInfo) error {
		return addFile(zw, path, name)
	})
}

func walkFiles(dir, prefix string, keep Filter, fn func(path, name string, info fs.FileInfo) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if prefix != "" {
			name = strings.TrimSuffix(prefix, "/") + "/" + name
		}
		if keep != nil && !keep(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(path, name, info)
	})
}

func addFile(zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return copyFrom(w, path)
}

func copyEntry(zw *zip.Writer, entry *zip.File) error {
	hdr := entry.FileHeader
	w, err := zw.CreateHeader(&hdr)
	if err != nil {
		return err
	}
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

func copyFrom(w io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(w, src)
	return err
}

func extract(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func within(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
