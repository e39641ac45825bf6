// Package publish uploads a finalized work area to object storage.
package publish

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pys60/pysbuild/internal/logging"
)

// Store is the object storage the publisher writes to.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// Uploaded is one published file.
type Uploaded struct {
	Key  string
	Path string
	Size int64
}

// Publisher copies every file of a work area under a key prefix.
type Publisher struct {
	Store  Store
	Prefix string
}

// Publish uploads all regular files below workArea to
// <prefix>/<release>/<relative path>. release is typically version+tag.
// Hidden files are skipped. The first failed upload stops the walk.
func (p *Publisher) Publish(ctx context.Context, workArea, release string) ([]Uploaded, error) {
	release = strings.TrimSpace(release)
	if release == "" {
		return nil, fmt.Errorf("release name is required")
	}
	info, err := os.Stat(workArea)
	if err != nil {
		return nil, fmt.Errorf("stat work area: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("work area %s is not a directory", workArea)
	}

	var files []string
	err = filepath.WalkDir(workArea, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != workArea {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk work area: %w", err)
	}
	sort.Strings(files)

	log := logging.FromContext(ctx)
	var out []Uploaded
	for _, f := range files {
		rel, err := filepath.Rel(workArea, f)
		if err != nil {
			return out, err
		}
		key := ObjectKey(p.Prefix, release, filepath.ToSlash(rel))
		size, err := p.upload(ctx, f, key)
		if err != nil {
			return out, err
		}
		log.Info("published", "key", key, "size", humanize.Bytes(uint64(size)))
		out = append(out, Uploaded{Key: key, Path: f, Size: size})
	}
	return out, nil
}

func (p *Publisher) upload(ctx context.Context, file, key string) (int64, error) {
	fh, err := os.Open(file)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", file, err)
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", file, err)
	}
	if err := p.Store.Put(ctx, key, fh, info.Size(), ContentType(file)); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ObjectKey joins key parts with slashes, dropping empty parts and stray
// slashes.
func ObjectKey(parts ...string) string {
	var clean []string
	for _, p := range parts {
		if p = strings.Trim(strings.TrimSpace(p), "/"); p != "" {
			clean = append(clean, p)
		}
	}
	return path.Join(clean...)
}

// ContentType guesses the MIME type of a build artifact from its name.
func ContentType(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(lower, ".zip"):
		return "application/zip"
	case strings.HasSuffix(lower, ".sis"), strings.HasSuffix(lower, ".sisx"):
		return "application/vnd.symbian.install"
	case strings.HasSuffix(lower, ".log"), strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".prom"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(lower, ".html"):
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
