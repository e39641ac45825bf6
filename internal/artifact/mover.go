package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/pys60/pysbuild/internal/catalog"
	"github.com/pys60/pysbuild/internal/logging"
)

// TestDir is the work area subdirectory for test deliverables.
const TestDir = "test"

// Moved describes one finalized artifact.
type Moved struct {
	Kind catalog.Kind
	Path string
	Size int64
}

// Mover finalizes the deliverables of a platform for one flavor.
type Mover struct {
	SourceRoot string
	WorkArea   string
}

// Move renames every deliverable of p that the toolchain produced to its
// release name and moves it to the work area, or its test subdirectory for
// test deliverables. The SDK zip is not per flavor and is left alone.
//
// Deliverables without a template or whose built file is absent are skipped:
// that platform does not produce them, or they were already moved. Any I/O
// error on a file that is present is returned.
func (m *Mover) Move(ctx context.Context, p catalog.Platform, version, tag, flavor string) ([]Moved, error) {
	log := logging.FromContext(ctx)
	var moved []Moved
	for _, d := range p.Deliverables {
		if d.Kind == catalog.KindSDKZip || d.Template == "" {
			continue
		}
		srcDir := filepath.Join(m.SourceRoot, filepath.FromSlash(d.SourceDir))
		built, ok, err := Locate(srcDir, d.Built)
		if err != nil {
			return moved, fmt.Errorf("%s: %w", d.Kind, err)
		}
		if !ok {
			log.Debug("deliverable not built", "kind", d.Kind, "file", built)
			continue
		}

		name, err := ExpandName(d.Template, version, tag, flavor)
		if err != nil {
			return moved, err
		}
		renamed := filepath.Join(srcDir, name)
		if err := os.Rename(built, renamed); err != nil {
			return moved, fmt.Errorf("rename %s: %w", d.Kind, err)
		}
		dst := filepath.Join(m.outputDir(d.Test), name)
		mv, err := m.finalize(renamed, dst)
		if err != nil {
			return moved, fmt.Errorf("move %s: %w", d.Kind, err)
		}
		mv.Kind = d.Kind
		log.Info("deliverable moved", "kind", d.Kind, "file", dst, "size", humanize.Bytes(uint64(mv.Size)))
		moved = append(moved, mv)
	}
	return moved, nil
}

// MoveFile moves a file produced outside the per flavor deliverables, such
// as an SDK zip or an extra signed package, into the work area under name.
func (m *Mover) MoveFile(ctx context.Context, src, name string, test bool) (Moved, error) {
	dst := filepath.Join(m.outputDir(test), name)
	out, err := m.finalize(src, dst)
	if err != nil {
		return out, fmt.Errorf("move %s: %w", filepath.Base(src), err)
	}
	logging.FromContext(ctx).Info("artifact moved", "file", dst, "size", humanize.Bytes(uint64(out.Size)))
	return out, nil
}

func (m *Mover) outputDir(test bool) string {
	if test {
		return filepath.Join(m.WorkArea, TestDir)
	}
	return m.WorkArea
}

func (m *Mover) finalize(src, dst string) (Moved, error) {
	if err := MoveFile(src, dst); err != nil {
		return Moved{}, err
	}
	info, err := os.Stat(dst)
	if err != nil {
		return Moved{}, err
	}
	return Moved{Path: dst, Size: info.Size()}, nil
}
