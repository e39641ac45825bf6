// Package setup implements the per-tree build commands: configure, build,
// test, packaging and cleanup of one configured source tree.
package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pys60/pysbuild/internal/catalog"
	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/toolchain"
)

// Env is a source tree together with the SDK and tools that build it.
type Env struct {
	SourceRoot string
	EpocRoot   string
	Tools      *toolchain.Toolchain
	Catalog    *catalog.Catalog
	// Settings supplies host paths for docs generation. Optional.
	Settings *config.Settings
}

// NewEnv returns an Env for the given tree using the host settings.
func NewEnv(root string, s *config.Settings, tools *toolchain.Toolchain, cat *catalog.Catalog) *Env {
	return &Env{
		SourceRoot: root,
		EpocRoot:   s.Paths.EpocRoot,
		Tools:      tools,
		Catalog:    cat,
		Settings:   s,
	}
}

// Snapshot loads the configure record of the tree.
func (e *Env) Snapshot() (*config.Snapshot, error) {
	return config.LoadSnapshot(e.SourceRoot)
}

// root is the absolute source root. Tools run in project directories, so no
// path handed to them may depend on the working directory.
func (e *Env) root() string {
	abs, err := filepath.Abs(e.SourceRoot)
	if err != nil {
		return e.SourceRoot
	}
	return abs
}

func (e *Env) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(e.root(), filepath.FromSlash(rel))
}

func (e *Env) epoc(parts ...string) string {
	return filepath.Join(append([]string{e.EpocRoot}, parts...)...)
}

// projectDirs returns the group directories of the projects the snapshot
// builds.
func (e *Env) projectDirs(s *config.Snapshot) []string {
	var dirs []string
	for _, p := range e.Catalog.EnabledProjects(s.InternalProjects) {
		dirs = append(dirs, e.path(p.Path))
	}
	return dirs
}

// EmulatorTestDir is where the emulator test harness reads its options and
// writes its log.
func (e *Env) EmulatorTestDir() string {
	return e.epoc("winscw", "c", "data", "python", "test")
}

// BuildTree is the SDK intermediate build directory of this source tree: the
// tree path without its volume name under <epoc>/build.
func (e *Env) BuildTree() string {
	abs := e.root()
	return filepath.Join(e.EpocRoot, "build", strings.TrimPrefix(abs, filepath.VolumeName(abs)))
}

// TestDataDir is the tree local directory receiving regression logs.
func (e *Env) TestDataDir() string {
	return e.path("build/test")
}

func (e *Env) rebuildProject(ctx context.Context, dir, platform, build string) error {
	e.Tools.ReallyClean(ctx, dir, platform)
	if err := e.Tools.Bldmake(ctx, dir, "clean"); err != nil {
		return err
	}
	if err := e.Tools.Bldmake(ctx, dir, "bldfiles"); err != nil {
		return err
	}
	return e.Tools.Abld(ctx, dir, "build", platform, build)
}

func removeIfExists(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
