package setup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/template"
	"github.com/pys60/pysbuild/internal/toolchain"
)

// Clean removes everything configure and build produced: SDK build outputs,
// expanded templates, compiled python files, the install tree, the SDK
// intermediate build directory and build.cfg. Toolchain cleanup failures
// are ignored.
func (e *Env) Clean(ctx context.Context) error {
	if err := config.RemoveSnapshot(e.SourceRoot); err != nil {
		return err
	}
	for _, p := range e.Catalog.EnabledProjects(false) {
		dir := e.path(p.Path)
		e.Tools.ReallyClean(ctx, dir, "winscw")
		e.Tools.ReallyClean(ctx, dir, "armv5")
		e.Tools.Invoke(ctx, toolchain.Invocation{Name: "bldmake", Args: []string{"clean"}, Dir: dir, IgnoreFailure: true})
	}
	if err := template.CleanTree(e.SourceRoot); err != nil {
		return err
	}
	for _, dir := range []string{"", "../internal-src"} {
		if err := removePyc(e.path(dir)); err != nil {
			return err
		}
	}
	if err := removeIfExists(e.path("install")); err != nil {
		return err
	}
	return removeIfExists(e.BuildTree())
}

func removePyc(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".pyc") {
			return os.Remove(path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
