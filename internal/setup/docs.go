package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pys60/pysbuild/internal/artifact"
	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/logging"
	"github.com/pys60/pysbuild/internal/template"
	"github.com/pys60/pysbuild/internal/toolchain"
)

// GenerateDocs builds the HTML documentation. The interpreter sources are
// copied to the share directory of the documentation VM, the VM is started
// and the HTML it leaves behind is moved to <workArea>/doc. A VM that
// produces nothing is logged, not fatal.
func (e *Env) GenerateDocs(ctx context.Context, workArea string) error {
	log := logging.FromContext(ctx)
	if e.Settings == nil || e.Settings.Paths.DocsShareDir == "" {
		return fmt.Errorf("generate docs: no docs share directory configured")
	}
	share := e.Settings.Paths.DocsShareDir
	newcore := filepath.Join(share, "newcore")
	if err := removeIfExists(newcore); err != nil {
		return err
	}

	// The documentation sources are templates as well.
	if snap, err := e.Snapshot(); err == nil {
		if _, err := template.ProcessTree(e.SourceRoot, []string{"newcore/Doc"}, snap.Vars()); err != nil {
			return err
		}
	} else if !errors.Is(err, config.ErrNotConfigured) {
		return err
	}
	if err := artifact.CopyTree(e.path("newcore"), newcore); err != nil {
		return fmt.Errorf("copy sources for docs: %w", err)
	}

	html := filepath.Join(share, "html")
	if err := removeIfExists(html); err != nil {
		return err
	}
	log.Info("invoking the documentation VM", "cmd", e.Settings.Tools.DocsCommand)
	e.Tools.Invoke(ctx, toolchain.Invocation{Name: e.Settings.Tools.DocsCommand, IgnoreFailure: true})

	if isDir(html) {
		if err := artifact.CopyTree(html, filepath.Join(e.path(workArea), "doc")); err != nil {
			return fmt.Errorf("collect docs: %w", err)
		}
		if err := removeIfExists(html); err != nil {
			return err
		}
	} else {
		log.Warn("python docs not generated")
	}

	buildLog := filepath.Join(share, "build.log")
	if data, err := os.ReadFile(buildLog); err == nil {
		log.Info("documentation build log", "log", string(data))
		os.Remove(buildLog)
	}
	return nil
}

// Stub projects packaged with ensymble.
var ensymbleStubs = []string{
	"tools/py2sis/python_console/group",
	"ext/amaretto/python_ui/group",
}

// GenerateEnsymble builds the ensymble stubs for emulator and device and
// runs genensymble.py. The interpreter must be built for armv5 first.
func (e *Env) GenerateEnsymble(ctx context.Context) error {
	snap, err := e.Snapshot()
	if err != nil {
		return err
	}
	if _, err := os.Stat(e.epoc("release", "armv5", "urel", "python25.dll")); err != nil {
		return fmt.Errorf("generate ensymble: python not built for armv5")
	}
	for _, stub := range ensymbleStubs {
		dir := e.path(stub)
		e.Tools.ReallyClean(ctx, dir, "armv5")
		if err := e.Tools.Bldmake(ctx, dir, "clean"); err != nil {
			return err
		}
		if err := e.Tools.Bldmake(ctx, dir, "bldfiles"); err != nil {
			return err
		}
		if err := e.Tools.Abld(ctx, dir, "build", snap.EmuPlatform, snap.EmuBuild); err != nil {
			return err
		}
		if err := e.Tools.Abld(ctx, dir, "build", snap.DevicePlatform, snap.DeviceBuild); err != nil {
			return err
		}
	}
	ensymble := e.path("tools/py2sis/ensymble")
	if err := e.Tools.Python(ctx, ensymble, "genensymble.py"); err != nil {
		return err
	}

	depCfg := e.path("newcore/Symbian/src/module_dependency.cfg")
	if _, err := os.Stat(depCfg); err == nil {
		dst := filepath.Join(ensymble, "module-repo", "standard-modules", "module_dependency.cfg")
		if err := artifact.MoveFile(depCfg, dst); err != nil {
			return fmt.Errorf("move module dependencies: %w", err)
		}
	}
	return nil
}
