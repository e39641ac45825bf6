package setup

import (
	"context"
	"errors"
	"fmt"

	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/logging"
	"github.com/pys60/pysbuild/internal/template"
)

// Template directories relative to the source root. The internal ones are
// only processed when internal sources are included.
var (
	templateDirs         = []string{""}
	internalTemplateDirs = []string{"../internal-src", "../extraprojs"}
)

// Configure writes build.cfg for opts, expands the source templates and
// regenerates the project makefiles.
func (e *Env) Configure(ctx context.Context, opts config.ConfigureOptions) (*config.Snapshot, error) {
	log := logging.FromContext(ctx)

	prev, err := e.Snapshot()
	if err != nil && !errors.Is(err, config.ErrNotConfigured) {
		log.Warn("ignoring unreadable previous configuration", "err", err)
	}
	snap, err := config.NewSnapshot(e.Catalog, opts, prev)
	if err != nil {
		return nil, err
	}
	if err := config.SaveSnapshot(e.SourceRoot, snap); err != nil {
		return nil, err
	}
	log.Info("configured", "sdk", snap.SDK, "version", snap.VersionNum, "tag", snap.VersionTag,
		"caps", snap.DLLCaps, "signed", snap.Signed())

	if !opts.SkipPyCompile {
		if err := e.Tools.Python(ctx, e.SourceRoot, "-m", "compileall", "-q", e.path("newcore/Lib")); err != nil {
			return nil, fmt.Errorf("compile library: %w", err)
		}
	}

	dirs := templateDirs
	if snap.IncludeInternalSrc {
		dirs = append(append([]string(nil), templateDirs...), internalTemplateDirs...)
	}
	done, err := template.ProcessTree(e.SourceRoot, dirs, snap.Vars())
	if err != nil {
		return nil, err
	}
	log.Info("templates processed", "count", len(done))

	for _, dir := range e.projectDirs(snap) {
		if err := e.Tools.Bldmake(ctx, dir, "clean"); err != nil {
			return nil, err
		}
		if err := e.Tools.Bldmake(ctx, dir, "bldfiles"); err != nil {
			return nil, err
		}
	}
	return snap, nil
}
