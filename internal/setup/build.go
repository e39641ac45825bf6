package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pys60/pysbuild/internal/config"
)

// BuildOptions select what Build compiles. With neither Emu nor Device set
// both are built.
type BuildOptions struct {
	Emu    bool
	Device bool
	// Subsystem restricts the build to one module: a group directory
	// relative to the source root, or a name looked up as ext/<name>/group.
	Subsystem string
}

// Build compiles the configured tree.
func (e *Env) Build(ctx context.Context, opts BuildOptions) error {
	snap, err := e.Snapshot()
	if err != nil {
		return err
	}
	emu, device := opts.Emu, opts.Device
	if !emu && !device {
		emu, device = true, true
	}
	if emu {
		if err := e.build(ctx, snap, opts.Subsystem, snap.EmuPlatform, snap.EmuBuild, true); err != nil {
			return err
		}
	}
	if device {
		if err := e.build(ctx, snap, opts.Subsystem, snap.DevicePlatform, snap.DeviceBuild, false); err != nil {
			return err
		}
	}
	return nil
}

func (e *Env) build(ctx context.Context, snap *config.Snapshot, subsystem, platform, buildType string, emu bool) error {
	if subsystem != "" {
		return e.rebuildProject(ctx, e.subsystemDir(subsystem), platform, buildType)
	}
	if emu {
		dir := e.EmulatorTestDir()
		if err := removeIfExists(dir); err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create emulator test dir: %w", err)
		}
	}
	for _, dir := range e.projectDirs(snap) {
		if err := e.Tools.Abld(ctx, dir, "build", platform, buildType); err != nil {
			return err
		}
	}
	return nil
}

func (e *Env) subsystemDir(subsystem string) string {
	if dir := e.path(subsystem); isDir(dir) {
		return dir
	}
	return e.path(filepath.Join("ext", subsystem, "group"))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
