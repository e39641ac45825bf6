package setup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"

	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/logging"
)

// ErrDeviceNotBuilt is returned by SetCaps when the build tree has no device
// binaries for the configured platform and build.
var ErrDeviceNotBuilt = errors.New("binaries for the device must be built")

// SetCaps rewrites the capabilities of the linked device binaries without
// recompiling. Only files of the configured device platform and build type
// are touched: DLLs and pyds get dll, executables get exe (dll when empty).
// The rewritten images are the ones in <epoc>/release/<platform>/<build>.
func (e *Env) SetCaps(ctx context.Context, dll, exe string) error {
	if dll == "" {
		return fmt.Errorf("setcaps: capabilities are required")
	}
	snap, err := e.Snapshot()
	if err != nil {
		return err
	}
	snap.SetCaps(dll, exe)
	if err := config.SaveSnapshot(e.SourceRoot, snap); err != nil {
		return err
	}

	// The dot between platform and build matches any separator, as in
	// armv5/urel or armv5.urel.
	pb := regexp.QuoteMeta(snap.DevicePlatform) + "." + regexp.QuoteMeta(snap.DeviceBuild)
	dllRe := regexp.MustCompile(`(?i).*` + pb + `.*(pyd|dll)$`)
	exeRe := regexp.MustCompile(`(?i).*` + pb + `.*exe$`)

	outDir := e.epoc("release", snap.DevicePlatform, snap.DeviceBuild)
	for _, set := range []struct {
		re   *regexp.Regexp
		caps string
	}{
		{dllRe, snap.DLLCaps},
		{exeRe, snap.EXECaps},
	} {
		files, err := matchingFiles(e.BuildTree(), set.re)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("setcaps %s: %w", set.re, ErrDeviceNotBuilt)
		}
		for _, f := range files {
			target := filepath.Join(outDir, filepath.Base(f))
			if err := e.Tools.Elftran(ctx, target, set.caps, snap.CompressionType); err != nil {
				return err
			}
		}
		logging.FromContext(ctx).Info("capabilities set", "files", len(files), "caps", set.caps)
	}
	return nil
}

// matchingFiles lists the files below root whose slash separated path
// relative to root matches re.
func matchingFiles(root string, re *regexp.Regexp) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) && path == root {
			return filepath.SkipDir
		}
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if re.MatchString(filepath.ToSlash(rel)) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return out, nil
}
