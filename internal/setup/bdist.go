package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pys60/pysbuild/internal/archive"
	"github.com/pys60/pysbuild/internal/artifact"
	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/logging"
)

// ErrMissingSDKFiles is returned when files of the SDK list were not built.
var ErrMissingSDKFiles = errors.New("SDK files not found")

// BdistSDK copies the SDK file list into install/sdk_files, adds an
// uninstall script and zips the result into Python_SDK_<edition>.zip at the
// top of the tree. With createTemp the device extension modules are part of
// the SDK too. It returns the zip path.
func (e *Env) BdistSDK(ctx context.Context, createTemp bool) (string, error) {
	log := logging.FromContext(ctx)
	snap, err := e.Snapshot()
	if err != nil {
		return "", err
	}
	if createTemp {
		snap.IncludeARMV5Pyds = true
	}

	vars := snap.Vars()
	vars["EPOCROOT"] = e.EpocRoot
	files, err := LoadSDKFiles(e.path(SDKFilesList), vars)
	if err != nil {
		return "", err
	}

	sdkDir := e.path("install/sdk_files")
	if err := removeIfExists(sdkDir); err != nil {
		return "", err
	}
	var missing []string
	for _, f := range files {
		src := e.path(f.From)
		if _, err := os.Stat(src); err != nil {
			missing = append(missing, f.From)
			continue
		}
		if err := artifact.CopyFile(src, filepath.Join(sdkDir, filepath.FromSlash(f.To))); err != nil {
			return "", err
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w:\n  %s", ErrMissingSDKFiles, strings.Join(missing, "\n  "))
	}
	log.Info("SDK files installed", "dir", sdkDir, "count", len(files))

	name := snap.SDKFullName()
	script := filepath.Join(sdkDir, "uninstall_"+name+".cmd")
	if err := os.WriteFile(script, []byte(uninstallScript(name, files)), 0o644); err != nil {
		return "", fmt.Errorf("write uninstaller: %w", err)
	}

	zipPath := e.path(name + ".zip")
	if err := archive.ZipDir(zipPath, sdkDir, "", nil); err != nil {
		return "", err
	}
	return zipPath, nil
}

// BdistSIS packages every built project with makesis, signs the packages
// when a key is configured and names them <project>_<edition>.sis. A key
// given here replaces the configured one.
func (e *Env) BdistSIS(ctx context.Context, keyDir, key string) error {
	log := logging.FromContext(ctx)
	snap, err := e.Snapshot()
	if err != nil {
		return err
	}
	if key != "" {
		snap.SetKey(keyDir, key)
		if err := config.SaveSnapshot(e.SourceRoot, snap); err != nil {
			return err
		}
	}

	type pkg struct{ name, dir string }
	var pkgs []pkg
	for _, p := range e.Catalog.EnabledProjects(snap.InternalProjects) {
		// The interpreter package is signed separately in the pythonteam case.
		if key == "pythonteam" && p.Name == "python25" {
			continue
		}
		pkgs = append(pkgs, pkg{name: p.Name, dir: e.path(p.Path)})
	}

	for _, p := range pkgs {
		if err := e.Tools.Makesis(ctx, p.dir, p.name+".pkg"); err != nil {
			return err
		}
	}

	if snap.Signed() {
		cert, signKey := e.path(snap.SignCert), e.path(snap.SignKey)
		log.Info("signing packages", "cert", cert, "key", signKey)
		for _, p := range pkgs {
			sis := p.name + ".sis"
			if err := e.Tools.Signsis(ctx, p.dir, sis, sis, cert, signKey, snap.SignPass); err != nil {
				return err
			}
		}
	} else {
		log.Warn("no signing key configured, packages are left unsigned")
	}

	for _, p := range pkgs {
		from := filepath.Join(p.dir, p.name+".sis")
		to := filepath.Join(p.dir, p.name+"_"+snap.MarketingShort+".sis")
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("rename %s: %w", filepath.Base(from), err)
		}
	}
	return nil
}
