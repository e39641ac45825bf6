package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pys60/pysbuild/internal/archive"
	"github.com/pys60/pysbuild/internal/artifact"
	"github.com/pys60/pysbuild/internal/catalog"
	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/installer"
	"github.com/pys60/pysbuild/internal/runner"
)

const (
	ensymbleDir = "tools/py2sis/ensymble"
	// TempSDKZip is the 3rd edition SDK zip including the device extension
	// modules. It seeds the 3.2 build of a release.
	TempSDKZip = "Python_SDK_3rdEd_temp.zip"
	// tempSDKPlatform is the only platform producing the temporary SDK zip.
	tempSDKPlatform = "30armv5"
)

var ensymbleFiles = []string{"ensymble.py", "templates", "README", "module-repo"}

// integration is the continuous integration run: emulator with tests, the
// device pipeline with packages, ensymble, scriptshell and SDK zips.
func (o *Orchestrator) integration(ctx context.Context) error {
	cfg := o.Config
	// genensymble regenerates the module repository.
	if err := os.RemoveAll(o.path(ensymbleDir + "/module-repo")); err != nil {
		return fmt.Errorf("remove module repository: %w", err)
	}
	if err := o.emulator(ctx, config.EmulatorFlavor, cfg.Platforms, true); err != nil {
		return err
	}
	if err := o.device(ctx, cfg.Platforms, cfg.Flavors, deviceOptions{sis: true, internalProjects: cfg.InternalProjects}); err != nil {
		return err
	}

	var tasks []runner.Task
	if cfg.GenerateDocs {
		tasks = append(tasks, o.task(StepDocs, func(ctx context.Context) error {
			return o.Steps.GenerateDocs(ctx, o.workArea)
		}))
	}
	if !cfg.WithoutEnsymble {
		tasks = append(tasks, o.task(StepEnsymble, o.Steps.GenerateEnsymble))
	}
	if err := o.barrier(ctx, tasks); err != nil {
		return err
	}

	if err := o.ensymbleZip(ctx); err != nil {
		return err
	}
	if err := o.scriptShells(ctx, integrationShells, true); err != nil {
		return err
	}
	for _, p := range cfg.Platforms {
		if err := o.sdkZip(ctx, p); err != nil {
			return err
		}
	}
	if cfg.BuildInstaller {
		return o.assemble(ctx)
	}
	return nil
}

// ensymbleZip packages the ensymble sources as ensymble_<V>_<T>.zip.
func (o *Orchestrator) ensymbleZip(ctx context.Context) error {
	return o.track(ctx, "", "", StepEnsymbleZip, func(ctx context.Context) error {
		stage := filepath.Join(o.workArea, "ensymble_zip")
		if err := os.RemoveAll(stage); err != nil {
			return err
		}
		if err := os.MkdirAll(stage, 0o755); err != nil {
			return err
		}
		defer os.RemoveAll(stage)

		src := o.path(ensymbleDir)
		for _, entry := range ensymbleFiles {
			if err := artifact.CopyPath(filepath.Join(src, entry), stage); err != nil {
				return fmt.Errorf("stage %s: %w", entry, err)
			}
		}
		dest := filepath.Join(o.workArea, fmt.Sprintf("ensymble_%s_%s.zip", o.Config.Version, o.Config.VersionTag))
		if err := archive.ZipDir(dest, stage, "", nil); err != nil {
			return err
		}
		o.recordFile(ctx, "ensymble_zip", "", dest)
		return nil
	})
}

// sdkZip runs bdist_sdk for the configured tree and releases the zip under
// the platform's SDK zip name. The 3rd edition also gets the temporary zip
// when requested.
func (o *Orchestrator) sdkZip(ctx context.Context, platform string) error {
	return o.track(ctx, platform, "", StepSDKZip, func(ctx context.Context) error {
		name, err := o.sdkZipName(platform)
		if err != nil {
			return err
		}
		if err := o.bdistSDK(ctx, platform, name, false); err != nil {
			return err
		}
		if o.Config.CreateTempSDKZip && platform == tempSDKPlatform {
			return o.bdistSDK(ctx, platform, TempSDKZip, true)
		}
		return nil
	})
}

func (o *Orchestrator) bdistSDK(ctx context.Context, platform, name string, withPyds bool) error {
	built, err := o.Steps.BdistSDK(ctx, withPyds)
	if err != nil {
		return err
	}
	mv, err := o.mover.MoveFile(ctx, built, name, false)
	if err != nil {
		return err
	}
	o.record(ctx, string(catalog.KindSDKZip), platform, "", mv)
	return nil
}

// sdkZipName is the release name of a platform's SDK zip.
func (o *Orchestrator) sdkZipName(platform string) (string, error) {
	p, err := o.platform(platform)
	if err != nil {
		return "", err
	}
	d, ok := p.Deliverable(catalog.KindSDKZip)
	if !ok || d.Template == "" {
		return "", fmt.Errorf("platform %s has no SDK zip", platform)
	}
	return artifact.ExpandName(d.Template, o.Config.Version, o.Config.VersionTag)
}

// assemble builds the installer and the tar.gz package.
func (o *Orchestrator) assemble(ctx context.Context) error {
	return o.track(ctx, "", "", StepInstaller, func(ctx context.Context) error {
		inst := o.Installer
		if inst == nil {
			inst = &installer.Assembler{
				Compiler:      o.Tools,
				SourceRoot:    o.SourceRoot,
				WorkArea:      o.workArea,
				DependencyDir: o.Settings.Paths.DependencyDir,
				Project:       o.path(o.Settings.Tools.InstallerProject),
				Version:       o.Config.Version,
				Tag:           o.Config.VersionTag,
			}
		}
		res, err := inst.Assemble(ctx)
		if err != nil {
			return err
		}
		o.recordFile(ctx, "installer", "", res.Setup)
		o.recordFile(ctx, "archive", "", res.Archive)
		return nil
	})
}
