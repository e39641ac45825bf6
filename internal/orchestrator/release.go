package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pys60/pysbuild/internal/archive"
	"github.com/pys60/pysbuild/internal/artifact"
	"github.com/pys60/pysbuild/internal/catalog"
	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/logging"
	"github.com/pys60/pysbuild/internal/runner"
	"github.com/pys60/pysbuild/internal/setup"
)

// Platforms and SDK editions of the release run.
const (
	gccePlatform = "30gcce"
	fp2Platform  = "32"
	fp1Platform  = "31"
	elemlistDir  = "extras/elemlist/group"
	socketGroup  = "ext/amaretto/socket/group"
	scriptextPyd = "release/winscw/udeb/kf_scriptext.pyd"
	codeSizeSDK  = "3.0"
)

// fp2Subsystems are the only projects rebuilt against the 3.2 SDK.
var fp2Subsystems = []string{
	"../internal-src/scriptext/group",
	"ext/sensorfw/group",
	"../internal-src/iad_client/group",
}

// sdkTests maps a regression log suffix to the SDK edition, the platform
// whose SDK zip is installed and the name tag of the elemlist package.
var sdkTests = map[string]struct {
	edition  string
	platform string
	nameTag  string
}{
	"_3_2": {"3.2", fp2Platform, "3rdEdFP2"},
	"_3_1": {"3.1", fp1Platform, "3rdEdFP1"},
}

// release builds the full set of release deliverables.
func (o *Orchestrator) release(ctx context.Context) error {
	cfg := o.Config
	if err := o.emulator(ctx, config.EmulatorFlavor, cfg.Platforms, false); err != nil {
		return err
	}
	// run-interpretertimer is nested too deeply to build with GCCE on the
	// 3.0 SDK.
	if err := o.device(ctx, []string{gccePlatform}, cfg.Flavors, deviceOptions{}); err != nil {
		return err
	}
	if err := o.device(ctx, cfg.Platforms, cfg.Flavors, deviceOptions{internalProjects: cfg.InternalProjects}); err != nil {
		return err
	}
	if err := o.track(ctx, "", "", StepEnsymble, o.Steps.GenerateEnsymble); err != nil {
		return err
	}
	if err := o.sdkZip(ctx, tempSDKPlatform); err != nil {
		return err
	}

	if err := o.buildFP2(ctx); err != nil {
		return err
	}

	err := o.barrier(ctx, []runner.Task{
		o.task(StepDocs, func(ctx context.Context) error { return o.Steps.GenerateDocs(ctx, o.workArea) }),
		o.task(StepCoverage, func(ctx context.Context) error { return o.Steps.Coverage(ctx, o.workArea) }),
		o.task(StepDeviceTest, o.Steps.TestDeviceRemote),
	})
	if err != nil {
		return err
	}
	if err := o.assemble(ctx); err != nil {
		return err
	}

	if err := o.buildFP1SDK(ctx); err != nil {
		return err
	}
	err = o.track(ctx, "3.0", "", StepEnvSwap, func(ctx context.Context) error {
		return o.Env.Reset(ctx, "3.0")
	})
	if err != nil {
		return err
	}
	if cfg.WithoutSrcZip {
		return nil
	}
	return o.sourceZip(ctx)
}

// buildFP2 rebuilds the 3.2 specific projects against the 3.2 SDK with the
// 3rd edition SDK zip installed on top, packages the release flavors for
// 3.2 and tests the resulting SDK zip.
func (o *Orchestrator) buildFP2(ctx context.Context) error {
	cfg := o.Config
	from, err := o.sdkZipName(tempSDKPlatform)
	if err != nil {
		return err
	}
	to, err := o.sdkZipName(fp2Platform)
	if err != nil {
		return err
	}
	fp2Zip := filepath.Join(o.workArea, to)
	tempZip := filepath.Join(o.workArea, TempSDKZip)

	err = o.track(ctx, fp2Platform, "", StepEnvSwap, func(ctx context.Context) error {
		if err := o.Env.Reset(ctx, "3.2"); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(o.workArea, from), fp2Zip); err != nil {
			return fmt.Errorf("rename SDK zip: %w", err)
		}
		return o.Env.Install(ctx, tempZip)
	})
	if err != nil {
		return err
	}

	alabs, err := o.flavor(alabsUnsigned)
	if err != nil {
		return err
	}
	k := Key{Platform: fp2Platform, Flavor: alabs.Name}
	err = o.advance(ctx, k, PhaseConfigured, func(ctx context.Context) error {
		_, err := o.Steps.Configure(ctx, o.configureOptions(fp2Platform, alabs, cfg.InternalProjects))
		return err
	})
	if err != nil {
		return err
	}
	err = o.advance(ctx, k, PhaseDeviceBuilt, func(ctx context.Context) error {
		for _, sub := range fp2Subsystems {
			if err := o.Steps.Build(ctx, setup.BuildOptions{Subsystem: sub}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := o.derive(ctx, fp2Platform, cfg.Flavors, true); err != nil {
		return err
	}
	o.logCodeSize(ctx)

	if err := os.Remove(tempZip); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temporary SDK zip: %w", err)
	}
	pyd := filepath.Join(o.Env.Root(), filepath.FromSlash(scriptextPyd))
	name := filepath.Base(o.Env.Root()) + "/" + scriptextPyd
	if err := archive.AppendToZip(fp2Zip, pyd, name); err != nil {
		return err
	}

	if err := o.track(ctx, fp2Platform, "", StepEnsymble, o.Steps.GenerateEnsymble); err != nil {
		return err
	}
	if err := o.scriptShells(ctx, releaseShells, false); err != nil {
		return err
	}
	return o.sdkTest(ctx, "_3_2")
}

// buildFP1SDK derives the 3.1 SDK zip from the 3.2 one: only the socket
// module differs.
func (o *Orchestrator) buildFP1SDK(ctx context.Context) error {
	fp2, err := o.sdkZipName(fp2Platform)
	if err != nil {
		return err
	}
	err = o.track(ctx, fp1Platform, "", StepEnvSwap, func(ctx context.Context) error {
		if err := o.Env.Reset(ctx, "3.1"); err != nil {
			return err
		}
		return o.Env.Install(ctx, filepath.Join(o.workArea, fp2))
	})
	if err != nil {
		return err
	}
	super, err := o.flavor(catalog.SuperFlavor)
	if err != nil {
		return err
	}
	err = o.track(ctx, fp1Platform, "", StepSubsystems, func(ctx context.Context) error {
		if _, err := o.Steps.Configure(ctx, o.configureOptions(tempSDKPlatform, super, o.Config.InternalProjects)); err != nil {
			return err
		}
		return o.Steps.Build(ctx, setup.BuildOptions{Subsystem: socketGroup})
	})
	if err != nil {
		return err
	}
	if err := o.sdkZip(ctx, fp1Platform); err != nil {
		return err
	}
	if err := o.sdkTest(ctx, "_3_1"); err != nil {
		return err
	}
	return o.Env.Remove(ctx)
}

// sdkTest installs a released SDK zip on a clean SDK, runs the regression
// suite against it and checks that a third party extension builds and
// packages with it.
func (o *Orchestrator) sdkTest(ctx context.Context, version string) error {
	t, ok := sdkTests[version]
	if !ok {
		return fmt.Errorf("no SDK test for %q", version)
	}
	return o.track(ctx, t.platform, "", StepSDKTest, func(ctx context.Context) error {
		log := logging.FromContext(ctx)
		cfg := o.Config
		zip, err := o.sdkZipName(t.platform)
		if err != nil {
			return err
		}
		if err := o.Env.Reset(ctx, t.edition); err != nil {
			return err
		}
		if err := o.Env.Install(ctx, filepath.Join(o.workArea, zip)); err != nil {
			return err
		}

		if _, err := o.Steps.Test(ctx, setup.TestOptions{Args: regrtestArgs, SDKVersion: version}); err != nil {
			log.Warn("SDK regression run failed", "sdk_version", version, "err", err)
		}

		opts := config.DefaultConfigureOptions()
		opts.Version, opts.VersionTag = cfg.Version, cfg.VersionTag
		opts.SDK = tempSDKPlatform
		if _, err := o.Steps.Configure(ctx, opts); err != nil {
			return err
		}
		if err := o.Steps.Build(ctx, setup.BuildOptions{Subsystem: elemlistDir}); err != nil {
			return err
		}
		alabs, err := o.flavor(alabsSigned)
		if err != nil {
			return err
		}
		opts.SDK = gccePlatform
		opts.Caps = alabs.Caps
		if _, err := o.Steps.Configure(ctx, opts); err != nil {
			return err
		}
		if err := o.Steps.Build(ctx, setup.BuildOptions{Subsystem: elemlistDir}); err != nil {
			return err
		}

		dir := o.path(elemlistDir)
		if err := o.Tools.Makesis(ctx, dir, "elemlist.pkg"); err != nil {
			return err
		}
		name := fmt.Sprintf("elemlist_%s%s_%s_%s.sis", cfg.Version, cfg.VersionTag, t.nameTag, alabsSigned)
		cert, key := o.pythonteamKey()
		if err := o.Tools.Signsis(ctx, dir, "elemlist.sis", name, cert, key, ""); err != nil {
			return err
		}
		dst := filepath.Join(o.workArea, artifact.TestDir, name)
		if err := artifact.CopyFile(filepath.Join(dir, name), dst); err != nil {
			return fmt.Errorf("copy %s: %w", name, err)
		}
		o.recordFile(ctx, "elemlist_sis", t.platform, dst)
		return nil
	})
}

// logCodeSize appends the size of the released 3rd edition interpreter
// package to the code size log. A missing log or package is not an error.
func (o *Orchestrator) logCodeSize(ctx context.Context) {
	log := logging.FromContext(ctx)
	path := o.Settings.Paths.CodeSizeLog
	if path == "" {
		return
	}
	p, err := o.platform(tempSDKPlatform)
	if err != nil {
		return
	}
	d, ok := p.Deliverable(catalog.KindPythonSIS)
	if !ok {
		return
	}
	name, err := artifact.ExpandName(d.Template, o.Config.Version, o.Config.VersionTag, o.Config.Flavors[0])
	if err != nil {
		return
	}
	info, err := os.Stat(filepath.Join(o.workArea, name))
	if err != nil {
		log.Warn("code size: package not found", "file", name)
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		log.Warn("code size: log not writable", "file", path, "err", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s,%s,%s,%d\n", now().Format("2006-01-02 15:04"), codeSizeSDK, name, info.Size())
}

// sourceZip archives the source tree, without the work area, as
// pys60-<V><T>_src.zip.
func (o *Orchestrator) sourceZip(ctx context.Context) error {
	return o.track(ctx, "", "", StepSourceZip, func(ctx context.Context) error {
		cfg := o.Config
		dest := filepath.Join(o.workArea, fmt.Sprintf("pys60-%s%s_src.zip", cfg.Version, cfg.VersionTag))
		var keep archive.Filter
		if rel, err := filepath.Rel(o.SourceRoot, o.workArea); err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			keep = archive.ExcludePrefix("src/" + filepath.ToSlash(rel))
		}
		if err := archive.ZipDir(dest, o.SourceRoot, "src", keep); err != nil {
			return err
		}
		o.recordFile(ctx, "src_zip", "", dest)
		return nil
	})
}
