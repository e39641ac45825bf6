package orchestrator

import (
	"context"
	"path/filepath"

	"github.com/pys60/pysbuild/internal/artifact"
	"github.com/pys60/pysbuild/internal/catalog"
	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/logging"
	"github.com/pys60/pysbuild/internal/setup"
)

// Flavors with special packaging.
const (
	alabsUnsigned = "unsigned_alabs"
	alabsSigned   = "alabs_pythonteam"
	teamKey       = "pythonteam"
)

// regrtestArgs are the harness options of a full emulator regression run.
var regrtestArgs = []string{"--testset-size", "350"}

// defaultBuild is the plain run: emulator, device or both for the selected
// platforms and flavors.
func (o *Orchestrator) defaultBuild(ctx context.Context) error {
	cfg := o.Config
	if cfg.Target != config.TargetDevice {
		if err := o.emulator(ctx, cfg.Flavors[0], cfg.Platforms, true); err != nil {
			return err
		}
	}
	if cfg.Target != config.TargetEmu {
		return o.device(ctx, cfg.Platforms, cfg.Flavors, deviceOptions{sis: true, internalProjects: cfg.InternalProjects})
	}
	return nil
}

// emulator cleans, configures and builds the emulator target of every
// platform with one flavor, optionally running the regression suite.
func (o *Orchestrator) emulator(ctx context.Context, flavor string, platforms []string, regrtest bool) error {
	f, err := o.flavor(flavor)
	if err != nil {
		return err
	}
	log := logging.FromContext(ctx)
	for _, p := range platforms {
		k := Key{Platform: p, Flavor: f.Name, Emulator: true}
		if err := o.Steps.Clean(ctx); err != nil {
			log.Warn("clean failed", "platform", p, "err", err)
		}
		err := o.advance(ctx, k, PhaseConfigured, func(ctx context.Context) error {
			_, err := o.Steps.Configure(ctx, o.configureOptions(p, f, o.Config.InternalProjects))
			return err
		})
		if err != nil {
			return err
		}
		err = o.advance(ctx, k, PhaseEmulatorBuilt, func(ctx context.Context) error {
			return o.Steps.Build(ctx, setup.BuildOptions{Emu: true})
		})
		if err != nil {
			return err
		}
		if !regrtest {
			continue
		}
		err = o.advance(ctx, k, PhaseTested, func(ctx context.Context) error {
			report, err := o.Steps.Test(ctx, setup.TestOptions{Args: regrtestArgs})
			if err != nil {
				return err
			}
			if report != nil && report.Log != "" {
				o.recordFile(ctx, "regrtest_log", p, report.Log)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type deviceOptions struct {
	// sis packages and moves every flavor after its capabilities are set.
	sis              bool
	internalProjects bool
}

// device builds each platform once with the super flavor and derives the
// requested flavors from those binaries.
func (o *Orchestrator) device(ctx context.Context, platforms, flavors []string, opts deviceOptions) error {
	super, err := o.flavor(catalog.SuperFlavor)
	if err != nil {
		return err
	}
	for _, p := range platforms {
		k := Key{Platform: p, Flavor: super.Name}
		err := o.advance(ctx, k, PhaseConfigured, func(ctx context.Context) error {
			_, err := o.Steps.Configure(ctx, o.configureOptions(p, super, opts.internalProjects))
			return err
		})
		if err != nil {
			return err
		}
		err = o.advance(ctx, k, PhaseDeviceBuilt, func(ctx context.Context) error {
			return o.Steps.Build(ctx, setup.BuildOptions{Device: true})
		})
		if err != nil {
			return err
		}
		if err := o.derive(ctx, p, flavors, opts.sis); err != nil {
			return err
		}
	}
	return nil
}

// derive rewrites the capabilities of the built binaries for each flavor
// and, with sis, packages and moves the result.
func (o *Orchestrator) derive(ctx context.Context, platform string, flavors []string, sis bool) error {
	for _, name := range flavors {
		f, err := o.flavor(name)
		if err != nil {
			return err
		}
		k := Key{Platform: platform, Flavor: f.Name}
		err = o.advance(ctx, k, PhaseRepackaged, func(ctx context.Context) error {
			return o.Steps.SetCaps(ctx, f.Caps, f.ExeCaps)
		})
		if err != nil {
			return err
		}
		if !sis {
			continue
		}
		err = o.advance(ctx, k, PhasePackaged, func(ctx context.Context) error {
			return o.pack(ctx, platform, f)
		})
		if err != nil {
			return err
		}
		err = o.advance(ctx, k, PhaseMoved, func(ctx context.Context) error {
			return o.move(ctx, platform, f.Name)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// pack builds the SIS packages of a flavor. The unsigned_alabs interpreter
// package is additionally signed with the pythonteam key and released as
// alabs_pythonteam.
func (o *Orchestrator) pack(ctx context.Context, platform string, f catalog.Flavor) error {
	key := ""
	if f.Signed() {
		key = f.Key
	}
	if err := o.Steps.BdistSIS(ctx, o.keyDir, key); err != nil {
		return err
	}
	if f.Name != alabsUnsigned {
		return nil
	}
	return o.signInterpreter(ctx, platform, alabsSigned)
}

func (o *Orchestrator) signInterpreter(ctx context.Context, platform, flavor string) error {
	p, err := o.platform(platform)
	if err != nil {
		return err
	}
	d, ok := p.Deliverable(catalog.KindPythonSIS)
	if !ok || d.Template == "" {
		logging.FromContext(ctx).Debug("platform has no interpreter package", "platform", platform)
		return nil
	}
	cfg := o.Config
	name, err := artifact.ExpandName(d.Template, cfg.Version, cfg.VersionTag, flavor)
	if err != nil {
		return err
	}
	dir := o.path(d.SourceDir)
	cert, key := o.pythonteamKey()
	if err := o.Tools.Signsis(ctx, dir, d.Built, name, cert, key, ""); err != nil {
		return err
	}
	mv, err := o.mover.MoveFile(ctx, filepath.Join(dir, name), name, false)
	if err != nil {
		return err
	}
	o.record(ctx, string(catalog.KindPythonSIS), platform, flavor, mv)
	return nil
}

// move finalizes the deliverables of one flavor.
func (o *Orchestrator) move(ctx context.Context, platform, flavor string) error {
	p, err := o.platform(platform)
	if err != nil {
		return err
	}
	moved, err := o.mover.Move(ctx, p, o.Config.Version, o.Config.VersionTag, flavor)
	for _, m := range moved {
		o.record(ctx, string(m.Kind), platform, flavor, m)
	}
	return err
}

// pythonteamKey returns the pythonteam certificate and key.
func (o *Orchestrator) pythonteamKey() (cert, key string) {
	return filepath.Join(o.keyDir, teamKey+".crt"), filepath.Join(o.keyDir, teamKey+".key")
}
